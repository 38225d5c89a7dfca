package adapter

import (
	"fmt"

	"github.com/grishkovelli/phonewatch/internal/useragent"
)

// qunarAdapter probes Qunar's registration check: a single POST target,
// reachable over either transport the probe worker selects.
type qunarAdapter struct{}

const qunarHost = "user.qunar.com"

func (qunarAdapter) PrepareRequest(number string, useAuth string) Request {
	headers := mergeHeaders(map[string]string{
		"Connection":       "keep-alive",
		"Host":             qunarHost,
		"Cache-Control":    "no-cache",
		"User-Agent":       useragent.Default().Get(),
		"Accept":           "application/json, text/javascript, */*; q=0.01",
		"Referer":          "https://user.qunar.com/passport/register.jsp?ret=https%3A%2F%2Fwww.qunar.com%2F%3Fex_track%3Dauto_4e0d874a",
		"X-Requested-With": "XMLHttpRequest",
		"Content-Type":     "application/x-www-form-urlencoded; charset=UTF-8",
	}, basicAuthHeader(useAuth))

	return Request{
		Method:  "POST",
		Path:    "/ajax/validator.jsp",
		Host:    qunarHost,
		Headers: headers,
		Body:    []byte(fmt.Sprintf("method=%s&prenum=86&vcode=null", number)),
		TLS:     true,
	}
}

func (qunarAdapter) Classify(status int, body []byte) Outcome {
	obj, err := decodeObject(body)
	if err != nil {
		return Outcome{Kind: Unknown}
	}

	code, _ := obj["errCode"].(float64)
	switch int(code) {
	case 21017: // IP throttled: signal Waiting, retry same number elsewhere
		return Outcome{Signal: SignalWaiting, Retry: true}
	case 21006:
		return Outcome{Kind: NotRegistered}
	case 11009:
		return Outcome{Kind: Registered}
	default:
		return Outcome{Kind: Unknown}
	}
}
