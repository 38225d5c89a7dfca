package adapter

import (
	"fmt"

	"github.com/grishkovelli/phonewatch/internal/useragent"
)

// autoHomeAdapter probes AutoHome's registration check: a single POST
// target, classified by the "Msg" field of its JSON response.
type autoHomeAdapter struct{}

const autoHomeHost = "account.autohome.com.cn"

func (autoHomeAdapter) PrepareRequest(number string, useAuth string) Request {
	headers := mergeHeaders(map[string]string{
		"Connection":    "keep-alive",
		"Host":          autoHomeHost,
		"Cache-Control": "no-cache",
		"User-Agent":    useragent.Default().Get(),
		"Accept":        "*/*",
		"Content-Type":  "application/x-www-form-urlencoded; charset=UTF-8",
	}, basicAuthHeader(useAuth))

	return Request{
		Method:  "POST",
		Path:    "/AccountApi/CheckPhone",
		Host:    autoHomeHost,
		Headers: headers,
		Body:    []byte(fmt.Sprintf("isOverSea=0&phone=%s&validcodetype=1", number)),
		TLS:     true,
	}
}

func (autoHomeAdapter) Classify(status int, body []byte) Outcome {
	obj, err := decodeObject(body)
	if err != nil {
		return Outcome{Kind: Unknown}
	}
	if _, ok := obj["success"]; !ok {
		return Outcome{Kind: Unknown}
	}

	msg, _ := obj["Msg"].(string)
	switch msg {
	case "Msg.MobileExist", "MobileExist":
		return Outcome{Kind: Registered}
	case "Msg.MobileSuccess", "MobileSuccess", "Msg.MobileNotExist", "MobileNotExist":
		return Outcome{Kind: NotRegistered}
	default:
		return Outcome{Kind: Unknown}
	}
}
