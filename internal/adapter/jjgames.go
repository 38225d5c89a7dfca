package adapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/grishkovelli/phonewatch/internal/useragent"
)

// jjgamesAdapter probes JJ Games' account check: the target carries a
// timestamp-derived callback name and session cookie, and classification
// matches specific URL-encoded Chinese phrases rather than a status code.
type jjgamesAdapter struct{}

const jjgamesHost = "a4.srv.jj.cn"

const (
	jjNotRegistered = "%E5%B8%90%E6%88%B7%E5%8F%AF%E4%BB%A5%E4%BD%BF%E7%94%A8"
	jjAlreadyReg    = "%E8%AF%A5%E6%89%8B%E6%9C%BA%E5%8F%B7%E5%B7%B2%E6%B3%A8%E5%86%8C%EF%BC%8C%E8%AF%B7%E6%9B%B4%E6%8D%A2"
	jjBlocked1      = "%E6%93%8D%E4%BD%9C%E5%BC%82%E5%B8%B8%EF%BC%8C%E8%AF%B7%E7%A8%8D%E5%90%8E%E9%87%8D%E8%AF%95"
	jjBlocked2      = "%E8%AE%BF%E9%97%AE%E5%BC%82%E5%B8%B8%EF%BC%8C%E8%AF%B7%E7%A8%8D%E5%90%8E%E5%86%8D%E8%AF%95"
	jjBlocked3      = "%E7%99%BB%E5%BD%95%E5%90%8D%E9%9D%9E%E6%B3%95"
)

func (jjgamesAdapter) PrepareRequest(number string, useAuth string) Request {
	now := time.Now().UnixMilli()
	callback := now % 100000

	path := fmt.Sprintf("/reg/check_loginname.php?regtype=2&t=%d&n=1&loginname=%s&callback=JSONP_%d",
		now, number, callback)

	headers := mergeHeaders(map[string]string{
		"Host":            jjgamesHost,
		"User-Agent":      useragent.Default().Get(),
		"sec-fetch-dest":  "script",
		"Accept":          "*/*",
		"Referer":         "https://www.jj.cn/reg/reg.html?type=phone",
		"sec-fetch-site":  "same-site",
		"sec-fetch-mode":  "no-cors",
		"Accept-Language": "en-US,en;q=0.5",
		"Cache-Control":   "no-cache",
		"Cookie":          fmt.Sprintf("visitorId=4460870697_%d", now),
	}, basicAuthHeader(useAuth))

	return Request{Method: "GET", Path: path, Host: jjgamesHost, Headers: headers, TLS: true}
}

func (jjgamesAdapter) Classify(status int, body []byte) Outcome {
	obj, err := decodeObject(body)
	if err != nil {
		return Outcome{Kind: Unknown}
	}
	msg, _ := obj["MSG"].(string)

	switch {
	case strings.Contains(msg, jjNotRegistered):
		return Outcome{Kind: NotRegistered}
	case strings.Contains(msg, jjAlreadyReg):
		return Outcome{Kind: Registered}
	case strings.Contains(msg, jjBlocked1), strings.Contains(msg, jjBlocked2), strings.Contains(msg, jjBlocked3):
		return Outcome{Signal: SignalBlocked, Retry: true}
	default:
		return Outcome{Kind: Unknown}
	}
}
