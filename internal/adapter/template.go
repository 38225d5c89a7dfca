package adapter

import (
	"fmt"
	"strings"

	"github.com/grishkovelli/phonewatch/internal/useragent"
)

// predicate is one row of a templateAdapter's response table: the first
// predicate whose match function reports true determines the Outcome.
type predicate struct {
	match   func(obj map[string]any) bool
	outcome Outcome
}

// templateAdapter covers the sites whose only difference from one another
// is the URL, the number-bearing query/body parameter name, and which JSON
// field (and which values of it) signals registration.
type templateAdapter struct {
	host       string
	method     string
	pathFormat string // fmt verb consuming the number, e.g. "/check?mobile=%s"
	bodyFormat string // "" for GET; otherwise a fmt verb consuming the number
	predicates []predicate
}

func (t *templateAdapter) PrepareRequest(number string, useAuth string) Request {
	headers := mergeHeaders(map[string]string{
		"Host":          t.host,
		"User-Agent":    useragent.Default().Get(),
		"Accept":        "application/json, text/plain, */*",
		"Connection":    "keep-alive",
		"Cache-Control": "no-cache",
	}, basicAuthHeader(useAuth))

	req := Request{
		Method:  t.method,
		Path:    expand(t.pathFormat, number),
		Host:    t.host,
		Headers: headers,
		TLS:     true,
	}
	if t.bodyFormat != "" {
		req.Body = []byte(expand(t.bodyFormat, number))
		headers["Content-Type"] = "application/x-www-form-urlencoded; charset=UTF-8"
	}
	return req
}

// expand substitutes number into a one-verb format; literal templates (POST
// sites carrying the number in the body only) pass through untouched.
func expand(format, number string) string {
	if !strings.Contains(format, "%s") {
		return format
	}
	return fmt.Sprintf(format, number)
}

func (t *templateAdapter) Classify(status int, body []byte) Outcome {
	obj, err := decodeObject(body)
	if err != nil {
		return Outcome{Kind: Unknown}
	}
	for _, p := range t.predicates {
		if p.match(obj) {
			return p.outcome
		}
	}
	return Outcome{Kind: Unknown}
}

func fieldEquals(field string, want ...string) func(map[string]any) bool {
	return func(obj map[string]any) bool {
		v, _ := obj[field].(string)
		for _, w := range want {
			if v == w {
				return true
			}
		}
		return false
	}
}

func fieldTruthy(field string) func(map[string]any) bool {
	return func(obj map[string]any) bool {
		switch v := obj[field].(type) {
		case bool:
			return v
		case float64:
			return v != 0
		default:
			return false
		}
	}
}

// templateSites is the set of sites handled entirely by templateAdapter.
// Each entry names the JSON field(s) and values its vendor uses to signal
// registration.
var templateSites = map[Website]*templateAdapter{
	Website51Job: {
		host: "login.51job.com", method: "POST",
		pathFormat: "/login/check_mobile.php",
		bodyFormat: "mobile=%s&type=register",
		predicates: []predicate{
			{fieldEquals("status", "exist"), Outcome{Kind: Registered}},
			{fieldEquals("status", "free"), Outcome{Kind: NotRegistered}},
		},
	},
	WebsiteZhenai: {
		host: "m.zhenai.com", method: "GET",
		pathFormat: "/zhenai-app/mobile/checkMobile?mobile=%s",
		predicates: []predicate{
			{fieldTruthy("isRegister"), Outcome{Kind: Registered}},
			{fieldEquals("code", "0"), Outcome{Kind: NotRegistered}},
		},
	},
	WebsiteBaihe: {
		host: "i.baihe.com", method: "GET",
		pathFormat: "/mobile/checkPhoneRegister?phone=%s",
		predicates: []predicate{
			{fieldEquals("result", "registered"), Outcome{Kind: Registered}},
			{fieldEquals("result", "unregistered"), Outcome{Kind: NotRegistered}},
		},
	},
	WebsiteJiayuan: {
		host: "www.jiayuan.com", method: "POST",
		pathFormat: "/usr/checkmobile.php",
		bodyFormat: "mobile_no=%s",
		predicates: []predicate{
			{fieldEquals("errorcode", "1"), Outcome{Kind: Registered}},
			{fieldEquals("errorcode", "0"), Outcome{Kind: NotRegistered}},
		},
	},
	WebsiteTaobao: {
		host: "reg.taobao.com", method: "GET",
		pathFormat: "/member/request/check_mobile.htm?mobile=%s",
		predicates: []predicate{
			{fieldTruthy("bound"), Outcome{Kind: Registered}},
			{fieldEquals("success", "true"), Outcome{Kind: NotRegistered}},
		},
	},
	WebsiteJD: {
		host: "reg.jd.com", method: "GET",
		pathFormat: "/checkMobile.action?mobile=%s",
		predicates: []predicate{
			{fieldEquals("emailCheck", "true"), Outcome{Kind: NotRegistered}},
			{fieldEquals("emailCheck", "false"), Outcome{Kind: Registered}},
		},
	},
	WebsiteVipshop: {
		host: "passport.vip.com", method: "POST",
		pathFormat: "/checkUserExist.json",
		bodyFormat: "mobile=%s",
		predicates: []predicate{
			{fieldTruthy("exist"), Outcome{Kind: Registered}},
			{fieldEquals("code", "1"), Outcome{Kind: NotRegistered}},
		},
	},
	WebsiteSuning: {
		host: "reg.suning.com", method: "GET",
		pathFormat: "/validate/mobile.do?mobile=%s",
		predicates: []predicate{
			{fieldEquals("checkResult", "2"), Outcome{Kind: Registered}},
			{fieldEquals("checkResult", "0"), Outcome{Kind: NotRegistered}},
		},
	},
	WebsiteMeituan: {
		host: "passport.meituan.com", method: "POST",
		pathFormat: "/account/mobilecheck",
		bodyFormat: "mobile=%s",
		predicates: []predicate{
			{fieldTruthy("registered"), Outcome{Kind: Registered}},
			{fieldEquals("code", "0"), Outcome{Kind: NotRegistered}},
		},
	},
	WebsiteDianping: {
		host: "account.dianping.com", method: "GET",
		pathFormat: "/checkmobile?mobile=%s",
		predicates: []predicate{
			{fieldEquals("msg", "exist"), Outcome{Kind: Registered}},
			{fieldEquals("msg", "available"), Outcome{Kind: NotRegistered}},
		},
	},
}
