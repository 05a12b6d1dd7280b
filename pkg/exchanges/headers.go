package exchanges

import "net/http"

// filterHeaders copies src and deletes the sensitive entries the policy does
// not allow. Deleted values are not retained in any form.
func filterHeaders(src http.Header, policy Policy, cookieHeader string) http.Header {
	if src == nil {
		return http.Header{}
	}
	h := src.Clone()
	if !policy.Includes(IncludeAuthorizationHeader) {
		h.Del("Authorization")
	}
	if !policy.Includes(IncludeCookieHeaders) {
		h.Del(cookieHeader)
	}
	return h
}

func requestHeaders(src http.Header, policy Policy) http.Header {
	if !policy.Includes(IncludeRequestHeaders) {
		return nil
	}
	return filterHeaders(src, policy, "Cookie")
}

func responseHeaders(src http.Header, policy Policy) http.Header {
	if !policy.Includes(IncludeResponseHeaders) {
		return nil
	}
	return filterHeaders(src, policy, "Set-Cookie")
}
