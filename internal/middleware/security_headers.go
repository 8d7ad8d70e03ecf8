package middleware

import "net/http"

// NewSecurityHeadersMiddleware はJSON APIとしてのセキュリティヘッダーを付与するミドルウェアを返す。
//
// トークンを含むレスポンスはキャッシュさせない（Cache-Control: no-store）。
// OAuthコールバックのリダイレクト先URLはクエリにトークンを含むため、Refererも送らせない。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	headers := map[string]string{
		"Cache-Control":           "no-store",
		"Pragma":                  "no-cache",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for name, value := range headers {
				h.Set(name, value)
			}
			next.ServeHTTP(w, r)
		})
	}
}
