package middleware

import (
	"net/http"
	"strings"
)

// corsOrigins は許可するオリジンの集合。
type corsOrigins struct {
	exact    map[string]struct{}
	wildcard bool
}

func parseOrigins(list string) corsOrigins {
	o := corsOrigins{exact: make(map[string]struct{})}
	for _, origin := range strings.Split(list, ",") {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		switch origin {
		case "":
		case "*":
			o.wildcard = true
		default:
			o.exact[origin] = struct{}{}
		}
	}
	return o
}

// NewCORSMiddleware はカンマ区切りで指定されたオリジンに対するCORSミドルウェアを返す。
// 一致したオリジンをそのまま返し、credentials送信を許可する。
// "*" はcredentialsなしの全オリジン許可として扱う。
// OriginヘッダーつきのOPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")

			if _, ok := origins.exact[origin]; ok {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
			} else if origins.wildcard {
				h.Set("Access-Control-Allow-Origin", "*")
			}

			if h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
				h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
				h.Set("Access-Control-Max-Age", "86400")
			}

			// プリフライトは許可の有無にかかわらず204で応答し、判定はブラウザに委ねる
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
