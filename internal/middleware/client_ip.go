package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// NewTrustedProxyMiddleware は信頼済みプロキシから届いたリクエストに限り、
// 転送ヘッダーのクライアントIPをRemoteAddrに反映するミドルウェアを返す。
//
// X-Forwarded-Forは右端から辿り、信頼済みプロキシではない最初のアドレスを採用する。
// 左側の値はクライアントが自由に書けるため使わない。
// X-Forwarded-Forが無い場合のみX-Real-IPを参照する。
// trustedが空の場合、またはピアが信頼済みでない場合は転送ヘッダーを一切見ない。
func NewTrustedProxyMiddleware(trusted []netip.Prefix) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(trusted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer, ok := parseRemoteAddr(r.RemoteAddr)
			if ok && containsAddr(trusted, peer) {
				if client, found := forwardedClient(r.Header, trusted); found {
					r.RemoteAddr = client.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedClient は転送ヘッダーからクライアントIPを取り出す。
func forwardedClient(h http.Header, trusted []netip.Prefix) (netip.Addr, bool) {
	xff := strings.Join(h.Values("X-Forwarded-For"), ",")
	if strings.TrimSpace(xff) != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				// 壊れた経路情報は信用せず、ピアのアドレスを使う
				return netip.Addr{}, false
			}
			addr = addr.Unmap()
			if !containsAddr(trusted, addr) {
				return addr, true
			}
		}
		return netip.Addr{}, false
	}

	if addr, err := netip.ParseAddr(strings.TrimSpace(h.Get("X-Real-IP"))); err == nil {
		return addr.Unmap(), true
	}
	return netip.Addr{}, false
}

// parseRemoteAddr は"host:port"またはポート無しのRemoteAddrを解析する。
func parseRemoteAddr(remoteAddr string) (netip.Addr, bool) {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func containsAddr(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
