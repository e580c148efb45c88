// Package middleware provides HTTP middlewares for access control and logging
// of the status API.
package middleware

import (
	"net"
	"net/http"
)

// LoopbackOnly rejects requests that do not originate from a loopback
// address with 403 Forbidden.
//
// The status API exposes share metadata, so it is only meant to be reached
// from the host the server runs on.
func LoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
