package server

import (
	"net/http"
	"time"
)

// NoCache marks every response as uncacheable. Negotiation replies are
// single-use and must never be served from an intermediary cache.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, post-check=0, pre-check=0")
		h.Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}
