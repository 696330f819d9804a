package httpserver

import (
	"net/http"
	"time"
)

// New builds the server for the review API. Profile bodies are small JSON
// documents, so a short header timeout is enough to shed stuck connections.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
