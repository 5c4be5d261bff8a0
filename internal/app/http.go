package app

import (
	"net/http"
	"time"
)

// newHTTPClient builds the client shared by all fetches. The per-request
// deadline comes from the fetch queue; the client timeout is a backstop.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{
		Transport: transport,
		Timeout:   timeout + 5*time.Second,
	}
}
