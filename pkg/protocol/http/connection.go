package http

import (
	"io"
	"net/http"
)

// RemoteConnection is the outcome of a successful negotiation. Body is nil
// for metadata-only negotiations and must be closed otherwise.
type RemoteConnection struct {
	URL           string
	StatusCode    int
	Status        string
	Header        http.Header
	RequestHeader http.Header
	ContentLength int64
	AcceptRanges  bool
	RangeHonored  bool
	Hash          string
	Filename      string
	Body          io.ReadCloser
}

// Close releases the response body.
func (c *RemoteConnection) Close() error {
	if c == nil || c.Body == nil {
		return nil
	}
	return c.Body.Close()
}

func resourceHash(h http.Header) string {
	for _, key := range []string{"Content-MD5", "Digest", "ETag"} {
		if v := h.Get(key); v != "" {
			return v
		}
	}
	return ""
}
