package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// AddByteRangeHeader sets "Range: bytes=<start+downloaded>-<end>" when a
// sub-range remains, that is when end > start+downloaded. Otherwise it leaves
// the header untouched and returns false.
func AddByteRangeHeader(h http.Header, start, end, downloaded int64) bool {
	if end <= start+downloaded {
		return false
	}
	h.Set("Range", fmt.Sprintf("bytes=%d-%d", start+downloaded, end))
	return true
}

// ParseContentRange parses "bytes <first>-<last>/<total>". total is -1 when
// the server sent "*".
func ParseContentRange(v string) (first, last, total int64, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}

	span, size, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}

	total = -1
	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, 0, fmt.Errorf("invalid Content-Range size %q: %w", v, err)
		}
	}

	a, b, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	if first, err = strconv.ParseInt(a, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range start %q: %w", v, err)
	}
	if last, err = strconv.ParseInt(b, 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range end %q: %w", v, err)
	}

	return first, last, total, nil
}

func acceptsByteRanges(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Accept-Ranges")), "bytes")
}
