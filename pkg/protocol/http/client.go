package http

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/NamanBalaji/gdl/internal/logger"
)

// ErrNoPreviousConnection is returned by Reconnect before any Connect.
var ErrNoPreviousConnection = errors.New("no previous connection to re-issue")

// Client owns the transport shared by every negotiation.
type Client struct {
	transport *http.Transport
	rt        http.RoundTripper
	config    ClientConfig
}

func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		MaxConnsPerHost:       config.MaxConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		DisableCompression:    true,

		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout,
		}).DialContext,
	}

	if config.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(config.ProxyURL)
	}

	if config.TLSConfig != nil {
		transport.TLSClientConfig = config.TLSConfig
	}

	var rt http.RoundTripper = transport
	if config.RequestsPerSecond > 0 {
		throttled, err := NewThrottledTransport(config.RequestsPerSecond, max(config.Burst, 1), transport)
		if err != nil {
			return nil, err
		}
		rt = throttled
	}

	return &Client{
		transport: transport,
		rt:        rt,
		config:    *config,
	}, nil
}

// NewNegotiator returns a negotiator with fresh state sharing c's transport.
func (c *Client) NewNegotiator(opts NegotiatorOptions) *Negotiator {
	maxRedirects := c.config.MaxRedirects
	hc := &http.Client{
		Transport: c.rt,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if opts.NoFollowRedirects {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return &HTTPError{
					Type:      ErrorTypeHTTP,
					Operation: "redirect",
					URL:       req.URL.String(),
					Status:    http.StatusLoopDetected,
					Err:       fmt.Errorf("too many redirects (max: %d)", maxRedirects),
				}
			}
			return nil
		},
	}

	n := &Negotiator{client: c, hc: hc, opts: opts}
	n.Reset()

	return n
}

func (c *Client) Supports(urlStr string) bool {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	return (scheme == "http" || scheme == "https") && parsed.Host != ""
}

func (c *Client) Cleanup() error {
	c.transport.CloseIdleConnections()
	return nil
}

// Negotiator opens connections to one resource and remembers what the last
// negotiation reported. It is safe for concurrent use.
type Negotiator struct {
	client *Client
	hc     *http.Client
	opts   NegotiatorOptions

	mu              sync.RWMutex
	lastURL         string
	acceptRanges    bool
	contentLength   int64
	responseCode    int
	responseMessage string
	header          http.Header
	hash            string
	filename        string
}

// Connect negotiates with urlStr: response code, headers, content length,
// range support and advertised hash. The body is never read.
func (n *Negotiator) Connect(ctx context.Context, urlStr string) (*RemoteConnection, error) {
	if err := n.validate(urlStr); err != nil {
		return nil, err
	}

	logger.Debugf("Negotiating with %s", urlStr)
	conn, err := n.retry(ctx, urlStr, n.opts.Retries, func() (*RemoteConnection, error) {
		return n.negotiate(ctx, urlStr)
	})
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	n.lastURL = urlStr
	n.acceptRanges = conn.AcceptRanges
	n.contentLength = conn.ContentLength
	n.hash = conn.Hash
	n.filename = conn.Filename
	n.mu.Unlock()
	n.recordResponse(conn)

	logger.Debugf("Negotiated %s: status=%d length=%d ranges=%v", urlStr, conn.StatusCode, conn.ContentLength, conn.AcceptRanges)

	return conn, nil
}

// ConnectRange opens a transfer for [start+downloaded, end]. The Range header
// is only sent when end > start+downloaded; otherwise the whole resource is
// requested. Transient failures are retried up to retries times.
func (n *Negotiator) ConnectRange(ctx context.Context, urlStr string, retries int, start, end, downloaded int64) (*RemoteConnection, error) {
	if err := n.validate(urlStr); err != nil {
		return nil, err
	}

	conn, err := n.retry(ctx, urlStr, retries, func() (*RemoteConnection, error) {
		return n.get(ctx, urlStr, start, end, downloaded)
	})
	if err != nil {
		return nil, err
	}
	n.recordResponse(conn)

	return conn, nil
}

// Reconnect re-issues the last Connect against the same URL.
func (n *Negotiator) Reconnect(ctx context.Context) (*RemoteConnection, error) {
	n.mu.RLock()
	last := n.lastURL
	n.mu.RUnlock()

	if last == "" {
		return nil, ErrNoPreviousConnection
	}

	return n.Connect(ctx, last)
}

// Reset clears every negotiated value back to its default.
func (n *Negotiator) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.lastURL = ""
	n.acceptRanges = false
	n.contentLength = -1
	n.responseCode = 0
	n.responseMessage = ""
	n.header = nil
	n.hash = ""
	n.filename = ""
}

func (n *Negotiator) AcceptRanges() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.acceptRanges
}

func (n *Negotiator) ContentLength() int64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.contentLength
}

func (n *Negotiator) ResponseCode() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.responseCode
}

func (n *Negotiator) ResponseMessage() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.responseMessage
}

func (n *Negotiator) Header() http.Header {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.header.Clone()
}

func (n *Negotiator) Hash() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hash
}

func (n *Negotiator) URL() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastURL
}

func (n *Negotiator) validate(urlStr string) error {
	if len(urlStr) == 0 {
		return ErrEmptyURL
	}
	if !n.client.Supports(urlStr) {
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, urlStr)
	}
	return nil
}

func (n *Negotiator) recordResponse(conn *RemoteConnection) {
	n.mu.Lock()
	n.responseCode = conn.StatusCode
	n.responseMessage = conn.Status
	n.header = conn.Header.Clone()
	n.mu.Unlock()
}

func (n *Negotiator) retry(ctx context.Context, urlStr string, retries int, fn func() (*RemoteConnection, error)) (*RemoteConnection, error) {
	attempts := 0
	for {
		attempts++
		conn, err := fn()
		if err == nil {
			return conn, nil
		}

		if ctx.Err() != nil || !IsRetryable(err) || attempts > retries {
			return nil, &ConnectError{URL: urlStr, Attempts: attempts, Err: err}
		}

		delay := Backoff(attempts, n.opts.RetryDelay, n.opts.ExponentialBackoff)
		logger.Warnf("Attempt %d for %s failed, retrying in %v: %v", attempts, urlStr, delay, err)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, &ConnectError{URL: urlStr, Attempts: attempts, Err: err}
		}
	}
}

func (n *Negotiator) negotiate(ctx context.Context, urlStr string) (*RemoteConnection, error) {
	conn, headErr := n.headRequest(ctx, urlStr)
	if headErr == nil {
		return conn, nil
	}

	var httpErr *HTTPError
	if !errors.As(headErr, &httpErr) || httpErr.Type != ErrorTypeHTTP {
		return nil, headErr
	}

	switch httpErr.Status {
	case http.StatusMethodNotAllowed, http.StatusForbidden, http.StatusNotImplemented:
	default:
		return nil, headErr
	}

	logger.Debugf("HEAD rejected for %s with %d, falling back to ranged GET", urlStr, httpErr.Status)
	conn, err := n.fallbackRangeCheck(ctx, urlStr)
	if err != nil {
		return nil, fmt.Errorf("HEAD error: %w, fallback GET error: %w", headErr, err)
	}

	return conn, nil
}

func (n *Negotiator) headRequest(ctx context.Context, urlStr string) (*RemoteConnection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HEAD request: %w", err)
	}
	n.applyHeaders(req)

	resp, err := n.hc.Do(req)
	if err != nil {
		return nil, NewHTTPNetworkError("HEAD", urlStr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewHTTPStatusError("HEAD", urlStr, resp.StatusCode)
	}

	return n.newConnection(req, resp, false), nil
}

func (n *Negotiator) fallbackRangeCheck(ctx context.Context, urlStr string) (*RemoteConnection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback GET request: %w", err)
	}
	n.applyHeaders(req)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := n.hc.Do(req)
	if err != nil {
		return nil, NewHTTPNetworkError("fallbackGET", urlStr, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		conn := n.newConnection(req, resp, true)
		conn.AcceptRanges = true
		return conn, nil
	case http.StatusOK:
		return n.newConnection(req, resp, false), nil
	default:
		return nil, NewHTTPStatusError("GET", urlStr, resp.StatusCode)
	}
}

func (n *Negotiator) get(ctx context.Context, urlStr string, start, end, downloaded int64) (*RemoteConnection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	n.applyHeaders(req)
	ranged := AddByteRangeHeader(req.Header, start, end, downloaded)

	resp, err := n.hc.Do(req)
	if err != nil {
		return nil, NewHTTPNetworkError("GET", urlStr, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		conn := n.newConnection(req, resp, false)
		conn.Body = resp.Body
		return conn, nil
	case http.StatusPartialContent:
		conn := n.newConnection(req, resp, true)
		if ranged {
			first, _, _, err := ParseContentRange(resp.Header.Get("Content-Range"))
			if err != nil || first != start+downloaded {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: asked for offset %d, got %q", ErrUnsupportedRange, start+downloaded, resp.Header.Get("Content-Range"))
			}
		}
		conn.RangeHonored = ranged
		conn.Body = resp.Body
		return conn, nil
	default:
		resp.Body.Close()
		return nil, NewHTTPStatusError("GET", urlStr, resp.StatusCode)
	}
}

func (n *Negotiator) newConnection(req *http.Request, resp *http.Response, partial bool) *RemoteConnection {
	length := resp.ContentLength
	if partial {
		length = -1
		if _, _, total, err := ParseContentRange(resp.Header.Get("Content-Range")); err == nil {
			length = total
		}
	}

	return &RemoteConnection{
		URL:           resp.Request.URL.String(),
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Header:        resp.Header,
		RequestHeader: req.Header.Clone(),
		ContentLength: length,
		AcceptRanges:  acceptsByteRanges(resp.Header),
		Hash:          resourceHash(resp.Header),
		Filename:      getFilename(resp.Header, req.URL.String()),
	}
}

func (n *Negotiator) applyHeaders(req *http.Request) {
	for k, v := range n.client.config.DefaultHeaders {
		req.Header.Set(k, v)
	}

	for k, v := range n.opts.Headers {
		req.Header.Set(k, v)
	}
}

func getFilename(header http.Header, urlStr string) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if filename := params["filename"]; filename != "" {
				return filename
			}
		}
	}

	parsedURL, _ := url.Parse(urlStr)
	if parsedURL != nil && parsedURL.Path != "" {
		segments := strings.Split(parsedURL.Path, "/")
		if last := segments[len(segments)-1]; last != "" {
			return last
		}
	}

	return "download"
}
