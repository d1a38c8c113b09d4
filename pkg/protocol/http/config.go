package http

import (
	"crypto/tls"
	"net/url"
	"time"
)

type ClientConfig struct {
	// Connection settings
	ProxyURL            *url.URL
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	MaxRedirects        int

	// Timeouts
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	KeepAliveTimeout      time.Duration

	// TLS
	TLSConfig *tls.Config

	// Throttling, zero disables it
	RequestsPerSecond int
	Burst             int

	// Headers
	DefaultHeaders map[string]string
}

// DefaultConfig returns a ClientConfig with sensible defaults
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       32,
		IdleConnTimeout:       90 * time.Second,
		MaxRedirects:          10,
		DialTimeout:           15 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		KeepAliveTimeout:      30 * time.Second,

		DefaultHeaders: map[string]string{
			"User-Agent": "gdl/1.0",
			"Accept":     "*/*",
			"Connection": "keep-alive",
		},
	}
}

// NegotiatorOptions are the per-download settings of a Negotiator.
type NegotiatorOptions struct {
	Headers            map[string]string
	Retries            int
	RetryDelay         time.Duration
	ExponentialBackoff bool
	NoFollowRedirects  bool
}
