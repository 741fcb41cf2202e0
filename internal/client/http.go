package client

/*
domlookup — batch DNS and RDAP domain lookups
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package client provides the configurable HTTP client used for RDAP requests.

The package manages a shared global HTTP client instance that is configured once from
the command line and then retrieved by the backends. Lookups are sequential, so the pool
is small; what matters are the timeouts and the User-Agent sent to registry servers.
*/

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTP client-specific constants.
const (
	// DialTimeout is the maximum amount of time a dial will wait for a connect to complete.
	DialTimeout = 5 * time.Second
	// RequestTimeout is the timeout for the entire HTTP request, including redirects and reading the body.
	RequestTimeout = 15 * time.Second
	// DefaultUserAgent identifies the tool to RDAP servers, some of which reject anonymous clients.
	DefaultUserAgent = "domlookup/dev (+https://github.com/x-stp/domlookup)"
	// MaxRedirects bounds the redirect chain followed from a bootstrap redirector.
	MaxRedirects = 5
)

var (
	defaultKeepAliveTimeout = 30 * time.Second
	defaultIdleConnTimeout  = 90 * time.Second
	defaultMaxIdleConns     = 16
	defaultMaxIdlePerHost   = 4

	// sharedClient is the global HTTP client instance used by the application.
	// It is lazily initialized on first use or when explicitly configured.
	sharedClient *http.Client
	// sharedClientLock protects access to sharedClient and clientInitialized.
	sharedClientLock sync.RWMutex
	// clientInitialized indicates whether the sharedClient has been initialized.
	clientInitialized bool
)

// Config holds configuration parameters for the HTTP client.
// A zero-value Config will result in default settings being used.
type Config struct {
	// DialTimeout is the maximum duration for establishing a new connection.
	DialTimeout time.Duration
	// KeepAliveTimeout specifies the keep-alive period for an active network connection.
	KeepAliveTimeout time.Duration
	// IdleConnTimeout is how long an idle keep-alive connection stays in the pool.
	IdleConnTimeout time.Duration
	// MaxIdleConns controls the maximum number of idle connections across all hosts.
	MaxIdleConns int
	// MaxIdleConnsPerHost is the maximum number of idle connections to keep per host.
	MaxIdleConnsPerHost int
	// RequestTimeout is the timeout for the entire HTTP request.
	RequestTimeout time.Duration
	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultConfig returns a new Config struct populated with default HTTP client settings.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:         DialTimeout,
		KeepAliveTimeout:    defaultKeepAliveTimeout,
		IdleConnTimeout:     defaultIdleConnTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdlePerHost,
		RequestTimeout:      RequestTimeout,
		UserAgent:           DefaultUserAgent,
	}
}

// New builds a standalone client from config, filling zero fields with defaults.
// config is not modified.
func New(config *Config) *http.Client {
	cfg := DefaultConfig()
	if config != nil {
		merged := *config
		if merged.DialTimeout == 0 {
			merged.DialTimeout = cfg.DialTimeout
		}
		if merged.KeepAliveTimeout == 0 {
			merged.KeepAliveTimeout = cfg.KeepAliveTimeout
		}
		if merged.IdleConnTimeout == 0 {
			merged.IdleConnTimeout = cfg.IdleConnTimeout
		}
		if merged.MaxIdleConns == 0 {
			merged.MaxIdleConns = cfg.MaxIdleConns
		}
		if merged.MaxIdleConnsPerHost == 0 {
			merged.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
		if merged.RequestTimeout == 0 {
			merged.RequestTimeout = cfg.RequestTimeout
		}
		if merged.UserAgent == "" {
			merged.UserAgent = cfg.UserAgent
		}
		cfg = &merged
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment, // Respect standard proxy environment variables.
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAliveTimeout,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport:     &userAgentTransport{base: transport, userAgent: cfg.UserAgent},
		Timeout:       cfg.RequestTimeout,
		CheckRedirect: limitRedirects,
	}
}

// InitHTTPClient initializes or reconfigures the shared global HTTP client.
// If a nil config is provided, it uses DefaultConfig(). This function is thread-safe.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	// Close idle connections on the old transport so reconfiguring does not leak them.
	if sharedClient != nil {
		sharedClient.CloseIdleConnections()
	}
	sharedClient = New(config)
	clientInitialized = true
}

// GetHTTPClient returns the shared global HTTP client instance.
// If the client has not been initialized, it will be initialized with default settings.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	c := sharedClient
	sharedClientLock.RUnlock()
	return c
}

// userAgentTransport sets the User-Agent header on requests that do not carry one.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper. The request is cloned before mutation.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the wrapped transport.
func (t *userAgentTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

func limitRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= MaxRedirects {
		return http.ErrUseLastResponse
	}
	return nil
}
