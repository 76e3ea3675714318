package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/gaborage/condfetch/trace"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"

	tlsHandshakeTimeout = 10 * time.Second
)

// HostnameVerifier decides whether the peer presented in state is valid for hostname.
type HostnameVerifier func(hostname string, state tls.ConnectionState) bool

// DefaultHostnameVerifier checks the leaf certificate against hostname, the same
// check crypto/tls performs for ServerName.
func DefaultHostnameVerifier(hostname string, state tls.ConnectionState) bool {
	if len(state.PeerCertificates) == 0 {
		return false
	}
	return state.PeerCertificates[0].VerifyHostname(hostname) == nil
}

// TrustPolicy is the certificate and hostname verification installed on https connections.
// TLSConfig is the pre-built certificate mechanism (RootCAs, client certificates, ...).
// VerifyHostname is the base verifier; nil means DefaultHostnameVerifier.
//
// When installed, the verifier is always evaluated against the host of the URL the
// connection was opened for, never a host negotiated later (redirect targets, proxies).
type TrustPolicy struct {
	TLSConfig      *tls.Config
	VerifyHostname HostnameVerifier
}

// tlsConfigFor returns a copy of the policy's TLS config pinned to host.
// Certificates and the hostname check are installed together or not at all.
func (p *TrustPolicy) tlsConfigFor(host string) (*tls.Config, error) {
	if p.TLSConfig == nil {
		return nil, errors.New("trust policy has no TLS config")
	}

	verify := p.VerifyHostname
	if verify == nil {
		verify = DefaultHostnameVerifier
	}

	cfg := p.TLSConfig.Clone()
	cfg.ServerName = host
	next := cfg.VerifyConnection
	cfg.VerifyConnection = func(state tls.ConnectionState) error {
		if next != nil {
			if err := next(state); err != nil {
				return err
			}
		}
		if !verify(host, state) {
			return &HostnameError{Host: host}
		}
		return nil
	}
	return cfg, nil
}

// OpenConnection returns a new connection for u, or nil when it cannot be opened.
// Failures are logged at warn level with the target host; a nil result is retryable.
func (c *Client) OpenConnection(ctx context.Context, u *url.URL) (conn *Connection) {
	host := ""
	if u != nil {
		host = u.Hostname()
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Warn().Str("host", host).Interface("panic", r).Msg("error opening connection")
			conn = nil
		}
	}()

	opened, err := c.open(ctx, u)
	if err != nil {
		c.log.Warn().Err(err).Str("host", host).Msg("error making request")
		return nil
	}
	return opened
}

func (c *Client) open(ctx context.Context, u *url.URL) (*Connection, error) {
	if u == nil || !u.IsAbs() || u.Hostname() == "" {
		return nil, ErrInvalidURL
	}
	if u.Scheme != schemeHTTP && u.Scheme != schemeHTTPS {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		// An empty, non-nil map keeps the transport on HTTP/1.1.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}

	if u.Scheme == schemeHTTPS && c.config.Trust != nil {
		tlsConfig, err := c.config.Trust.tlsConfigFor(u.Hostname())
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
		c.log.Info().Str("host", u.Hostname()).Msg("secure connection configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	req.Header.Set(HeaderXRequestID, c.config.NewRequestID())
	if id, ok := trace.IDFromContext(ctx); ok {
		req.Header.Set(trace.HeaderTraceParent, trace.TraceParent(id))
	}

	return &Connection{
		req:       req,
		client:    &http.Client{Transport: transport, Timeout: c.config.Timeout},
		transport: transport,
	}, nil
}

func newRequestID() string {
	return uuid.New().String()
}
