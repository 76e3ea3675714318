// Package httpclient implements a resilient conditional-GET primitive.
//
// A fetch is composed from four operations on Client: OpenConnection builds a
// per-attempt connection with the trust policy installed, SetIfModifiedSince adds
// the stored freshness marker as a precondition, SaveLastModified persists the
// response's Last-Modified, and ReadStream reads the body. Execute retries any
// operation with exponential backoff. Fetcher wires them together.
//
// None of these operations return failures past their boundary as panics: they
// log and return a sentinel (nil connection, ok=false, or an error value).
package httpclient

import (
	"time"

	"github.com/gaborage/condfetch/logger"
	"github.com/gaborage/condfetch/store"
)

const (
	// HeaderIfModifiedSince is the conditional request precondition.
	HeaderIfModifiedSince = "If-Modified-Since"
	// HeaderLastModified carries the freshness indicator of a response.
	HeaderLastModified = "Last-Modified"
	// HeaderXRequestID identifies a single attempt in server logs.
	HeaderXRequestID = "X-Request-ID"
	// HeaderUserAgent is set from Config.UserAgent.
	HeaderUserAgent = "User-Agent"

	defaultUserAgent = "condfetch/1.0"
)

// Config holds the per-connection settings of a Client.
type Config struct {
	// Timeout bounds one attempt (connect, send and body read). 0 means no timeout.
	Timeout time.Duration
	// UserAgent is sent on every request (default: condfetch/1.0).
	UserAgent string
	// MaxBodyBytes caps ReadStream; a larger body is unreadable. 0 means unlimited.
	MaxBodyBytes int64
	// Trust is installed on https connections. nil keeps the platform defaults.
	Trust *TrustPolicy
	// NewRequestID generates the X-Request-ID of each attempt (default: uuid v4).
	NewRequestID func() string
}

// Client owns the collaborators shared by every connection it opens.
type Client struct {
	store  store.Store
	log    logger.Logger
	config Config
}

// NewClient creates a Client. A nil store falls back to an in-memory store and a
// nil logger discards output.
func NewClient(st store.Store, log logger.Logger, cfg *Config) *Client {
	if st == nil {
		st = store.NewMemory()
	}
	if log == nil {
		log = logger.Nop()
	}

	c := &Client{store: st, log: log}
	if cfg != nil {
		c.config = *cfg
	}
	if c.config.UserAgent == "" {
		c.config.UserAgent = defaultUserAgent
	}
	if c.config.NewRequestID == nil {
		c.config.NewRequestID = newRequestID
	}
	return c
}

// Store returns the freshness store markers are read from and written to.
func (c *Client) Store() store.Store {
	return c.store
}
