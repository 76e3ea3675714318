package httpclient

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gaborage/condfetch/logger"
)

// Connection is a request-ready handle bound to one endpoint for one attempt.
// It is never reused: every retry opens a new Connection with its own transport.
type Connection struct {
	req       *http.Request
	client    *http.Client
	transport *http.Transport

	resp *http.Response

	ifModifiedSince int64
	closeOnce       sync.Once
}

// URL returns the endpoint this connection was opened for, or nil for a nil handle.
func (c *Connection) URL() *url.URL {
	if c == nil || c.req == nil {
		return nil
	}
	return c.req.URL
}

// Header returns the outgoing request headers, or nil for a nil handle.
func (c *Connection) Header() http.Header {
	if c == nil || c.req == nil {
		return nil
	}
	return c.req.Header
}

// IfModifiedSince returns the precondition in milliseconds since the epoch, or 0 when unset.
func (c *Connection) IfModifiedSince() int64 {
	if c == nil {
		return 0
	}
	return c.ifModifiedSince
}

// setIfModifiedSince stores the precondition and encodes it as an HTTP-date.
// HTTP-dates have second precision; the millisecond value is kept on the handle.
func (c *Connection) setIfModifiedSince(ms int64) {
	c.ifModifiedSince = ms
	c.req.Header.Set(HeaderIfModifiedSince, time.UnixMilli(ms).UTC().Format(http.TimeFormat))
}

// Send performs the request. It may be called once per connection.
func (c *Connection) Send() error {
	if c == nil || c.req == nil {
		return errors.New("httpclient: nil connection")
	}
	if c.resp != nil {
		return errors.New("httpclient: connection already sent")
	}
	resp, err := c.client.Do(c.req)
	if err != nil {
		return err
	}
	c.resp = resp
	return nil
}

// Response returns the received response, or nil before Send succeeded.
func (c *Connection) Response() *http.Response {
	if c == nil {
		return nil
	}
	return c.resp
}

// StatusCode returns the response status, or 0 before Send succeeded.
func (c *Connection) StatusCode() int {
	if c == nil || c.resp == nil {
		return 0
	}
	return c.resp.StatusCode
}

// LastModified returns the response's Last-Modified in milliseconds since the epoch.
// A missing or unparseable header yields 0.
func (c *Connection) LastModified() int64 {
	if c == nil || c.resp == nil {
		return 0
	}
	raw := c.resp.Header.Get(HeaderLastModified)
	if raw == "" {
		return 0
	}
	t, err := http.ParseTime(raw)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// Close releases the response body and the connection's transport.
// It is safe to call more than once and on a connection that was never sent.
func (c *Connection) Close() {
	if c == nil {
		return
	}
	c.closeBody(nil)
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
}

// closeBody closes the response body exactly once across ReadStream and Close.
func (c *Connection) closeBody(log logger.Logger) {
	c.closeOnce.Do(func() {
		if c.resp == nil || c.resp.Body == nil {
			return
		}
		if err := c.resp.Body.Close(); err != nil && log != nil {
			log.Error().Err(err).Msg("problem closing the response body")
		}
	})
}
