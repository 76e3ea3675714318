package httpclient

import "context"

// SetIfModifiedSince adds the stored freshness marker for the connection's URL as an
// If-Modified-Since precondition. Without a positive marker the request stays
// unconditional. Must be called before the connection is sent.
func (c *Client) SetIfModifiedSince(ctx context.Context, conn *Connection) {
	u := conn.URL()
	if u == nil {
		c.log.Error().Msg("invalid connection")
		return
	}
	if conn.Response() != nil {
		c.log.Error().Str("url", u.String()).Msg("precondition set after the request was sent")
		return
	}

	key := u.String()
	lastModified, err := c.store.GetLong(ctx, key, 0)
	if err != nil {
		c.log.Warn().Err(err).Str("url", key).Msg("could not read last modified marker, sending unconditional request")
		return
	}
	if lastModified > 0 {
		conn.setIfModifiedSince(lastModified)
	}
}

// SaveLastModified stores the response's Last-Modified for the connection's URL.
// A missing or non-positive value leaves any stored marker untouched.
func (c *Client) SaveLastModified(ctx context.Context, conn *Connection) {
	u := conn.URL()
	if u == nil || conn.Response() == nil {
		c.log.Error().Msg("invalid connection")
		return
	}

	key := u.String()
	lastModified := conn.LastModified()
	if lastModified <= 0 {
		c.log.Warn().Str("url", key).Msg("response didn't have a last modified header")
		return
	}
	if err := c.store.SaveLong(ctx, key, lastModified); err != nil {
		c.log.Warn().Err(err).Str("url", key).Int64("last_modified", lastModified).Msg("could not save last modified marker")
	}
}
