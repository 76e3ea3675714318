package httpclient

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"golang.org/x/net/html/charset"
)

// ReadStream reads the whole response body as text. An empty body yields ("", true);
// any read error yields ("", false). The body is closed on every path.
//
// When Config.MaxBodyBytes is set, a body larger than the cap is a read failure, never
// a truncated success. Bodies whose Content-Type declares a non-UTF-8 charset are
// transcoded to UTF-8.
func (c *Client) ReadStream(conn *Connection) (string, bool) {
	resp := conn.Response()
	if resp == nil || resp.Body == nil {
		c.log.Error().Msg("invalid connection")
		return "", false
	}
	defer conn.closeBody(c.log)

	limit := c.config.MaxBodyBytes
	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		c.log.Warn().Err(err).Msg("error reading connection stream")
		return "", false
	}
	if limit > 0 && int64(len(raw)) > limit {
		c.log.Warn().Int64("max_body_bytes", limit).Msg("response body exceeds limit")
		return "", false
	}

	contentType := resp.Header.Get("Content-Type")
	if !declaresForeignCharset(contentType) {
		return string(raw), true
	}
	decoded, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		c.log.Warn().Err(err).Str("content_type", contentType).Msg("error reading connection stream")
		return "", false
	}
	b, err := io.ReadAll(decoded)
	if err != nil {
		c.log.Warn().Err(err).Msg("error reading connection stream")
		return "", false
	}
	return string(b), true
}

func declaresForeignCharset(contentType string) bool {
	if contentType == "" {
		return false
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	cs, ok := params["charset"]
	if !ok {
		return false
	}
	cs = strings.ToLower(cs)
	return cs != "utf-8" && cs != "utf8" && cs != "us-ascii"
}
