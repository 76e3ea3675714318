package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/gaborage/condfetch/httpclient/internal/tracking"
	"github.com/gaborage/condfetch/logger"
	"github.com/gaborage/condfetch/trace"
)

// RetryConfig is the retry budget and pacing of a Fetcher.
type RetryConfig struct {
	// Base is the first delay in backoff units and the growth factor.
	Base int
	// Exponent bounds the largest delay at Base^Exponent units.
	Exponent int
	// RateLimit caps attempts per second across all fetches. 0 disables pacing.
	RateLimit float64
	// RateBurst is the limiter bucket size (minimum 1).
	RateBurst int
}

// DefaultRetryConfig waits 2, 4, 8, 16 and 32 seconds between failures.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Base: 2, Exponent: 5}
}

// Result is the outcome of a successful fetch.
type Result struct {
	URL        string
	StatusCode int
	Body       string
	// NotModified is true for a 304: Body is empty and the stored marker is unchanged.
	NotModified bool
	// LastModified is the response's marker (2xx) or the precondition that was sent (304).
	LastModified int64
	Attempts     int
	Elapsed      time.Duration
}

// Fetcher performs open, precondition, send, read and persist inside Execute.
// Concurrent fetches of the same URL within one Fetcher share a single execution.
type Fetcher struct {
	client  *Client
	backoff *Backoff
	retry   RetryConfig
	limiter *rate.Limiter
	log     logger.Logger
	group   singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the shared execution of one URL. Its ctx keeps the first caller's values
// but is cancelled only once every waiter has returned.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewFetcher creates a Fetcher. A nil backoff uses one-second units and real sleeps.
func NewFetcher(client *Client, backoff *Backoff, retry RetryConfig) *Fetcher {
	if backoff == nil {
		backoff = NewBackoff(client.log)
	}
	f := &Fetcher{
		client:  client,
		backoff: backoff,
		retry:   retry,
		log:     client.log,
		flights: make(map[string]*flight),
	}
	if retry.RateLimit > 0 {
		burst := max(retry.RateBurst, 1)
		f.limiter = rate.NewLimiter(rate.Limit(retry.RateLimit), burst)
	}
	return f
}

// Fetch retrieves rawURL, retrying failed attempts with exponential backoff.
// A 304 response is a success with NotModified set. When retries run out the error
// of the last attempt is returned.
//
// Every caller, including those sharing an in-flight fetch, stops waiting when its own
// ctx is done and returns ctx.Err(). The shared execution is cancelled once no caller
// waits for it.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, rawURL)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := u.String()
	fl, ch := f.join(ctx, key, u)
	defer f.leave(key, fl)

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			f.log.Debug().Str("url", key).Msg("joined in-flight fetch")
		}
		res := *r.Val.(*Result)
		return &res, nil
	case <-ctx.Done():
		f.log.Debug().Err(ctx.Err()).Str("url", key).Msg("stopped waiting for fetch")
		return nil, ctx.Err()
	}
}

// join registers the caller as a waiter on key's flight and attaches it to the
// singleflight call. Both happen under f.mu so the waiter count never runs ahead of
// the callers attached to the call.
func (f *Fetcher) join(ctx context.Context, key string, u *url.URL) (*flight, <-chan singleflight.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl, ok := f.flights[key]
	if !ok {
		flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{ctx: flightCtx, cancel: cancel}
		f.flights[key] = fl
	}
	fl.waiters++
	ch := f.group.DoChan(key, func() (any, error) {
		return f.fetch(fl.ctx, u)
	})
	return fl, ch
}

// leave drops one waiter. The last one out cancels the shared execution and forgets
// the call so that a later Fetch starts afresh instead of joining a cancelled run.
func (f *Fetcher) leave(key string, fl *flight) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	fl.cancel()
	if f.flights[key] == fl {
		delete(f.flights, key)
	}
	f.group.Forget(key)
}

func (f *Fetcher) fetch(ctx context.Context, u *url.URL) (*Result, error) {
	start := time.Now()
	attempts := 0
	ctx, traceID := trace.EnsureID(ctx)

	res, err := Execute(ctx, f.backoff, func(ctx context.Context) (*Result, error) {
		attempts++
		return f.attempt(ctx, u)
	}, f.retry.Base, f.retry.Exponent)

	elapsed := time.Since(start)
	outcome := tracking.FetchOK
	if err != nil {
		outcome = tracking.FetchFailed
	} else if res.NotModified {
		outcome = tracking.FetchNotModified
	}
	tracking.RecordFetch(ctx, u.Hostname(), outcome, elapsed)

	if err != nil {
		f.log.Error().Err(err).
			Str("url", u.String()).
			Str("trace_id", traceID.String()).
			Int("attempts", attempts).
			Dur("elapsed", elapsed).
			Msg("fetch failed")
		return nil, err
	}

	res.Attempts = attempts
	res.Elapsed = elapsed
	f.log.Info().
		Str("url", res.URL).
		Str("trace_id", traceID.String()).
		Int("status", res.StatusCode).
		Int("attempts", attempts).
		Dur("elapsed", elapsed).
		Msg("fetch completed")
	return res, nil
}

// attempt runs one open/annotate/send/read cycle on a fresh connection.
func (f *Fetcher) attempt(ctx context.Context, u *url.URL) (*Result, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	conn := f.client.OpenConnection(ctx, u)
	if conn == nil {
		return nil, &NetworkError{Op: "open", Host: u.Hostname(), Err: ErrOpenFailed}
	}
	defer conn.Close()

	f.client.SetIfModifiedSince(ctx, conn)

	if err := conn.Send(); err != nil {
		return nil, &NetworkError{Op: "send", Host: u.Hostname(), Err: err}
	}

	key := u.String()
	status := conn.StatusCode()
	switch {
	case status == http.StatusNotModified:
		return &Result{URL: key, StatusCode: status, NotModified: true, LastModified: conn.IfModifiedSince()}, nil

	case status >= http.StatusOK && status < http.StatusMultipleChoices:
		body, ok := f.client.ReadStream(conn)
		if !ok {
			return nil, &NetworkError{Op: "read", Host: u.Hostname(), Err: ErrUnreadableBody}
		}
		// The marker is only written after the body was read.
		f.client.SaveLastModified(ctx, conn)
		return &Result{URL: key, StatusCode: status, Body: body, LastModified: conn.LastModified()}, nil

	default:
		return nil, &StatusError{StatusCode: status, URL: key}
	}
}
