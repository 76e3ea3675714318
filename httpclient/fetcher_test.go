package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/condfetch/store"
	"github.com/gaborage/condfetch/trace"
)

const lastModifiedHeader = "Wed, 21 Oct 2015 07:28:00 GMT"

// conditionalServer serves body with a fixed Last-Modified and honours If-Modified-Since.
type conditionalServer struct {
	mu          sync.Mutex
	preconds    []string
	failFirst   int
	hits        atomic.Int32
	omitLastMod bool
}

func (s *conditionalServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := int(s.hits.Add(1))

	s.mu.Lock()
	s.preconds = append(s.preconds, r.Header.Get(HeaderIfModifiedSince))
	s.mu.Unlock()

	if n <= s.failFirst {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if ims := r.Header.Get(HeaderIfModifiedSince); ims != "" {
		since, err := http.ParseTime(ims)
		modified, _ := http.ParseTime(lastModifiedHeader)
		if err == nil && !modified.After(since) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if !s.omitLastMod {
		w.Header().Set(HeaderLastModified, lastModifiedHeader)
	}
	_, _ = io.WriteString(w, "payload")
}

func (s *conditionalServer) preconditions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.preconds...)
}

func newTestFetcher(st store.Store, sleeper *recordingSleeper, retry RetryConfig) *Fetcher {
	log := &fakeLogger{}
	c := NewClient(st, log, &Config{Timeout: 5 * time.Second})
	return NewFetcher(c, NewBackoff(log, WithSleeper(sleeper.sleep)), retry)
}

func TestFetchThenNotModified(t *testing.T) {
	handler := &conditionalServer{}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	st := store.NewMemory()
	f := newTestFetcher(st, &recordingSleeper{}, RetryConfig{Base: 2, Exponent: 3})
	marker, _ := http.ParseTime(lastModifiedHeader)

	first, err := f.Fetch(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, "payload", first.Body)
	assert.False(t, first.NotModified)
	assert.Equal(t, marker.UnixMilli(), first.LastModified)
	assert.Equal(t, 1, first.Attempts)

	stored, err := st.GetLong(context.Background(), srv.URL+"/feed", 0)
	require.NoError(t, err)
	assert.Equal(t, marker.UnixMilli(), stored)

	second, err := f.Fetch(context.Background(), srv.URL+"/feed")
	require.NoError(t, err)
	assert.True(t, second.NotModified)
	assert.Equal(t, http.StatusNotModified, second.StatusCode)
	assert.Empty(t, second.Body)
	assert.Equal(t, marker.UnixMilli(), second.LastModified)

	assert.Equal(t, []string{"", lastModifiedHeader}, handler.preconditions())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	handler := &conditionalServer{failFirst: 1}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	sleeper := &recordingSleeper{}
	f := newTestFetcher(nil, sleeper, RetryConfig{Base: 2, Exponent: 3})

	res, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "payload", res.Body)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeper.recorded())
}

func TestFetchExhaustsRetries(t *testing.T) {
	handler := &conditionalServer{failFirst: 100}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	sleeper := &recordingSleeper{}
	st := store.NewMemory()
	f := newTestFetcher(st, sleeper, RetryConfig{Base: 2, Exponent: 3})

	res, err := f.Fetch(context.Background(), srv.URL)

	require.Error(t, err)
	assert.Nil(t, res)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, int32(3), handler.hits.Load())
	assert.Len(t, sleeper.recorded(), 3)
	assert.Zero(t, st.Len(), "failed attempts never write a marker")
}

func TestFetchCancelledDuringBackoff(t *testing.T) {
	handler := &conditionalServer{failFirst: 100}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	f := newTestFetcher(nil, &recordingSleeper{cancelAt: 1}, RetryConfig{Base: 2, Exponent: 5})

	_, err := f.Fetch(context.Background(), srv.URL)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, int32(1), handler.hits.Load())
}

func TestFetchWithoutLastModifiedLeavesStoreEmpty(t *testing.T) {
	srv := httptest.NewServer(&conditionalServer{omitLastMod: true})
	defer srv.Close()

	st := store.NewMemory()
	f := newTestFetcher(st, &recordingSleeper{}, RetryConfig{Base: 2, Exponent: 3})

	res, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "payload", res.Body)
	assert.Zero(t, res.LastModified)
	assert.Zero(t, st.Len())
}

func TestFetchUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	sleeper := &recordingSleeper{}
	f := newTestFetcher(nil, sleeper, RetryConfig{Base: 2, Exponent: 2})

	_, err := f.Fetch(context.Background(), addr)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "send", netErr.Op)
	assert.Len(t, sleeper.recorded(), 2)
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	f := newTestFetcher(nil, &recordingSleeper{}, DefaultRetryConfig())

	for _, raw := range []string{"/relative", "http://[::1", "mailto:"} {
		_, err := f.Fetch(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

func TestFetchUnsupportedSchemeIsRetriedAsOpenFailure(t *testing.T) {
	sleeper := &recordingSleeper{}
	f := newTestFetcher(nil, sleeper, RetryConfig{Base: 2, Exponent: 1})

	_, err := f.Fetch(context.Background(), "ftp://example.com/file")

	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.Len(t, sleeper.recorded(), 1)
}

func TestFetchWithRateLimit(t *testing.T) {
	handler := &conditionalServer{}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	f := newTestFetcher(nil, &recordingSleeper{}, RetryConfig{Base: 2, Exponent: 3, RateLimit: 1000, RateBurst: 0})
	require.NotNil(t, f.limiter)
	assert.Equal(t, 1, f.limiter.Burst())

	for range 3 {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), handler.hits.Load())
}

// waiters reports how many callers wait on key's flight.
func (f *Fetcher) waiters(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fl, ok := f.flights[key]; ok {
		return fl.waiters
	}
	return 0
}

func TestFetchConcurrentCallersShareOneExecution(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	defer unblock()

	f := newTestFetcher(nil, &recordingSleeper{}, RetryConfig{Base: 2, Exponent: 3})

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(context.Background(), srv.URL)
		}()
	}

	require.Eventually(t, func() bool { return f.waiters(srv.URL) == callers }, 5*time.Second, time.Millisecond)
	unblock()
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, "payload", results[i].Body)
	}
	assert.Equal(t, int32(1), hits.Load(), "one request serves every caller")
	assert.Zero(t, f.waiters(srv.URL))

	results[0].Body = "mutated"
	assert.Equal(t, "payload", results[1].Body)
}

func TestFetchJoinedCallerHonoursOwnDeadline(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	log := &fakeLogger{}
	c := NewClient(nil, log, &Config{Timeout: 5 * time.Second})
	// waits of 40, 80, 160, 320 and 640ms
	f := NewFetcher(c, NewBackoff(log, WithUnit(20*time.Millisecond)), RetryConfig{Base: 2, Exponent: 5})

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), srv.URL)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 5*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	res, err := f.Fetch(ctx, srv.URL)
	elapsed := time.Since(start)

	assert.Nil(t, res)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 500*time.Millisecond, "joined caller stops at its own deadline")

	// the first caller keeps its full retry budget
	var statusErr *StatusError
	require.ErrorAs(t, <-firstErr, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, int32(5), hits.Load())
}

func TestFetchCancelsSharedRunWhenLastCallerLeaves(t *testing.T) {
	var (
		hits    atomic.Int32
		healthy atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, "payload")
	}))
	defer srv.Close()

	log := &fakeLogger{}
	c := NewClient(nil, log, &Config{Timeout: 5 * time.Second})
	f := NewFetcher(c, NewBackoff(log, WithUnit(time.Second)), RetryConfig{Base: 2, Exponent: 5})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.waiters(srv.URL))

	// the shared run is interrupted during its first two-second wait
	require.Eventually(t, func() bool {
		return len(log.eventsByLevel("warn")) > 0
	}, 5*time.Second, 5*time.Millisecond)
	warns := log.eventsByLevel("warn")
	assert.Equal(t, "exponential backoff interrupted", warns[0].message)
	assert.ErrorIs(t, warns[0].fields["error"].(error), context.Canceled)
	assert.Equal(t, int32(1), hits.Load())

	// a later fetch starts a new run instead of joining the cancelled one
	healthy.Store(true)
	res, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "payload", res.Body)
	assert.Equal(t, 1, res.Attempts)
}

func TestFetchDoneContextReturnsImmediately(t *testing.T) {
	handler := &conditionalServer{}
	srv := httptest.NewServer(handler)
	defer srv.Close()

	f := newTestFetcher(nil, &recordingSleeper{}, RetryConfig{Base: 2, Exponent: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, srv.URL)

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, handler.hits.Load())
}

func TestFetchOversizedBodyLeavesStoreEmpty(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set(HeaderLastModified, lastModifiedHeader)
		_, _ = io.WriteString(w, "0123456789abcdef")
	}))
	defer srv.Close()

	st := store.NewMemory()
	log := &fakeLogger{}
	c := NewClient(st, log, &Config{Timeout: 5 * time.Second, MaxBodyBytes: 4})
	f := NewFetcher(c, NewBackoff(log, WithSleeper((&recordingSleeper{}).sleep)), RetryConfig{Base: 2, Exponent: 1})

	res, err := f.Fetch(context.Background(), srv.URL)

	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrUnreadableBody)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "read", netErr.Op)
	assert.Equal(t, int32(1), hits.Load())
	assert.Zero(t, st.Len(), "no marker for a body that was not fully read")
}

func TestFetchAttemptsShareTraceID(t *testing.T) {
	var (
		mu      sync.Mutex
		parents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		parents = append(parents, r.Header.Get(trace.HeaderTraceParent))
		n := len(parents)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	id := trace.NewID()
	f := newTestFetcher(nil, &recordingSleeper{}, RetryConfig{Base: 2, Exponent: 3})

	_, err := f.Fetch(trace.WithID(context.Background(), id), srv.URL)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, parents, 2)
	for _, p := range parents {
		assert.Contains(t, p, "00-"+id.String()+"-")
	}
	assert.NotEqual(t, parents[0], parents[1])
}
