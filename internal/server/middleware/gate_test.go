package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gifmotion/gifmotion/internal/ratelimit"
)

const appURL = "https://gifmotion.example"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newLimiter(t *testing.T, c *clock) *ratelimit.Limiter {
	t.Helper()
	lim, err := ratelimit.New(ratelimit.Config{Interval: time.Minute, MaxTokens: 100})
	require.NoError(t, err)
	lim.Clock = c.Now
	return lim
}

type countingHandler struct{ calls int }

func (h *countingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.calls++
	w.WriteHeader(http.StatusOK)
}

func gateRequest(referer, ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/generate", nil)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	req.RemoteAddr = ip + ":51234"
	return req
}

func TestGateRejectsForeignRefererBeforeLimiter(t *testing.T) {
	lim := newLimiter(t, &clock{now: time.Unix(1_700_000_000, 0)})
	next := &countingHandler{}
	h := Gate(GateConfig{AppURL: appURL, Limit: 10, Limiter: lim})(next)

	for _, referer := range []string{"", "https://evil.example/", "http://gifmotion.example/"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, gateRequest(referer, "10.0.0.1"))

		require.Equal(t, http.StatusUnauthorized, rec.Code, referer)

		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "UNAUTHORIZED", body.Error.Code)
		assert.Equal(t, "Unauthorized", body.Error.Message)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}

	assert.Zero(t, next.calls)
	assert.Zero(t, lim.Len(), "limiter must not be charged for unauthorized requests")
}

func TestGateEnforcesLimitPerClient(t *testing.T) {
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	lim := newLimiter(t, c)
	next := &countingHandler{}
	h := Gate(GateConfig{AppURL: appURL, Limit: 10, Limiter: lim})(next)

	for i := 1; i <= 10; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, gateRequest(appURL+"/", "10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, gateRequest(appURL+"/", "10.0.0.1"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMITED", body.Error.Code)
	assert.Equal(t, "Rate limit exceeded", body.Error.Message)

	// Another client has its own window.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, gateRequest(appURL+"/", "10.0.0.2"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// The window resets once the interval has fully elapsed.
	c.now = c.now.Add(time.Minute + time.Second)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, gateRequest(appURL+"/", "10.0.0.1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, 12, next.calls)
}

func TestGateHandsRejectionsToResponder(t *testing.T) {
	lim := newLimiter(t, &clock{now: time.Unix(1_700_000_000, 0)})

	var got []*Rejection
	respond := func(w http.ResponseWriter, r *http.Request, err error) {
		rej, ok := AsRejection(err)
		require.True(t, ok)
		got = append(got, rej)
		w.WriteHeader(http.StatusTeapot)
	}
	h := Gate(GateConfig{AppURL: appURL, Limit: 1, Limiter: lim, Respond: respond})(&countingHandler{})

	h.ServeHTTP(httptest.NewRecorder(), gateRequest("", "10.0.0.9"))
	h.ServeHTTP(httptest.NewRecorder(), gateRequest(appURL, "10.0.0.9"))
	h.ServeHTTP(httptest.NewRecorder(), gateRequest(appURL, "10.0.0.9"))

	require.Len(t, got, 2)
	assert.Equal(t, RejectUnauthorized, got[0].Reason)
	assert.Equal(t, RejectRateLimited, got[1].Reason)
	assert.Equal(t, "10.0.0.9", got[1].ClientID)
	assert.Equal(t, 60, got[1].RetryAfterSeconds())
}

func TestRefererAllowed(t *testing.T) {
	withPath, _ := url.Parse("https://example.com/app")
	bare, _ := url.Parse("https://example.com")

	cases := []struct {
		referer string
		allowed *url.URL
		want    bool
	}{
		{"https://example.com/", bare, true},
		{"https://EXAMPLE.com/page?x=1", bare, true},
		{"https://example.com", bare, true},
		{"http://example.com/", bare, false},
		{"https://example.com.evil.io/", bare, false},
		{"https://evil.io/?https://example.com", bare, false},
		{"https://example.com/app", withPath, true},
		{"https://example.com/app/studio", withPath, true},
		{"https://example.com/application", withPath, false},
		{"https://example.com/", withPath, false},
		{"", bare, false},
		{"   ", nil, false},
		{"https://anything.example/", nil, true},
		{"https://anything.example/", &url.URL{}, true},
		{"::not a url", bare, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, RefererAllowed(tc.referer, tc.allowed), "referer %q", tc.referer)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first entry", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:80", "198.51.100.2"},
		{"blank forwarded falls through", map[string]string{"X-Forwarded-For": " , 10.0.0.1"}, "192.0.2.10:443", "192.0.2.10"},
		{"remote addr", nil, "192.0.2.10:443", "192.0.2.10"},
		{"remote without port", nil, "192.0.2.11", "192.0.2.11"},
		{"anonymous", nil, "", AnonymousClient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, ClientIP(req))
		})
	}
}

func TestRejectionRetryAfterRoundsUp(t *testing.T) {
	assert.Equal(t, 0, (&Rejection{}).RetryAfterSeconds())
	assert.Equal(t, 1, (&Rejection{RetryAfter: 10 * time.Millisecond}).RetryAfterSeconds())
	assert.Equal(t, 2, (&Rejection{RetryAfter: 2 * time.Second}).RetryAfterSeconds())
	assert.Equal(t, 3, (&Rejection{RetryAfter: 2*time.Second + 1}).RetryAfterSeconds())
}
