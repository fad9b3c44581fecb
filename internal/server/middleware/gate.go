package middleware

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/gifmotion/gifmotion/internal/metrics"
	"github.com/gifmotion/gifmotion/internal/observability"
	"github.com/gifmotion/gifmotion/internal/ratelimit"
)

// AnonymousClient identifies requests that carry no usable address.
const AnonymousClient = "anonymous"

// RejectReason says which gate check refused a request.
type RejectReason string

const (
	RejectUnauthorized RejectReason = "unauthorized"
	RejectRateLimited  RejectReason = "rate_limited"
)

// Rejection is the error handed to the gate's responder.
type Rejection struct {
	Reason     RejectReason
	Message    string
	ClientID   string
	RetryAfter time.Duration
}

func (r *Rejection) Error() string {
	if r == nil {
		return "request rejected"
	}
	return r.Message
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r *Rejection) RetryAfterSeconds() int {
	if r == nil || r.RetryAfter <= 0 {
		return 0
	}
	secs := int(r.RetryAfter / time.Second)
	if r.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// AsRejection unwraps err into a *Rejection when possible.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) && rej != nil {
		return rej, true
	}
	return nil, false
}

// GateConfig configures Gate.
type GateConfig struct {
	// AppURL is the deployment origin. Empty accepts any non-empty Referer.
	AppURL string
	// Limit is the number of requests a client may make per limiter window.
	Limit   int
	Limiter *ratelimit.Limiter
	// Respond writes rejections. Nil writes a bare error envelope.
	Respond func(w http.ResponseWriter, r *http.Request, err error)
}

// Gate checks the Referer against the deployment origin, then charges the
// client's rate limit. A referer failure never reaches the limiter.
func Gate(cfg GateConfig) func(http.Handler) http.Handler {
	allowed, _ := url.Parse(strings.TrimSpace(cfg.AppURL))
	respond := cfg.Respond
	if respond == nil {
		respond = writeRejection
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !RefererAllowed(r.Header.Get("Referer"), allowed) {
				metrics.RecordUnauthorized()
				logGate("Rejected request with foreign referer",
					zap.String("referer", r.Header.Get("Referer")),
					zap.String("path", r.URL.Path),
					zap.String("request_id", GetRequestID(r.Context())))
				respond(w, r, &Rejection{Reason: RejectUnauthorized, Message: "Unauthorized"})
				return
			}

			if cfg.Limiter != nil {
				client := ClientIP(r)
				decision, err := cfg.Limiter.Allow(cfg.Limit, client)
				metrics.SetTrackedClients(cfg.Limiter.Len())
				setRateLimitHeaders(w, decision)

				if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
					metrics.RecordRateLimitRejection()
					logGate("Rate limit exceeded",
						zap.String("client", client),
						zap.Int("limit", decision.Limit),
						zap.String("request_id", GetRequestID(r.Context())))
					respond(w, r, &Rejection{
						Reason:     RejectRateLimited,
						Message:    "Rate limit exceeded",
						ClientID:   client,
						RetryAfter: decision.RetryAfter(cfg.Limiter.Now()),
					})
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RefererAllowed reports whether referer belongs to the allowed origin. The
// scheme and host must match and the referer path must sit under the allowed
// path. A nil or empty allowed URL accepts any non-empty referer.
func RefererAllowed(referer string, allowed *url.URL) bool {
	referer = strings.TrimSpace(referer)
	if referer == "" {
		return false
	}
	if allowed == nil || allowed.Host == "" {
		return true
	}

	ref, err := url.Parse(referer)
	if err != nil {
		return false
	}
	if !strings.EqualFold(ref.Scheme, allowed.Scheme) || !strings.EqualFold(ref.Host, allowed.Host) {
		return false
	}

	base := strings.TrimSuffix(allowed.Path, "/")
	if base == "" {
		return true
	}
	return ref.Path == base || strings.HasPrefix(ref.Path, base+"/")
}

// ClientIP picks the first X-Forwarded-For entry, then X-Real-IP, then the
// connection address, falling back to AnonymousClient.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return host
		}
		return addr
	}
	return AnonymousClient
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.ResetAt.IsZero() {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// writeRejection is the fallback responder when no error handler is injected.
func writeRejection(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	if rej, ok := AsRejection(err); ok {
		switch rej.Reason {
		case RejectUnauthorized:
			status, code = http.StatusUnauthorized, "UNAUTHORIZED"
		case RejectRateLimited:
			status, code = http.StatusTooManyRequests, "RATE_LIMITED"
			if secs := rej.RetryAfterSeconds(); secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
	}

	envelope := gferrors.NewErrorEnvelope(code, fmt.Sprint(err)).
		WithCorrelationID(GetRequestID(r.Context()))
	writeErrorResponse(w, envelope, status)
}

func logGate(msg string, fields ...zap.Field) {
	if observability.ServerLogger != nil {
		observability.ServerLogger.Warn(msg, fields...)
	}
}
