// Package gate decides whether a caller may run a scan: Authorizer resolves
// a bearer credential to a Subject and Quota enforces per-tier daily limits.
// Both run before any upload is parsed.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Tiers.
const (
	TierFree     = "free"
	TierPro      = "pro"
	TierBusiness = "business"
)

var (
	// ErrUnauthorized is returned for a missing, malformed or rejected
	// credential.
	ErrUnauthorized = errors.New("gate: unauthorized")
	// ErrQuotaExceeded is returned when the subject used up its daily scans.
	ErrQuotaExceeded = errors.New("gate: daily scan limit reached")
	// ErrUnavailable is returned when the account service cannot be reached.
	// Callers are denied.
	ErrUnavailable = errors.New("gate: account service unavailable")
)

// Subject is an authenticated caller.
type Subject struct {
	ID   string `json:"id"`
	Tier string `json:"tier"`
}

// Authorizer resolves a bearer token to a Subject.
type Authorizer interface {
	Authorize(ctx context.Context, bearer string) (Subject, error)
}

// Quota decides whether s may run one more scan. Allow consumes the scan
// when it returns nil.
type Quota interface {
	Allow(ctx context.Context, s Subject) error
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrUnauthorized
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", ErrUnauthorized
	}
	return token, nil
}

// Static authorizes every caller as the same subject. It is used when no
// account service is configured.
type Static struct {
	Subject Subject
}

// Authorize implements Authorizer.
func (s Static) Authorize(context.Context, string) (Subject, error) { return s.Subject, nil }

// RemoteAuthorizer asks the account service who owns a token via
// GET {url}/auth/me. Any failure denies the caller.
type RemoteAuthorizer struct {
	url  string
	http *http.Client
}

// NewRemoteAuthorizer creates a RemoteAuthorizer for the account service at
// baseURL.
func NewRemoteAuthorizer(baseURL string) *RemoteAuthorizer {
	return &RemoteAuthorizer{
		url:  strings.TrimRight(baseURL, "/") + "/auth/me",
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

// Authorize implements Authorizer.
func (a *RemoteAuthorizer) Authorize(ctx context.Context, bearer string) (Subject, error) {
	if bearer == "" {
		return Subject{}, ErrUnauthorized
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return Subject{}, fmt.Errorf("gate: request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := a.http.Do(req)
	if err != nil {
		slog.Warn("gate: account service unreachable", "err", err)
		return Subject{}, ErrUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Subject{}, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		slog.Warn("gate: unexpected status from account service", "code", resp.StatusCode)
		return Subject{}, ErrUnavailable
	}

	var s Subject
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Subject{}, fmt.Errorf("gate: decode subject: %w: %w", ErrUnavailable, err)
	}
	if s.ID == "" {
		return Subject{}, ErrUnauthorized
	}
	if s.Tier == "" {
		s.Tier = TierFree
	}
	return s, nil
}

// DefaultLimits returns scans per day by tier. A negative limit is
// unlimited.
func DefaultLimits() map[string]int {
	return map[string]int{TierFree: 1, TierPro: -1, TierBusiness: -1}
}

type window struct {
	start time.Time
	count int
}

// Counter reports how many scans a subject ran since a point in time and
// when the earliest of them ran. *audit.Store implements it.
type Counter interface {
	CountSince(ctx context.Context, subjectID string, since time.Time) (int, time.Time, error)
}

// DailyLimiter is an in-memory Quota. A subject's window opens on its first
// scan and resets once a day has passed. Unknown tiers get the free limit.
type DailyLimiter struct {
	limits  map[string]int
	now     func() time.Time
	history Counter

	mu      sync.Mutex
	windows map[string]*window
}

// NewDailyLimiter creates a limiter. Nil limits take DefaultLimits.
func NewDailyLimiter(limits map[string]int) *DailyLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	norm := make(map[string]int, len(limits))
	for tier, n := range limits {
		norm[strings.ToLower(tier)] = n
	}
	return &DailyLimiter{limits: norm, now: time.Now, windows: map[string]*window{}}
}

func (l *DailyLimiter) limit(tier string) int {
	if n, ok := l.limits[strings.ToLower(tier)]; ok {
		return n
	}
	if n, ok := l.limits[TierFree]; ok {
		return n
	}
	return 1
}

// WithHistory seeds windows of subjects not seen since start-up with their
// recorded scans of the last day, so a restart does not reset quotas.
func (l *DailyLimiter) WithHistory(c Counter) *DailyLimiter {
	l.history = c
	return l
}

// Allow implements Quota.
func (l *DailyLimiter) Allow(ctx context.Context, s Subject) error {
	limit := l.limit(s.Tier)
	if limit < 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[s.ID]
	if !ok || now.Sub(w.start) >= 24*time.Hour {
		w = &window{start: now}
		if !ok && l.history != nil {
			n, first, err := l.history.CountSince(ctx, s.ID, now.Add(-24*time.Hour))
			switch {
			case err != nil:
				slog.Warn("gate: scan history unavailable", "subject", s.ID, "err", err)
			case n > 0:
				w.count = n
				if !first.IsZero() && first.Before(now) {
					w.start = first
				}
			}
		}
		l.windows[s.ID] = w
	}
	if w.count >= limit {
		return ErrQuotaExceeded
	}
	w.count++
	return nil
}
