// Package quota enforces the per-tier daily message allowance.
//
// The Limiter re-reads the caller's tier on every admission, so an upgrade
// applied by the billing webhook takes effect on the very next request. The
// counting itself is delegated to a Store whose check-and-increment is
// atomic per key.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
)

// DenyReason is the stable, client-visible explanation for a denial.
const DenyReason = "daily message limit exceeded, upgrade to pro for unlimited access"

// ErrQuotaExceeded is returned by Decision.Err for denied requests.
var ErrQuotaExceeded = errors.New("quota exceeded")

// TierSource reports a user's current subscription tier.
type TierSource interface {
	Tier(ctx context.Context, userID uint) (domain.Tier, error)
}

// TierSourceFunc adapts a function to TierSource.
type TierSourceFunc func(ctx context.Context, userID uint) (domain.Tier, error)

// Tier implements TierSource.
func (f TierSourceFunc) Tier(ctx context.Context, userID uint) (domain.Tier, error) {
	return f(ctx, userID)
}

// Limits holds the allowance per tier within one window.
type Limits struct {
	Basic  int64
	Pro    int64
	Window time.Duration
}

// For returns the allowance for tier. Unknown tiers get the basic allowance.
func (l Limits) For(tier domain.Tier) int64 {
	if tier == domain.TierPro {
		return l.Pro
	}
	return l.Basic
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAfter time.Duration
	Reason     string // DenyReason when !Allowed
}

// Err returns ErrQuotaExceeded for a denial and nil otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrQuotaExceeded
}

var decisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "quota_decisions_total",
		Help: "Send-message admission decisions by tier and result.",
	},
	[]string{"tier", "result"},
)

func init() {
	prometheus.MustRegister(decisions)
}

// Limiter admits or rejects send-message requests.
type Limiter struct {
	store  Store
	tiers  TierSource
	limits Limits
}

// NewLimiter builds a Limiter over store, reading tiers from tiers.
func NewLimiter(store Store, tiers TierSource, limits Limits) *Limiter {
	return &Limiter{store: store, tiers: tiers, limits: limits}
}

// UserKey is the counter key for an authenticated user.
func UserKey(userID uint) string { return fmt.Sprintf("quota:user:%d", userID) }

// AddrKey is the counter key for an unauthenticated caller.
func AddrKey(addr string) string { return "quota:ip:" + addr }

// Admit checks and consumes one unit of userID's allowance. A userID of 0
// means an unauthenticated caller and is always denied.
//
// A tier lookup or store failure is returned as an error; callers should
// treat it as an internal failure, not as a denial.
func (l *Limiter) Admit(ctx context.Context, userID uint) (Decision, error) {
	if userID == 0 {
		return l.deny("anonymous", Decision{}), nil
	}

	tier, err := l.tiers.Tier(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("read tier for user %d: %w", userID, err)
	}
	limit := l.limits.For(tier)

	t, err := l.store.Take(ctx, UserKey(userID), limit, l.limits.Window)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		Allowed:    t.Allowed,
		Limit:      limit,
		Remaining:  max(limit-t.Count, 0),
		ResetAfter: t.ResetAfter,
	}
	if !t.Allowed {
		return l.deny(string(tier), d), nil
	}
	decisions.WithLabelValues(string(tier), "allowed").Inc()
	return d, nil
}

func (l *Limiter) deny(tierLabel string, d Decision) Decision {
	d.Allowed = false
	d.Remaining = 0
	d.Reason = DenyReason
	decisions.WithLabelValues(tierLabel, "denied").Inc()
	return d
}
