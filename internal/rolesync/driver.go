// Package rolesync drives reconciliation passes: periodically for every
// verified user, and on demand for a single member.
package rolesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cdahabbo/rolesync/internal/habbo"
	"github.com/cdahabbo/rolesync/internal/models"
	"github.com/cdahabbo/rolesync/internal/policy"
	"github.com/cdahabbo/rolesync/internal/roles"
	"github.com/cdahabbo/rolesync/pkg/logger"
	"github.com/cdahabbo/rolesync/pkg/metrics"
)

var (
	ErrGuildUnavailable = errors.New("guild unavailable")
	ErrMemberNotFound   = errors.New("member not in guild")
	ErrNotVerified      = errors.New("user is not verified")
	ErrLookup           = errors.New("external profile lookup failed")
	ErrPassInProgress   = errors.New("sync pass already running")
)

type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerJoin     Trigger = "join"
	TriggerVerify   Trigger = "verify"
	TriggerGetRoles Trigger = "getroles"
	TriggerManual   Trigger = "manual"
)

type Profiles interface {
	Get(ctx context.Context, userID string) (*models.VerifiedProfile, error)
	List(ctx context.Context) ([]models.VerifiedProfile, error)
}

type Habbo interface {
	FetchProfile(ctx context.Context, name, realm string) (*habbo.Profile, error)
	FetchGroups(ctx context.Context, uniqueID string) ([]string, error)
}

// Guild extends roles.Guild with the reads a pass needs.
type Guild interface {
	roles.Guild
	// Available reports whether the guild can currently be resolved.
	Available() bool
	// MemberRoles returns ErrMemberNotFound when the user left the guild.
	MemberRoles(ctx context.Context, userID string) ([]string, error)
}

type Notifier interface {
	RolesUpdated(ctx context.Context, userID string, res roles.Result) error
}

type PolicySource interface {
	Table() *policy.Table
}

type Config struct {
	Interval time.Duration
	// MemberDelay is the minimum spacing between external API calls, shared
	// by every trigger.
	MemberDelay time.Duration
	Umbrella    roles.Umbrella
}

// Request describes one reconciliation pass for one member.
type Request struct {
	UserID string
	// Habbo is the name the caller expects; the stored profile wins.
	Habbo   string
	Realm   string
	Mode    roles.Mode
	Trigger Trigger
}

type Outcome struct {
	UserID  string
	Habbo   string
	Diff    roles.Diff
	Result  roles.Result
	Profile *habbo.Profile
}

// Summary reports one bulk pass.
type Summary struct {
	PassID   string        `json:"passId"`
	Total    int           `json:"total"`
	Synced   int           `json:"synced"`
	Changed  int           `json:"changed"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

type Driver struct {
	profiles Profiles
	habbo    Habbo
	guild    Guild
	policy   PolicySource
	notifier Notifier
	cfg      Config

	pace   *rate.Limiter
	users  keyedMutex
	passMu sync.Mutex
}

func NewDriver(p Profiles, h Habbo, g Guild, pol PolicySource, n Notifier, cfg Config) *Driver {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	limit := rate.Inf
	if cfg.MemberDelay > 0 {
		limit = rate.Every(cfg.MemberDelay)
	}
	return &Driver{
		profiles: p,
		habbo:    h,
		guild:    g,
		policy:   pol,
		notifier: n,
		cfg:      cfg,
		pace:     rate.NewLimiter(limit, 1),
	}
}

// Run performs a pass immediately and then every Interval until ctx ends.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, ErrPassInProgress) {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warnf("role sync pass skipped: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce reconciles every verified profile. A failure for one user is
// logged and counted; it never stops the pass.
func (d *Driver) RunOnce(ctx context.Context) (*Summary, error) {
	if !d.passMu.TryLock() {
		return nil, ErrPassInProgress
	}
	defer d.passMu.Unlock()

	if !d.guild.Available() {
		metrics.ReconcilePasses.WithLabelValues(string(TriggerPeriodic), "guild_unavailable").Inc()
		return nil, ErrGuildUnavailable
	}
	list, err := d.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	start := time.Now()
	sum := &Summary{PassID: uuid.NewString(), Total: len(list)}
	log := logger.With("pass", sum.PassID)
	log.Infof("role sync pass started for %d profiles", len(list))

	for _, p := range list {
		if ctx.Err() != nil {
			break
		}
		out, err := d.sync(ctx, Request{UserID: p.UserID, Habbo: p.Habbo, Mode: roles.ModeFull, Trigger: TriggerPeriodic})
		switch {
		case errors.Is(err, ErrMemberNotFound), errors.Is(err, ErrNotVerified):
			sum.Skipped++
		case err != nil:
			sum.Failed++
			log.Warnw("member sync failed", "user", p.UserID, "habbo", p.Habbo, "error", err)
		default:
			sum.Synced++
			if out.Result.Changed() {
				sum.Changed++
			}
		}
	}

	sum.Duration = time.Since(start)
	metrics.SyncPassDuration.Observe(sum.Duration.Seconds())
	log.Infof("role sync pass done: synced=%d changed=%d skipped=%d failed=%d in %s",
		sum.Synced, sum.Changed, sum.Skipped, sum.Failed, sum.Duration.Round(time.Millisecond))
	return sum, ctx.Err()
}

// SyncMember runs one pass for a verified user. Users absent from the
// profile store are never touched.
func (d *Driver) SyncMember(ctx context.Context, userID string, mode roles.Mode, trigger Trigger) (*Outcome, error) {
	return d.Sync(ctx, Request{UserID: userID, Mode: mode, Trigger: trigger})
}

// Sync runs one pass for an explicit request. The linked profile is read
// again under the member lock; req.Habbo is ignored in favour of the stored
// name and ErrNotVerified is returned when the user has no profile.
func (d *Driver) Sync(ctx context.Context, req Request) (*Outcome, error) {
	if !d.guild.Available() {
		return nil, ErrGuildUnavailable
	}
	return d.sync(ctx, req)
}

func (d *Driver) sync(ctx context.Context, req Request) (out *Outcome, err error) {
	unlock := d.users.Lock(req.UserID)
	defer unlock()

	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrMemberNotFound):
			outcome = "not_member"
		case errors.Is(err, ErrNotVerified):
			outcome = "not_verified"
		case errors.Is(err, ErrLookup):
			outcome = "lookup_failed"
		case err != nil:
			outcome = "error"
		case out != nil && out.Result.Changed():
			outcome = "changed"
		}
		metrics.ReconcilePasses.WithLabelValues(string(req.Trigger), outcome).Inc()
	}()

	// the pass may have been queued behind an unverify or a rename
	p, err := d.profiles.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", req.UserID, err)
	}
	if p == nil {
		return nil, ErrNotVerified
	}
	req.Habbo = p.Habbo

	current, err := d.guild.MemberRoles(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if err := d.pace.Wait(ctx); err != nil {
		return nil, err
	}
	prof, err := d.habbo.FetchProfile(ctx, req.Habbo, req.Realm)
	if err != nil {
		return nil, fmt.Errorf("%w: profile %q: %w", ErrLookup, req.Habbo, err)
	}
	if err := d.pace.Wait(ctx); err != nil {
		return nil, err
	}
	groups, err := d.habbo.FetchGroups(ctx, prof.UniqueID)
	if err != nil {
		return nil, fmt.Errorf("%w: groups of %q: %w", ErrLookup, req.Habbo, err)
	}

	diff := roles.Reconcile(req.Mode, current, groups, d.policy.Table(), d.cfg.Umbrella, prof.Motto)
	out = &Outcome{UserID: req.UserID, Habbo: prof.Name, Diff: diff, Profile: prof}
	if diff.Empty() {
		return out, nil
	}

	out.Result = roles.Apply(ctx, d.guild, req.UserID, diff)
	if len(out.Result.Failed) > 0 {
		logger.Warnf("user %s: %d role changes failed: %v", req.UserID, len(out.Result.Failed), out.Result.Err())
	}
	if out.Result.Changed() {
		logger.Infof("user %s (%s) %s: added [%s] removed [%s]", req.UserID, prof.Name, req.Trigger,
			strings.Join(out.Result.Added, ", "), strings.Join(out.Result.Removed, ", "))
		if d.notifier != nil {
			if err := d.notifier.RolesUpdated(ctx, req.UserID, out.Result); err != nil {
				logger.Warnf("notify role update for %s: %v", req.UserID, err)
			}
		}
	}
	return out, nil
}
