// Package verify implements the Habbo verification workflow on top of the
// session tracker, the profile store and the sync driver.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cdahabbo/rolesync/internal/habbo"
	"github.com/cdahabbo/rolesync/internal/models"
	"github.com/cdahabbo/rolesync/internal/roles"
	"github.com/cdahabbo/rolesync/internal/rolesync"
	"github.com/cdahabbo/rolesync/internal/sessions"
	"github.com/cdahabbo/rolesync/pkg/logger"
	"github.com/cdahabbo/rolesync/pkg/metrics"
)

var (
	ErrAlreadyVerified  = errors.New("user is already verified")
	ErrNoSession        = sessions.ErrNoSession
	ErrUsernameMismatch = sessions.ErrUsernameMismatch
	ErrCodeNotFound     = errors.New("verification code not found in motto")
	ErrProfileLookup    = errors.New("profile lookup failed")
	ErrNotVerified      = rolesync.ErrNotVerified
	ErrNotLinked        = errors.New("habbo name is not linked to this user")
)

type Profiles interface {
	Get(ctx context.Context, userID string) (*models.VerifiedProfile, error)
	Commit(ctx context.Context, userID, habbo string) (*models.VerifiedProfile, error)
	Remove(ctx context.Context, userID string) (bool, error)
}

type Tracker interface {
	Start(ctx context.Context, userID, habbo string) (*sessions.Session, bool, error)
	Restart(ctx context.Context, userID, habbo string) (*sessions.Session, error)
	Get(ctx context.Context, userID string) (*sessions.Session, error)
	Complete(ctx context.Context, userID string) error
}

type Habbo interface {
	FetchProfile(ctx context.Context, name, realm string) (*habbo.Profile, error)
}

type Syncer interface {
	Sync(ctx context.Context, req rolesync.Request) (*rolesync.Outcome, error)
	SyncMember(ctx context.Context, userID string, mode roles.Mode, trigger rolesync.Trigger) (*rolesync.Outcome, error)
}

// Member covers the onboarding calls on the chat platform.
type Member interface {
	SetNickname(ctx context.Context, userID, nick string) error
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
}

// Announcer posts verification notices. Failures are logged only.
type Announcer interface {
	Verified(ctx context.Context, userID, habboName string) error
}

type Config struct {
	VerifiedRoleID string
	AwaitingRoleID string
}

type Service struct {
	profiles  Profiles
	tracker   Tracker
	habbo     Habbo
	syncer    Syncer
	member    Member
	announcer Announcer
	cfg       Config
}

func NewService(p Profiles, t Tracker, h Habbo, s Syncer, m Member, a Announcer, cfg Config) *Service {
	return &Service{profiles: p, tracker: t, habbo: h, syncer: s, member: m, announcer: a, cfg: cfg}
}

type State string

const (
	StateStarted         State = "started"
	StateVerified        State = "verified"
	StateAlreadyVerified State = "already_verified"
	StateCodeNotFound    State = "code_not_found"
)

// Result is what the command layer renders back to the user.
type Result struct {
	State   State
	Session *sessions.Session
	Profile *models.VerifiedProfile
	// HabboName is the display name reported by the Habbo API.
	HabboName string
	Roles     *rolesync.Outcome
}

// Verify is the single entry point behind the verify command: it opens a
// session on first use and confirms it on the next. restart discards a
// pending session first.
func (s *Service) Verify(ctx context.Context, userID, habboName string, restart bool) (*Result, error) {
	existing, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.Verifications.WithLabelValues("already_verified").Inc()
		return &Result{State: StateAlreadyVerified, Profile: existing}, ErrAlreadyVerified
	}
	if restart {
		sess, err := s.Restart(ctx, userID, habboName)
		if err != nil {
			return nil, err
		}
		return &Result{State: StateStarted, Session: sess}, nil
	}
	sess, created, err := s.Start(ctx, userID, habboName)
	if err != nil {
		return &Result{Session: sess}, err
	}
	if created {
		return &Result{State: StateStarted, Session: sess}, nil
	}
	return s.Confirm(ctx, userID)
}

// Start opens a session or returns the pending one for the same name.
func (s *Service) Start(ctx context.Context, userID, habboName string) (*sessions.Session, bool, error) {
	sess, created, err := s.tracker.Start(ctx, userID, habboName)
	if err != nil {
		if errors.Is(err, ErrUsernameMismatch) {
			metrics.Verifications.WithLabelValues("username_mismatch").Inc()
		}
		return sess, false, err
	}
	if created {
		metrics.Verifications.WithLabelValues("started").Inc()
	}
	return sess, created, nil
}

func (s *Service) Restart(ctx context.Context, userID, habboName string) (*sessions.Session, error) {
	sess, err := s.tracker.Restart(ctx, userID, habboName)
	if err != nil {
		return nil, err
	}
	metrics.Verifications.WithLabelValues("restarted").Inc()
	return sess, nil
}

// Confirm checks the pending code against the live motto. On success the
// profile is committed, the session removed, the member onboarded and an
// additive role pass runs. Any failure leaves the session untouched.
func (s *Service) Confirm(ctx context.Context, userID string) (*Result, error) {
	sess, err := s.tracker.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			metrics.Verifications.WithLabelValues("no_session").Inc()
		}
		return nil, err
	}
	prof, err := s.habbo.FetchProfile(ctx, sess.Habbo, "")
	if err != nil {
		metrics.Verifications.WithLabelValues("lookup_failed").Inc()
		return &Result{Session: sess}, fmt.Errorf("%w: %q: %w", ErrProfileLookup, sess.Habbo, err)
	}
	if !strings.Contains(prof.Motto, sess.Code) {
		metrics.Verifications.WithLabelValues("code_not_found").Inc()
		return &Result{State: StateCodeNotFound, Session: sess, HabboName: prof.Name}, ErrCodeNotFound
	}

	p, err := s.profiles.Commit(ctx, userID, sess.Habbo)
	if err != nil {
		return nil, fmt.Errorf("commit profile: %w", err)
	}
	if err := s.tracker.Complete(ctx, userID); err != nil {
		logger.Warnf("drop completed session for %s: %v", userID, err)
	}
	metrics.Verifications.WithLabelValues("verified").Inc()
	logger.Infof("user %s verified as %s", userID, prof.Name)

	s.onboard(ctx, userID, prof.Name)
	if s.announcer != nil {
		if err := s.announcer.Verified(ctx, userID, prof.Name); err != nil {
			logger.Warnf("announce verification of %s: %v", userID, err)
		}
	}

	res := &Result{State: StateVerified, Profile: p, HabboName: prof.Name}
	out, err := s.syncer.Sync(ctx, rolesync.Request{
		UserID:  userID,
		Habbo:   sess.Habbo,
		Mode:    roles.ModeAdditive,
		Trigger: rolesync.TriggerVerify,
	})
	if err != nil {
		logger.Warnf("initial role pass for %s: %v", userID, err)
	}
	res.Roles = out
	return res, nil
}

// onboard renames the member and swaps awaiting for verified, best-effort.
func (s *Service) onboard(ctx context.Context, userID, nick string) {
	if s.member == nil {
		return
	}
	if nick != "" {
		if err := s.member.SetNickname(ctx, userID, nick); err != nil {
			logger.Warnf("set nickname for %s: %v", userID, err)
		}
	}
	if s.cfg.VerifiedRoleID != "" {
		if err := s.member.AddRole(ctx, userID, s.cfg.VerifiedRoleID); err != nil {
			logger.Warnf("add verified role to %s: %v", userID, err)
		}
	}
	if s.cfg.AwaitingRoleID != "" {
		if err := s.member.RemoveRole(ctx, userID, s.cfg.AwaitingRoleID); err != nil {
			logger.Warnf("remove awaiting role from %s: %v", userID, err)
		}
	}
}

// Unverify removes the link, discards any pending session and reverts the
// member to awaiting verification. Policy-managed roles are left in place.
func (s *Service) Unverify(ctx context.Context, userID string) (bool, error) {
	removed, err := s.profiles.Remove(ctx, userID)
	if err != nil {
		return false, err
	}
	if err := s.tracker.Complete(ctx, userID); err != nil {
		logger.Warnf("drop pending session for %s: %v", userID, err)
	}
	if !removed {
		return false, nil
	}
	metrics.Verifications.WithLabelValues("unverified").Inc()
	logger.Infof("user %s unverified", userID)
	if s.member == nil {
		return true, nil
	}
	if s.cfg.VerifiedRoleID != "" {
		if err := s.member.RemoveRole(ctx, userID, s.cfg.VerifiedRoleID); err != nil {
			logger.Warnf("remove verified role from %s: %v", userID, err)
		}
	}
	if s.cfg.AwaitingRoleID != "" {
		if err := s.member.AddRole(ctx, userID, s.cfg.AwaitingRoleID); err != nil {
			logger.Warnf("add awaiting role to %s: %v", userID, err)
		}
	}
	return true, nil
}

// GetRoles runs an additive pass for the caller. The name must be the one
// linked to the caller's profile.
func (s *Service) GetRoles(ctx context.Context, userID, habboName, realm string) (*rolesync.Outcome, error) {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotVerified
	}
	if !strings.EqualFold(strings.TrimSpace(habboName), p.Habbo) {
		return nil, ErrNotLinked
	}
	out, err := s.syncer.Sync(ctx, rolesync.Request{
		UserID:  userID,
		Habbo:   p.Habbo,
		Realm:   realm,
		Mode:    roles.ModeAdditive,
		Trigger: rolesync.TriggerGetRoles,
	})
	if err != nil {
		if errors.Is(err, rolesync.ErrLookup) {
			return nil, fmt.Errorf("%w: %w", ErrProfileLookup, err)
		}
		return nil, err
	}
	return out, nil
}

// MemberJoined restores a returning verified member: nickname, verified
// role and a full reconciliation pass. Unverified members are left alone.
func (s *Service) MemberJoined(ctx context.Context, userID string) error {
	p, err := s.profiles.Get(ctx, userID)
	if err != nil || p == nil {
		return err
	}
	s.onboard(ctx, userID, p.Habbo)
	if _, err := s.syncer.SyncMember(ctx, userID, roles.ModeFull, rolesync.TriggerJoin); err != nil {
		return fmt.Errorf("join sync for %s: %w", userID, err)
	}
	return nil
}
