package sessions

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cdahabbo/rolesync/pkg/logger"
)

const (
	codeLength   = 5
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	DefaultTTL           = 600 * time.Second
	DefaultSweepInterval = 150 * time.Second
)

var (
	ErrNoSession        = errors.New("no verification session")
	ErrUsernameMismatch = errors.New("pending session is for a different username")
	ErrInvalidUsername  = errors.New("username is required")
)

// GenerateCode returns a random 5-character alphanumeric challenge code.
func GenerateCode() (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}

// Tracker owns the pending verification sessions. A session lives until it is
// completed or until a sweep observes that its age reached the TTL.
type Tracker struct {
	repo    Repository
	ttl     time.Duration
	now     func() time.Time
	newCode func() (string, error)
}

type Option func(*Tracker)

// WithClock overrides time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithCodeGenerator overrides the challenge code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(t *Tracker) { t.newCode = gen }
}

func NewTracker(repo Repository, ttl time.Duration, opts ...Option) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tracker{repo: repo, ttl: ttl, now: time.Now, newCode: GenerateCode}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) TTL() time.Duration { return t.ttl }

// Start opens a session for userID. A repeated start with the same username
// returns the existing session with created=false. A different username is
// rejected with ErrUsernameMismatch; callers use Restart to replace it.
func (t *Tracker) Start(ctx context.Context, userID, habbo string) (s *Session, created bool, err error) {
	habbo = strings.TrimSpace(habbo)
	if habbo == "" {
		return nil, false, ErrInvalidUsername
	}
	existing, err := t.repo.Get(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	if existing != nil {
		if strings.EqualFold(existing.Habbo, habbo) {
			return existing, false, nil
		}
		return existing, false, ErrUsernameMismatch
	}
	s, err = t.create(ctx, userID, habbo)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Restart discards any pending session for userID and opens a new one.
func (t *Tracker) Restart(ctx context.Context, userID, habbo string) (*Session, error) {
	habbo = strings.TrimSpace(habbo)
	if habbo == "" {
		return nil, ErrInvalidUsername
	}
	if err := t.repo.Delete(ctx, userID); err != nil {
		return nil, fmt.Errorf("drop session: %w", err)
	}
	return t.create(ctx, userID, habbo)
}

func (t *Tracker) create(ctx context.Context, userID, habbo string) (*Session, error) {
	code, err := t.newCode()
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	s := &Session{UserID: userID, Code: code, Habbo: habbo, CreatedAt: t.now().UTC()}
	if err := t.repo.Put(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	logger.Debugf("verification session opened user=%s habbo=%s", userID, habbo)
	return s, nil
}

// Get returns the pending session or ErrNoSession. Age is not checked here:
// a session stays confirmable until the sweeper removes it.
func (t *Tracker) Get(ctx context.Context, userID string) (*Session, error) {
	s, err := t.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

// Complete removes the session after a successful commit.
func (t *Tracker) Complete(ctx context.Context, userID string) error {
	return t.repo.Delete(ctx, userID)
}

func (t *Tracker) List(ctx context.Context) ([]*Session, error) {
	return t.repo.List(ctx)
}

// Sweep deletes every session whose age is at least the TTL and returns how
// many were removed.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	all, err := t.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	now := t.now()
	removed := 0
	var errs []error
	for _, s := range all {
		if s.Age(now) < t.ttl {
			continue
		}
		if err := t.repo.Delete(ctx, s.UserID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := t.Sweep(ctx)
			if err != nil {
				logger.Warnf("session sweep: %v", err)
			}
			if n > 0 {
				logger.Infof("session sweep removed %d expired sessions", n)
			}
		}
	}
}
