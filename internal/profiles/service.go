package profiles

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cdahabbo/rolesync/internal/models"
)

var ErrInvalidProfile = errors.New("profiles: user id and habbo name are required")

// Service is the single owner of verified profiles.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(r Repository) *Service {
	return &Service{repo: r, now: time.Now}
}

// Get returns the profile for userID, or nil when the user is not verified.
func (s *Service) Get(ctx context.Context, userID string) (*models.VerifiedProfile, error) {
	return s.repo.Get(ctx, userID)
}

// Commit links userID to habbo. Re-committing the same pair is a no-op;
// a different name overwrites the existing link.
func (s *Service) Commit(ctx context.Context, userID, habbo string) (*models.VerifiedProfile, error) {
	userID = strings.TrimSpace(userID)
	habbo = strings.TrimSpace(habbo)
	if userID == "" || habbo == "" {
		return nil, ErrInvalidProfile
	}
	p := &models.VerifiedProfile{UserID: userID, Habbo: habbo, LinkedAt: s.now().UTC()}
	if _, err := s.repo.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, userID)
}

// Remove unlinks userID and reports whether a profile existed.
func (s *Service) Remove(ctx context.Context, userID string) (bool, error) {
	return s.repo.Delete(ctx, userID)
}

func (s *Service) List(ctx context.Context) ([]models.VerifiedProfile, error) {
	return s.repo.List(ctx)
}
