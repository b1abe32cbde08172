package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cdahabbo/rolesync/internal/models"
	"github.com/cdahabbo/rolesync/pkg/logger"
)

const SnapshotPrefix = "snapshots/"

type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

type ProfileLister interface {
	List(ctx context.Context) ([]models.VerifiedProfile, error)
}

// Snapshot is the JSON document uploaded for every run.
type Snapshot struct {
	TakenAt  time.Time                `json:"taken_at"`
	Count    int                      `json:"count"`
	Profiles []models.VerifiedProfile `json:"verified_users"`
}

// Snapshotter uploads the verified profile list to object storage.
type Snapshotter struct {
	store    ObjectStore
	profiles ProfileLister
	now      func() time.Time
}

func NewSnapshotter(store ObjectStore, profiles ProfileLister) *Snapshotter {
	return &Snapshotter{store: store, profiles: profiles, now: time.Now}
}

func snapshotKey(t time.Time) string {
	return SnapshotPrefix + "profiles-" + t.UTC().Format(time.RFC3339) + ".json"
}

// Snapshot uploads one snapshot and returns its key.
func (s *Snapshotter) Snapshot(ctx context.Context) (string, error) {
	list, err := s.profiles.List(ctx)
	if err != nil {
		return "", fmt.Errorf("list profiles: %w", err)
	}
	if list == nil {
		list = []models.VerifiedProfile{}
	}
	now := s.now()
	b, err := json.MarshalIndent(Snapshot{TakenAt: now.UTC(), Count: len(list), Profiles: list}, "", "  ")
	if err != nil {
		return "", err
	}
	key := snapshotKey(now)
	if err := s.store.Put(ctx, key, b, "application/json"); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	logger.Infof("profile snapshot %s uploaded (%d profiles)", key, len(list))
	return key, nil
}

// Latest downloads the most recent snapshot.
func (s *Snapshotter) Latest(ctx context.Context) (*Snapshot, error) {
	keys, err := s.store.List(ctx, SnapshotPrefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	rc, err := s.store.Get(ctx, keys[len(keys)-1])
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var snap Snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Run takes a snapshot every interval until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Snapshot(ctx); err != nil {
				logger.Warnf("profile snapshot: %v", err)
			}
		}
	}
}
