package profiles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cdahabbo/rolesync/internal/jsonstore"
	"github.com/cdahabbo/rolesync/internal/models"
)

// Repository defines persistence operations for verified profiles.
// Get returns (nil, nil) when the user has no profile.
type Repository interface {
	Get(ctx context.Context, userID string) (*models.VerifiedProfile, error)
	Upsert(ctx context.Context, p *models.VerifiedProfile) (changed bool, err error)
	Delete(ctx context.Context, userID string) (removed bool, err error)
	List(ctx context.Context) ([]models.VerifiedProfile, error)
}

const (
	keyVerifiedUsers = "verified_users"
	keyChannels      = "channels"
)

// Known fields of a verified_users entry. Older entries may carry a numeric
// user_id; entries are always written back as strings. Any other field
// (e.g. "hotel", written by other cogs) is kept as-is.
const (
	fieldUserID   = "user_id"
	fieldHabbo    = "habbo"
	fieldLinkedAt = "linked_at"
)

// entry is one verified_users element: the profile plus the fields this
// package does not own.
type entry struct {
	models.VerifiedProfile
	extra map[string]json.RawMessage
}

// FileRepository implements Repository on the "verified_users" list of server.json.
type FileRepository struct {
	file *jsonstore.File
}

// NewFileRepository creates a repository backed by the given JSON document.
func NewFileRepository(file *jsonstore.File) *FileRepository {
	return &FileRepository{file: file}
}

func decodeEntries(d jsonstore.Document) ([]entry, error) {
	var raws []map[string]json.RawMessage
	if _, err := d.Decode(keyVerifiedUsers, &raws); err != nil {
		return nil, err
	}
	out := make([]entry, 0, len(raws))
	for i, raw := range raws {
		var e entry
		var id models.Snowflake
		if v, ok := raw[fieldUserID]; ok {
			if err := json.Unmarshal(v, &id); err != nil {
				return nil, fmt.Errorf("%s[%d].%s: %w", keyVerifiedUsers, i, fieldUserID, err)
			}
		}
		e.UserID = id.String()
		if v, ok := raw[fieldHabbo]; ok {
			if err := json.Unmarshal(v, &e.Habbo); err != nil {
				return nil, fmt.Errorf("%s[%d].%s: %w", keyVerifiedUsers, i, fieldHabbo, err)
			}
		}
		if v, ok := raw[fieldLinkedAt]; ok {
			var at string
			if json.Unmarshal(v, &at) == nil && at != "" {
				if t, err := time.Parse(time.RFC3339, at); err == nil {
					e.LinkedAt = t
				}
			}
		}
		delete(raw, fieldUserID)
		delete(raw, fieldHabbo)
		delete(raw, fieldLinkedAt)
		if len(raw) > 0 {
			e.extra = raw
		}
		out = append(out, e)
	}
	return out, nil
}

func encodeEntries(d jsonstore.Document, entries []entry) error {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		m := make(map[string]any, len(e.extra)+3)
		for k, v := range e.extra {
			m[k] = v
		}
		m[fieldUserID] = e.UserID
		m[fieldHabbo] = e.Habbo
		if !e.LinkedAt.IsZero() {
			m[fieldLinkedAt] = e.LinkedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, m)
	}
	return d.Encode(keyVerifiedUsers, out)
}

func decodeUsers(d jsonstore.Document) ([]models.VerifiedProfile, error) {
	entries, err := decodeEntries(d)
	if err != nil {
		return nil, err
	}
	out := make([]models.VerifiedProfile, len(entries))
	for i, e := range entries {
		out[i] = e.VerifiedProfile
	}
	return out, nil
}

func (r *FileRepository) Get(ctx context.Context, userID string) (*models.VerifiedProfile, error) {
	var found *models.VerifiedProfile
	err := r.file.View(func(d jsonstore.Document) error {
		users, err := decodeUsers(d)
		if err != nil {
			return err
		}
		for i := range users {
			if users[i].UserID == userID {
				found = &users[i]
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (r *FileRepository) Upsert(ctx context.Context, p *models.VerifiedProfile) (bool, error) {
	changed := false
	err := r.file.Update(func(d jsonstore.Document) error {
		entries, err := decodeEntries(d)
		if err != nil {
			return err
		}
		kept := entries[:0]
		seen := false
		for _, e := range entries {
			if e.UserID != p.UserID {
				kept = append(kept, e)
				continue
			}
			if seen {
				// drop duplicate rows for the same user
				changed = true
				continue
			}
			seen = true
			if e.Habbo != p.Habbo {
				e.Habbo = p.Habbo
				e.LinkedAt = p.LinkedAt
				changed = true
			}
			kept = append(kept, e)
		}
		if !seen {
			kept = append(kept, entry{VerifiedProfile: *p})
			changed = true
		}
		if !changed {
			return nil
		}
		return encodeEntries(d, kept)
	})
	return changed, err
}

func (r *FileRepository) Delete(ctx context.Context, userID string) (bool, error) {
	removed := false
	err := r.file.Update(func(d jsonstore.Document) error {
		entries, err := decodeEntries(d)
		if err != nil {
			return err
		}
		kept := entries[:0]
		for _, e := range entries {
			if e.UserID == userID {
				removed = true
				continue
			}
			kept = append(kept, e)
		}
		if !removed {
			return nil
		}
		return encodeEntries(d, kept)
	})
	return removed, err
}

func (r *FileRepository) List(ctx context.Context) ([]models.VerifiedProfile, error) {
	var out []models.VerifiedProfile
	err := r.file.View(func(d jsonstore.Document) error {
		users, err := decodeUsers(d)
		out = users
		return err
	})
	return out, err
}

// Channels returns the channel id configuration stored next to the profiles
// (keys such as "verification", "banlogs", "general"), lower-cased.
func (r *FileRepository) Channels(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	err := r.file.View(func(d jsonstore.Document) error {
		var ch map[string]models.Snowflake
		if _, err := d.Decode(keyChannels, &ch); err != nil {
			return err
		}
		for k, v := range ch {
			if v != "" {
				out[strings.ToLower(k)] = v.String()
			}
		}
		return nil
	})
	return out, err
}
