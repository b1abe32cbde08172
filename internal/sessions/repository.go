package sessions

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/cdahabbo/rolesync/internal/jsonstore"
)

// Repository provides pending-session persistence. Get returns (nil, nil)
// when the user has no session.
type Repository interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, userID string) (*Session, error)
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]*Session, error)
}

const keyVerificationData = "verification_data"

// fileEntry matches the verification_codes.json layout; timestamp is epoch seconds.
type fileEntry struct {
	Code      string  `json:"code"`
	Habbo     string  `json:"habbo"`
	Timestamp float64 `json:"timestamp"`
}

func toEpoch(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromEpoch(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// FileRepository stores sessions in the "verification_data" object of a JSON document.
type FileRepository struct {
	file *jsonstore.File
}

func NewFileRepository(file *jsonstore.File) *FileRepository {
	return &FileRepository{file: file}
}

func decodeEntries(d jsonstore.Document) (map[string]fileEntry, error) {
	entries := map[string]fileEntry{}
	if _, err := d.Decode(keyVerificationData, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = map[string]fileEntry{}
	}
	return entries, nil
}

func (r *FileRepository) Put(ctx context.Context, s *Session) error {
	return r.file.Update(func(d jsonstore.Document) error {
		entries, err := decodeEntries(d)
		if err != nil {
			return err
		}
		entries[s.UserID] = fileEntry{Code: s.Code, Habbo: s.Habbo, Timestamp: toEpoch(s.CreatedAt)}
		return d.Encode(keyVerificationData, entries)
	})
}

func (r *FileRepository) Get(ctx context.Context, userID string) (*Session, error) {
	var out *Session
	err := r.file.View(func(d jsonstore.Document) error {
		entries, err := decodeEntries(d)
		if err != nil {
			return err
		}
		if e, ok := entries[userID]; ok {
			out = &Session{UserID: userID, Code: e.Code, Habbo: e.Habbo, CreatedAt: fromEpoch(e.Timestamp)}
		}
		return nil
	})
	return out, err
}

func (r *FileRepository) Delete(ctx context.Context, userID string) error {
	return r.file.Update(func(d jsonstore.Document) error {
		entries, err := decodeEntries(d)
		if err != nil {
			return err
		}
		delete(entries, userID)
		return d.Encode(keyVerificationData, entries)
	})
}

func (r *FileRepository) List(ctx context.Context) ([]*Session, error) {
	var out []*Session
	err := r.file.View(func(d jsonstore.Document) error {
		entries, err := decodeEntries(d)
		if err != nil {
			return err
		}
		for id, e := range entries {
			out = append(out, &Session{UserID: id, Code: e.Code, Habbo: e.Habbo, CreatedAt: fromEpoch(e.Timestamp)})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}
