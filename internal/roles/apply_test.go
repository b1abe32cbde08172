package roles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGuild struct {
	mu    sync.Mutex
	names map[string]string
	deny  map[string]bool
	calls []string
}

func (g *fakeGuild) AddRole(_ context.Context, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "add:"+roleID)
	if g.deny[roleID] {
		return fmt.Errorf("discord 403: %w", ErrPermissionDenied)
	}
	return nil
}

func (g *fakeGuild) RemoveRole(_ context.Context, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "remove:"+roleID)
	if g.deny[roleID] {
		return fmt.Errorf("discord 403: %w", ErrPermissionDenied)
	}
	return nil
}

func (g *fakeGuild) RoleName(roleID string) (string, bool) {
	n, ok := g.names[roleID]
	return n, ok
}

func TestApplyIsBestEffort(t *testing.T) {
	g := &fakeGuild{
		names: map[string]string{"1": "Senior", "2": "Junior", "3": "Donator", "4": "Misc"},
		deny:  map[string]bool{"1": true},
	}
	res := Apply(context.Background(), g, "42", Diff{Add: []string{"1", "3", "9"}, Remove: []string{"2", "4"}})

	assert.Equal(t, []string{"Donator"}, res.Added)
	assert.Equal(t, []string{"Junior", "Misc"}, res.Removed)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, "1", res.Failed[0].RoleID)
	assert.True(t, errors.Is(res.Failed[0].Err, ErrPermissionDenied))
	assert.Equal(t, "9", res.Failed[1].RoleID)
	assert.ErrorIs(t, res.Failed[1].Err, ErrUnknownRole)
	assert.True(t, res.Changed())
	assert.ErrorIs(t, res.Err(), ErrPermissionDenied)

	assert.Equal(t, []string{"add:1", "add:3", "remove:2", "remove:4"}, g.calls)
}

func TestApplyEmptyDiff(t *testing.T) {
	res := Apply(context.Background(), &fakeGuild{}, "42", Diff{})
	assert.False(t, res.Changed())
	assert.NoError(t, res.Err())
}

func TestApplyStopsOnCancelledContext(t *testing.T) {
	g := &fakeGuild{names: map[string]string{"1": "A", "2": "B"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Apply(ctx, g, "42", Diff{Add: []string{"1"}, Remove: []string{"2"}})
	assert.False(t, res.Changed())
	assert.Empty(t, g.calls)
}
