package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/cdahabbo/rolesync/pkg/logger"
	"github.com/cdahabbo/rolesync/pkg/metrics"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrUnknownRole      = errors.New("role does not exist in guild")
)

// Guild is the part of the chat platform Apply needs.
type Guild interface {
	AddRole(ctx context.Context, userID, roleID string) error
	RemoveRole(ctx context.Context, userID, roleID string) error
	// RoleName resolves a role id; ok is false when the guild has no such role.
	RoleName(roleID string) (name string, ok bool)
}

type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

type Failure struct {
	RoleID string
	Action Action
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s role %s: %v", f.Action, f.RoleID, f.Err)
}

// Result lists the role names actually changed and the ids that failed.
type Result struct {
	Added   []string
	Removed []string
	Failed  []Failure
}

func (r Result) Changed() bool { return len(r.Added) > 0 || len(r.Removed) > 0 }

// Err joins the per-role failures, or nil.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Apply issues one call per role in d. A failing role is recorded in
// Result.Failed and the remaining roles are still processed.
func Apply(ctx context.Context, g Guild, userID string, d Diff) Result {
	var res Result
	step := func(action Action, roleID string) {
		name, ok := g.RoleName(roleID)
		if !ok {
			res.Failed = append(res.Failed, Failure{RoleID: roleID, Action: action, Err: ErrUnknownRole})
			metrics.RoleChanges.WithLabelValues(string(action), "unknown_role").Inc()
			return
		}
		var err error
		if action == ActionAdd {
			err = g.AddRole(ctx, userID, roleID)
		} else {
			err = g.RemoveRole(ctx, userID, roleID)
		}
		if err != nil {
			outcome := "error"
			if errors.Is(err, ErrPermissionDenied) {
				outcome = "forbidden"
			}
			metrics.RoleChanges.WithLabelValues(string(action), outcome).Inc()
			logger.Warnf("%s role %s (%s) for user %s: %v", action, name, roleID, userID, err)
			res.Failed = append(res.Failed, Failure{RoleID: roleID, Action: action, Err: err})
			return
		}
		metrics.RoleChanges.WithLabelValues(string(action), "ok").Inc()
		if action == ActionAdd {
			res.Added = append(res.Added, name)
		} else {
			res.Removed = append(res.Removed, name)
		}
	}
	for _, id := range d.Add {
		if ctx.Err() != nil {
			break
		}
		step(ActionAdd, id)
	}
	for _, id := range d.Remove {
		if ctx.Err() != nil {
			break
		}
		step(ActionRemove, id)
	}
	return res
}
