// Package roles computes and applies the role diff between what a member
// holds and what the policy table grants for their Habbo groups.
package roles

import (
	"sort"
	"strings"

	"github.com/cdahabbo/rolesync/internal/policy"
)

// Mode selects which categories a pass may remove.
type Mode int

const (
	// ModeFull computes the complete expected set and removes any managed
	// role that is not expected. Used by the periodic and join paths.
	ModeFull Mode = iota
	// ModeAdditive only grants, except that other employee-tier roles are
	// still removed to keep the tier exclusive. Used right after verification
	// and by getroles.
	ModeAdditive
)

func (m Mode) String() string {
	if m == ModeAdditive {
		return "additive"
	}
	return "full"
}

// Umbrella identifies the derived roles. An empty id disables that umbrella.
type Umbrella struct {
	CDAEmployeeRoleID string
	InnerCircleRoleID string
	// ProtectionMarker in the live motto cancels removal of the CDA Employee role.
	ProtectionMarker string
}

type Diff struct {
	Add    []string
	Remove []string
}

func (d Diff) Empty() bool { return len(d.Add) == 0 && len(d.Remove) == 0 }

type set map[string]struct{}

func newSet(ids []string) set {
	s := make(set, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s set) add(id string) {
	if id != "" {
		s[id] = struct{}{}
	}
}

func (s set) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reconcile returns the roles to add and remove for a member holding current
// whose Habbo groups are groups. bio is the live motto; empty disables the
// protection rule. The result never lists an id in both Add and Remove.
func Reconcile(mode Mode, current, groups []string, tbl *policy.Table, u Umbrella, bio string) Diff {
	held := newSet(current)
	inGroups := newSet(groups)

	expected := set{}
	valid := set{}
	for id := range tbl.ManagedRoleIDs() {
		valid.add(id)
	}

	var target *policy.Entry
	var cda, ic bool
	employees := tbl.EntriesFor(policy.Employee)
	for i := range employees {
		e := employees[i]
		if !inGroups.has(e.GroupID) {
			continue
		}
		if target == nil {
			target = &employees[i]
		}
		cda = cda || e.CDAEmployee
		ic = ic || e.InnerCircle
	}
	if target != nil {
		expected.add(target.RoleID)
	}

	for _, c := range []policy.Category{policy.Donator, policy.Misc, policy.SpecialUnit} {
		for _, e := range tbl.EntriesFor(c) {
			if inGroups.has(e.GroupID) {
				expected.add(e.RoleID)
			}
		}
	}

	umbrella := func(on bool, id string) {
		if id == "" {
			return
		}
		if on {
			expected.add(id)
		} else {
			valid.add(id)
		}
	}
	umbrella(cda, u.CDAEmployeeRoleID)
	umbrella(ic, u.InnerCircleRoleID)

	toAdd := set{}
	for id := range expected {
		if !held.has(id) {
			toAdd.add(id)
		}
	}

	toRemove := set{}
	switch mode {
	case ModeAdditive:
		for _, e := range employees {
			if held.has(e.RoleID) && !expected.has(e.RoleID) {
				toRemove.add(e.RoleID)
			}
		}
	default:
		for id := range held {
			if !expected.has(id) && valid.has(id) {
				toRemove.add(id)
			}
		}
	}
	for id := range toAdd {
		delete(toRemove, id)
	}

	if u.CDAEmployeeRoleID != "" && toRemove.has(u.CDAEmployeeRoleID) && Protected(bio, u.ProtectionMarker) {
		delete(toRemove, u.CDAEmployeeRoleID)
	}

	return Diff{Add: toAdd.sorted(), Remove: toRemove.sorted()}
}

// Protected reports whether bio contains marker, ignoring case.
func Protected(bio, marker string) bool {
	marker = strings.TrimSpace(marker)
	if marker == "" || bio == "" {
		return false
	}
	return strings.Contains(strings.ToLower(bio), strings.ToLower(marker))
}
