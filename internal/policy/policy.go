// Package policy loads the role policy table that maps Habbo groups to
// Discord roles.
package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cdahabbo/rolesync/internal/models"
)

var ErrMalformedPolicy = errors.New("malformed role policy")

type Category string

const (
	Employee    Category = "EmployeeRoles"
	Donator     Category = "DonatorRoles"
	Misc        Category = "Misc"
	SpecialUnit Category = "SpecialUnits"
)

var categories = []Category{Employee, Donator, Misc, SpecialUnit}

// Categories lists every policy category in evaluation order.
func Categories() []Category {
	return append([]Category(nil), categories...)
}

// Entry maps one external group to one role. The umbrella flags are only
// meaningful on Employee entries.
type Entry struct {
	GroupID     string
	RoleID      string
	Category    Category
	CDAEmployee bool
	InnerCircle bool
}

// Table is an immutable, validated policy. Employee order is significant:
// the first matching entry is the highest tier.
type Table struct {
	entries map[Category][]Entry
	managed map[string]struct{}
}

type flag bool

// UnmarshalJSON accepts "yes"/"no" strings and booleans.
func (f *flag) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flag(strings.EqualFold(strings.TrimSpace(s), "yes") || strings.EqualFold(strings.TrimSpace(s), "true"))
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("flag must be \"yes\", \"no\" or a boolean, got %s", b)
	}
	*f = flag(v)
	return nil
}

type rawEntry struct {
	GroupID     *string          `json:"group_id"`
	RoleID      models.Snowflake `json:"role_id"`
	CDAEmployee flag             `json:"cdaemployee"`
	InnerCircle flag             `json:"iC"`
}

type rawFile struct {
	Roles map[string]json.RawMessage `json:"roles"`
}

// Load reads and validates a policy file. Any problem is reported as
// ErrMalformedPolicy; callers treat it as fatal at startup.
func Load(path string) (*Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPolicy, err)
	}
	t, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func Parse(data []byte) (*Table, error) {
	var f rawFile
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPolicy, err)
	}
	if f.Roles == nil {
		return nil, fmt.Errorf("%w: missing \"roles\" object", ErrMalformedPolicy)
	}
	t := &Table{entries: map[Category][]Entry{}, managed: map[string]struct{}{}}
	var errs []error
	for _, c := range categories {
		raw, ok := f.Roles[string(c)]
		if !ok {
			errs = append(errs, fmt.Errorf("missing category %q", c))
			continue
		}
		var list []rawEntry
		if err := json.Unmarshal(raw, &list); err != nil {
			errs = append(errs, fmt.Errorf("category %q: %v", c, err))
			continue
		}
		if list == nil {
			errs = append(errs, fmt.Errorf("category %q must be a list", c))
			continue
		}
		for i, re := range list {
			if re.GroupID == nil || strings.TrimSpace(*re.GroupID) == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: group_id is required", c, i))
				continue
			}
			if re.RoleID.String() == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: role_id is required", c, i))
				continue
			}
			e := Entry{
				GroupID:     strings.TrimSpace(*re.GroupID),
				RoleID:      re.RoleID.String(),
				Category:    c,
				CDAEmployee: bool(re.CDAEmployee),
				InnerCircle: bool(re.InnerCircle),
			}
			t.entries[c] = append(t.entries[c], e)
			t.managed[e.RoleID] = struct{}{}
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPolicy, errors.Join(errs...))
	}
	return t, nil
}

func (t *Table) Categories() []Category { return Categories() }

// EntriesFor returns the entries of c in file order.
func (t *Table) EntriesFor(c Category) []Entry {
	return append([]Entry(nil), t.entries[c]...)
}

// ManagedRoleIDs is the set of every role id the policy may grant.
func (t *Table) ManagedRoleIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(t.managed))
	for id := range t.managed {
		out[id] = struct{}{}
	}
	return out
}

func (t *Table) Len() int {
	n := 0
	for _, es := range t.entries {
		n += len(es)
	}
	return n
}
