package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cdahabbo/rolesync/internal/policy"
)

const (
	senior = "101"
	junior = "102"
	intern = "103"
	donor  = "201"
	misc   = "301"
	unit   = "401"
	cdaID  = "900"
	icID   = "901"
)

var umbrella = Umbrella{CDAEmployeeRoleID: cdaID, InnerCircleRoleID: icID, ProtectionMarker: "cda"}

func table(t *testing.T) *policy.Table {
	t.Helper()
	tbl, err := policy.Parse([]byte(`{"roles": {
	  "EmployeeRoles": [
	    {"group_id": "10", "role_id": 101, "cdaemployee": "yes", "iC": "yes"},
	    {"group_id": "20", "role_id": 102, "cdaemployee": "yes"},
	    {"group_id": "30", "role_id": 103}
	  ],
	  "DonatorRoles": [{"group_id": "40", "role_id": 201}],
	  "Misc": [{"group_id": "50", "role_id": 301}],
	  "SpecialUnits": [{"group_id": "60", "role_id": 401}]
	}}`))
	require.NoError(t, err)
	return tbl
}

func disjoint(t *testing.T, d Diff) {
	t.Helper()
	in := map[string]bool{}
	for _, id := range d.Add {
		in[id] = true
	}
	for _, id := range d.Remove {
		assert.False(t, in[id], "role %s in both add and remove", id)
	}
}

// apply simulates a successful application of d to current.
func applyTo(current []string, d Diff) []string {
	held := newSet(current)
	for _, id := range d.Add {
		held.add(id)
	}
	for _, id := range d.Remove {
		delete(held, id)
	}
	return held.sorted()
}

func TestSeniorBeatsJuniorByFileOrder(t *testing.T) {
	tbl := table(t)
	d := Reconcile(ModeFull, []string{junior, cdaID}, []string{"20", "10"}, tbl, Umbrella{}, "")
	assert.Equal(t, []string{senior}, d.Add)
	assert.Equal(t, []string{junior}, d.Remove)
}

func TestEmployeeExclusivity(t *testing.T) {
	tbl := table(t)
	for _, mode := range []Mode{ModeFull, ModeAdditive} {
		d := Reconcile(mode, []string{senior, junior, intern}, []string{"20", "30"}, tbl, umbrella, "")
		after := applyTo([]string{senior, junior, intern}, d)
		var employees []string
		for _, id := range after {
			if id == senior || id == junior || id == intern {
				employees = append(employees, id)
			}
		}
		assert.Equal(t, []string{junior}, employees, "mode %s", mode)
		disjoint(t, d)
	}
}

func TestUmbrellaFromAnyMatchedEmployee(t *testing.T) {
	tbl := table(t)
	// group 20 grants cda, group 10 (higher) grants ic as well
	d := Reconcile(ModeFull, nil, []string{"10", "20"}, tbl, umbrella, "")
	assert.ElementsMatch(t, []string{senior, cdaID, icID}, d.Add)
	assert.Empty(t, d.Remove)

	// intern carries no flags: both umbrellas are removable
	d = Reconcile(ModeFull, []string{intern, cdaID, icID}, []string{"30"}, tbl, umbrella, "")
	assert.Empty(t, d.Add)
	assert.Equal(t, []string{cdaID, icID}, d.Remove)
}

func TestFullModeRemovesUnmatchedAdditiveCategories(t *testing.T) {
	tbl := table(t)
	current := []string{donor, misc, unit, "555"}
	d := Reconcile(ModeFull, current, []string{"40"}, tbl, umbrella, "")
	assert.Empty(t, d.Add)
	assert.Equal(t, []string{misc, unit}, d.Remove, "unmanaged role 555 must be kept")
}

func TestAdditiveModeNeverRemovesOtherCategories(t *testing.T) {
	tbl := table(t)
	current := []string{misc, unit, cdaID, icID}
	d := Reconcile(ModeAdditive, current, []string{"40", "30"}, tbl, umbrella, "")
	assert.Equal(t, []string{intern, donor}, d.Add)
	assert.Empty(t, d.Remove)
}

func TestIdempotence(t *testing.T) {
	tbl := table(t)
	inputs := []struct {
		current []string
		groups  []string
	}{
		{nil, []string{"10", "40", "60"}},
		{[]string{junior, misc, cdaID, icID}, []string{"20"}},
		{[]string{senior, junior, intern, donor}, []string{"30", "50"}},
		{[]string{"777"}, nil},
	}
	for _, mode := range []Mode{ModeFull, ModeAdditive} {
		for _, in := range inputs {
			first := Reconcile(mode, in.current, in.groups, tbl, umbrella, "")
			disjoint(t, first)
			after := applyTo(in.current, first)
			second := Reconcile(mode, after, in.groups, tbl, umbrella, "")
			assert.True(t, second.Empty(), "mode %s input %v: %+v", mode, in, second)
		}
	}
}

func TestProtectionRule(t *testing.T) {
	tbl := table(t)
	current := []string{intern, cdaID}

	d := Reconcile(ModeFull, current, []string{"30"}, tbl, umbrella, "Proud CdA agent")
	assert.NotContains(t, d.Remove, cdaID)

	d = Reconcile(ModeFull, current, []string{"30"}, tbl, umbrella, "just visiting")
	assert.Contains(t, d.Remove, cdaID)

	d = Reconcile(ModeFull, current, []string{"30"}, tbl, umbrella, "")
	assert.Contains(t, d.Remove, cdaID)

	// the marker only protects the CDA umbrella
	d = Reconcile(ModeFull, []string{intern, icID}, []string{"30"}, tbl, umbrella, "cda")
	assert.Contains(t, d.Remove, icID)
}

func TestUnconfiguredUmbrellaIsIgnored(t *testing.T) {
	tbl := table(t)
	d := Reconcile(ModeFull, []string{cdaID}, []string{"10"}, tbl, Umbrella{}, "")
	assert.Equal(t, []string{senior}, d.Add)
	assert.Empty(t, d.Remove)
}

func TestNoGroupsNoRoles(t *testing.T) {
	tbl := table(t)
	d := Reconcile(ModeFull, nil, nil, tbl, umbrella, "")
	assert.True(t, d.Empty())
}

func TestProtected(t *testing.T) {
	assert.True(t, Protected("I work for CDA", "cda"))
	assert.True(t, Protected("cda", "CDA"))
	assert.False(t, Protected("", "cda"))
	assert.False(t, Protected("cda", ""))
	assert.False(t, Protected("c d a", "cda"))
}
