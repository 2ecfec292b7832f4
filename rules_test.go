package fleetgate

import (
	"strings"
	"testing"
)

func TestRuleTableRejectsNeitherAllowAllNorFilter(t *testing.T) {
	_, err := NewRuleTable(TableRules{
		"users": {{Action: ActionSelect, Roles: []Role{RoleBoss}}},
	})
	if err == nil {
		t.Fatalf("rule with neither allow_all nor filter must fail validation")
	}
}

func TestRuleTableRejectsBothAllowAllAndFilter(t *testing.T) {
	_, err := NewRuleTable(TableRules{
		"users": {{Action: ActionSelect, Roles: []Role{RoleBoss}, AllowAll: true, Filter: FilterSelf}},
	})
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected mutual-exclusion error, got %v", err)
	}
}

func TestRuleTableRejectsUnknownFilter(t *testing.T) {
	_, err := NewRuleTable(TableRules{
		"users": {{Action: ActionSelect, Roles: []Role{RoleBoss}, Filter: "no_such_filter"}},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown filter") {
		t.Fatalf("expected unknown-filter error, got %v", err)
	}
}

func TestRuleTableRejectsUnknownRole(t *testing.T) {
	_, err := NewRuleTable(TableRules{
		"users": {{Action: ActionSelect, Roles: []Role{"SUPERVISOR"}, AllowAll: true}},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown role") {
		t.Fatalf("expected unknown-role error, got %v", err)
	}
}

func TestRuleTableRejectsUnknownAction(t *testing.T) {
	_, err := NewRuleTable(TableRules{
		"users": {{Action: "truncate", Roles: []Role{RoleBoss}, AllowAll: true}},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("expected unknown-action error, got %v", err)
	}
}

func TestRuleTableRejectsEmptyRoleSet(t *testing.T) {
	_, err := NewRuleTable(TableRules{
		"users": {{Action: ActionSelect, AllowAll: true}},
	})
	if err == nil || !strings.Contains(err.Error(), "empty role set") {
		t.Fatalf("expected empty-role-set error, got %v", err)
	}
}

func TestRuleTableRejectsDuplicateCoverage(t *testing.T) {
	_, err := NewRuleTable(TableRules{
		"users": {
			{Action: ActionSelect, Roles: []Role{RoleDriver}, Filter: FilterSelf},
			{Action: ActionSelect, Roles: []Role{RoleDriver}, AllowAll: true},
		},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate rule") {
		t.Fatalf("expected duplicate-rule error, got %v", err)
	}
}

func TestRuleTableRejectsEmptyTable(t *testing.T) {
	_, err := NewRuleTable(TableRules{"users": {}})
	if err == nil {
		t.Fatalf("table without rules must fail validation")
	}
}

func TestPersonalDataGuard(t *testing.T) {
	rules := TableRules{
		"salary_records": {
			{Action: ActionSelect, Roles: []Role{RoleManager}, AllowAll: true},
		},
	}
	_, err := NewRuleTable(rules, WithPersonalDataTables("salary_records"))
	if err == nil {
		t.Fatalf("allow_all select for a non-admin role on personal data must fail")
	}

	// admins are exempt, and the table compiles without the marker too
	adminRules := TableRules{
		"salary_records": {
			{Action: ActionSelect, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
		},
	}
	if _, err := NewRuleTable(adminRules, WithPersonalDataTables("salary_records")); err != nil {
		t.Fatalf("admin allow_all on personal data should pass: %v", err)
	}
	if _, err := NewRuleTable(rules); err != nil {
		t.Fatalf("unmarked table should pass: %v", err)
	}
}

func TestCustomFilterFunc(t *testing.T) {
	rt, err := NewRuleTable(TableRules{
		"vehicles": {
			{Action: ActionSelect, Roles: []Role{RoleScheduler}, Filter: "scheduled_vehicles"},
		},
	}, WithFilterFunc("scheduled_vehicles", func(pctx PermissionContext) *Filter {
		sc, ok := pctx.(*SchedulerContext)
		if !ok {
			return NewFilter(In("id"))
		}
		ids := make([]string, 0, len(sc.RelatedVehicles))
		for _, v := range sc.RelatedVehicles {
			ids = append(ids, v.ID)
		}
		return NewFilter(In("id", ids...))
	}))
	if err != nil {
		t.Fatalf("rule table with custom filter: %v", err)
	}

	eng, err := NewEngine(rt)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	pctx := &SchedulerContext{
		User:            Identity{ID: "s1", Role: RoleScheduler, TenantID: "t1"},
		Lvl:             LevelFullControl,
		RelatedVehicles: []VehicleRef{{ID: "v1"}},
	}
	dec := eng.Authorize(pctx, "vehicles", ActionSelect, nil)
	if !dec.Allowed || dec.Filter == nil {
		t.Fatalf("expected filtered allow, got allowed=%v", dec.Allowed)
	}
	if !dec.Filter.Match(MapRow{"id": "v1"}) || dec.Filter.Match(MapRow{"id": "v2"}) {
		t.Fatalf("custom filter did not scope to scheduled vehicles")
	}
}

func TestStandardFiltersFailClosedOnWrongVariant(t *testing.T) {
	filters := StandardFilters()
	// a driver context handed to the managed_drivers generator must not widen
	f := filters[FilterManagedDrivers](driverCtx("d1"))
	if f.Match(MapRow{"driver_id": "d1"}) {
		t.Fatalf("wrong-variant context must yield a match-nothing filter")
	}
	f = filters[FilterScheduledDrivers](driverCtx("d1"))
	if f.Match(MapRow{"driver_id": "d1"}) {
		t.Fatalf("wrong-variant context must yield a match-nothing filter")
	}
}

func TestDefaultRuleTableCoversFleetSchema(t *testing.T) {
	rt, err := DefaultRuleTable()
	if err != nil {
		t.Fatalf("default rule table: %v", err)
	}
	for _, table := range PersonalDataTables() {
		if len(rt.RulesFor(table, ActionSelect)) == 0 {
			t.Fatalf("table %s has no select rules", table)
		}
	}
	if len(rt.Tables()) != len(PersonalDataTables()) {
		t.Fatalf("expected every fleet table registered, got %v", rt.Tables())
	}
}

func TestRulesExportIsACopy(t *testing.T) {
	rt, err := DefaultRuleTable()
	if err != nil {
		t.Fatalf("default rule table: %v", err)
	}
	exported := rt.Rules()
	exported[TableUsers][0].AllowAll = false
	exported[TableUsers][0].Filter = FilterSelf

	again := rt.Rules()
	if !again[TableUsers][0].AllowAll {
		t.Fatalf("mutating the export must not touch the compiled table")
	}
}

func TestScopeOf(t *testing.T) {
	cases := map[Role]Mode{
		RoleBoss:      ModeAllAccess,
		RolePeerAdmin: ModeAllAccess,
		RoleManager:   ModeManagedResources,
		RoleScheduler: ModeScheduledResources,
		RoleDriver:    ModeOwnDataOnly,
	}
	for role, want := range cases {
		got, ok := ScopeOf(role)
		if !ok || got != want {
			t.Fatalf("ScopeOf(%s) = %s, %v; want %s", role, got, ok, want)
		}
	}
	if _, ok := ScopeOf("INTERN"); ok {
		t.Fatalf("unknown role must not map to a mode")
	}
}
