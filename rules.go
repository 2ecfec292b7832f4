package fleetgate

import (
	"fmt"
	"sort"
)

// ============================================================================
// RULE TABLE
// ============================================================================

// FilterFunc derives a row filter from an already-resolved context. It must
// be pure: no I/O, no clock, only context fields.
type FilterFunc func(pctx PermissionContext) *Filter

// Rule grants an action on a table to a set of roles. Exactly one of
// AllowAll and Filter must be set; a rule carrying neither (or both) is a
// load-time error, because it would silently mean either "everything" or
// "nothing".
type Rule struct {
	Action   Action `json:"action" yaml:"action"`
	Roles    []Role `json:"roles" yaml:"roles"`
	Filter   string `json:"filter,omitempty" yaml:"filter,omitempty"`
	AllowAll bool   `json:"allow_all,omitempty" yaml:"allow_all,omitempty"`
}

// TableRules is the declarative rule set: table name -> rules.
type TableRules map[string][]Rule

// RuleTable is the compiled, validated, process-wide rule set. Immutable
// after construction; reloads build a fresh table and swap it on the engine.
type RuleTable struct {
	tables       map[string][]Rule
	filters      map[string]FilterFunc
	personalData map[string]bool
}

// RuleTableOption configures rule-table construction.
type RuleTableOption func(*RuleTable)

// WithFilterFunc registers (or overrides) a named filter generator.
func WithFilterFunc(name string, fn FilterFunc) RuleTableOption {
	return func(rt *RuleTable) {
		rt.filters[name] = fn
	}
}

// WithPersonalDataTables marks tables holding other users' personal data.
// Validation rejects allow_all select rules granting such a table to
// non-admin roles.
func WithPersonalDataTables(tables ...string) RuleTableOption {
	return func(rt *RuleTable) {
		for _, t := range tables {
			rt.personalData[t] = true
		}
	}
}

// NewRuleTable compiles and validates a declarative rule set. Any
// configuration error fails construction; a misconfigured table must never
// reach request time.
func NewRuleTable(rules TableRules, opts ...RuleTableOption) (*RuleTable, error) {
	rt := &RuleTable{
		tables:       make(map[string][]Rule, len(rules)),
		filters:      StandardFilters(),
		personalData: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(rt)
	}
	for table, list := range rules {
		cp := make([]Rule, len(list))
		copy(cp, list)
		rt.tables[table] = cp
	}
	if err := rt.validate(); err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *RuleTable) validate() error {
	for table, list := range rt.tables {
		if len(list) == 0 {
			return fmt.Errorf("table %s: no rules configured", table)
		}
		// (action, role) coverage must be unique so first-match is
		// unambiguous by construction.
		seen := make(map[string]bool)
		for i, r := range list {
			switch r.Action {
			case ActionSelect, ActionInsert, ActionUpdate, ActionDelete:
			default:
				return fmt.Errorf("table %s rule %d: unknown action %q", table, i, r.Action)
			}
			if len(r.Roles) == 0 {
				return fmt.Errorf("table %s rule %d: empty role set", table, i)
			}
			if r.AllowAll && r.Filter != "" {
				return fmt.Errorf("table %s rule %d: allow_all and filter are mutually exclusive", table, i)
			}
			if !r.AllowAll && r.Filter == "" {
				return fmt.Errorf("table %s rule %d: rule must set allow_all or a filter", table, i)
			}
			if r.Filter != "" {
				if _, ok := rt.filters[r.Filter]; !ok {
					return fmt.Errorf("table %s rule %d: unknown filter %q", table, i, r.Filter)
				}
			}
			for _, role := range r.Roles {
				if _, ok := ScopeOf(role); !ok {
					return fmt.Errorf("table %s rule %d: unknown role %q", table, i, role)
				}
				key := string(r.Action) + ":" + string(role)
				if seen[key] {
					return fmt.Errorf("table %s: duplicate rule for action=%s role=%s", table, r.Action, role)
				}
				seen[key] = true
				if r.AllowAll && r.Action == ActionSelect && rt.personalData[table] && role != RoleBoss && role != RolePeerAdmin {
					return fmt.Errorf("table %s: allow_all select granted to non-admin role %s on personal data", table, role)
				}
			}
		}
	}
	return nil
}

// Tables lists every registered table, sorted.
func (rt *RuleTable) Tables() []string {
	out := make([]string, 0, len(rt.tables))
	for t := range rt.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RulesFor returns the configured rules for a table and action.
func (rt *RuleTable) RulesFor(table string, action Action) []Rule {
	out := make([]Rule, 0)
	for _, r := range rt.tables[table] {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

// Rules exports the declarative rule set (a copy).
func (rt *RuleTable) Rules() TableRules {
	out := make(TableRules, len(rt.tables))
	for t, list := range rt.tables {
		cp := make([]Rule, len(list))
		copy(cp, list)
		out[t] = cp
	}
	return out
}

// resolve picks the first rule for (table, action) whose roles contain role.
func (rt *RuleTable) resolve(table string, action Action, role Role) (*Rule, DenyReason) {
	list, ok := rt.tables[table]
	if !ok {
		return nil, DenyUnknownResource
	}
	for i := range list {
		r := &list[i]
		if r.Action != action {
			continue
		}
		for _, allowed := range r.Roles {
			if allowed == role {
				return r, DenyNone
			}
		}
	}
	return nil, DenyRoleNotPermitted
}

func (rt *RuleTable) filterFunc(name string) FilterFunc {
	if fn, ok := rt.filters[name]; ok {
		return fn
	}
	// unreachable after validation; match nothing if it ever happens
	return func(PermissionContext) *Filter { return NewFilter(In("id")) }
}

// ============================================================================
// STANDARD FILTER GENERATORS
// ============================================================================

// Filter names usable in rule configuration.
const (
	FilterSelf             = "self"              // id = caller
	FilterOwnRows          = "own_rows"          // driver_id = caller
	FilterRecipient        = "recipient"         // recipient_id = caller
	FilterManagedDrivers   = "managed_drivers"   // driver_id in managed set
	FilterScheduledDrivers = "scheduled_drivers" // driver_id in scheduled set
)

// StandardFilters returns the built-in named filter generators. Each derives
// its predicate solely from resolved context fields. A generator invoked
// with a context variant it does not understand yields a match-nothing
// filter rather than widening access.
func StandardFilters() map[string]FilterFunc {
	return map[string]FilterFunc{
		FilterSelf: func(pctx PermissionContext) *Filter {
			return NewFilter(Eq("id", pctx.Subject().ID))
		},
		FilterOwnRows: func(pctx PermissionContext) *Filter {
			return NewFilter(Eq("driver_id", pctx.Subject().ID))
		},
		FilterRecipient: func(pctx PermissionContext) *Filter {
			return NewFilter(Eq("recipient_id", pctx.Subject().ID))
		},
		FilterManagedDrivers: func(pctx PermissionContext) *Filter {
			mc, ok := pctx.(*ManagerContext)
			if !ok {
				return NewFilter(In("driver_id"))
			}
			ids := make([]string, 0, len(mc.ManagedDrivers))
			for _, d := range mc.ManagedDrivers {
				ids = append(ids, d.ID)
			}
			return NewFilter(In("driver_id", ids...))
		},
		FilterScheduledDrivers: func(pctx PermissionContext) *Filter {
			sc, ok := pctx.(*SchedulerContext)
			if !ok {
				return NewFilter(In("driver_id"))
			}
			ids := make([]string, 0, len(sc.RelatedDrivers))
			for _, d := range sc.RelatedDrivers {
				ids = append(ids, d.ID)
			}
			return NewFilter(In("driver_id", ids...))
		},
	}
}

// ============================================================================
// DEFAULT FLEET RULE SET
// ============================================================================

// Table names of the fleet schema.
const (
	TableUsers                   = "users"
	TableNotifications           = "notifications"
	TableLeaveApplications       = "leave_applications"
	TableResignationApplications = "resignation_applications"
	TableAttendance              = "attendance"
	TablePieceWorkRecords        = "piece_work_records"
	TableDriverLicenses          = "driver_licenses"
	TableSalaryRecords           = "salary_records"
)

// PersonalDataTables are tables whose rows belong to individual users and
// therefore must never get an allow_all select for non-admin roles.
func PersonalDataTables() []string {
	return []string{
		TableUsers,
		TableNotifications,
		TableLeaveApplications,
		TableResignationApplications,
		TableAttendance,
		TablePieceWorkRecords,
		TableDriverLicenses,
		TableSalaryRecords,
	}
}

// DefaultFleetRules is the rule set of the fleet application.
func DefaultFleetRules() TableRules {
	return TableRules{
		TableUsers: {
			{Action: ActionSelect, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionSelect, Roles: []Role{RoleManager, RoleScheduler, RoleDriver}, Filter: FilterSelf},
			{Action: ActionUpdate, Roles: []Role{RoleBoss, RolePeerAdmin, RoleManager, RoleScheduler, RoleDriver}, Filter: FilterSelf},
		},
		TableNotifications: {
			{Action: ActionSelect, Roles: []Role{RoleBoss}, AllowAll: true},
			{Action: ActionSelect, Roles: []Role{RolePeerAdmin, RoleManager, RoleScheduler, RoleDriver}, Filter: FilterRecipient},
			{Action: ActionInsert, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
		},
		TableLeaveApplications: {
			{Action: ActionSelect, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionSelect, Roles: []Role{RoleManager}, Filter: FilterManagedDrivers},
			{Action: ActionSelect, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionInsert, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionUpdate, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionUpdate, Roles: []Role{RoleManager}, Filter: FilterManagedDrivers},
		},
		TableResignationApplications: {
			{Action: ActionSelect, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionSelect, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionInsert, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionUpdate, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
		},
		TableAttendance: {
			{Action: ActionSelect, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionSelect, Roles: []Role{RoleManager}, Filter: FilterManagedDrivers},
			{Action: ActionSelect, Roles: []Role{RoleScheduler}, Filter: FilterScheduledDrivers},
			{Action: ActionSelect, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionInsert, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
		},
		TablePieceWorkRecords: {
			{Action: ActionSelect, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionSelect, Roles: []Role{RoleManager}, Filter: FilterManagedDrivers},
			{Action: ActionSelect, Roles: []Role{RoleScheduler}, Filter: FilterScheduledDrivers},
			{Action: ActionSelect, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionInsert, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionUpdate, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionUpdate, Roles: []Role{RoleManager}, Filter: FilterManagedDrivers},
		},
		TableDriverLicenses: {
			{Action: ActionSelect, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionSelect, Roles: []Role{RoleManager}, Filter: FilterManagedDrivers},
			{Action: ActionSelect, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionInsert, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionUpdate, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
		},
		TableSalaryRecords: {
			{Action: ActionSelect, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
			{Action: ActionSelect, Roles: []Role{RoleDriver}, Filter: FilterOwnRows},
			{Action: ActionInsert, Roles: []Role{RoleBoss, RolePeerAdmin}, AllowAll: true},
		},
	}
}

// DefaultRuleTable compiles DefaultFleetRules with the personal-data guard.
func DefaultRuleTable() (*RuleTable, error) {
	return NewRuleTable(DefaultFleetRules(), WithPersonalDataTables(PersonalDataTables()...))
}
