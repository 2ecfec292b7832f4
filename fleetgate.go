package fleetgate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/fleetgate/logger"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Role is the fixed set of account roles in a fleet tenant.
type Role string

const (
	RoleBoss      Role = "BOSS"
	RolePeerAdmin Role = "PEER_ADMIN"
	RoleManager   Role = "MANAGER"
	RoleScheduler Role = "SCHEDULER"
	RoleDriver    Role = "DRIVER"
)

// Mode is the breadth of rows a role may act on.
type Mode string

const (
	ModeOwnDataOnly        Mode = "own_data_only"
	ModeManagedResources   Mode = "managed_resources"
	ModeScheduledResources Mode = "scheduled_resources"
	ModeAllAccess          Mode = "all_access"
)

// Level is the write capability of a context. A view_only context may still
// read everything its mode allows; writes are blocked by the engine.
type Level string

const (
	LevelFullControl Level = "full_control"
	LevelViewOnly    Level = "view_only"
)

// Action represents a table operation
type Action string

const (
	ActionSelect Action = "select"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// IsWrite reports whether the action mutates rows.
func (a Action) IsWrite() bool {
	return a == ActionInsert || a == ActionUpdate || a == ActionDelete
}

// ScopeOf maps a role to its mode. The second return value is false for
// unknown roles; callers treat that as a configuration error at load time,
// never something to recover from per request.
func ScopeOf(role Role) (Mode, bool) {
	switch role {
	case RoleBoss, RolePeerAdmin:
		return ModeAllAccess, true
	case RoleManager:
		return ModeManagedResources, true
	case RoleScheduler:
		return ModeScheduledResources, true
	case RoleDriver:
		return ModeOwnDataOnly, true
	}
	return "", false
}

// KnownRoles returns every registered role in decreasing order of scope.
func KnownRoles() []Role {
	return []Role{RoleBoss, RolePeerAdmin, RoleManager, RoleScheduler, RoleDriver}
}

// Identity is an already-authenticated caller as reported by the identity
// provider. The engine trusts it; no credential verification happens here.
type Identity struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id"`
}

// UserRef is a lightweight reference to a related account.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// WarehouseRef is a lightweight reference to a warehouse.
type WarehouseRef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
}

// VehicleRef is a lightweight reference to a vehicle.
type VehicleRef struct {
	ID          string `json:"id"`
	PlateNumber string `json:"plate_number"`
}

// ResourceSummary is an optional tenant-wide count summary for admin contexts.
type ResourceSummary struct {
	TotalWarehouses int `json:"total_warehouses"`
	TotalDrivers    int `json:"total_drivers"`
	TotalManagers   int `json:"total_managers"`
	TotalVehicles   int `json:"total_vehicles"`
}

// ============================================================================
// PERMISSION CONTEXT (tagged union, one variant per role scope)
// ============================================================================

// PermissionContext describes the resolved scope of an authenticated caller.
// Exactly one concrete variant exists per mode; the discriminant is Mode().
type PermissionContext interface {
	Mode() Mode
	Level() Level
	Subject() Identity
}

// DriverContext scopes a driver to rows they own. The related accounts and
// warehouses are informational for the UI, they never widen the row filter.
type DriverContext struct {
	User          Identity       `json:"user"`
	DirectManager *UserRef       `json:"direct_manager"`
	Schedulers    []UserRef      `json:"schedulers"`
	Boss          *UserRef       `json:"boss"`
	Warehouses    []WarehouseRef `json:"warehouses"`
}

func (c *DriverContext) Mode() Mode        { return ModeOwnDataOnly }
func (c *DriverContext) Level() Level      { return LevelFullControl }
func (c *DriverContext) Subject() Identity { return c.User }

// ManagerContext scopes a fleet manager to the warehouses and drivers
// assigned to them. Lvl reflects the tenant manager-permissions toggle.
type ManagerContext struct {
	User              Identity       `json:"user"`
	Lvl               Level          `json:"level"`
	ManagedWarehouses []WarehouseRef `json:"managed_warehouses"`
	ManagedDrivers    []UserRef      `json:"managed_drivers"`
	Schedulers        []UserRef      `json:"schedulers"`
	Boss              *UserRef       `json:"boss"`
}

func (c *ManagerContext) Mode() Mode        { return ModeManagedResources }
func (c *ManagerContext) Level() Level      { return c.Lvl }
func (c *ManagerContext) Subject() Identity { return c.User }

// SchedulerContext scopes a scheduler account to its assigned warehouses,
// drivers and vehicles.
type SchedulerContext struct {
	User              Identity       `json:"user"`
	Lvl               Level          `json:"level"`
	ManagedWarehouses []WarehouseRef `json:"managed_warehouses"`
	RelatedDrivers    []UserRef      `json:"related_drivers"`
	RelatedVehicles   []VehicleRef   `json:"related_vehicles"`
	Boss              *UserRef       `json:"boss"`
}

func (c *SchedulerContext) Mode() Mode        { return ModeScheduledResources }
func (c *SchedulerContext) Level() Level      { return c.Lvl }
func (c *SchedulerContext) Subject() Identity { return c.User }

// AdminContext is the all-access context for BOSS and PEER_ADMIN accounts.
// A peer admin provisioned as view-only carries Lvl=view_only; the boss is
// always full control.
type AdminContext struct {
	User    Identity         `json:"user"`
	Lvl     Level            `json:"level"`
	Summary *ResourceSummary `json:"summary,omitempty"`
}

func (c *AdminContext) Mode() Mode        { return ModeAllAccess }
func (c *AdminContext) Level() Level      { return c.Lvl }
func (c *AdminContext) Subject() Identity { return c.User }

// contextEnvelope is the serialized form of the union, used by shared caches.
type contextEnvelope struct {
	Mode      Mode              `json:"mode"`
	Driver    *DriverContext    `json:"driver,omitempty"`
	Manager   *ManagerContext   `json:"manager,omitempty"`
	Scheduler *SchedulerContext `json:"scheduler,omitempty"`
	Admin     *AdminContext     `json:"admin,omitempty"`
}

// EncodeContext serializes a PermissionContext for shared caches.
func EncodeContext(pctx PermissionContext) ([]byte, error) {
	env := contextEnvelope{Mode: pctx.Mode()}
	switch c := pctx.(type) {
	case *DriverContext:
		env.Driver = c
	case *ManagerContext:
		env.Manager = c
	case *SchedulerContext:
		env.Scheduler = c
	case *AdminContext:
		env.Admin = c
	default:
		return nil, fmt.Errorf("unknown context variant %T", pctx)
	}
	return json.Marshal(&env)
}

// DecodeContext is the inverse of EncodeContext.
func DecodeContext(data []byte) (PermissionContext, error) {
	var env contextEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Mode {
	case ModeOwnDataOnly:
		if env.Driver != nil {
			return env.Driver, nil
		}
	case ModeManagedResources:
		if env.Manager != nil {
			return env.Manager, nil
		}
	case ModeScheduledResources:
		if env.Scheduler != nil {
			return env.Scheduler, nil
		}
	case ModeAllAccess:
		if env.Admin != nil {
			return env.Admin, nil
		}
	}
	return nil, fmt.Errorf("malformed context envelope: mode=%s", env.Mode)
}

// ============================================================================
// DECISIONS
// ============================================================================

// DenyReason classifies why a decision denied. Internal only; user-facing
// surfaces get the normalized message from Decision.UserMessage.
type DenyReason string

const (
	DenyNone               DenyReason = ""
	DenyUnknownResource    DenyReason = "unknown_resource"
	DenyRoleNotPermitted   DenyReason = "role_not_permitted"
	DenyInsufficientLevel  DenyReason = "insufficient_level"
	DenyRowOutOfScope      DenyReason = "row_out_of_scope"
	DenyUnresolvedIdentity DenyReason = "unresolved_identity"
)

// Decision is the outcome of one authorization check. When Allowed is true
// and Filter is non-nil, the data-access layer must AND the filter into the
// query (select) or validate the payload against it (insert/update).
type Decision struct {
	Allowed bool       `json:"allowed"`
	Filter  *Filter    `json:"filter,omitempty"`
	Reason  DenyReason `json:"reason,omitempty"`
	Trace   []string   `json:"trace,omitempty"`
}

// UserMessage normalizes every deny to one message class so deny-reason
// detail never leaks schema or role information to end users.
func (d *Decision) UserMessage() string {
	if d.Allowed {
		return ""
	}
	return "not authorized to perform this action"
}

func allow(filter *Filter) *Decision { return &Decision{Allowed: true, Filter: filter} }
func deny(reason DenyReason) *Decision {
	return &Decision{Allowed: false, Reason: reason}
}

// ============================================================================
// ENGINE
// ============================================================================

// Engine evaluates the rule table against resolved permission contexts.
// It carries no per-call state; the rule table is swapped atomically on
// reload and is otherwise read-only.
type Engine struct {
	mu          sync.RWMutex
	rules       *RuleTable
	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine) error

// WithLogger installs a Logger on the Engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithTraceIDFunc installs a custom trace ID generator on the engine.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceIDFunc = f
		return nil
	}
}

func NewEngine(rules *RuleTable, opts ...EngineOption) (*Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("rule table is required")
	}
	e := &Engine{
		rules:  rules,
		logger: logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Rules returns the active rule table.
func (e *Engine) Rules() *RuleTable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// SwapRules replaces the active rule table atomically. In-flight calls keep
// evaluating against the table they started with.
func (e *Engine) SwapRules(rules *RuleTable) error {
	if rules == nil {
		return fmt.Errorf("rule table is required")
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	e.logger.Info("rule table swapped", "tables", len(rules.Tables()))
	return nil
}

// Authorize decides whether the caller described by pctx may perform action
// on table. When row is non-nil (update/delete target, or an insert payload)
// the row is additionally checked against the resolved filter.
func (e *Engine) Authorize(pctx PermissionContext, table string, action Action, row Row) *Decision {
	return e.authorize(pctx, table, action, row, false)
}

// Explain is Authorize with a step-by-step trace for telemetry. The trace is
// for logs only, never for end users.
func (e *Engine) Explain(pctx PermissionContext, table string, action Action, row Row) *Decision {
	return e.authorize(pctx, table, action, row, true)
}

func (e *Engine) authorize(pctx PermissionContext, table string, action Action, row Row, includeTrace bool) *Decision {
	if pctx == nil {
		return deny(DenyUnresolvedIdentity)
	}
	role := pctx.Subject().Role

	rules := e.Rules()

	// 1. Rule resolution; unknown tables and unmatched roles deny fast.
	rule, reason := rules.resolve(table, action, role)
	if reason != DenyNone {
		d := deny(reason)
		if includeTrace {
			d.Trace = append(d.Trace, fmt.Sprintf("1. resolve table=%s action=%s role=%s -> %s", table, action, role, reason))
		}
		if reason == DenyUnknownResource {
			// configuration gap, not a caller mistake
			e.logger.Error("authorize on unregistered table",
				"table", table, "action", string(action), "role", string(role), "trace_id", e.traceID())
		} else {
			e.logger.Debug("authorize denied by rule table",
				"table", table, "action", string(action), "role", string(role), "reason", string(reason))
		}
		return d
	}
	// 2. Tenant-level write downgrade gates every write after rule match.
	if action.IsWrite() && pctx.Level() == LevelViewOnly {
		d := deny(DenyInsufficientLevel)
		if includeTrace {
			d.Trace = append(d.Trace,
				fmt.Sprintf("1. rule matched table=%s action=%s role=%s", table, action, role),
				"2. write blocked: context level is view_only")
		}
		return d
	}

	// 3. Compute the row filter from the resolved context. Pure, no I/O.
	var filter *Filter
	if !rule.AllowAll {
		filter = rules.filterFunc(rule.Filter)(pctx)
	}

	// 4. Row check for targeted writes and insert payloads.
	if row != nil && !filter.Match(row) {
		d := deny(DenyRowOutOfScope)
		if includeTrace {
			d.Trace = append(d.Trace,
				fmt.Sprintf("1. rule matched table=%s action=%s role=%s", table, action, role),
				fmt.Sprintf("3. filter=%s", filter),
				"4. target row fails filter")
		}
		return d
	}

	// 5. Allow; the DAL ANDs the filter into the query.
	d := allow(filter)
	if includeTrace {
		d.Trace = append(d.Trace,
			fmt.Sprintf("1. rule matched table=%s action=%s role=%s", table, action, role),
			fmt.Sprintf("3. filter=%s", filter),
			"5. allow")
	}
	return d
}

// AuthorizeIdentity resolves the caller's context and then authorizes in one
// call. Resolution failure of any kind is a deny with unresolved_identity,
// never an assumed default role.
func (e *Engine) AuthorizeIdentity(ctx context.Context, r *Resolver, identity Identity, table string, action Action, row Row) *Decision {
	pctx, err := r.Resolve(ctx, identity)
	if err != nil {
		e.logger.Info("context resolution failed, denying",
			"user", identity.ID, "table", table, "action", string(action), "error", err.Error())
		return deny(DenyUnresolvedIdentity)
	}
	return e.Authorize(pctx, table, action, row)
}

func (e *Engine) traceID() string {
	if e.traceIDFunc != nil {
		return e.traceIDFunc()
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
