package fleetgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/fleetgate/logger"
)

// ErrUnresolvedIdentity is returned whenever a context cannot be resolved:
// unknown role, missing provisioning, directory failure or timeout. Callers
// must treat it as "no permissions".
var ErrUnresolvedIdentity = errors.New("fleetgate: unresolved identity")

// ============================================================================
// DIRECTORY (external persistence collaborator)
// ============================================================================

// DriverRelations are the assignment relationships of a driver account.
type DriverRelations struct {
	DirectManager *UserRef
	Schedulers    []UserRef
	Boss          *UserRef
	Warehouses    []WarehouseRef
}

// ManagedResources are the resources assigned to a manager account.
type ManagedResources struct {
	Warehouses []WarehouseRef
	Drivers    []UserRef
	Schedulers []UserRef
	Boss       *UserRef
}

// ScheduledResources are the resources assigned to a scheduler account.
type ScheduledResources struct {
	Warehouses []WarehouseRef
	Drivers    []UserRef
	Vehicles   []VehicleRef
	Boss       *UserRef
}

// TenantSettings are tenant-level toggles read by the resolver.
type TenantSettings struct {
	// ManagerPermissionsEnabled gates manager writes tenant-wide. A missing
	// settings row reads as disabled (fail-closed).
	ManagerPermissionsEnabled bool
}

// Directory is the read-only view of the external persistence store the
// resolver needs: assignment relations and tenant settings. Implementations
// live in the stores package; tests use the in-memory one.
type Directory interface {
	Identity(ctx context.Context, userID string) (Identity, error)
	DriverRelations(ctx context.Context, userID string) (DriverRelations, error)
	ManagedResources(ctx context.Context, managerID string) (ManagedResources, error)
	ScheduledResources(ctx context.Context, schedulerID string) (ScheduledResources, error)
	TenantSettings(ctx context.Context, tenantID string) (TenantSettings, error)
	// AdminLevel reports the provisioned permission level for an admin
	// account (peer-admin strategy). BOSS is always full control.
	AdminLevel(ctx context.Context, userID string) (Level, error)
	// ResourceSummary may return (nil, nil) when the store does not keep
	// tenant-wide counts.
	ResourceSummary(ctx context.Context, tenantID string) (*ResourceSummary, error)
}

// ContextCache is an optional shared (cross-process) cache of resolved
// contexts, keyed by user ID. The Redis implementation lives in stores.
type ContextCache interface {
	GetContext(ctx context.Context, userID string) (PermissionContext, bool, error)
	SetContext(ctx context.Context, userID string, pctx PermissionContext, ttl time.Duration) error
	DeleteContext(ctx context.Context, userID string) error
}

// ============================================================================
// RESOLVER
// ============================================================================

// Resolver computes PermissionContexts from authenticated identities. A
// resolved context may be cached per user for the session window; it is
// invalidated explicitly on role, tenant-flag or assignment changes.
type Resolver struct {
	dir      Directory
	local    *ristretto.Cache
	shared   ContextCache
	cacheTTL time.Duration
	logger   logger.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver) error

// WithContextCacheTTL sets the session cache window. Zero disables caching.
func WithContextCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) error {
		r.cacheTTL = ttl
		return nil
	}
}

// WithSharedContextCache installs a shared cache (e.g. Redis) consulted
// after the local one.
func WithSharedContextCache(c ContextCache) ResolverOption {
	return func(r *Resolver) error {
		r.shared = c
		return nil
	}
}

// WithResolverLogger installs a Logger on the Resolver.
func WithResolverLogger(l logger.Logger) ResolverOption {
	return func(r *Resolver) error {
		r.logger = l
		return nil
	}
}

// WithRistrettoConfig sizes the local context cache.
func WithRistrettoConfig(numCounters, maxCost, bufferItems int64) ResolverOption {
	return func(r *Resolver) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("context cache: %w", err)
		}
		r.local = cache
		return nil
	}
}

func NewResolver(dir Directory, opts ...ResolverOption) (*Resolver, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory is required")
	}
	r := &Resolver{
		dir:      dir,
		cacheTTL: 5 * time.Minute,
		logger:   logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	if r.local == nil {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1 << 14,
			MaxCost:     1 << 20,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("context cache: %w", err)
		}
		r.local = cache
	}
	return r, nil
}

// Resolve computes (or returns the cached) PermissionContext for identity.
// Every failure path resolves to ErrUnresolvedIdentity: the caller denies,
// it never assumes a default role. Partial results from a cancelled request
// are not cached.
func (r *Resolver) Resolve(ctx context.Context, identity Identity) (PermissionContext, error) {
	if identity.ID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrUnresolvedIdentity)
	}
	role := identity.Role
	if role == "" {
		// not yet provisioned in the session token, ask the directory
		resolved, err := r.dir.Identity(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvedIdentity, err)
		}
		identity = resolved
		role = identity.Role
	}
	if _, ok := ScopeOf(role); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrUnresolvedIdentity, role)
	}

	if r.cacheTTL > 0 {
		if cached, ok := r.local.Get(identity.ID); ok {
			if pctx, ok := cached.(PermissionContext); ok && pctx.Subject().Role == role {
				return pctx, nil
			}
		}
		if r.shared != nil {
			pctx, ok, err := r.shared.GetContext(ctx, identity.ID)
			if err == nil && ok && pctx.Subject().Role == role {
				r.local.SetWithTTL(identity.ID, pctx, 1, r.cacheTTL)
				return pctx, nil
			}
			if err != nil {
				r.logger.Debug("shared context cache read failed", "user", identity.ID, "error", err.Error())
			}
		}
	}

	pctx, err := r.load(ctx, identity)
	if err != nil {
		return nil, err
	}
	// never cache a context whose load raced a cancellation
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnresolvedIdentity, ctx.Err())
	}
	if r.cacheTTL > 0 {
		r.local.SetWithTTL(identity.ID, pctx, 1, r.cacheTTL)
		if r.shared != nil {
			if err := r.shared.SetContext(ctx, identity.ID, pctx, r.cacheTTL); err != nil {
				r.logger.Debug("shared context cache write failed", "user", identity.ID, "error", err.Error())
			}
		}
	}
	return pctx, nil
}

func (r *Resolver) load(ctx context.Context, identity Identity) (PermissionContext, error) {
	switch identity.Role {
	case RoleDriver:
		rel, err := r.dir.DriverRelations(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: driver relations: %v", ErrUnresolvedIdentity, err)
		}
		return &DriverContext{
			User:          identity,
			DirectManager: rel.DirectManager,
			Schedulers:    rel.Schedulers,
			Boss:          rel.Boss,
			Warehouses:    rel.Warehouses,
		}, nil

	case RoleManager:
		res, err := r.dir.ManagedResources(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: managed resources: %v", ErrUnresolvedIdentity, err)
		}
		settings, err := r.dir.TenantSettings(ctx, identity.TenantID)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant settings: %v", ErrUnresolvedIdentity, err)
		}
		lvl := LevelFullControl
		if !settings.ManagerPermissionsEnabled {
			lvl = LevelViewOnly
		}
		return &ManagerContext{
			User:              identity,
			Lvl:               lvl,
			ManagedWarehouses: res.Warehouses,
			ManagedDrivers:    res.Drivers,
			Schedulers:        res.Schedulers,
			Boss:              res.Boss,
		}, nil

	case RoleScheduler:
		res, err := r.dir.ScheduledResources(ctx, identity.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: scheduled resources: %v", ErrUnresolvedIdentity, err)
		}
		settings, err := r.dir.TenantSettings(ctx, identity.TenantID)
		if err != nil {
			return nil, fmt.Errorf("%w: tenant settings: %v", ErrUnresolvedIdentity, err)
		}
		lvl := LevelFullControl
		if !settings.ManagerPermissionsEnabled {
			lvl = LevelViewOnly
		}
		return &SchedulerContext{
			User:              identity,
			Lvl:               lvl,
			ManagedWarehouses: res.Warehouses,
			RelatedDrivers:    res.Drivers,
			RelatedVehicles:   res.Vehicles,
			Boss:              res.Boss,
		}, nil

	case RoleBoss, RolePeerAdmin:
		lvl := LevelFullControl
		if identity.Role == RolePeerAdmin {
			l, err := r.dir.AdminLevel(ctx, identity.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: admin level: %v", ErrUnresolvedIdentity, err)
			}
			lvl = l
		}
		summary, err := r.dir.ResourceSummary(ctx, identity.TenantID)
		if err != nil {
			// counts are a UI nicety, not a permission input
			r.logger.Debug("resource summary unavailable", "tenant", identity.TenantID, "error", err.Error())
			summary = nil
		}
		return &AdminContext{User: identity, Lvl: lvl, Summary: summary}, nil
	}
	return nil, fmt.Errorf("%w: unknown role %q", ErrUnresolvedIdentity, identity.Role)
}

// Invalidate drops any cached context for userID. Must be called on role
// change, tenant-flag change, warehouse-assignment change and logout.
func (r *Resolver) Invalidate(ctx context.Context, userID string) {
	r.local.Del(userID)
	if r.shared != nil {
		if err := r.shared.DeleteContext(ctx, userID); err != nil {
			r.logger.Error("shared context cache invalidation failed", "user", userID, "error", err.Error())
		}
	}
	r.logger.Debug("context invalidated", "user", userID)
}

// InvalidateAll drops every locally cached context, e.g. after a tenant-wide
// settings change. Shared caches are invalidated per user by the caller that
// knows the affected set.
func (r *Resolver) InvalidateAll() {
	r.local.Clear()
}
