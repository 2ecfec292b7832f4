package fleetgate

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedDirectory() *MemoryDirectory {
	dir := NewMemoryDirectory()
	dir.SetIdentity(Identity{ID: "d1", Role: RoleDriver, TenantID: "t1"})
	dir.SetDriverRelations("d1", DriverRelations{
		DirectManager: &UserRef{ID: "m1", Name: "Manager One"},
		Boss:          &UserRef{ID: "b1", Name: "Boss"},
	})
	dir.SetIdentity(Identity{ID: "m1", Role: RoleManager, TenantID: "t1"})
	dir.SetManagedResources("m1", ManagedResources{
		Drivers:    []UserRef{{ID: "d1"}, {ID: "d2"}},
		Warehouses: []WarehouseRef{{ID: "w1", Name: "North"}},
	})
	dir.SetIdentity(Identity{ID: "s1", Role: RoleScheduler, TenantID: "t1"})
	dir.SetScheduledResources("s1", ScheduledResources{
		Drivers:  []UserRef{{ID: "d1"}},
		Vehicles: []VehicleRef{{ID: "v1", PlateNumber: "AB-1234"}},
	})
	dir.SetIdentity(Identity{ID: "b1", Role: RoleBoss, TenantID: "t1"})
	dir.SetIdentity(Identity{ID: "a1", Role: RolePeerAdmin, TenantID: "t1"})
	return dir
}

// uncached resolver for tests about resolution semantics only
func newUncachedResolver(t *testing.T, dir Directory) *Resolver {
	t.Helper()
	r, err := NewResolver(dir, WithContextCacheTTL(0))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return r
}

func TestResolveDriver(t *testing.T) {
	dir := seedDirectory()
	r := newUncachedResolver(t, dir)

	pctx, err := r.Resolve(context.Background(), Identity{ID: "d1", Role: RoleDriver, TenantID: "t1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	dc, ok := pctx.(*DriverContext)
	if !ok {
		t.Fatalf("expected DriverContext, got %T", pctx)
	}
	if dc.Mode() != ModeOwnDataOnly || dc.Level() != LevelFullControl {
		t.Fatalf("driver context has wrong shape: mode=%s level=%s", dc.Mode(), dc.Level())
	}
	if dc.DirectManager == nil || dc.DirectManager.ID != "m1" {
		t.Fatalf("expected direct manager m1, got %+v", dc.DirectManager)
	}
}

func TestResolveManagerLevelFollowsTenantFlag(t *testing.T) {
	dir := seedDirectory()
	r := newUncachedResolver(t, dir)
	identity := Identity{ID: "m1", Role: RoleManager, TenantID: "t1"}

	// no settings row reads as disabled
	pctx, err := r.Resolve(context.Background(), identity)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pctx.Level() != LevelViewOnly {
		t.Fatalf("missing tenant settings must downgrade manager to view_only, got %s", pctx.Level())
	}

	dir.SetTenantSettings("t1", TenantSettings{ManagerPermissionsEnabled: true})
	pctx, err = r.Resolve(context.Background(), identity)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pctx.Level() != LevelFullControl {
		t.Fatalf("enabled flag should grant full_control, got %s", pctx.Level())
	}
	mc := pctx.(*ManagerContext)
	if len(mc.ManagedDrivers) != 2 {
		t.Fatalf("expected two managed drivers, got %d", len(mc.ManagedDrivers))
	}
}

func TestResolveSchedulerLevelFollowsTenantFlag(t *testing.T) {
	dir := seedDirectory()
	dir.SetTenantSettings("t1", TenantSettings{ManagerPermissionsEnabled: true})
	r := newUncachedResolver(t, dir)

	pctx, err := r.Resolve(context.Background(), Identity{ID: "s1", Role: RoleScheduler, TenantID: "t1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	sc, ok := pctx.(*SchedulerContext)
	if !ok {
		t.Fatalf("expected SchedulerContext, got %T", pctx)
	}
	if sc.Level() != LevelFullControl || len(sc.RelatedVehicles) != 1 {
		t.Fatalf("scheduler context wrong: level=%s vehicles=%d", sc.Level(), len(sc.RelatedVehicles))
	}
}

func TestResolveAdminLevels(t *testing.T) {
	dir := seedDirectory()
	dir.SetResourceSummary("t1", &ResourceSummary{TotalDrivers: 2, TotalWarehouses: 1})
	r := newUncachedResolver(t, dir)

	boss, err := r.Resolve(context.Background(), Identity{ID: "b1", Role: RoleBoss, TenantID: "t1"})
	if err != nil {
		t.Fatalf("resolve boss: %v", err)
	}
	if boss.Level() != LevelFullControl {
		t.Fatalf("boss is always full control, got %s", boss.Level())
	}
	ac := boss.(*AdminContext)
	if ac.Summary == nil || ac.Summary.TotalDrivers != 2 {
		t.Fatalf("expected resource summary on admin context, got %+v", ac.Summary)
	}

	// peer admin without an explicit grant is view_only
	peer, err := r.Resolve(context.Background(), Identity{ID: "a1", Role: RolePeerAdmin, TenantID: "t1"})
	if err != nil {
		t.Fatalf("resolve peer admin: %v", err)
	}
	if peer.Level() != LevelViewOnly {
		t.Fatalf("ungranted peer admin must be view_only, got %s", peer.Level())
	}

	dir.SetAdminLevel("a1", LevelFullControl)
	peer, err = r.Resolve(context.Background(), Identity{ID: "a1", Role: RolePeerAdmin, TenantID: "t1"})
	if err != nil {
		t.Fatalf("resolve peer admin: %v", err)
	}
	if peer.Level() != LevelFullControl {
		t.Fatalf("granted peer admin should be full control, got %s", peer.Level())
	}
}

func TestResolveLooksUpRoleWhenMissing(t *testing.T) {
	dir := seedDirectory()
	r := newUncachedResolver(t, dir)

	pctx, err := r.Resolve(context.Background(), Identity{ID: "d1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pctx.Subject().Role != RoleDriver {
		t.Fatalf("expected the directory role, got %s", pctx.Subject().Role)
	}
}

func TestResolveFailures(t *testing.T) {
	dir := seedDirectory()
	r := newUncachedResolver(t, dir)

	if _, err := r.Resolve(context.Background(), Identity{}); !errors.Is(err, ErrUnresolvedIdentity) {
		t.Fatalf("empty id must be unresolved, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), Identity{ID: "ghost"}); !errors.Is(err, ErrUnresolvedIdentity) {
		t.Fatalf("unknown user must be unresolved, got %v", err)
	}
	if _, err := r.Resolve(context.Background(), Identity{ID: "d1", Role: "INTERN"}); !errors.Is(err, ErrUnresolvedIdentity) {
		t.Fatalf("unknown role must be unresolved, got %v", err)
	}
}

func TestSharedCacheServesResolvedContexts(t *testing.T) {
	dir := seedDirectory()
	dir.SetTenantSettings("t1", TenantSettings{ManagerPermissionsEnabled: true})
	shared := NewMemoryContextCache()

	r1, err := NewResolver(dir, WithSharedContextCache(shared), WithContextCacheTTL(time.Minute))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	identity := Identity{ID: "m1", Role: RoleManager, TenantID: "t1"}
	if _, err := r1.Resolve(context.Background(), identity); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok, _ := shared.GetContext(context.Background(), "m1"); !ok {
		t.Fatalf("resolve should populate the shared cache")
	}

	// a different process (fresh local cache) sees the cached context even
	// after the directory changed
	dir.SetTenantSettings("t1", TenantSettings{ManagerPermissionsEnabled: false})
	r2, err := NewResolver(dir, WithSharedContextCache(shared), WithContextCacheTTL(time.Minute))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	pctx, err := r2.Resolve(context.Background(), identity)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pctx.Level() != LevelFullControl {
		t.Fatalf("expected the cached (pre-toggle) context, got level=%s", pctx.Level())
	}

	// invalidation drops the shared entry; the next resolve sees the toggle
	r2.Invalidate(context.Background(), "m1")
	if _, ok, _ := shared.GetContext(context.Background(), "m1"); ok {
		t.Fatalf("invalidate must drop the shared entry")
	}
	r3, err := NewResolver(dir, WithSharedContextCache(shared), WithContextCacheTTL(time.Minute))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	pctx, err = r3.Resolve(context.Background(), identity)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if pctx.Level() != LevelViewOnly {
		t.Fatalf("post-invalidation resolve must see the disabled flag, got %s", pctx.Level())
	}
}

func TestSharedCacheRoleMismatchBypassed(t *testing.T) {
	dir := seedDirectory()
	shared := NewMemoryContextCache()

	// seed a stale driver context for a user who is now a manager
	stale := driverCtx("m1")
	if err := shared.SetContext(context.Background(), "m1", stale, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r, err := NewResolver(dir, WithSharedContextCache(shared), WithContextCacheTTL(time.Minute))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	pctx, err := r.Resolve(context.Background(), Identity{ID: "m1", Role: RoleManager, TenantID: "t1"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := pctx.(*ManagerContext); !ok {
		t.Fatalf("stale cached role must be ignored, got %T", pctx)
	}
}

func TestCancelledResolutionNotCached(t *testing.T) {
	dir := seedDirectory()
	shared := NewMemoryContextCache()
	r, err := NewResolver(dir, WithSharedContextCache(shared), WithContextCacheTTL(time.Minute))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, Identity{ID: "d1", Role: RoleDriver, TenantID: "t1"}); !errors.Is(err, ErrUnresolvedIdentity) {
		t.Fatalf("cancelled resolution must fail unresolved, got %v", err)
	}
	if _, ok, _ := shared.GetContext(context.Background(), "d1"); ok {
		t.Fatalf("a cancelled resolution must never be cached")
	}
}

func TestMemoryContextCacheTTL(t *testing.T) {
	c := NewMemoryContextCache()
	if err := c.SetContext(context.Background(), "u1", driverCtx("u1"), time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := c.GetContext(context.Background(), "u1"); ok {
		t.Fatalf("expired entry must read as a miss")
	}
}
