package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/fleetgate"
	"github.com/oarkflow/squealx"
)

// SQLDirectory implements fleetgate.Directory over the fleet schema using
// squealx named queries. It also carries the management operations that
// change assignments; callers must invalidate affected contexts afterwards.
type SQLDirectory struct {
	db *squealx.DB
}

func NewSQLDirectory(db *squealx.DB) *SQLDirectory {
	return &SQLDirectory{db: db}
}

func (s *SQLDirectory) Identity(ctx context.Context, userID string) (fleetgate.Identity, error) {
	q := `SELECT id, role, tenant_id FROM users WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": userID})
	if err != nil {
		return fleetgate.Identity{}, err
	}
	defer r.Close()
	if !r.Next() {
		return fleetgate.Identity{}, fmt.Errorf("user not found: %s", userID)
	}
	var id, role, tenant string
	if err := r.Scan(&id, &role, &tenant); err != nil {
		return fleetgate.Identity{}, err
	}
	return fleetgate.Identity{ID: id, Role: fleetgate.Role(role), TenantID: tenant}, nil
}

func (s *SQLDirectory) DriverRelations(ctx context.Context, userID string) (fleetgate.DriverRelations, error) {
	var rel fleetgate.DriverRelations

	manager, err := s.queryOneUser(ctx, `
		SELECT u.id, u.name, u.phone FROM users u
		JOIN driver_assignments da ON da.manager_id = u.id
		WHERE da.driver_id = :id`, userID)
	if err != nil {
		return rel, err
	}
	rel.DirectManager = manager

	rel.Schedulers, err = s.queryUsers(ctx, `
		SELECT u.id, u.name, u.phone FROM users u
		JOIN scheduler_assignments sa ON sa.scheduler_id = u.id
		WHERE sa.driver_id = :id`, userID)
	if err != nil {
		return rel, err
	}

	rel.Boss, err = s.bossOfUser(ctx, userID)
	if err != nil {
		return rel, err
	}

	rel.Warehouses, err = s.queryWarehouses(ctx, `
		SELECT w.id, w.name, w.address FROM warehouses w
		JOIN warehouse_drivers wd ON wd.warehouse_id = w.id
		WHERE wd.driver_id = :id`, userID)
	return rel, err
}

func (s *SQLDirectory) ManagedResources(ctx context.Context, managerID string) (fleetgate.ManagedResources, error) {
	var res fleetgate.ManagedResources
	var err error

	res.Warehouses, err = s.queryWarehouses(ctx, `
		SELECT w.id, w.name, w.address FROM warehouses w
		JOIN warehouse_managers wm ON wm.warehouse_id = w.id
		WHERE wm.manager_id = :id`, managerID)
	if err != nil {
		return res, err
	}

	res.Drivers, err = s.queryUsers(ctx, `
		SELECT u.id, u.name, u.phone FROM users u
		JOIN driver_assignments da ON da.driver_id = u.id
		WHERE da.manager_id = :id`, managerID)
	if err != nil {
		return res, err
	}

	res.Schedulers, err = s.queryUsers(ctx, `
		SELECT DISTINCT u.id, u.name, u.phone FROM users u
		JOIN warehouse_schedulers ws ON ws.scheduler_id = u.id
		JOIN warehouse_managers wm ON wm.warehouse_id = ws.warehouse_id
		WHERE wm.manager_id = :id`, managerID)
	if err != nil {
		return res, err
	}

	res.Boss, err = s.bossOfUser(ctx, managerID)
	return res, err
}

func (s *SQLDirectory) ScheduledResources(ctx context.Context, schedulerID string) (fleetgate.ScheduledResources, error) {
	var res fleetgate.ScheduledResources
	var err error

	res.Warehouses, err = s.queryWarehouses(ctx, `
		SELECT w.id, w.name, w.address FROM warehouses w
		JOIN warehouse_schedulers ws ON ws.warehouse_id = w.id
		WHERE ws.scheduler_id = :id`, schedulerID)
	if err != nil {
		return res, err
	}

	res.Drivers, err = s.queryUsers(ctx, `
		SELECT u.id, u.name, u.phone FROM users u
		JOIN scheduler_assignments sa ON sa.driver_id = u.id
		WHERE sa.scheduler_id = :id`, schedulerID)
	if err != nil {
		return res, err
	}

	res.Vehicles, err = s.queryVehicles(ctx, `
		SELECT v.id, v.plate_number FROM vehicles v
		JOIN vehicle_schedules vs ON vs.vehicle_id = v.id
		WHERE vs.scheduler_id = :id`, schedulerID)
	if err != nil {
		return res, err
	}

	res.Boss, err = s.bossOfUser(ctx, schedulerID)
	return res, err
}

// TenantSettings returns the tenant toggles. A missing row reads as
// manager permissions disabled.
func (s *SQLDirectory) TenantSettings(ctx context.Context, tenantID string) (fleetgate.TenantSettings, error) {
	q := `SELECT manager_permissions_enabled FROM tenant_settings WHERE tenant_id = :tenant_id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return fleetgate.TenantSettings{}, err
	}
	defer r.Close()
	if !r.Next() {
		return fleetgate.TenantSettings{ManagerPermissionsEnabled: false}, nil
	}
	var enabled int
	if err := r.Scan(&enabled); err != nil {
		return fleetgate.TenantSettings{}, err
	}
	return fleetgate.TenantSettings{ManagerPermissionsEnabled: intToBool(enabled)}, nil
}

// AdminLevel reads the peer-admin strategy. A peer admin without an explicit
// strategy row is view-only.
func (s *SQLDirectory) AdminLevel(ctx context.Context, userID string) (fleetgate.Level, error) {
	q := `SELECT permission_level FROM permission_strategies WHERE user_id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": userID})
	if err != nil {
		return "", err
	}
	defer r.Close()
	if !r.Next() {
		return fleetgate.LevelViewOnly, nil
	}
	var level string
	if err := r.Scan(&level); err != nil {
		return "", err
	}
	switch fleetgate.Level(level) {
	case fleetgate.LevelFullControl, fleetgate.LevelViewOnly:
		return fleetgate.Level(level), nil
	}
	return "", fmt.Errorf("invalid permission level %q for user %s", level, userID)
}

func (s *SQLDirectory) ResourceSummary(ctx context.Context, tenantID string) (*fleetgate.ResourceSummary, error) {
	q := `SELECT
		(SELECT COUNT(*) FROM warehouses WHERE tenant_id = :tenant_id),
		(SELECT COUNT(*) FROM users WHERE tenant_id = :tenant_id AND role = 'DRIVER'),
		(SELECT COUNT(*) FROM users WHERE tenant_id = :tenant_id AND role = 'MANAGER'),
		(SELECT COUNT(*) FROM vehicles WHERE tenant_id = :tenant_id)`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"tenant_id": tenantID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	sum := &fleetgate.ResourceSummary{}
	if err := r.Scan(&sum.TotalWarehouses, &sum.TotalDrivers, &sum.TotalManagers, &sum.TotalVehicles); err != nil {
		return nil, err
	}
	return sum, nil
}

// ============================================================================
// MANAGEMENT OPERATIONS
// ============================================================================

func (s *SQLDirectory) CreateUser(ctx context.Context, id, tenantID string, role fleetgate.Role, name, phone string) error {
	q := `INSERT INTO users(id, tenant_id, role, name, phone, created_at) VALUES(:id, :tenant_id, :role, :name, :phone, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": id, "tenant_id": tenantID, "role": string(role),
		"name": name, "phone": phone, "created_at": time.Now(),
	})
	return err
}

func (s *SQLDirectory) AssignDriverToManager(ctx context.Context, driverID, managerID string) error {
	q := `INSERT INTO driver_assignments(driver_id, manager_id, assigned_at) VALUES(:driver_id, :manager_id, :assigned_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"driver_id": driverID, "manager_id": managerID, "assigned_at": time.Now(),
	})
	return err
}

func (s *SQLDirectory) AssignDriverToScheduler(ctx context.Context, driverID, schedulerID string) error {
	q := `INSERT INTO scheduler_assignments(driver_id, scheduler_id, assigned_at) VALUES(:driver_id, :scheduler_id, :assigned_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"driver_id": driverID, "scheduler_id": schedulerID, "assigned_at": time.Now(),
	})
	return err
}

func (s *SQLDirectory) AssignWarehouseManager(ctx context.Context, warehouseID, managerID string) error {
	q := `INSERT INTO warehouse_managers(warehouse_id, manager_id) VALUES(:warehouse_id, :manager_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"warehouse_id": warehouseID, "manager_id": managerID,
	})
	return err
}

func (s *SQLDirectory) AssignWarehouseDriver(ctx context.Context, warehouseID, driverID string) error {
	q := `INSERT INTO warehouse_drivers(warehouse_id, driver_id) VALUES(:warehouse_id, :driver_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"warehouse_id": warehouseID, "driver_id": driverID,
	})
	return err
}

func (s *SQLDirectory) AssignWarehouseScheduler(ctx context.Context, warehouseID, schedulerID string) error {
	q := `INSERT INTO warehouse_schedulers(warehouse_id, scheduler_id) VALUES(:warehouse_id, :scheduler_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"warehouse_id": warehouseID, "scheduler_id": schedulerID,
	})
	return err
}

func (s *SQLDirectory) CreateWarehouse(ctx context.Context, id, tenantID, name, address string) error {
	q := `INSERT INTO warehouses(id, tenant_id, name, address) VALUES(:id, :tenant_id, :name, :address)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": id, "tenant_id": tenantID, "name": name, "address": address,
	})
	return err
}

func (s *SQLDirectory) CreateVehicle(ctx context.Context, id, tenantID, plateNumber string) error {
	q := `INSERT INTO vehicles(id, tenant_id, plate_number) VALUES(:id, :tenant_id, :plate_number)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": id, "tenant_id": tenantID, "plate_number": plateNumber,
	})
	return err
}

func (s *SQLDirectory) ScheduleVehicle(ctx context.Context, vehicleID, schedulerID string) error {
	q := `INSERT INTO vehicle_schedules(vehicle_id, scheduler_id) VALUES(:vehicle_id, :scheduler_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"vehicle_id": vehicleID, "scheduler_id": schedulerID,
	})
	return err
}

func (s *SQLDirectory) SetTenantSettings(ctx context.Context, tenantID string, settings fleetgate.TenantSettings) error {
	q := `INSERT INTO tenant_settings(tenant_id, manager_permissions_enabled, updated_at)
	      VALUES(:tenant_id, :enabled, :updated_at)
	      ON CONFLICT(tenant_id) DO UPDATE SET manager_permissions_enabled = :enabled, updated_at = :updated_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"tenant_id": tenantID,
		"enabled":   boolToInt(settings.ManagerPermissionsEnabled),
		"updated_at": time.Now(),
	})
	return err
}

// AdminStrategy is one peer-admin permission grant.
type AdminStrategy struct {
	UserID    string
	Level     fleetgate.Level
	GrantedBy string
	GrantedAt time.Time
	Notes     string
}

func (s *SQLDirectory) GrantAdminLevel(ctx context.Context, userID string, level fleetgate.Level, grantedBy, notes string) error {
	q := `INSERT INTO permission_strategies(user_id, permission_level, granted_by, granted_at, notes)
	      VALUES(:user_id, :level, :granted_by, :granted_at, :notes)
	      ON CONFLICT(user_id) DO UPDATE SET permission_level = :level, granted_by = :granted_by, granted_at = :granted_at, notes = :notes`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"user_id": userID, "level": string(level),
		"granted_by": grantedBy, "granted_at": time.Now(), "notes": notes,
	})
	return err
}

func (s *SQLDirectory) RevokeAdminLevel(ctx context.Context, userID string) error {
	q := `DELETE FROM permission_strategies WHERE user_id = :user_id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"user_id": userID})
	return err
}

func (s *SQLDirectory) GetAdminStrategy(ctx context.Context, userID string) (*AdminStrategy, error) {
	q := `SELECT user_id, permission_level, granted_by, granted_at, notes FROM permission_strategies WHERE user_id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": userID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("no permission strategy for user %s", userID)
	}
	var st AdminStrategy
	var level string
	var grantedRaw any
	var notes *string
	if err := r.Scan(&st.UserID, &level, &st.GrantedBy, &grantedRaw, &notes); err != nil {
		return nil, err
	}
	st.Level = fleetgate.Level(level)
	if st.GrantedAt, err = parseFlexibleTime(grantedRaw); err != nil {
		return nil, err
	}
	if notes != nil {
		st.Notes = *notes
	}
	return &st, nil
}

// ============================================================================
// QUERY HELPERS
// ============================================================================

func (s *SQLDirectory) bossOfUser(ctx context.Context, userID string) (*fleetgate.UserRef, error) {
	return s.queryOneUser(ctx, `
		SELECT b.id, b.name, b.phone FROM users b
		WHERE b.role = 'BOSS' AND b.tenant_id = (SELECT tenant_id FROM users WHERE id = :id)`, userID)
}

func (s *SQLDirectory) queryOneUser(ctx context.Context, q, id string) (*fleetgate.UserRef, error) {
	users, err := s.queryUsers(ctx, q, id)
	if err != nil || len(users) == 0 {
		return nil, err
	}
	u := users[0]
	return &u, nil
}

func (s *SQLDirectory) queryUsers(ctx context.Context, q, id string) ([]fleetgate.UserRef, error) {
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]fleetgate.UserRef, 0)
	for r.Next() {
		var u fleetgate.UserRef
		if err := r.Scan(&u.ID, &u.Name, &u.Phone); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *SQLDirectory) queryWarehouses(ctx context.Context, q, id string) ([]fleetgate.WarehouseRef, error) {
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]fleetgate.WarehouseRef, 0)
	for r.Next() {
		var w fleetgate.WarehouseRef
		if err := r.Scan(&w.ID, &w.Name, &w.Address); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *SQLDirectory) queryVehicles(ctx context.Context, q, id string) ([]fleetgate.VehicleRef, error) {
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]fleetgate.VehicleRef, 0)
	for r.Next() {
		var v fleetgate.VehicleRef
		if err := r.Scan(&v.ID, &v.PlateNumber); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
