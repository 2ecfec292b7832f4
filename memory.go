package fleetgate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY COLLABORATORS (for tests and demonstration)
// ============================================================================

// MemoryDirectory is an in-memory Directory.
type MemoryDirectory struct {
	mu         sync.RWMutex
	identities map[string]Identity
	drivers    map[string]DriverRelations
	managers   map[string]ManagedResources
	schedulers map[string]ScheduledResources
	tenants    map[string]TenantSettings
	admins     map[string]Level
	summaries  map[string]*ResourceSummary
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		identities: make(map[string]Identity),
		drivers:    make(map[string]DriverRelations),
		managers:   make(map[string]ManagedResources),
		schedulers: make(map[string]ScheduledResources),
		tenants:    make(map[string]TenantSettings),
		admins:     make(map[string]Level),
		summaries:  make(map[string]*ResourceSummary),
	}
}

func (m *MemoryDirectory) SetIdentity(id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[id.ID] = id
}

func (m *MemoryDirectory) SetDriverRelations(userID string, rel DriverRelations) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[userID] = rel
}

func (m *MemoryDirectory) SetManagedResources(userID string, res ManagedResources) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.managers[userID] = res
}

func (m *MemoryDirectory) SetScheduledResources(userID string, res ScheduledResources) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedulers[userID] = res
}

func (m *MemoryDirectory) SetTenantSettings(tenantID string, settings TenantSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants[tenantID] = settings
}

func (m *MemoryDirectory) SetAdminLevel(userID string, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[userID] = level
}

func (m *MemoryDirectory) SetResourceSummary(tenantID string, sum *ResourceSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[tenantID] = sum
}

func (m *MemoryDirectory) Identity(ctx context.Context, userID string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identities[userID]
	if !ok {
		return Identity{}, fmt.Errorf("user not found: %s", userID)
	}
	return id, nil
}

func (m *MemoryDirectory) DriverRelations(ctx context.Context, userID string) (DriverRelations, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.drivers[userID], nil
}

func (m *MemoryDirectory) ManagedResources(ctx context.Context, managerID string) (ManagedResources, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.managers[managerID], nil
}

func (m *MemoryDirectory) ScheduledResources(ctx context.Context, schedulerID string) (ScheduledResources, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schedulers[schedulerID], nil
}

func (m *MemoryDirectory) TenantSettings(ctx context.Context, tenantID string) (TenantSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tenants[tenantID], nil
}

// AdminLevel defaults to view_only for admins without an explicit grant.
func (m *MemoryDirectory) AdminLevel(ctx context.Context, userID string) (Level, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if level, ok := m.admins[userID]; ok {
		return level, nil
	}
	return LevelViewOnly, nil
}

func (m *MemoryDirectory) ResourceSummary(ctx context.Context, tenantID string) (*ResourceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summaries[tenantID], nil
}

// MemoryContextCache is an in-process ContextCache, useful to exercise the
// shared-cache path without Redis.
type MemoryContextCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

type memoryCacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryContextCache() *MemoryContextCache {
	return &MemoryContextCache{entries: make(map[string]memoryCacheEntry)}
}

func (c *MemoryContextCache) GetContext(ctx context.Context, userID string) (PermissionContext, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && time.Now().After(e.expiresAt)) {
		return nil, false, nil
	}
	pctx, err := DecodeContext(e.data)
	if err != nil {
		return nil, false, err
	}
	return pctx, true, nil
}

func (c *MemoryContextCache) SetContext(ctx context.Context, userID string, pctx PermissionContext, ttl time.Duration) error {
	data, err := EncodeContext(pctx)
	if err != nil {
		return err
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[userID] = memoryCacheEntry{data: data, expiresAt: expires}
	c.mu.Unlock()
	return nil
}

func (c *MemoryContextCache) DeleteContext(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	return nil
}
