package server

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// EmployeeDeviceLink maps a clock terminal's user id onto an employee.
// Punches synced from a device only resolve to an employee through an
// active link; unknown device users surface here as pending rows.
type EmployeeDeviceLink struct {
	TenantID     string    `json:"tenant_id"`
	Provider     string    `json:"provider"`
	DeviceUserID string    `json:"device_user_id"`
	Status       string    `json:"status"`
	EmployeeID   *string   `json:"employee_id"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	LastSeenAt   time.Time `json:"last_seen_at"`
	SeenCount    int64     `json:"seen_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func normalizeDeviceProvider(raw string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(raw))
	switch p {
	case "ZKTECO", "DEVICE":
		return p, nil
	default:
		return "", errors.New("provider must be ZKTECO|DEVICE")
	}
}

func normalizeDeviceUserID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", errors.New("device_user_id is required")
	}
	return id, nil
}

func (s *timeclockPGStore) ListDeviceLinks(ctx context.Context, tenantID string, limit int) ([]EmployeeDeviceLink, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}

	rows, err := tx.Query(ctx, `
SELECT
  tenant_id::text,
  provider,
  device_user_id,
  status,
  employee_id::text,
  first_seen_at,
  last_seen_at,
  seen_count,
  created_at,
  updated_at
FROM timeclock.device_links
WHERE tenant_id = $1::uuid
ORDER BY last_seen_at DESC
LIMIT $2
`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EmployeeDeviceLink
	for rows.Next() {
		var l EmployeeDeviceLink
		var employeeID *string
		if err := rows.Scan(&l.TenantID, &l.Provider, &l.DeviceUserID, &l.Status, &employeeID, &l.FirstSeenAt, &l.LastSeenAt, &l.SeenCount, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		l.EmployeeID = employeeID
		l.FirstSeenAt = l.FirstSeenAt.UTC()
		l.LastSeenAt = l.LastSeenAt.UTC()
		l.CreatedAt = l.CreatedAt.UTC()
		l.UpdatedAt = l.UpdatedAt.UTC()
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *timeclockPGStore) LinkDevice(ctx context.Context, tenantID string, provider string, deviceUserID string, employeeID string) error {
	provider, err := normalizeDeviceProvider(provider)
	if err != nil {
		return newBadRequestError(err.Error())
	}
	deviceUserID, err = normalizeDeviceUserID(deviceUserID)
	if err != nil {
		return newBadRequestError(err.Error())
	}
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return newBadRequestError("employee_id is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO timeclock.device_links (
  tenant_id, provider, device_user_id, status, employee_id,
  first_seen_at, last_seen_at, seen_count, created_at, updated_at
) VALUES (
  $1::uuid, $2, $3, 'active', $4::uuid,
  now(), now(), 0, now(), now()
)
ON CONFLICT (tenant_id, provider, device_user_id) DO UPDATE SET
  status = 'active',
  employee_id = EXCLUDED.employee_id,
  updated_at = now()
`, tenantID, provider, deviceUserID, employeeID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *timeclockPGStore) UnlinkDevice(ctx context.Context, tenantID string, provider string, deviceUserID string) error {
	provider, err := normalizeDeviceProvider(provider)
	if err != nil {
		return newBadRequestError(err.Error())
	}
	deviceUserID, err = normalizeDeviceUserID(deviceUserID)
	if err != nil {
		return newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
UPDATE timeclock.device_links
SET status = 'pending',
    employee_id = NULL,
    updated_at = now()
WHERE tenant_id = $1::uuid
  AND provider = $2
  AND device_user_id = $3
  AND status = 'active'
`, tenantID, provider, deviceUserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("device link not found (or not active)")
	}

	return tx.Commit(ctx)
}

func (s *timeclockMemoryStore) linkKey(tenantID, provider, deviceUserID string) string {
	return tenantID + "|" + provider + "|" + deviceUserID
}

func (s *timeclockMemoryStore) ListDeviceLinks(_ context.Context, tenantID string, limit int) ([]EmployeeDeviceLink, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	var out []EmployeeDeviceLink
	for key, l := range s.links {
		if !strings.HasPrefix(key, tenantID+"|") {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *timeclockMemoryStore) LinkDevice(_ context.Context, tenantID string, provider string, deviceUserID string, employeeID string) error {
	provider, err := normalizeDeviceProvider(provider)
	if err != nil {
		return newBadRequestError(err.Error())
	}
	deviceUserID, err = normalizeDeviceUserID(deviceUserID)
	if err != nil {
		return newBadRequestError(err.Error())
	}
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return newBadRequestError("employee_id is required")
	}

	key := s.linkKey(tenantID, provider, deviceUserID)
	now := time.Now().UTC()
	l, ok := s.links[key]
	if !ok {
		l = EmployeeDeviceLink{
			TenantID:     tenantID,
			Provider:     provider,
			DeviceUserID: deviceUserID,
			FirstSeenAt:  now,
			LastSeenAt:   now,
			CreatedAt:    now,
		}
	}
	l.Status = "active"
	l.EmployeeID = &employeeID
	l.UpdatedAt = now
	s.links[key] = l
	return nil
}

func (s *timeclockMemoryStore) UnlinkDevice(_ context.Context, tenantID string, provider string, deviceUserID string) error {
	provider, err := normalizeDeviceProvider(provider)
	if err != nil {
		return newBadRequestError(err.Error())
	}
	deviceUserID, err = normalizeDeviceUserID(deviceUserID)
	if err != nil {
		return newBadRequestError(err.Error())
	}

	key := s.linkKey(tenantID, provider, deviceUserID)
	l, ok := s.links[key]
	if !ok || l.Status != "active" {
		return errors.New("device link not found (or not active)")
	}
	l.Status = "pending"
	l.EmployeeID = nil
	l.UpdatedAt = time.Now().UTC()
	s.links[key] = l
	return nil
}

// markDeviceSeen records a device user sighting from the sync worker and
// keeps unknown users visible as pending links. Memory mode only; the
// worker writes straight to Postgres in production.
func (s *timeclockMemoryStore) markDeviceSeen(tenantID string, provider string, deviceUserID string) {
	key := s.linkKey(tenantID, provider, deviceUserID)
	now := time.Now().UTC()
	l, ok := s.links[key]
	if !ok {
		l = EmployeeDeviceLink{
			TenantID:     tenantID,
			Provider:     provider,
			DeviceUserID: deviceUserID,
			Status:       "pending",
			FirstSeenAt:  now,
			CreatedAt:    now,
		}
	}
	l.LastSeenAt = now
	l.SeenCount++
	l.UpdatedAt = now
	s.links[key] = l
}
