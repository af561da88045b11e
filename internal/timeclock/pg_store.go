package timeclock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PGStore struct {
	pool pgBeginner
}

func NewPGStore(pool pgBeginner) *PGStore {
	return &PGStore{pool: pool}
}

func normalizeProvider(raw string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(raw))
	switch p {
	case ProviderZKTeco, "DEVICE":
		return p, nil
	default:
		return "", errors.New("provider must be ZKTECO|DEVICE")
	}
}

func normalizeJSONObj(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("json must be valid")
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] != '{' {
		return nil, errors.New("json must be an object")
	}
	return raw, nil
}

func (s *PGStore) TouchDeviceLink(ctx context.Context, tenantID string, provider string, deviceUserID string, lastSeenPayload []byte) (LinkResolution, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return LinkResolution{}, errors.New("tenant_id is required")
	}
	provider, err := normalizeProvider(provider)
	if err != nil {
		return LinkResolution{}, err
	}
	deviceUserID = strings.TrimSpace(deviceUserID)
	if deviceUserID == "" {
		return LinkResolution{}, errors.New("device_user_id is required")
	}
	payload, err := normalizeJSONObj(json.RawMessage(lastSeenPayload))
	if err != nil {
		return LinkResolution{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return LinkResolution{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return LinkResolution{}, err
	}

	var status string
	var employeeID string
	if err := tx.QueryRow(ctx, `
INSERT INTO timeclock.device_links (
  tenant_id,
  provider,
  device_user_id,
  status,
  employee_id,
  first_seen_at,
  last_seen_at,
  seen_count,
  last_seen_payload,
  created_at,
  updated_at
)
VALUES (
  $1::uuid,
  $2::text,
  $3::text,
  'pending',
  NULL,
  now(),
  now(),
  1,
  $4::jsonb,
  now(),
  now()
)
ON CONFLICT (tenant_id, provider, device_user_id)
DO UPDATE SET
  last_seen_at = now(),
  seen_count = timeclock.device_links.seen_count + 1,
  last_seen_payload = EXCLUDED.last_seen_payload,
  updated_at = now()
RETURNING status, COALESCE(employee_id::text, '')
`, tenantID, provider, deviceUserID, []byte(payload)).Scan(&status, &employeeID); err != nil {
		return LinkResolution{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return LinkResolution{}, err
	}

	out := LinkResolution{Status: LinkStatus(status)}
	if strings.TrimSpace(employeeID) != "" {
		out.EmployeeID = &employeeID
	}
	return out, nil
}

func (s *PGStore) SubmitDevicePunch(ctx context.Context, params SubmitDevicePunchParams) (int64, error) {
	params.TenantID = strings.TrimSpace(params.TenantID)
	if params.TenantID == "" {
		return 0, errors.New("tenant_id is required")
	}
	params.EmployeeID = strings.TrimSpace(params.EmployeeID)
	if params.EmployeeID == "" {
		return 0, errors.New("employee_id is required")
	}
	params.InitiatorID = strings.TrimSpace(params.InitiatorID)
	if params.InitiatorID == "" {
		return 0, errors.New("initiator_id is required")
	}
	params.DeviceID = strings.TrimSpace(params.DeviceID)
	if params.DeviceID == "" {
		return 0, errors.New("device_id is required")
	}
	params.RequestID = strings.TrimSpace(params.RequestID)
	if params.RequestID == "" {
		return 0, errors.New("request_id is required")
	}
	punchType := strings.ToUpper(strings.TrimSpace(params.PunchType))
	if punchType != "IN" && punchType != "OUT" {
		return 0, errors.New("punch_type must be IN|OUT")
	}
	payload, err := normalizeJSONObj(params.Payload)
	if err != nil {
		return 0, err
	}
	if params.PunchTime.IsZero() {
		return 0, errors.New("punch_time is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, params.TenantID); err != nil {
		return 0, err
	}

	var eventDBID int64
	if err := tx.QueryRow(ctx, `
SELECT timeclock.submit_time_punch_event(
  gen_random_uuid(),
  $1::uuid,
  $2::uuid,
  $3::timestamptz,
  $4::text,
  'DEVICE',
  $5::text,
  $6::jsonb,
  $7::text,
  $8::uuid
)
`, params.TenantID, params.EmployeeID, params.PunchTime.UTC(), punchType, params.DeviceID, []byte(payload), params.RequestID, params.InitiatorID).Scan(&eventDBID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return eventDBID, nil
}
