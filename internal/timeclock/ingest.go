package timeclock

import (
	"context"
	"errors"
	"strings"
)

type Store interface {
	// TouchDeviceLink records a sighting of a device user and returns the
	// link state. Unknown users are inserted as pending so operators can
	// map them later.
	TouchDeviceLink(ctx context.Context, tenantID string, provider string, deviceUserID string, lastSeenPayload []byte) (LinkResolution, error)
	SubmitDevicePunch(ctx context.Context, params SubmitDevicePunchParams) (int64, error)
}

// IngestDevicePunch resolves the device user through its identity link and,
// when the link is active, submits the punch. The submit path is idempotent
// on (device_id, request_id), so replays of the same transaction are no-ops.
func IngestDevicePunch(ctx context.Context, store Store, tenantID string, initiatorID string, punch DevicePunch) (IngestResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return IngestResult{}, errors.New("tenant_id is required")
	}
	initiatorID = strings.TrimSpace(initiatorID)
	if initiatorID == "" {
		return IngestResult{}, errors.New("initiator_id is required")
	}

	res, err := store.TouchDeviceLink(ctx, tenantID, punch.Provider, punch.DeviceUserID, punch.LastSeenPayload)
	if err != nil {
		return IngestResult{}, err
	}

	out := IngestResult{
		LinkStatus: res.Status,
		EmployeeID: res.EmployeeID,
	}

	switch res.Status {
	case LinkStatusActive:
		if res.EmployeeID == nil || strings.TrimSpace(*res.EmployeeID) == "" {
			return IngestResult{}, errors.New("active device link missing employee_id")
		}

		eventDBID, err := store.SubmitDevicePunch(ctx, SubmitDevicePunchParams{
			TenantID:    tenantID,
			EmployeeID:  *res.EmployeeID,
			PunchTime:   punch.PunchTime,
			PunchType:   punch.PunchType,
			DeviceID:    punch.DeviceID,
			RequestID:   punch.RequestID,
			Payload:     punch.Payload,
			InitiatorID: initiatorID,
		})
		if err != nil {
			return IngestResult{}, err
		}

		out.Outcome = IngestOutcomeIngested
		out.EventDBID = eventDBID
		return out, nil
	case LinkStatusPending:
		out.Outcome = IngestOutcomeUnmapped
		return out, nil
	case LinkStatusIgnored:
		out.Outcome = IngestOutcomeIgnored
		return out, nil
	case LinkStatusDisabled:
		out.Outcome = IngestOutcomeDisabled
		return out, nil
	default:
		return IngestResult{}, errors.New("unknown device link status")
	}
}
