package timeclock

import (
	"encoding/json"
	"time"
)

const ProviderZKTeco = "ZKTECO"

type LinkStatus string

const (
	LinkStatusPending  LinkStatus = "pending"
	LinkStatusActive   LinkStatus = "active"
	LinkStatusDisabled LinkStatus = "disabled"
	LinkStatusIgnored  LinkStatus = "ignored"
)

// LinkResolution is the state of a device user after a sighting was
// recorded. EmployeeID is set only for active links.
type LinkResolution struct {
	Status     LinkStatus
	EmployeeID *string
}

// DevicePunch is one clock event read off a terminal, not yet resolved to
// an employee.
type DevicePunch struct {
	Provider        string
	DeviceUserID    string
	DeviceID        string
	PunchTime       time.Time
	PunchType       string
	RequestID       string
	Payload         json.RawMessage
	LastSeenPayload json.RawMessage
}

type IngestOutcome string

const (
	IngestOutcomeIngested IngestOutcome = "ingested"
	IngestOutcomeUnmapped IngestOutcome = "unmapped"
	IngestOutcomeIgnored  IngestOutcome = "ignored"
	IngestOutcomeDisabled IngestOutcome = "disabled"
)

type IngestResult struct {
	Outcome    IngestOutcome
	LinkStatus LinkStatus
	EmployeeID *string
	EventDBID  int64
}

type SubmitDevicePunchParams struct {
	TenantID    string
	EmployeeID  string
	PunchTime   time.Time
	PunchType   string
	DeviceID    string
	RequestID   string
	Payload     json.RawMessage
	InitiatorID string
}
