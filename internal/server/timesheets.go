package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

type TimePunch struct {
	EventID         string          `json:"event_id"`
	EmployeeID      string          `json:"employee_id"`
	PunchTime       time.Time       `json:"punch_time"`
	PunchType       string          `json:"punch_type"`
	SourceProvider  string          `json:"source_provider"`
	DeviceID        string          `json:"device_id"`
	RequestID       string          `json:"request_id"`
	Payload         json.RawMessage `json:"payload"`
	TransactionTime time.Time       `json:"transaction_time"`
}

// MonthlyTimesheet is the per-employee minute aggregation a payroll run
// consumes. Buckets are disjoint: every worked minute lands in exactly one.
type MonthlyTimesheet struct {
	EmployeeID           string `json:"employee_id"`
	Year                 int    `json:"year"`
	Month                int    `json:"month"`
	RegularMinutes       int64  `json:"regular_minutes"`
	OvertimeMinutes      int64  `json:"overtime_minutes"`
	NightMinutes         int64  `json:"night_minutes"`
	RestDayMinutes       int64  `json:"rest_day_minutes"`
	UnpaidAbsenceMinutes int64  `json:"unpaid_absence_minutes"`
	DaysWorked           int    `json:"days_worked"`
	OpenInterval         bool   `json:"open_interval"`
}

type submitTimePunchParams struct {
	EventID        string
	EmployeeID     string
	PunchTime      time.Time
	PunchType      string
	SourceProvider string
	DeviceID       string
	RequestID      string
	Payload        json.RawMessage
}

type TimePunchStore interface {
	ListTimePunchesForEmployee(ctx context.Context, tenantID string, employeeID string, fromUTC time.Time, toUTC time.Time, limit int) ([]TimePunch, error)
	ListTimePunchesBetween(ctx context.Context, tenantID string, fromUTC time.Time, toUTC time.Time) ([]TimePunch, error)
	SubmitTimePunch(ctx context.Context, tenantID string, initiatorID string, p submitTimePunchParams) (TimePunch, error)
	ImportTimePunches(ctx context.Context, tenantID string, initiatorID string, events []submitTimePunchParams) error

	ListDeviceLinks(ctx context.Context, tenantID string, limit int) ([]EmployeeDeviceLink, error)
	LinkDevice(ctx context.Context, tenantID string, provider string, deviceUserID string, employeeID string) error
	UnlinkDevice(ctx context.Context, tenantID string, provider string, deviceUserID string) error
}

type timeclockPGStore struct {
	pool pgBeginner
}

func newTimeclockPGStore(pool pgBeginner) *timeclockPGStore {
	return &timeclockPGStore{pool: pool}
}

func normalizePunchType(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IN":
		return "IN", nil
	case "OUT":
		return "OUT", nil
	default:
		return "", errors.New("punch_type must be IN|OUT")
	}
}

func normalizePunchSource(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "", "MANUAL":
		return "MANUAL", nil
	case "IMPORT":
		return "IMPORT", nil
	case "DEVICE":
		return "DEVICE", nil
	default:
		return "", errors.New("source_provider must be MANUAL|IMPORT|DEVICE")
	}
}

func validateSubmitTimePunchParams(p *submitTimePunchParams) error {
	p.EmployeeID = strings.TrimSpace(p.EmployeeID)
	if p.EmployeeID == "" {
		return errors.New("employee_id is required")
	}
	if p.PunchTime.IsZero() {
		return errors.New("punch_time is required")
	}

	punchType, err := normalizePunchType(p.PunchType)
	if err != nil {
		return err
	}
	p.PunchType = punchType

	source, err := normalizePunchSource(p.SourceProvider)
	if err != nil {
		return err
	}
	p.SourceProvider = source

	p.DeviceID = strings.TrimSpace(p.DeviceID)
	p.RequestID = strings.TrimSpace(p.RequestID)
	if p.SourceProvider == "DEVICE" {
		if p.DeviceID == "" {
			return errors.New("device_id is required for DEVICE punches")
		}
		if p.RequestID == "" {
			return errors.New("request_id is required for DEVICE punches")
		}
	}
	if len(p.Payload) == 0 {
		p.Payload = json.RawMessage(`{}`)
	}
	return nil
}

const timePunchSelectColumns = `
  event_id::text,
  employee_id::text,
  punch_time,
  punch_type,
  source_provider,
  COALESCE(device_id, '') AS device_id,
  COALESCE(request_id, '') AS request_id,
  payload,
  transaction_time`

func (s *timeclockPGStore) ListTimePunchesForEmployee(ctx context.Context, tenantID string, employeeID string, fromUTC time.Time, toUTC time.Time, limit int) ([]TimePunch, error) {
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
SELECT`+timePunchSelectColumns+`
FROM timeclock.time_punches
WHERE tenant_id = $1::uuid
  AND employee_id = $2::uuid
  AND punch_time >= $3
  AND punch_time < $4
ORDER BY punch_time DESC, id DESC
LIMIT $5
`, tenantID, employeeID, fromUTC, toUTC, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := collectTimePunches(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *timeclockPGStore) ListTimePunchesBetween(ctx context.Context, tenantID string, fromUTC time.Time, toUTC time.Time) ([]TimePunch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
SELECT`+timePunchSelectColumns+`
FROM timeclock.time_punches
WHERE tenant_id = $1::uuid
  AND punch_time >= $2
  AND punch_time < $3
ORDER BY employee_id ASC, punch_time ASC, id ASC
`, tenantID, fromUTC, toUTC)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out, err := collectTimePunches(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func collectTimePunches(rows pgRows) ([]TimePunch, error) {
	var out []TimePunch
	for rows.Next() {
		var p TimePunch
		var payload []byte
		if err := rows.Scan(&p.EventID, &p.EmployeeID, &p.PunchTime, &p.PunchType, &p.SourceProvider, &p.DeviceID, &p.RequestID, &payload, &p.TransactionTime); err != nil {
			return nil, err
		}
		p.PunchTime = p.PunchTime.UTC()
		p.TransactionTime = p.TransactionTime.UTC()
		p.Payload = json.RawMessage(payload)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *timeclockPGStore) SubmitTimePunch(ctx context.Context, tenantID string, initiatorID string, p submitTimePunchParams) (TimePunch, error) {
	if err := validateSubmitTimePunchParams(&p); err != nil {
		return TimePunch{}, newBadRequestError(err.Error())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TimePunch{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return TimePunch{}, err
	}

	if p.EventID == "" {
		if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&p.EventID); err != nil {
			return TimePunch{}, err
		}
	}
	requestID := p.RequestID
	if requestID == "" {
		requestID = p.EventID
	}

	var eventDBID int64
	if err := tx.QueryRow(ctx, `
SELECT timeclock.submit_time_punch_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  $4::timestamptz,
  $5::text,
  $6::text,
  $7::text,
  $8::jsonb,
  $9::text,
  $10::uuid
)
`, p.EventID, tenantID, p.EmployeeID, p.PunchTime.UTC(), p.PunchType, p.SourceProvider, p.DeviceID, []byte(p.Payload), requestID, initiatorID).Scan(&eventDBID); err != nil {
		return TimePunch{}, err
	}

	var out TimePunch
	var payloadOut []byte
	if err := tx.QueryRow(ctx, `
SELECT`+timePunchSelectColumns+`
FROM timeclock.time_punches
WHERE id = $1
`, eventDBID).Scan(&out.EventID, &out.EmployeeID, &out.PunchTime, &out.PunchType, &out.SourceProvider, &out.DeviceID, &out.RequestID, &payloadOut, &out.TransactionTime); err != nil {
		return TimePunch{}, err
	}
	out.PunchTime = out.PunchTime.UTC()
	out.TransactionTime = out.TransactionTime.UTC()
	out.Payload = json.RawMessage(payloadOut)

	if err := tx.Commit(ctx); err != nil {
		return TimePunch{}, err
	}
	return out, nil
}

func (s *timeclockPGStore) ImportTimePunches(ctx context.Context, tenantID string, initiatorID string, events []submitTimePunchParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		return err
	}

	for i, e := range events {
		if e.SourceProvider == "" {
			e.SourceProvider = "IMPORT"
		}
		if err := validateSubmitTimePunchParams(&e); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if e.EventID == "" {
			if err := tx.QueryRow(ctx, `SELECT gen_random_uuid()::text;`).Scan(&e.EventID); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
		}
		requestID := e.RequestID
		if requestID == "" {
			requestID = e.EventID
		}

		var id int64
		if err := tx.QueryRow(ctx, `
SELECT timeclock.submit_time_punch_event(
  $1::uuid,
  $2::uuid,
  $3::uuid,
  $4::timestamptz,
  $5::text,
  $6::text,
  $7::text,
  $8::jsonb,
  $9::text,
  $10::uuid
)
`, e.EventID, tenantID, e.EmployeeID, e.PunchTime.UTC(), e.PunchType, e.SourceProvider, e.DeviceID, []byte(e.Payload), requestID, initiatorID).Scan(&id); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	return tx.Commit(ctx)
}

func isTimeclockIdempotencyReused(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "TIMECLOCK_IDEMPOTENCY_REUSED")
}

type timeclockMemoryStore struct {
	punches  map[string]map[string][]TimePunch
	requests map[string]TimePunch
	links    map[string]EmployeeDeviceLink
	nextID   int
}

func newTimeclockMemoryStore() *timeclockMemoryStore {
	return &timeclockMemoryStore{
		punches:  make(map[string]map[string][]TimePunch),
		requests: make(map[string]TimePunch),
		links:    make(map[string]EmployeeDeviceLink),
	}
}

func (s *timeclockMemoryStore) requestKey(tenantID string, p submitTimePunchParams) string {
	return tenantID + "|" + p.SourceProvider + "|" + p.DeviceID + "|" + p.RequestID
}

func punchFingerprint(p TimePunch) string {
	return p.EmployeeID + "|" + p.PunchTime.UTC().Format(time.RFC3339Nano) + "|" + p.PunchType
}

func (s *timeclockMemoryStore) ListTimePunchesForEmployee(_ context.Context, tenantID string, employeeID string, fromUTC time.Time, toUTC time.Time, limit int) ([]TimePunch, error) {
	byEmployee := s.punches[tenantID]
	if byEmployee == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}

	var out []TimePunch
	for _, p := range byEmployee[employeeID] {
		if p.PunchTime.Before(fromUTC) || !p.PunchTime.Before(toUTC) {
			continue
		}
		out = append(out, p)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *timeclockMemoryStore) ListTimePunchesBetween(_ context.Context, tenantID string, fromUTC time.Time, toUTC time.Time) ([]TimePunch, error) {
	byEmployee := s.punches[tenantID]
	if byEmployee == nil {
		return nil, nil
	}
	var out []TimePunch
	for _, list := range byEmployee {
		for _, p := range list {
			if p.PunchTime.Before(fromUTC) || !p.PunchTime.Before(toUTC) {
				continue
			}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeID == out[j].EmployeeID {
			return out[i].PunchTime.Before(out[j].PunchTime)
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

func (s *timeclockMemoryStore) SubmitTimePunch(_ context.Context, tenantID string, initiatorID string, p submitTimePunchParams) (TimePunch, error) {
	if strings.TrimSpace(initiatorID) == "" {
		return TimePunch{}, newBadRequestError("initiator_id is required")
	}
	if err := validateSubmitTimePunchParams(&p); err != nil {
		return TimePunch{}, newBadRequestError(err.Error())
	}

	if p.EventID == "" {
		s.nextID++
		p.EventID = fmt.Sprintf("punch-%d", s.nextID)
	}
	if p.RequestID == "" {
		p.RequestID = p.EventID
	}

	out := TimePunch{
		EventID:         p.EventID,
		EmployeeID:      p.EmployeeID,
		PunchTime:       p.PunchTime.UTC(),
		PunchType:       p.PunchType,
		SourceProvider:  p.SourceProvider,
		DeviceID:        p.DeviceID,
		RequestID:       p.RequestID,
		Payload:         p.Payload,
		TransactionTime: time.Now().UTC(),
	}

	key := s.requestKey(tenantID, p)
	if existing, ok := s.requests[key]; ok {
		if punchFingerprint(existing) == punchFingerprint(out) {
			return existing, nil
		}
		return TimePunch{}, errors.New("TIMECLOCK_IDEMPOTENCY_REUSED")
	}
	s.requests[key] = out

	if s.punches[tenantID] == nil {
		s.punches[tenantID] = make(map[string][]TimePunch)
	}
	s.punches[tenantID][p.EmployeeID] = append([]TimePunch{out}, s.punches[tenantID][p.EmployeeID]...)
	return out, nil
}

func (s *timeclockMemoryStore) ImportTimePunches(ctx context.Context, tenantID string, initiatorID string, events []submitTimePunchParams) error {
	for i, e := range events {
		if e.SourceProvider == "" {
			e.SourceProvider = "IMPORT"
		}
		if _, err := s.SubmitTimePunch(ctx, tenantID, initiatorID, e); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

// diliLocation is the tenant-local wall clock for day boundaries and the
// night-shift window. Timor-Leste has no DST.
func diliLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Dili")
	if err != nil {
		return time.FixedZone("+09", 9*60*60)
	}
	return loc
}

const standardDayMinutes = 8 * 60

// summarizeTimesheet pairs IN/OUT punches into worked intervals and
// aggregates them for one calendar month. Per local day: rest days (Sunday
// or holiday) take every minute, the 21:00-06:00 overlap is night, the rest
// is regular up to the standard day with the excess as overtime. Unmatched
// trailing INs are flagged, not counted.
func summarizeTimesheet(punches []TimePunch, employeeID string, year int, month time.Month, loc *time.Location, holidays map[string]bool, trackAbsence bool) MonthlyTimesheet {
	out := MonthlyTimesheet{EmployeeID: employeeID, Year: year, Month: int(month)}

	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var own []TimePunch
	for _, p := range punches {
		if p.EmployeeID != employeeID {
			continue
		}
		own = append(own, p)
	}
	sort.Slice(own, func(i, j int) bool { return own[i].PunchTime.Before(own[j].PunchTime) })

	type dayAgg struct {
		worked int64
		night  int64
	}
	days := make(map[string]*dayAgg)

	addInterval := func(start time.Time, end time.Time) {
		start, end = start.In(loc), end.In(loc)
		if !start.Before(end) {
			return
		}
		if start.Before(monthStart) {
			start = monthStart
		}
		if end.After(monthEnd) {
			end = monthEnd
		}
		for start.Before(end) {
			dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
			nextDay := dayStart.AddDate(0, 0, 1)
			segEnd := end
			if segEnd.After(nextDay) {
				segEnd = nextDay
			}

			key := dayStart.Format("2006-01-02")
			agg := days[key]
			if agg == nil {
				agg = &dayAgg{}
				days[key] = agg
			}
			agg.worked += int64(segEnd.Sub(start) / time.Minute)
			agg.night += overlapMinutes(start, segEnd, dayStart, dayStart.Add(6*time.Hour))
			agg.night += overlapMinutes(start, segEnd, dayStart.Add(21*time.Hour), nextDay)

			start = nextDay
		}
	}

	var openIn *time.Time
	for _, p := range own {
		switch p.PunchType {
		case "IN":
			t := p.PunchTime
			openIn = &t
		case "OUT":
			if openIn != nil {
				addInterval(*openIn, p.PunchTime)
				openIn = nil
			}
		}
	}
	if openIn != nil {
		out.OpenInterval = true
	}

	hadPunch := len(own) > 0
	for d := monthStart; d.Before(monthEnd); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		restDay := d.Weekday() == time.Sunday || holidays[key]

		agg := days[key]
		if agg == nil || agg.worked == 0 {
			if trackAbsence && hadPunch && !restDay && d.Weekday() != time.Saturday {
				out.UnpaidAbsenceMinutes += standardDayMinutes
			}
			continue
		}

		out.DaysWorked++
		if restDay {
			out.RestDayMinutes += agg.worked
			continue
		}
		night := agg.night
		if night > agg.worked {
			night = agg.worked
		}
		out.NightMinutes += night
		pool := agg.worked - night
		if pool > standardDayMinutes {
			out.OvertimeMinutes += pool - standardDayMinutes
			pool = standardDayMinutes
		}
		out.RegularMinutes += pool
	}

	return out
}

func overlapMinutes(aStart, aEnd, bStart, bEnd time.Time) int64 {
	start := aStart
	if bStart.After(start) {
		start = bStart
	}
	end := aEnd
	if bEnd.Before(end) {
		end = bEnd
	}
	if !start.Before(end) {
		return 0
	}
	return int64(end.Sub(start) / time.Minute)
}
