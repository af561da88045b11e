package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func mustPunchParams(t *testing.T, employeeID string, at string, punchType string) submitTimePunchParams {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, at)
	if err != nil {
		t.Fatalf("parse %q: %v", at, err)
	}
	return submitTimePunchParams{
		EmployeeID: employeeID,
		PunchTime:  ts,
		PunchType:  punchType,
	}
}

func TestNormalizePunchType(t *testing.T) {
	if got, err := normalizePunchType(" in "); err != nil || got != "IN" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if got, err := normalizePunchType("OUT"); err != nil || got != "OUT" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := normalizePunchType("BREAK"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNormalizePunchSource(t *testing.T) {
	if got, err := normalizePunchSource(""); err != nil || got != "MANUAL" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if got, err := normalizePunchSource("device"); err != nil || got != "DEVICE" {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := normalizePunchSource("WECHAT"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateSubmitTimePunchParams(t *testing.T) {
	t.Run("defaults payload and source", func(t *testing.T) {
		p := mustPunchParams(t, "e-1", "2026-06-01T00:00:00Z", "in")
		if err := validateSubmitTimePunchParams(&p); err != nil {
			t.Fatalf("validate: %v", err)
		}
		if p.SourceProvider != "MANUAL" {
			t.Fatalf("source=%q", p.SourceProvider)
		}
		if string(p.Payload) != "{}" {
			t.Fatalf("payload=%q", string(p.Payload))
		}
	})

	t.Run("employee required", func(t *testing.T) {
		p := mustPunchParams(t, "  ", "2026-06-01T00:00:00Z", "IN")
		if err := validateSubmitTimePunchParams(&p); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("device punches need device and request ids", func(t *testing.T) {
		p := mustPunchParams(t, "e-1", "2026-06-01T00:00:00Z", "IN")
		p.SourceProvider = "DEVICE"
		if err := validateSubmitTimePunchParams(&p); err == nil || !strings.Contains(err.Error(), "device_id") {
			t.Fatalf("err=%v", err)
		}
		p.DeviceID = "zk-01"
		if err := validateSubmitTimePunchParams(&p); err == nil || !strings.Contains(err.Error(), "request_id") {
			t.Fatalf("err=%v", err)
		}
		p.RequestID = "zk-01-000001"
		if err := validateSubmitTimePunchParams(&p); err != nil {
			t.Fatalf("validate: %v", err)
		}
	})
}

func punchAtDili(t *testing.T, local string, punchType string) TimePunch {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02T15:04", local, diliLocation())
	if err != nil {
		t.Fatalf("parse %q: %v", local, err)
	}
	return TimePunch{EmployeeID: "e-1", PunchTime: ts.UTC(), PunchType: punchType}
}

func TestSummarizeTimesheet(t *testing.T) {
	loc := diliLocation()
	none := map[string]bool{}

	t.Run("weekday with overtime", func(t *testing.T) {
		punches := []TimePunch{
			punchAtDili(t, "2026-06-01T08:00", "IN"),
			punchAtDili(t, "2026-06-01T17:00", "OUT"),
		}
		s := summarizeTimesheet(punches, "e-1", 2026, time.June, loc, none, false)
		if s.RegularMinutes != 480 || s.OvertimeMinutes != 60 {
			t.Fatalf("regular=%d overtime=%d", s.RegularMinutes, s.OvertimeMinutes)
		}
		if s.NightMinutes != 0 || s.RestDayMinutes != 0 {
			t.Fatalf("night=%d rest=%d", s.NightMinutes, s.RestDayMinutes)
		}
		if s.DaysWorked != 1 {
			t.Fatalf("days=%d", s.DaysWorked)
		}
	})

	t.Run("evening shift splits into night", func(t *testing.T) {
		punches := []TimePunch{
			punchAtDili(t, "2026-06-01T20:00", "IN"),
			punchAtDili(t, "2026-06-01T23:00", "OUT"),
		}
		s := summarizeTimesheet(punches, "e-1", 2026, time.June, loc, none, false)
		if s.NightMinutes != 120 {
			t.Fatalf("night=%d", s.NightMinutes)
		}
		if s.RegularMinutes != 60 {
			t.Fatalf("regular=%d", s.RegularMinutes)
		}
	})

	t.Run("shift across midnight lands on both days", func(t *testing.T) {
		punches := []TimePunch{
			punchAtDili(t, "2026-06-01T22:00", "IN"),
			punchAtDili(t, "2026-06-02T06:00", "OUT"),
		}
		s := summarizeTimesheet(punches, "e-1", 2026, time.June, loc, none, false)
		if s.NightMinutes != 480 {
			t.Fatalf("night=%d", s.NightMinutes)
		}
		if s.RegularMinutes != 0 || s.OvertimeMinutes != 0 {
			t.Fatalf("regular=%d overtime=%d", s.RegularMinutes, s.OvertimeMinutes)
		}
		if s.DaysWorked != 2 {
			t.Fatalf("days=%d", s.DaysWorked)
		}
	})

	t.Run("sunday is a rest day", func(t *testing.T) {
		punches := []TimePunch{
			punchAtDili(t, "2026-06-07T08:00", "IN"),
			punchAtDili(t, "2026-06-07T12:00", "OUT"),
		}
		s := summarizeTimesheet(punches, "e-1", 2026, time.June, loc, none, false)
		if s.RestDayMinutes != 240 {
			t.Fatalf("rest=%d", s.RestDayMinutes)
		}
		if s.RegularMinutes != 0 || s.NightMinutes != 0 {
			t.Fatalf("regular=%d night=%d", s.RegularMinutes, s.NightMinutes)
		}
	})

	t.Run("holiday is a rest day", func(t *testing.T) {
		punches := []TimePunch{
			punchAtDili(t, "2026-06-02T08:00", "IN"),
			punchAtDili(t, "2026-06-02T12:00", "OUT"),
		}
		s := summarizeTimesheet(punches, "e-1", 2026, time.June, loc, map[string]bool{"2026-06-02": true}, false)
		if s.RestDayMinutes != 240 {
			t.Fatalf("rest=%d", s.RestDayMinutes)
		}
	})

	t.Run("absence tracked for monthly staff with punches", func(t *testing.T) {
		punches := []TimePunch{
			punchAtDili(t, "2026-06-01T08:00", "IN"),
			punchAtDili(t, "2026-06-01T16:00", "OUT"),
		}
		s := summarizeTimesheet(punches, "e-1", 2026, time.June, loc, none, true)
		// June 2026 has 22 weekdays, one of them worked.
		if s.UnpaidAbsenceMinutes != 21*480 {
			t.Fatalf("absence=%d", s.UnpaidAbsenceMinutes)
		}
	})

	t.Run("no punches means no summary, not full absence", func(t *testing.T) {
		s := summarizeTimesheet(nil, "e-1", 2026, time.June, loc, none, true)
		if s.UnpaidAbsenceMinutes != 0 || s.DaysWorked != 0 {
			t.Fatalf("absence=%d days=%d", s.UnpaidAbsenceMinutes, s.DaysWorked)
		}
	})

	t.Run("dangling IN is flagged and not counted", func(t *testing.T) {
		punches := []TimePunch{
			punchAtDili(t, "2026-06-01T08:00", "IN"),
		}
		s := summarizeTimesheet(punches, "e-1", 2026, time.June, loc, none, false)
		if !s.OpenInterval {
			t.Fatalf("expected open interval flag")
		}
		if s.RegularMinutes != 0 || s.DaysWorked != 0 {
			t.Fatalf("regular=%d days=%d", s.RegularMinutes, s.DaysWorked)
		}
	})

	t.Run("other employees are ignored", func(t *testing.T) {
		punches := []TimePunch{
			{EmployeeID: "e-2", PunchTime: punchAtDili(t, "2026-06-01T08:00", "IN").PunchTime, PunchType: "IN"},
			{EmployeeID: "e-2", PunchTime: punchAtDili(t, "2026-06-01T12:00", "OUT").PunchTime, PunchType: "OUT"},
		}
		s := summarizeTimesheet(punches, "e-1", 2026, time.June, loc, none, false)
		if s.RegularMinutes != 0 || s.DaysWorked != 0 {
			t.Fatalf("regular=%d days=%d", s.RegularMinutes, s.DaysWorked)
		}
	})
}

func TestTimeclockMemoryStore_SubmitAndList(t *testing.T) {
	ctx := context.Background()
	store := newTimeclockMemoryStore()

	first := mustPunchParams(t, "e-1", "2026-06-01T00:00:00Z", "IN")
	second := mustPunchParams(t, "e-1", "2026-06-01T09:00:00Z", "OUT")

	if _, err := store.SubmitTimePunch(ctx, "t1", "admin", first); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := store.SubmitTimePunch(ctx, "t1", "admin", second); err != nil {
		t.Fatalf("submit: %v", err)
	}

	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	punches, err := store.ListTimePunchesForEmployee(ctx, "t1", "e-1", from, to, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(punches) != 2 {
		t.Fatalf("len=%d", len(punches))
	}
	if punches[0].PunchType != "OUT" {
		t.Fatalf("newest first, got %q", punches[0].PunchType)
	}

	other, err := store.ListTimePunchesForEmployee(ctx, "t2", "e-1", from, to, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("tenant isolation broken, len=%d", len(other))
	}

	all, err := store.ListTimePunchesBetween(ctx, "t1", from, to)
	if err != nil {
		t.Fatalf("list between: %v", err)
	}
	if len(all) != 2 || !all[0].PunchTime.Before(all[1].PunchTime) {
		t.Fatalf("expected ascending punches, got %v", all)
	}
}

func TestTimeclockMemoryStore_DeviceIdempotency(t *testing.T) {
	ctx := context.Background()
	store := newTimeclockMemoryStore()

	p := mustPunchParams(t, "e-1", "2026-06-01T00:00:00Z", "IN")
	p.SourceProvider = "DEVICE"
	p.DeviceID = "zk-01"
	p.RequestID = "zk-01-000001"

	created, err := store.SubmitTimePunch(ctx, "t1", "admin", p)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	replay, err := store.SubmitTimePunch(ctx, "t1", "admin", p)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.EventID != created.EventID {
		t.Fatalf("replay event=%q want %q", replay.EventID, created.EventID)
	}

	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	punches, err := store.ListTimePunchesForEmployee(ctx, "t1", "e-1", from, from.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(punches) != 1 {
		t.Fatalf("replay duplicated the punch, len=%d", len(punches))
	}

	p.PunchTime = p.PunchTime.Add(time.Minute)
	_, err = store.SubmitTimePunch(ctx, "t1", "admin", p)
	if err == nil || !isTimeclockIdempotencyReused(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestTimeclockMemoryStore_Import(t *testing.T) {
	ctx := context.Background()
	store := newTimeclockMemoryStore()

	events := []submitTimePunchParams{
		mustPunchParams(t, "e-1", "2026-06-01T00:00:00Z", "IN"),
		mustPunchParams(t, "e-1", "2026-06-01T09:00:00Z", "OUT"),
	}
	if err := store.ImportTimePunches(ctx, "t1", "admin", events); err != nil {
		t.Fatalf("import: %v", err)
	}

	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	punches, err := store.ListTimePunchesForEmployee(ctx, "t1", "e-1", from, from.Add(24*time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(punches) != 2 {
		t.Fatalf("len=%d", len(punches))
	}
	if punches[0].SourceProvider != "IMPORT" {
		t.Fatalf("source=%q", punches[0].SourceProvider)
	}

	bad := []submitTimePunchParams{
		mustPunchParams(t, "e-1", "2026-06-02T00:00:00Z", "IN"),
		mustPunchParams(t, "", "2026-06-02T09:00:00Z", "OUT"),
	}
	err = store.ImportTimePunches(ctx, "t1", "admin", bad)
	if err == nil || !strings.Contains(err.Error(), "line 2:") {
		t.Fatalf("err=%v", err)
	}
}

func TestTimeclockMemoryStore_DeviceLinks(t *testing.T) {
	ctx := context.Background()
	store := newTimeclockMemoryStore()

	if err := store.LinkDevice(ctx, "t1", "zkteco", "1001", "e-1"); err != nil {
		t.Fatalf("link: %v", err)
	}

	links, err := store.ListDeviceLinks(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("len=%d", len(links))
	}
	l := links[0]
	if l.Provider != "ZKTECO" || l.Status != "active" {
		t.Fatalf("provider=%q status=%q", l.Provider, l.Status)
	}
	if l.EmployeeID == nil || *l.EmployeeID != "e-1" {
		t.Fatalf("employee=%v", l.EmployeeID)
	}

	if err := store.UnlinkDevice(ctx, "t1", "ZKTECO", "1001"); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	links, _ = store.ListDeviceLinks(ctx, "t1", 0)
	if links[0].Status != "pending" || links[0].EmployeeID != nil {
		t.Fatalf("status=%q employee=%v", links[0].Status, links[0].EmployeeID)
	}

	if err := store.UnlinkDevice(ctx, "t1", "ZKTECO", "1001"); err == nil {
		t.Fatalf("expected error on double unlink")
	}
	if err := store.LinkDevice(ctx, "t1", "BADGE", "1001", "e-1"); err == nil {
		t.Fatalf("expected provider error")
	}
}

func timeclockTestRequest(method string, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := withTenant(req.Context(), Tenant{ID: "t1"})
	ctx = withPrincipal(ctx, Principal{ID: "admin", TenantID: "t1", RoleSlug: "tenant_admin", Status: "active"})
	return req.WithContext(ctx)
}

func timeclockFormRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	ctx := withTenant(req.Context(), Tenant{ID: "t1"})
	ctx = withPrincipal(ctx, Principal{ID: "admin", TenantID: "t1", RoleSlug: "tenant_admin", Status: "active"})
	return req.WithContext(ctx)
}

func TestHandleTimePunchesAPI(t *testing.T) {
	store := newTimeclockMemoryStore()

	t.Run("get requires employee_id", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodGet, "/timeclock/api/punches", "")
		rec := httptest.NewRecorder()
		handleTimePunchesAPI(rec, req, store)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "missing_employee_id") {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})

	t.Run("post rejects bad json", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/punches", "{nope")
		rec := httptest.NewRecorder()
		handleTimePunchesAPI(rec, req, store)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("post rejects bad punch type", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/punches",
			`{"employee_id":"e-1","punch_time":"2026-06-01T08:00:00Z","punch_type":"BREAK"}`)
		rec := httptest.NewRecorder()
		handleTimePunchesAPI(rec, req, store)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "invalid_punch_type") {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})

	t.Run("post then get", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/punches",
			`{"employee_id":"e-1","punch_time":"2026-06-01T08:00:00Z","punch_type":"IN"}`)
		rec := httptest.NewRecorder()
		handleTimePunchesAPI(rec, req, store)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		var created TimePunch
		if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if created.EventID == "" || created.SourceProvider != "MANUAL" {
			t.Fatalf("created=%+v", created)
		}

		req = timeclockTestRequest(http.MethodGet,
			"/timeclock/api/punches?employee_id=e-1&from=2026-06-01T00:00:00Z&to=2026-06-02T00:00:00Z", "")
		rec = httptest.NewRecorder()
		handleTimePunchesAPI(rec, req, store)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), created.EventID) {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})

	t.Run("device replay with different payload conflicts", func(t *testing.T) {
		body := `{"employee_id":"e-1","punch_time":"2026-06-01T09:00:00Z","punch_type":"OUT","source_provider":"DEVICE","device_id":"zk-01","request_id":"r-1"}`
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/punches", body)
		rec := httptest.NewRecorder()
		handleTimePunchesAPI(rec, req, store)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}

		changed := strings.Replace(body, "09:00:00", "09:05:00", 1)
		req = timeclockTestRequest(http.MethodPost, "/timeclock/api/punches", changed)
		rec = httptest.NewRecorder()
		handleTimePunchesAPI(rec, req, store)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), "idempotency_reused") {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})

	t.Run("delete not allowed", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodDelete, "/timeclock/api/punches", "")
		rec := httptest.NewRecorder()
		handleTimePunchesAPI(rec, req, store)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status=%d", rec.Code)
		}
	})
}

func TestHandleTimePunchImportAPI(t *testing.T) {
	store := newTimeclockMemoryStore()

	t.Run("imports lines", func(t *testing.T) {
		body := `{"punches":[` +
			`{"employee_id":"e-1","punch_time":"2026-06-01T08:00:00Z","punch_type":"IN"},` +
			`{"employee_id":"e-1","punch_time":"2026-06-01T17:00:00Z","punch_type":"OUT"}]}`
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/punches:import", body)
		rec := httptest.NewRecorder()
		handleTimePunchImportAPI(rec, req, store)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"imported":2`) {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})

	t.Run("reports the failing line", func(t *testing.T) {
		body := `{"punches":[{"employee_id":"","punch_time":"2026-06-02T08:00:00Z","punch_type":"IN"}]}`
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/punches:import", body)
		rec := httptest.NewRecorder()
		handleTimePunchImportAPI(rec, req, store)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "line 1") {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})

	t.Run("rejects empty import", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/punches:import", `{"punches":[]}`)
		rec := httptest.NewRecorder()
		handleTimePunchImportAPI(rec, req, store)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})
}

type stubHolidayLister struct {
	out []Holiday
	err error
}

func (s stubHolidayLister) ListHolidays(context.Context, string, int) ([]Holiday, error) {
	return s.out, s.err
}

func seedTimesheetEmployee(t *testing.T, hr *hrMemoryStore) Employee {
	t.Helper()
	e, err := hr.CreateEmployee(context.Background(), "t1", createEmployeeParams{
		EmployeeNo:         "E1",
		FullName:           "Ana Soares",
		HireDate:           "2026-01-01",
		PayGroup:           "monthly",
		PayBasis:           "MONTHLY",
		MonthlySalaryCents: 60000,
	})
	if err != nil {
		t.Fatalf("create employee: %v", err)
	}
	return e
}

func TestHandleTimesheetSummariesAPI(t *testing.T) {
	store := newTimeclockMemoryStore()
	hr := newHRMemoryStore()
	emp := seedTimesheetEmployee(t, hr)
	holidays := stubHolidayLister{}

	ctx := context.Background()
	if err := store.ImportTimePunches(ctx, "t1", "admin", []submitTimePunchParams{
		{EmployeeID: emp.ID, PunchTime: punchAtDili(t, "2026-06-01T08:00", "IN").PunchTime, PunchType: "IN"},
		{EmployeeID: emp.ID, PunchTime: punchAtDili(t, "2026-06-01T17:00", "OUT").PunchTime, PunchType: "OUT"},
	}); err != nil {
		t.Fatalf("seed punches: %v", err)
	}

	req := timeclockTestRequest(http.MethodGet, "/timeclock/api/summaries?month=2026-06", "")
	rec := httptest.NewRecorder()
	handleTimesheetSummariesAPI(rec, req, store, hr, holidays)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Month     string             `json:"month"`
		Summaries []MonthlyTimesheet `json:"summaries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Month != "2026-06" || len(resp.Summaries) != 1 {
		t.Fatalf("resp=%+v", resp)
	}
	s := resp.Summaries[0]
	if s.RegularMinutes != 480 || s.OvertimeMinutes != 60 {
		t.Fatalf("regular=%d overtime=%d", s.RegularMinutes, s.OvertimeMinutes)
	}
	if s.UnpaidAbsenceMinutes != 21*480 {
		t.Fatalf("absence=%d", s.UnpaidAbsenceMinutes)
	}

	t.Run("unknown employee 404s", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodGet, "/timeclock/api/summaries?month=2026-06&employee_id=nope", "")
		rec := httptest.NewRecorder()
		handleTimesheetSummariesAPI(rec, req, store, hr, holidays)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("bad month 400s", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodGet, "/timeclock/api/summaries?month=June", "")
		rec := httptest.NewRecorder()
		handleTimesheetSummariesAPI(rec, req, store, hr, holidays)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})
}

func TestHandleTimesheetsPage(t *testing.T) {
	store := newTimeclockMemoryStore()
	hr := newHRMemoryStore()
	emp := seedTimesheetEmployee(t, hr)
	holidays := stubHolidayLister{}

	t.Run("get renders employee picker", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodGet, "/app/timesheets?month=2026-06", "")
		req.Header.Set("HX-Request", "true")
		rec := httptest.NewRecorder()
		handleTimesheetsPage(rec, req, store, hr, holidays)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Ana Soares") {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})

	t.Run("manual punch redirects", func(t *testing.T) {
		req := timeclockFormRequest("/app/timesheets?month=2026-06", url.Values{
			"op":          {"manual"},
			"employee_id": {emp.ID},
			"punch_at":    {"2026-06-01T08:00"},
			"punch_type":  {"IN"},
		})
		rec := httptest.NewRecorder()
		handleTimesheetsPage(rec, req, store, hr, holidays)
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		loc := rec.Header().Get("Location")
		if !strings.Contains(loc, "month=2026-06") || !strings.Contains(loc, "employee_id=") {
			t.Fatalf("location=%q", loc)
		}
	})

	t.Run("csv import redirects with count", func(t *testing.T) {
		csv := emp.ID + ",2026-06-02T08:00,IN\n" + emp.ID + ",2026-06-02T17:00,OUT\n"
		req := timeclockFormRequest("/app/timesheets?month=2026-06&employee_id="+emp.ID, url.Values{
			"op":  {"import"},
			"csv": {csv},
		})
		rec := httptest.NewRecorder()
		handleTimesheetsPage(rec, req, store, hr, holidays)
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Header().Get("Location"), "imported+2+punches") {
			t.Fatalf("location=%q", rec.Header().Get("Location"))
		}
	})

	t.Run("bad csv line re-renders with error", func(t *testing.T) {
		req := timeclockFormRequest("/app/timesheets?month=2026-06", url.Values{
			"op":  {"import"},
			"csv": {"onlyonecolumn"},
		})
		req.Header.Set("HX-Request", "true")
		rec := httptest.NewRecorder()
		handleTimesheetsPage(rec, req, store, hr, holidays)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "line 1") {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})
}

func TestHandleDeviceLinksAPI(t *testing.T) {
	store := newTimeclockMemoryStore()

	t.Run("link then list", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/device-links",
			`{"provider":"ZKTECO","device_user_id":"1001","employee_id":"e-1"}`)
		rec := httptest.NewRecorder()
		handleDeviceLinksAPI(rec, req, store)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}

		req = timeclockTestRequest(http.MethodGet, "/timeclock/api/device-links", "")
		rec = httptest.NewRecorder()
		handleDeviceLinksAPI(rec, req, store)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"1001"`) {
			t.Fatalf("body=%s", rec.Body.String())
		}
	})

	t.Run("bad provider 400s", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/device-links",
			`{"provider":"BADGE","device_user_id":"1001","employee_id":"e-1"}`)
		rec := httptest.NewRecorder()
		handleDeviceLinksAPI(rec, req, store)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rec.Code)
		}
	})

	t.Run("unlink then missing", func(t *testing.T) {
		req := timeclockTestRequest(http.MethodPost, "/timeclock/api/device-links:unlink",
			`{"provider":"ZKTECO","device_user_id":"1001"}`)
		rec := httptest.NewRecorder()
		handleDeviceLinkUnlinkAPI(rec, req, store)
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
		}
		if !strings.Contains(rec.Body.String(), `"pending"`) {
			t.Fatalf("body=%s", rec.Body.String())
		}

		rec = httptest.NewRecorder()
		req = timeclockTestRequest(http.MethodPost, "/timeclock/api/device-links:unlink",
			`{"provider":"ZKTECO","device_user_id":"1001"}`)
		handleDeviceLinkUnlinkAPI(rec, req, store)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status=%d", rec.Code)
		}
	})
}

func TestParsePunchTime(t *testing.T) {
	loc := diliLocation()

	got, err := parsePunchTime("2026-06-01T08:00:00Z", loc)
	if err != nil {
		t.Fatalf("rfc3339: %v", err)
	}
	if !got.Equal(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("got=%v", got)
	}

	got, err = parsePunchTime("2026-06-01T08:00", loc)
	if err != nil {
		t.Fatalf("local: %v", err)
	}
	want := time.Date(2026, 6, 1, 8, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got=%v want=%v", got, want)
	}

	if _, err := parsePunchTime("yesterday", loc); err == nil {
		t.Fatalf("expected error")
	}
}
