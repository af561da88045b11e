package timeclock

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestZKTecoAPIError(t *testing.T) {
	if got := (ZKTecoAPIError{Status: 500}).Error(); got != "zkteco api error: status=500" {
		t.Fatalf("got=%q", got)
	}
	if got := (ZKTecoAPIError{Status: 401, Detail: "bad"}).Error(); got != "zkteco api error: status=401 detail=bad" {
		t.Fatalf("got=%q", got)
	}
	if !IsZKTecoAuthError(ZKTecoAPIError{Status: 401}) {
		t.Fatal("expected auth error")
	}
	if IsZKTecoAuthError(ZKTecoAPIError{Status: 500}) {
		t.Fatal("expected non-auth error")
	}
	if IsZKTecoAuthError(errors.New("other")) {
		t.Fatal("expected non-auth error")
	}
}

func TestNewZKTecoClient(t *testing.T) {
	c1 := NewZKTecoClient("http://dev", "u", "p", nil)
	if c1.HTTPClient == nil {
		t.Fatal("expected non-nil http client")
	}
	hc := &http.Client{}
	c2 := NewZKTecoClient("http://dev", "u", "p", hc)
	if c2.HTTPClient != hc {
		t.Fatal("expected provided http client")
	}
}

func TestZKTecoClient_GetToken(t *testing.T) {
	t.Run("username missing", func(t *testing.T) {
		c := NewZKTecoClient("http://dev", "", "p", http.DefaultClient)
		if _, err := c.GetToken(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("password missing", func(t *testing.T) {
		c := NewZKTecoClient("http://dev", "u", "", http.DefaultClient)
		if _, err := c.GetToken(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("base url missing", func(t *testing.T) {
		c := NewZKTecoClient("", "u", "p", http.DefaultClient)
		if _, err := c.GetToken(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("http do error", func(t *testing.T) {
		c := NewZKTecoClient("https://example.invalid", "u", "p", &http.Client{
			Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) { return nil, errors.New("do") }),
		})
		if _, err := c.GetToken(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("http status not ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"non_field_errors":["bad credentials"]}`))
		}))
		t.Cleanup(srv.Close)

		c := NewZKTecoClient(srv.URL, "u", "p", srv.Client())
		_, err := c.GetToken(context.Background())
		if err == nil {
			t.Fatal("expected error")
		}
		var apiErr ZKTecoAPIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("decode error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not-json"))
		}))
		t.Cleanup(srv.Close)

		c := NewZKTecoClient(srv.URL, "u", "p", srv.Client())
		if _, err := c.GetToken(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("empty token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(zktecoTokenResponse{Token: ""})
		}))
		t.Cleanup(srv.Close)

		c := NewZKTecoClient(srv.URL, "u", "p", srv.Client())
		if _, err := c.GetToken(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/api-token-auth/" {
				t.Fatalf("method=%q path=%q", r.Method, r.URL.Path)
			}
			var body zktecoTokenRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Username != "u" || body.Password != "p" {
				t.Fatalf("body=%+v", body)
			}
			_ = json.NewEncoder(w).Encode(zktecoTokenResponse{Token: "t1"})
		}))
		t.Cleanup(srv.Close)

		c := NewZKTecoClient(srv.URL+"/", "u", "p", srv.Client())
		token, err := c.GetToken(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if token != "t1" {
			t.Fatalf("token=%q", token)
		}
	})
}

func TestZKTecoTokenSource(t *testing.T) {
	t.Run("cached token", func(t *testing.T) {
		now := time.Unix(100, 0).UTC()
		s := &ZKTecoTokenSource{
			client:    nil,
			now:       func() time.Time { return now },
			token:     "cached",
			expiresAt: now.Add(time.Hour),
		}
		if got, err := s.Token(context.Background()); err != nil || got != "cached" {
			t.Fatalf("got=%q err=%v", got, err)
		}
	})

	t.Run("refresh token", func(t *testing.T) {
		now := time.Unix(100, 0).UTC()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(zktecoTokenResponse{Token: "new"})
		}))
		t.Cleanup(srv.Close)

		ts := NewZKTecoTokenSource(NewZKTecoClient(srv.URL, "u", "p", srv.Client()))
		ts.now = func() time.Time { return now }

		got, err := ts.Token(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != "new" || !ts.expiresAt.Equal(now.Add(zktecoTokenTTL)) {
			t.Fatalf("got=%q expiresAt=%v", got, ts.expiresAt)
		}

		ts.Invalidate()
		if ts.token != "" || !ts.expiresAt.IsZero() {
			t.Fatalf("token=%q expiresAt=%v", ts.token, ts.expiresAt)
		}
	})

	t.Run("refresh error", func(t *testing.T) {
		ts := NewZKTecoTokenSource(NewZKTecoClient("", "u", "p", http.DefaultClient))
		if _, err := ts.Token(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestZKTecoClient_GetTransactions(t *testing.T) {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	t.Run("token missing", func(t *testing.T) {
		c := NewZKTecoClient("http://dev", "u", "p", http.DefaultClient)
		if _, _, err := c.GetTransactions(context.Background(), "", start, end, 1, 10); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid window", func(t *testing.T) {
		c := NewZKTecoClient("http://dev", "u", "p", http.DefaultClient)
		if _, _, err := c.GetTransactions(context.Background(), "tok", end, start, 1, 10); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("base url missing", func(t *testing.T) {
		c := NewZKTecoClient("", "u", "p", http.DefaultClient)
		if _, _, err := c.GetTransactions(context.Background(), "tok", start, end, 1, 10); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("http do error", func(t *testing.T) {
		c := NewZKTecoClient("https://example.invalid", "u", "p", &http.Client{
			Transport: roundTripperFunc(func(*http.Request) (*http.Response, error) { return nil, errors.New("do") }),
		})
		if _, _, err := c.GetTransactions(context.Background(), "tok", start, end, 1, 10); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("http status not ok", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid token."}`))
		}))
		t.Cleanup(srv.Close)

		c := NewZKTecoClient(srv.URL, "u", "p", srv.Client())
		_, _, err := c.GetTransactions(context.Background(), "tok", start, end, 1, 10)
		if !IsZKTecoAuthError(err) {
			t.Fatalf("err=%v", err)
		}
	})

	t.Run("decode error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not-json"))
		}))
		t.Cleanup(srv.Close)

		c := NewZKTecoClient(srv.URL, "u", "p", srv.Client())
		if _, _, err := c.GetTransactions(context.Background(), "tok", start, end, 1, 10); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("success", func(t *testing.T) {
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/iclock/api/transactions/" {
				t.Fatalf("path=%q", r.URL.Path)
			}
			if got := r.Header.Get("Authorization"); got != "Token tok" {
				t.Fatalf("authorization=%q", got)
			}
			q := r.URL.Query()
			if q.Get("start_time") != "2026-06-01 00:00:00" || q.Get("end_time") != "2026-06-01 01:00:00" {
				t.Fatalf("query=%v", q)
			}
			if q.Get("page") != "2" || q.Get("page_size") != "10" {
				t.Fatalf("query=%v", q)
			}
			_ = json.NewEncoder(w).Encode(zktecoTransactionsResponse{
				Count: 11,
				Next:  srv.URL + "/iclock/api/transactions/?page=3",
				Data: []ZKTecoTransaction{
					{ID: 7, EmpCode: "1001", PunchTime: "2026-06-01 00:15:00", PunchState: "0", TerminalSN: "SN-1"},
				},
			})
		}))
		t.Cleanup(srv.Close)

		c := NewZKTecoClient(srv.URL, "u", "p", srv.Client())
		txns, hasNext, err := c.GetTransactions(context.Background(), "tok", start, end, 2, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(txns) != 1 || txns[0].ID != 7 || txns[0].EmpCode != "1001" {
			t.Fatalf("txns=%+v", txns)
		}
		if !hasNext {
			t.Fatal("expected next page")
		}
	})
}

func TestBuildZKTecoPunches(t *testing.T) {
	t.Run("emp_code missing", func(t *testing.T) {
		if _, err := BuildZKTecoPunches([]ZKTecoTransaction{{ID: 1, PunchState: "0"}}, time.UTC); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("id invalid", func(t *testing.T) {
		if _, err := BuildZKTecoPunches([]ZKTecoTransaction{{EmpCode: "1001", PunchState: "0"}}, time.UTC); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("punch_time invalid", func(t *testing.T) {
		txns := []ZKTecoTransaction{{ID: 1, EmpCode: "1001", PunchState: "0", PunchTime: "nope"}}
		if _, err := BuildZKTecoPunches(txns, time.UTC); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("success mapping", func(t *testing.T) {
		dili, err := time.LoadLocation("Asia/Dili")
		if err != nil {
			t.Fatal(err)
		}
		txns := []ZKTecoTransaction{
			{ID: 1, EmpCode: "1001", PunchTime: "2026-06-01 08:00:00", PunchState: "0", TerminalSN: "SN-1", TerminalAlias: "Gate"},
			{ID: 2, EmpCode: "1001", PunchTime: "2026-06-01 17:00:00", PunchState: "1", TerminalSN: "SN-1"},
			{ID: 3, EmpCode: "1002", PunchTime: "2026-06-01 12:00:00", PunchState: "4"},
		}
		punches, err := BuildZKTecoPunches(txns, dili)
		if err != nil {
			t.Fatal(err)
		}
		if len(punches) != 2 {
			t.Fatalf("expected 2, got %d", len(punches))
		}
		if punches[0].PunchType != "IN" || punches[1].PunchType != "OUT" {
			t.Fatalf("punches=%+v", punches)
		}
		if punches[0].RequestID != "zkteco:transaction:1" || punches[0].DeviceID != "SN-1" {
			t.Fatalf("punch=%+v", punches[0])
		}
		want := time.Date(2026, 6, 1, 8, 0, 0, 0, dili).UTC()
		if !punches[0].PunchTime.Equal(want) {
			t.Fatalf("punch_time=%v want=%v", punches[0].PunchTime, want)
		}
		if !strings.Contains(string(punches[0].Payload), "terminal_alias") {
			t.Fatalf("payload=%q", string(punches[0].Payload))
		}
		if strings.Contains(string(punches[1].Payload), "terminal_alias") {
			t.Fatalf("payload=%q", string(punches[1].Payload))
		}
	})

	t.Run("nil location defaults to utc", func(t *testing.T) {
		txns := []ZKTecoTransaction{{ID: 1, EmpCode: "1001", PunchTime: "2026-06-01 08:00:00", PunchState: "0"}}
		punches, err := BuildZKTecoPunches(txns, nil)
		if err != nil {
			t.Fatal(err)
		}
		if punches[0].DeviceID != "zkteco" {
			t.Fatalf("device_id=%q", punches[0].DeviceID)
		}
		if !punches[0].PunchTime.Equal(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)) {
			t.Fatalf("punch_time=%v", punches[0].PunchTime)
		}
	})
}
