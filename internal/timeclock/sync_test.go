package timeclock

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/OniT-Enterprises/meza/pkg/logger"
)

func nopLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

type recordingStore struct {
	mu       sync.Mutex
	statuses map[string]LinkResolution
	submits  []SubmitDevicePunchParams
	nextID   int64
}

func (s *recordingStore) TouchDeviceLink(_ context.Context, _ string, _ string, deviceUserID string, _ []byte) (LinkResolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.statuses[deviceUserID]; ok {
		return res, nil
	}
	return LinkResolution{Status: LinkStatusPending}, nil
}

func (s *recordingStore) SubmitDevicePunch(_ context.Context, params SubmitDevicePunchParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits = append(s.submits, params)
	s.nextID++
	return s.nextID, nil
}

func TestSyncerRunOnce(t *testing.T) {
	var (
		mu       sync.Mutex
		tokenReq int
		txnReq   int
		srv      *httptest.Server
	)
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api-token-auth/":
			mu.Lock()
			tokenReq++
			n := tokenReq
			mu.Unlock()
			_ = json.NewEncoder(w).Encode(zktecoTokenResponse{Token: "tok-" + strconv.Itoa(n)})
		case "/iclock/api/transactions/":
			mu.Lock()
			txnReq++
			n := txnReq
			mu.Unlock()
			// First transactions call fails with a stale token so the
			// syncer must invalidate and retry.
			if n == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"Invalid token."}`))
				return
			}
			resp := zktecoTransactionsResponse{
				Data: []ZKTecoTransaction{
					{ID: int64(n * 10), EmpCode: "1001", PunchTime: "2026-06-01 08:00:00", PunchState: "0", TerminalSN: "SN-1"},
					{ID: int64(n*10 + 1), EmpCode: "2002", PunchTime: "2026-06-01 08:05:00", PunchState: "0", TerminalSN: "SN-1"},
				},
			}
			if r.URL.Query().Get("page") == "1" {
				resp.Next = srv.URL + "/iclock/api/transactions/?page=2"
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	employeeID := "employee-e1"
	store := &recordingStore{
		statuses: map[string]LinkResolution{
			"1001": {Status: LinkStatusActive, EmployeeID: &employeeID},
		},
	}

	s := NewSyncer(store, NewZKTecoClient(srv.URL, "u", "p", srv.Client()), nopLogger(), "t1", "sync")
	s.now = func() time.Time { return time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC) }

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Two pages, one mapped employee each: user 1001 is submitted twice,
	// user 2002 stays pending.
	if len(store.submits) != 2 {
		t.Fatalf("submits=%+v", store.submits)
	}
	for _, p := range store.submits {
		if p.EmployeeID != employeeID || p.TenantID != "t1" || p.InitiatorID != "sync" {
			t.Fatalf("params=%+v", p)
		}
	}
	if store.submits[0].RequestID == store.submits[1].RequestID {
		t.Fatalf("request ids not distinct: %+v", store.submits)
	}
	if tokenReq != 2 {
		t.Fatalf("tokenReq=%d", tokenReq)
	}
}

func TestSyncerRunStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api-token-auth/":
			_ = json.NewEncoder(w).Encode(zktecoTokenResponse{Token: "tok"})
		default:
			_ = json.NewEncoder(w).Encode(zktecoTransactionsResponse{})
		}
	}))
	t.Cleanup(srv.Close)

	store := &recordingStore{statuses: map[string]LinkResolution{}}
	s := NewSyncer(store, NewZKTecoClient(srv.URL, "u", "p", srv.Client()), nopLogger(), "t1", "sync")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
