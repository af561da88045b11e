package timeclock

import (
	"context"
	"fmt"
	"time"

	"github.com/OniT-Enterprises/meza/pkg/logger"
)

// Syncer pulls punch transactions from a device server and ingests them
// through the identity link table. Every batch is independent: a failed
// page or punch is logged and the loop keeps going.
type Syncer struct {
	Store       Store
	Client      *ZKTecoClient
	TokenSource *ZKTecoTokenSource
	Log         *logger.Logger

	TenantID    string
	InitiatorID string
	Location    *time.Location
	Lookback    time.Duration
	PageSize    int

	now func() time.Time
}

func NewSyncer(store Store, client *ZKTecoClient, log *logger.Logger, tenantID string, initiatorID string) *Syncer {
	return &Syncer{
		Store:       store,
		Client:      client,
		TokenSource: NewZKTecoTokenSource(client),
		Log:         log,
		TenantID:    tenantID,
		InitiatorID: initiatorID,
		Location:    time.UTC,
		Lookback:    15 * time.Minute,
		PageSize:    200,
		now:         time.Now,
	}
}

// RunOnce syncs the lookback window: fetches every transaction page and
// ingests each punch. Submission is idempotent on (device_id, request_id),
// so overlapping windows between runs are safe.
func (s *Syncer) RunOnce(ctx context.Context) error {
	end := s.now().In(s.Location)
	start := end.Add(-s.Lookback)

	var (
		fetched  int
		ingested int
		unmapped int
		skipped  int
		failed   int
	)

	for page := 1; ; page++ {
		txns, hasNext, err := s.fetchPage(ctx, start, end, page)
		if err != nil {
			return fmt.Errorf("fetch transactions page %d: %w", page, err)
		}
		fetched += len(txns)

		punches, err := BuildZKTecoPunches(txns, s.Location)
		if err != nil {
			return fmt.Errorf("build punches page %d: %w", page, err)
		}

		for _, punch := range punches {
			result, err := IngestDevicePunch(ctx, s.Store, s.TenantID, s.InitiatorID, punch)
			if err != nil {
				failed++
				s.Log.Errorw("timeclock punch ingest failed",
					"tenant_id", s.TenantID,
					"device_user_id", punch.DeviceUserID,
					"request_id", punch.RequestID,
					"error", err)
				continue
			}
			switch result.Outcome {
			case IngestOutcomeIngested:
				ingested++
			case IngestOutcomeUnmapped:
				unmapped++
			default:
				skipped++
			}
		}

		if !hasNext {
			break
		}
	}

	s.Log.Infow("timeclock sync completed",
		"tenant_id", s.TenantID,
		"window_start", start.UTC().Format(time.RFC3339),
		"window_end", end.UTC().Format(time.RFC3339),
		"fetched", fetched,
		"ingested", ingested,
		"unmapped", unmapped,
		"skipped", skipped,
		"failed", failed)
	return nil
}

// fetchPage retries once after invalidating a stale token.
func (s *Syncer) fetchPage(ctx context.Context, start time.Time, end time.Time, page int) ([]ZKTecoTransaction, bool, error) {
	token, err := s.TokenSource.Token(ctx)
	if err != nil {
		return nil, false, err
	}
	txns, hasNext, err := s.Client.GetTransactions(ctx, token, start, end, page, s.PageSize)
	if err == nil {
		return txns, hasNext, nil
	}
	if !IsZKTecoAuthError(err) {
		return nil, false, err
	}

	s.TokenSource.Invalidate()
	token, tokenErr := s.TokenSource.Token(ctx)
	if tokenErr != nil {
		return nil, false, tokenErr
	}
	return s.Client.GetTransactions(ctx, token, start, end, page, s.PageSize)
}

// Run loops RunOnce on the interval until the context is cancelled.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if err := s.RunOnce(ctx); err != nil {
		s.Log.Errorw("timeclock sync failed", "tenant_id", s.TenantID, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.Log.Errorw("timeclock sync failed", "tenant_id", s.TenantID, "error", err)
			}
		}
	}
}
