package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

// baselineFinalizePolicy is the built-in finalize gate. A run may finalize
// when it is fully calculated, produced at least one payslip, its period is
// still open, and nothing pays out negative.
const baselineFinalizePolicy = `package meza.finalize

default allow := false

allow if {
	input.run_status == "calculated"
	input.period_status == "open"
	input.payslip_count > 0
	input.net_cents >= 0
}
`

const baselineFinalizePolicyVersion = "baseline-v1"

// finalizeGateInput is the document handed to the rego query.
type finalizeGateInput struct {
	RunID              string `json:"run_id"`
	RunType            string `json:"run_type"`
	RunStatus          string `json:"run_status"`
	PeriodStatus       string `json:"period_status"`
	PayslipCount       int    `json:"payslip_count"`
	WarningCount       int    `json:"warning_count"`
	GrossCents         int64  `json:"gross_cents"`
	NetCents           int64  `json:"net_cents"`
	TimesheetsComplete bool   `json:"timesheets_complete"`
}

// finalizeGate evaluates data.meza.finalize.allow before a run finalizes.
type finalizeGate struct {
	query rego.PreparedEvalQuery
}

func newFinalizeGate(policy string) (*finalizeGate, error) {
	query, err := rego.New(
		rego.Query("data.meza.finalize.allow"),
		rego.Module("finalize.rego", policy),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("prepare finalize policy: %w", err)
	}
	return &finalizeGate{query: query}, nil
}

// newFinalizeGateFromEnv loads FINALIZE_POLICY_PATH when set, falling back
// to the embedded baseline.
func newFinalizeGateFromEnv() (*finalizeGate, error) {
	path := strings.TrimSpace(os.Getenv("FINALIZE_POLICY_PATH"))
	if path == "" {
		return newFinalizeGate(baselineFinalizePolicy)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read finalize policy %s: %w", path, err)
	}
	return newFinalizeGate(string(raw))
}

func (g *finalizeGate) Allow(ctx context.Context, input finalizeGateInput) (bool, error) {
	rs, err := g.query.Eval(ctx, rego.EvalInput(map[string]any{
		"run_id":              input.RunID,
		"run_type":            input.RunType,
		"run_status":          input.RunStatus,
		"period_status":       input.PeriodStatus,
		"payslip_count":       input.PayslipCount,
		"warning_count":       input.WarningCount,
		"gross_cents":         input.GrossCents,
		"net_cents":           input.NetCents,
		"timesheets_complete": input.TimesheetsComplete,
	}))
	if err != nil {
		return false, fmt.Errorf("evaluate finalize policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, errors.New("finalize policy produced no result")
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, errors.New("finalize policy result is not boolean")
	}
	return allowed, nil
}
