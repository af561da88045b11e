package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return &Logger{zap.New(core).Sugar()}, logs
}

func TestFromContextCarriesTraceAndTenant(t *testing.T) {
	l, logs := observed()
	ctx := WithLogger(context.Background(), l)
	ctx = WithTrace(ctx, "abc123")
	ctx = WithTenant(ctx, "demo")

	Info(ctx, "payroll run calculated", "run_id", "r1")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d", len(entries))
	}
	got := entries[0].ContextMap()
	if got["trace_id"] != "abc123" {
		t.Fatalf("trace_id=%v", got["trace_id"])
	}
	if got["tenant"] != "demo" {
		t.Fatalf("tenant=%v", got["tenant"])
	}
	if got["run_id"] != "r1" {
		t.Fatalf("run_id=%v", got["run_id"])
	}
}

func TestWithComponent(t *testing.T) {
	l, logs := observed()
	l.WithComponent("timeclock").Infow("sync finished")

	got := logs.All()
	if len(got) != 1 {
		t.Fatalf("entries=%d", len(got))
	}
	if got[0].ContextMap()["component"] != "timeclock" {
		t.Fatalf("component=%v", got[0].ContextMap()["component"])
	}
}

func TestFromContextWithoutLoggerUsesDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatalf("nil logger")
	}
}

func TestNewFallsBackToInfoLevel(t *testing.T) {
	l, err := New(Config{Level: "nonsense", OutputPaths: []string{"stdout"}})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if l == nil {
		t.Fatalf("nil logger")
	}
}
