package db

import (
	"context"
	"errors"
	"testing"
)

func TestPoolStats_UnhealthyState(t *testing.T) {
	stats := &PoolStats{MaxConns: 20, AcquireDuration: "0s"}
	if stats.Healthy {
		t.Error("expected Healthy to be false when TotalConns is 0")
	}
}

func TestRunChecks_AllHealthy(t *testing.T) {
	checks := []Check{
		{Name: "redis", Probe: func(context.Context) error { return nil }},
	}
	out, healthy := runChecks(context.Background(), checks)
	if !healthy {
		t.Fatal("expected healthy")
	}
	if out["redis"] != "ok" {
		t.Errorf("expected redis ok, got %q", out["redis"])
	}
}

func TestRunChecks_Degraded(t *testing.T) {
	checks := []Check{
		{Name: "redis", Probe: func(context.Context) error { return errors.New("connection refused") }},
		{Name: "other", Probe: func(context.Context) error { return nil }},
	}
	out, healthy := runChecks(context.Background(), checks)
	if healthy {
		t.Fatal("expected unhealthy")
	}
	if out["redis"] != "connection refused" {
		t.Errorf("expected error message, got %q", out["redis"])
	}
	if out["other"] != "ok" {
		t.Errorf("expected other ok, got %q", out["other"])
	}
}

func TestRunChecks_Empty(t *testing.T) {
	out, healthy := runChecks(context.Background(), nil)
	if !healthy || len(out) != 0 {
		t.Errorf("expected healthy and empty, got %v %v", healthy, out)
	}
}
