package scheduler

import (
	"testing"
	"time"
)

func TestSetReplacesAndRemoves(t *testing.T) {
	s := New()
	s.Start()
	defer s.Stop()

	if err := s.Set(JobScan, "0 2 * * 0", func() {}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Expr(JobScan); got != "0 2 * * 0" {
		t.Errorf("Expr: got %q", got)
	}
	// cron computes Next asynchronously after AddFunc on a running scheduler.
	deadline := time.Now().Add(time.Second)
	for s.Next(JobScan) == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Next(JobScan) == nil {
		t.Error("expected a next run time")
	}

	if err := s.Set(JobScan, "*/5 * * * *", func() {}); err != nil {
		t.Fatalf("Set replace: %v", err)
	}
	if got := s.Expr(JobScan); got != "*/5 * * * *" {
		t.Errorf("Expr after replace: got %q", got)
	}
	if n := len(s.c.Entries()); n != 1 {
		t.Errorf("cron entries: got %d, want 1", n)
	}

	if err := s.Set(JobScan, "", nil); err != nil {
		t.Fatalf("Set empty: %v", err)
	}
	if s.Next(JobScan) != nil || s.Expr(JobScan) != "" {
		t.Error("job still scheduled after clearing")
	}
}

func TestSetInvalidExpressionKeepsOldJob(t *testing.T) {
	s := New()
	if err := s.Set(JobTrashPurge, "0 3 * * *", func() {}); err != nil {
		t.Fatal(err)
	}
	if err := s.Set(JobTrashPurge, "not a cron", func() {}); err == nil {
		t.Fatal("expected error for invalid expression")
	}
	if got := s.Expr(JobTrashPurge); got != "0 3 * * *" {
		t.Errorf("Expr: got %q, want old expression kept", got)
	}
}
