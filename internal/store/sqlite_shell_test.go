package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShell_DeltaAgainstPreviousReading(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U100")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	readings := []int{100, 140, 130}
	for i, shells := range readings {
		if _, err := db.AppendShellSnapshot(ctx, "U100", shells, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	history, err := db.ListShellHistory(ctx, "U100")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("Expected 3 snapshots, got %d", len(history))
	}

	// First reading has no baseline: nil diff, not zero.
	if history[0].ShellDiff != nil || history[0].ShellsBefore != nil {
		t.Errorf("Expected nil diff for first reading, got %+v", history[0])
	}
	if history[1].ShellDiff == nil || *history[1].ShellDiff != 40 {
		t.Errorf("Expected diff +40, got %v", history[1].ShellDiff)
	}
	if history[2].ShellDiff == nil || *history[2].ShellDiff != -10 {
		t.Errorf("Expected diff -10, got %v", history[2].ShellDiff)
	}
	if history[2].ShellsBefore == nil || *history[2].ShellsBefore != 140 {
		t.Errorf("Expected shells_before 140, got %v", history[2].ShellsBefore)
	}
}

func TestShell_ReplaySameInstantIsNoop(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U100")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first, err := db.AppendShellSnapshot(ctx, "U100", 100, at)
	if err != nil {
		t.Fatal(err)
	}

	replay, err := db.AppendShellSnapshot(ctx, "U100", 100, at)
	if err != nil {
		t.Fatal(err)
	}
	if replay.Shells != first.Shells || !replay.RecordedAt.Equal(first.RecordedAt) {
		t.Errorf("Expected stored row back on replay, got %+v", replay)
	}

	history, err := db.ListShellHistory(ctx, "U100")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Errorf("Expected replay to not append, got %d rows", len(history))
	}
}

func TestShell_UpdatesUserCounter(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U100")

	if _, err := db.AppendShellSnapshot(ctx, "U100", 75, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	user, err := db.GetUser(ctx, "U100")
	if err != nil {
		t.Fatal(err)
	}
	if user.CurrentShells == nil || *user.CurrentShells != 75 {
		t.Errorf("Expected current_shells 75, got %v", user.CurrentShells)
	}
	if user.StatsSynced == nil {
		t.Error("Expected stats_synced to be set")
	}
}

func TestShell_RequiresExistingUser(t *testing.T) {
	db := newTestStore(t)

	_, err := db.AppendShellSnapshot(context.Background(), "UNOPE", 10, time.Now().UTC())
	if !errors.Is(err, ErrReferentialIntegrity) {
		t.Errorf("Expected ErrReferentialIntegrity, got %v", err)
	}
}

func TestShell_HistoryIsolatedPerUser(t *testing.T) {
	db := newTestStore(t)
	ctx := context.Background()
	seedUser(t, db, "U100")
	seedUser(t, db, "U200")

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := db.AppendShellSnapshot(ctx, "U100", 50, at); err != nil {
		t.Fatal(err)
	}
	snap, err := db.AppendShellSnapshot(ctx, "U200", 80, at.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	// U200's first reading must not see U100's as a baseline.
	if snap.ShellDiff != nil {
		t.Errorf("Expected nil diff for another user's first reading, got %v", snap.ShellDiff)
	}
}
