package cmd

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/router-for-me/JSONRemodeler/internal/config"
	"github.com/router-for-me/JSONRemodeler/internal/store"
)

func TestRunHistory_Disabled(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Disabled = true

	err := RunHistory(context.Background(), cfg, "", 5, false)
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("RunHistory() error = %v, want ledger disabled", err)
	}
}

func TestRunHistory_Empty(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "runs.db")

	stdout, err := captureStdout(t, func() error {
		return RunHistory(context.Background(), cfg, "", 5, false)
	})
	if err != nil {
		t.Fatalf("RunHistory() error = %v", err)
	}
	if !strings.Contains(stdout, "No runs recorded yet") {
		t.Errorf("unexpected output:\n%s", stdout)
	}
}

func TestRunHistory_ListsRuns(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "runs.db")

	ledger, err := store.Open(cfg.Store.Path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	id, err := ledger.RecordStart(ctx, store.Run{Mode: "remodel", Model: "gpt-4o", UnitCount: 4, ExtractionCount: 2})
	if err != nil {
		t.Fatalf("RecordStart() error = %v", err)
	}
	if err = ledger.RecordFinish(ctx, id, nil); err != nil {
		t.Fatalf("RecordFinish() error = %v", err)
	}
	if err = ledger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	t.Run("json", func(t *testing.T) {
		stdout, err := captureStdout(t, func() error {
			return RunHistory(ctx, cfg, "", 0, true)
		})
		if err != nil {
			t.Fatalf("RunHistory() error = %v", err)
		}
		var out HistoryOutput
		if err := json.Unmarshal([]byte(stdout), &out); err != nil {
			t.Fatalf("parse output: %v\n%s", err, stdout)
		}
		if out.Count != 1 {
			t.Fatalf("count = %d, want 1", out.Count)
		}
		run := out.Runs[0]
		if run.Mode != "remodel" || run.Status != store.StatusCompleted || run.UnitCount != 4 {
			t.Errorf("run = %+v, want a completed remodel run with 4 units", run)
		}
	})

	t.Run("table", func(t *testing.T) {
		stdout, err := captureStdout(t, func() error {
			return RunHistory(ctx, cfg, "", 5, false)
		})
		if err != nil {
			t.Fatalf("RunHistory() error = %v", err)
		}
		for _, want := range []string{"Run History", "remodel", "completed"} {
			if !strings.Contains(stdout, want) {
				t.Errorf("history output missing %q:\n%s", want, stdout)
			}
		}
	})
}

func TestFormatRunDuration(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(1230 * time.Millisecond)
	earlier := started.Add(-time.Second)

	tests := []struct {
		name string
		run  store.Run
		want string
	}{
		{"unfinished", store.Run{StartedAt: started}, "-"},
		{"rounded", store.Run{StartedAt: started, FinishedAt: &finished}, "1.2s"},
		{"negative", store.Run{StartedAt: started, FinishedAt: &earlier}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatRunDuration(tt.run); got != tt.want {
				t.Errorf("formatRunDuration() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatRunStatus(t *testing.T) {
	if got := formatRunStatus(store.StatusFailed); !strings.Contains(got, store.StatusFailed) || !strings.Contains(got, colorRed) {
		t.Errorf("formatRunStatus(failed) = %q, want red failed", got)
	}
	if got := formatRunStatus("archived"); got != "archived" {
		t.Errorf("formatRunStatus(archived) = %q, want archived", got)
	}
}
