package sqldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/storage/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	return store
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store { return newTestStore(t) })
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New(Config{Driver: "mysql", DSN: "x"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestSchema_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.db")
	ctx := context.Background()

	first, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	run := &domain.PipelineRun{ID: "run-1", ClientID: "c", Status: domain.RunStatusRunning, Stage: domain.StageDraft}
	if err := first.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer second.Close()

	got, err := second.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun() after reopen error = %v", err)
	}
	if got.Stage != domain.StageDraft || got.Status != domain.RunStatusRunning {
		t.Errorf("run = %s at %s", got.Status, got.Stage)
	}
}

func TestStageColumnsPerStage(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	var n int
	err := store.DB().Get(&n, `SELECT COUNT(*) FROM pragma_table_info('pipeline_runs') WHERE name LIKE 'stage\_%' ESCAPE '\'`)
	if err != nil {
		t.Fatal(err)
	}
	// One column per stage plus stage and stage_order.
	if want := len(stageColumns) + 1; n != want {
		t.Errorf("stage_* columns = %d, want %d", n, want)
	}
}
