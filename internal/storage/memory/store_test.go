package memory

import (
	"context"
	"testing"

	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ports.Store { return New() })
}

func TestCreateRun_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	run := &domain.PipelineRun{ID: "run-1", Status: domain.RunStatusPending}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRun(ctx, run); err == nil {
		t.Error("expected error for duplicate run id")
	}
}

func TestSaveKnowledge_CopiesInput(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := &domain.KnowledgeEntry{ID: "k1", SuccessScore: 0.5}
	if err := s.SaveKnowledge(ctx, e); err != nil {
		t.Fatal(err)
	}
	e.SuccessScore = 1

	got, _ := s.GetKnowledge(ctx, "k1")
	if got.SuccessScore != 0.5 {
		t.Errorf("stored entry aliased caller value: %v", got.SuccessScore)
	}
}
