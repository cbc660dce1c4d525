package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/polything/phoenix-template/internal/contract"
	"github.com/polything/phoenix-template/internal/core/domain"
	"github.com/polything/phoenix-template/internal/core/ports"
)

// stageInput is the contract input document handed to the capability.
type stageInput struct {
	Stage     domain.StageName                     `json:"stage"`
	Purpose   string                               `json:"purpose,omitempty"`
	Brief     domain.Brief                         `json:"brief"`
	Client    *domain.ClientProfile                `json:"client,omitempty"`
	Upstream  map[domain.StageName]json.RawMessage `json:"upstream,omitempty"`
	Knowledge []knowledgeRef                       `json:"knowledge,omitempty"`
}

type knowledgeRef struct {
	ID    string               `json:"id"`
	Type  domain.KnowledgeType `json:"type"`
	Title string               `json:"title"`
	Body  string               `json:"body"`
}

// knowledgeStages receive learned entries as retrieval context.
var knowledgeStages = map[domain.StageName][]domain.KnowledgeType{
	domain.StageSynthesis:     {domain.KnowledgeRebuttal},
	domain.StageAngleMatrix:   {domain.KnowledgeHook},
	domain.StageDraft:         {domain.KnowledgeHook, domain.KnowledgeVoice},
	domain.StageVoiceTransfer: {domain.KnowledgeVoice},
}

func (e *Executor) buildInput(ctx context.Context, c contract.StageContract, run *domain.PipelineRun, profile *domain.ClientProfile) (json.RawMessage, []string, error) {
	in := stageInput{
		Stage:   c.Name,
		Purpose: c.Purpose,
		Brief:   run.Brief,
		Client:  profile,
	}
	if len(c.Requires) > 0 {
		in.Upstream = make(map[domain.StageName]json.RawMessage, len(c.Requires))
		for _, req := range c.Requires {
			in.Upstream[req] = run.Results.Get(req).Payload
		}
	}

	var knowledgeIDs []string
	if types, ok := knowledgeStages[c.Name]; ok && e.knowledge != nil {
		entries, err := e.knowledge.ListKnowledge(ctx, ports.KnowledgeListOptions{
			ClientID:      run.ClientID,
			IncludeGlobal: true,
			Types:         types,
			Limit:         e.cfg.KnowledgeLimit,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load knowledge: %w", err)
		}
		for _, k := range entries {
			in.Knowledge = append(in.Knowledge, knowledgeRef{ID: k.ID, Type: k.Type, Title: k.Title, Body: k.Body})
			knowledgeIDs = append(knowledgeIDs, k.ID)
		}
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal stage input: %w", err)
	}
	return raw, knowledgeIDs, nil
}

func cacheKey(stage domain.StageName, input json.RawMessage) string {
	sum := sha256.Sum256(input)
	return string(stage) + ":" + hex.EncodeToString(sum[:])
}
