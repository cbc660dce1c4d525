// Package contract is the single source of truth for what each pipeline
// stage needs and produces.
//
// A Registry is immutable after construction and safe for concurrent reads
// from any number of orchestrator workers.
package contract

import (
	"fmt"

	"github.com/polything/phoenix-template/internal/core/domain"
)

// GatePolicy controls how the quality gate treats a stage's output.
type GatePolicy string

const (
	// GateAuto passes unless a hard contract violation is found.
	GateAuto GatePolicy = "auto"
	// GateAlwaysReview never auto-passes.
	GateAlwaysReview GatePolicy = "always_review"
	// GateReviewOnLowScore auto-passes at or above the review threshold.
	GateReviewOnLowScore GatePolicy = "review_on_low_score"
)

// StageContract declares one stage's dependencies, output and gating.
type StageContract struct {
	Name domain.StageName
	// Requires is the minimal set of upstream stages that must have a
	// passing result before this stage may run.
	Requires  []domain.StageName
	Output    Schema
	Cacheable bool
	Gate      GatePolicy
	// Optional stages run only when the brief enables them.
	Optional bool
	// Purpose is a one-line description handed to generation capabilities.
	Purpose string
}

// Registry is an ordered, read-only set of stage contracts.
type Registry struct {
	order  []domain.StageName
	byName map[domain.StageName]StageContract
}

// NewRegistry builds a registry from contracts in execution order. Every
// required stage must appear earlier in the list.
func NewRegistry(contracts ...StageContract) (*Registry, error) {
	r := &Registry{
		order:  make([]domain.StageName, 0, len(contracts)),
		byName: make(map[domain.StageName]StageContract, len(contracts)),
	}
	for _, c := range contracts {
		if c.Name == "" {
			return nil, fmt.Errorf("contract with empty stage name")
		}
		if _, dup := r.byName[c.Name]; dup {
			return nil, fmt.Errorf("duplicate contract for stage %s", c.Name)
		}
		for _, req := range c.Requires {
			if _, ok := r.byName[req]; !ok {
				return nil, fmt.Errorf("stage %s requires %s, which is not declared before it", c.Name, req)
			}
		}
		if c.Gate == "" {
			c.Gate = GateAuto
		}
		r.order = append(r.order, c.Name)
		r.byName[c.Name] = c
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error, for static tables.
func MustRegistry(contracts ...StageContract) *Registry {
	r, err := NewRegistry(contracts...)
	if err != nil {
		panic(err)
	}
	return r
}

// ContractFor returns the contract for a stage.
func (r *Registry) ContractFor(stage domain.StageName) (StageContract, error) {
	c, ok := r.byName[stage]
	if !ok {
		return StageContract{}, fmt.Errorf("%w: %s", domain.ErrContractNotFound, stage)
	}
	return c, nil
}

// Stages returns every stage in declared order.
func (r *Registry) Stages() []domain.StageName {
	return append([]domain.StageName(nil), r.order...)
}

// Planned returns the stages a run with the given brief executes, in order.
func (r *Registry) Planned(brief domain.Brief) []domain.StageName {
	planned := make([]domain.StageName, 0, len(r.order))
	for _, name := range r.order {
		c := r.byName[name]
		if c.Optional && !optionalEnabled(name, brief) {
			continue
		}
		planned = append(planned, name)
	}
	return planned
}

func optionalEnabled(stage domain.StageName, brief domain.Brief) bool {
	switch stage {
	case domain.StageSEO:
		return brief.IncludeSEO
	default:
		return false
	}
}

// Next returns the first planned stage without a passing result. ok is false
// when every planned stage has passed.
func (r *Registry) Next(brief domain.Brief, results domain.StageResults) (stage domain.StageName, ok bool) {
	for _, name := range r.Planned(brief) {
		if !results.Get(name).Passed() {
			return name, true
		}
	}
	return "", false
}

// MissingPrecursors lists required upstream stages lacking a passing result.
func (c StageContract) MissingPrecursors(results domain.StageResults) []domain.StageName {
	var missing []domain.StageName
	for _, req := range c.Requires {
		if !results.Get(req).Passed() {
			missing = append(missing, req)
		}
	}
	return missing
}
