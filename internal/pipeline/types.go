package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage names, in execution order.
const (
	StageScreen     = "screen"
	StageExtract    = "extract"
	StageMatch      = "entity_match"
	StageSynthesize = "synthesize"
)

// Stage outcomes passed to Recorder.ObserveStage.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeCached  = "cached"
)

// Skip reasons for stages that did not run.
const (
	SkipNoEntity = "no entity matched"
	SkipNoAtoms  = "no knowledge atoms found"
)

// ErrBudgetExceeded is returned by PipelineResult.CheckBudget for runs that
// cost more than the configured ceiling. Run itself never fails on it.
var ErrBudgetExceeded = errors.New("pipeline cost exceeded budget")

// Input is one photo submitted for analysis.
type Input struct {
	UserID   string `json:"user_id"`
	Data     []byte `json:"-"`
	MIMEType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

// Screening classifies the input and reports how sure the classifier is.
type Screening struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Cost       float64 `json:"cost"`
}

// Extraction is the structured content read from the input.
type Extraction struct {
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	Text         string   `json:"text,omitempty"`
	Observations []string `json:"observations,omitempty"`
}

// IsEmpty reports whether nothing was extracted.
func (e Extraction) IsEmpty() bool {
	return strings.TrimSpace(e.Manufacturer) == "" &&
		strings.TrimSpace(e.Model) == "" &&
		strings.TrimSpace(e.SerialNumber) == "" &&
		strings.TrimSpace(e.Text) == "" &&
		len(e.Observations) == 0
}

// Entity is a known piece of equipment.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// KnowledgeAtom is one fact about an entity.
type KnowledgeAtom struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// SynthesisInput is everything the synthesize stage works from.
type SynthesisInput struct {
	Input      Input
	Screening  Screening
	Extraction Extraction
	Entity     Entity
	Atoms      []KnowledgeAtom
}

// Synthesis is the user-facing answer.
type Synthesis struct {
	Summary         string   `json:"summary"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// MatchResult is the payload of the entity match stage.
type MatchResult struct {
	Entity *Entity         `json:"entity,omitempty"`
	Atoms  []KnowledgeAtom `json:"atoms,omitempty"`
}

// Screener classifies an input.
type Screener interface {
	Screen(ctx context.Context, in Input) (Screening, error)
}

// Extractor reads structured content from an input and reports its cost.
type Extractor interface {
	Extract(ctx context.Context, in Input) (Extraction, float64, error)
}

// EntityMatcher finds the entity an extraction refers to. A nil entity with a
// nil error means no match.
type EntityMatcher interface {
	Match(ctx context.Context, userID string, extraction Extraction) (*Entity, error)
}

// ContextSource returns what is known about an entity.
type ContextSource interface {
	FindAtoms(ctx context.Context, entity Entity) ([]KnowledgeAtom, error)
}

// Synthesizer produces the final answer and reports its cost.
type Synthesizer interface {
	Synthesize(ctx context.Context, in SynthesisInput) (Synthesis, float64, error)
}

// Recorder receives stage and run outcomes, typically a metrics collector.
type Recorder interface {
	ObserveStage(stage string, outcome string, duration time.Duration)
	ObserveCacheLookup(cacheName string, outcome string)
	ObserveRun(totalCost float64, budgetExceeded bool)
}

// StageResult records how one stage went.
type StageResult struct {
	StageName  string  `json:"stage_name"`
	Success    bool    `json:"success"`
	Skipped    bool    `json:"skipped,omitempty"`
	SkipReason string  `json:"skip_reason,omitempty"`
	CostUnits  float64 `json:"cost_units"`
	DurationMs int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
	Warning    string  `json:"warning,omitempty"`
	FromCache  bool    `json:"from_cache,omitempty"`
	Payload    any     `json:"payload,omitempty"`
}

// PipelineResult is the complete record of one run.
type PipelineResult struct {
	Stages          []StageResult `json:"stages"`
	TotalCost       float64       `json:"total_cost"`
	TotalDurationMs int64         `json:"total_duration_ms"`
	FinalPayload    any           `json:"final_payload,omitempty"`
	BudgetExceeded  bool          `json:"budget_exceeded"`
	ContentHash     string        `json:"content_hash"`
}

// Stage returns the result recorded for name, or nil.
func (r *PipelineResult) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].StageName == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Failed lists the stages that ran and did not succeed.
func (r *PipelineResult) Failed() []string {
	var names []string
	for _, s := range r.Stages {
		if !s.Success && !s.Skipped {
			names = append(names, s.StageName)
		}
	}
	return names
}

// CheckBudget returns an error wrapping ErrBudgetExceeded when the run went
// over its ceiling.
func (r *PipelineResult) CheckBudget() error {
	if !r.BudgetExceeded {
		return nil
	}
	return fmt.Errorf("%w: total cost %.4f", ErrBudgetExceeded, r.TotalCost)
}

func (r *PipelineResult) add(s StageResult) {
	r.Stages = append(r.Stages, s)
	r.TotalCost += s.CostUnits
	r.TotalDurationMs += s.DurationMs
	if s.Success && !s.Skipped && s.Payload != nil {
		r.FinalPayload = s.Payload
	}
}
