package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/cache"
	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const extractionCacheName = "extraction"

// Config holds the thresholds of a run. Zero durations take defaults.
type Config struct {
	// ScreenThreshold is the minimum screening confidence for extraction to run.
	ScreenThreshold float64

	// MaxCostPerRun is a soft ceiling: runs above it are flagged, not stopped.
	// Zero disables the check.
	MaxCostPerRun float64

	// CacheTTL is how long extraction results stay fresh.
	CacheTTL time.Duration

	// CacheWriteTimeout bounds each cache write.
	CacheWriteTimeout time.Duration
}

// Stages are the collaborators a Pipeline calls, one per step.
type Stages struct {
	Screener    Screener
	Extractor   Extractor
	Matcher     EntityMatcher
	Context     ContextSource
	Synthesizer Synthesizer
}

func (s Stages) validate() error {
	switch {
	case s.Screener == nil:
		return errors.New("screener cannot be nil")
	case s.Extractor == nil:
		return errors.New("extractor cannot be nil")
	case s.Matcher == nil:
		return errors.New("entity matcher cannot be nil")
	case s.Context == nil:
		return errors.New("context source cannot be nil")
	case s.Synthesizer == nil:
		return errors.New("synthesizer cannot be nil")
	}
	return nil
}

// Pipeline runs the stage sequence over one input at a time. It holds no
// per-run state and is safe for concurrent use.
type Pipeline struct {
	stages   Stages
	config   Config
	cache    cache.Store
	recorder Recorder
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// WithClock overrides the time source used for cache freshness.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline. A nil store disables extraction caching.
func New(stages Stages, config Config, store cache.Store, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if config.ScreenThreshold < 0 || config.ScreenThreshold > 1 {
		return nil, fmt.Errorf("screen threshold %.2f must be between 0 and 1", config.ScreenThreshold)
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 24 * time.Hour
	}
	if config.CacheWriteTimeout <= 0 {
		config.CacheWriteTimeout = 2 * time.Second
	}

	p := &Pipeline{
		stages: stages,
		config: config,
		cache:  store,
		tracer: otel.Tracer("orchestrator.pipeline"),
		logger: logger.With("component", "pipeline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// stageOutput is what a stage body hands back to runStage.
type stageOutput struct {
	payload   any
	cost      float64
	fromCache bool
	warning   string
}

// Run executes every stage in order and always returns a complete result.
// Failures and panics inside a stage are recorded on that stage.
func (p *Pipeline) Run(ctx context.Context, in Input) *PipelineResult {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.user_id", in.UserID),
			attribute.String("pipeline.mime_type", in.MIMEType),
			attribute.Int("pipeline.input_bytes", len(in.Data)),
		),
	)
	defer span.End()

	key := cache.ContentHash(cache.DomainExtraction, in.Data)
	result := &PipelineResult{ContentHash: key}
	logger := p.logger.With("content_hash", key, "user_id", in.UserID)

	var screening Screening
	result.add(p.runStage(ctx, StageScreen, func(ctx context.Context) (stageOutput, error) {
		s, err := p.stages.Screener.Screen(ctx, in)
		if err != nil {
			return stageOutput{}, err
		}
		screening = s
		return stageOutput{payload: s, cost: s.Cost}, nil
	}))

	var extraction Extraction
	extracted := false
	if screening.Confidence < p.config.ScreenThreshold {
		result.add(p.skip(ctx, StageExtract, fmt.Sprintf("confidence %.2f below threshold %.2f",
			screening.Confidence, p.config.ScreenThreshold)))
	} else {
		extracted = true
		stage := p.runStage(ctx, StageExtract, func(ctx context.Context) (stageOutput, error) {
			return p.extract(ctx, in, key, &extraction)
		})
		if !stage.Success {
			extraction = Extraction{}
		}
		result.add(stage)
	}

	var (
		entity *Entity
		atoms  []KnowledgeAtom
	)
	if !extracted {
		result.add(p.skip(ctx, StageMatch, "extraction skipped"))
	} else {
		result.add(p.runStage(ctx, StageMatch, func(ctx context.Context) (stageOutput, error) {
			e, err := p.stages.Matcher.Match(ctx, in.UserID, extraction)
			if err != nil {
				return stageOutput{}, fmt.Errorf("match entity: %w", err)
			}
			if e == nil {
				return stageOutput{}, nil
			}
			entity = e
			found, err := p.stages.Context.FindAtoms(ctx, *e)
			if err != nil {
				return stageOutput{}, fmt.Errorf("find knowledge atoms for %s: %w", e.ID, err)
			}
			atoms = found
			return stageOutput{payload: MatchResult{Entity: e, Atoms: found}}, nil
		}))
	}

	switch {
	case entity == nil:
		result.add(p.skip(ctx, StageSynthesize, SkipNoEntity))
	case len(atoms) == 0:
		result.add(p.skip(ctx, StageSynthesize, SkipNoAtoms))
	default:
		synthesisInput := SynthesisInput{
			Input:      in,
			Screening:  screening,
			Extraction: extraction,
			Entity:     *entity,
			Atoms:      atoms,
		}
		result.add(p.runStage(ctx, StageSynthesize, func(ctx context.Context) (stageOutput, error) {
			s, cost, err := p.stages.Synthesizer.Synthesize(ctx, synthesisInput)
			if err != nil {
				return stageOutput{cost: cost}, err
			}
			return stageOutput{payload: s, cost: cost}, nil
		}))
	}

	if p.config.MaxCostPerRun > 0 && result.TotalCost > p.config.MaxCostPerRun {
		result.BudgetExceeded = true
		logger.WarnContext(ctx, "pipeline run exceeded cost budget",
			"total_cost", result.TotalCost,
			"max_cost_per_run", p.config.MaxCostPerRun)
	}
	if p.recorder != nil {
		p.recorder.ObserveRun(result.TotalCost, result.BudgetExceeded)
	}

	span.SetAttributes(
		attribute.Float64("pipeline.total_cost", result.TotalCost),
		attribute.Bool("pipeline.budget_exceeded", result.BudgetExceeded),
	)
	if failed := result.Failed(); len(failed) > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("stages failed: %v", failed))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	logger.InfoContext(ctx, "pipeline completed",
		"stages", len(result.Stages),
		"failed_stages", result.Failed(),
		"total_cost", result.TotalCost,
		"total_duration_ms", result.TotalDurationMs)
	return result
}

// runStage calls fn inside its own span, converting a panic into a failed stage.
func (p *Pipeline) runStage(
	ctx context.Context,
	name string,
	fn func(ctx context.Context) (stageOutput, error),
) StageResult {
	ctx, span := p.tracer.Start(ctx, "pipeline.stage."+name,
		trace.WithAttributes(attribute.String("pipeline.stage", name)))
	defer span.End()

	start := time.Now()
	var (
		out stageOutput
		err error
	)
	if err = ctx.Err(); err == nil {
		var pc panics.Catcher
		pc.Try(func() {
			out, err = fn(ctx)
		})
		if recovered := pc.Recovered(); recovered != nil {
			err = recovered.AsError()
		}
	}
	duration := time.Since(start)

	stage := StageResult{
		StageName:  name,
		CostUnits:  out.cost,
		DurationMs: duration.Milliseconds(),
		Warning:    out.warning,
	}
	logger := p.logger.With("stage", name)

	if err != nil {
		stage.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.observeStage(name, OutcomeFailure, duration)
		logger.WarnContext(ctx, "pipeline stage failed",
			"duration_ms", stage.DurationMs,
			"error", err)
		return stage
	}

	stage.Success = true
	stage.Payload = out.payload
	stage.FromCache = out.fromCache
	span.SetAttributes(
		attribute.Float64("pipeline.stage.cost", out.cost),
		attribute.Bool("pipeline.stage.from_cache", out.fromCache),
	)
	span.SetStatus(codes.Ok, "")

	outcome := OutcomeSuccess
	if out.fromCache {
		outcome = OutcomeCached
	}
	p.observeStage(name, outcome, duration)
	logger.DebugContext(ctx, "pipeline stage completed",
		"duration_ms", stage.DurationMs,
		"cost", out.cost,
		"from_cache", out.fromCache)
	return stage
}

// skip records a stage that did not run. Skipping is not a failure.
func (p *Pipeline) skip(ctx context.Context, name, reason string) StageResult {
	p.observeStage(name, OutcomeSkipped, 0)
	p.logger.InfoContext(ctx, "pipeline stage skipped", "stage", name, "reason", reason)
	return StageResult{
		StageName:  name,
		Success:    true,
		Skipped:    true,
		SkipReason: reason,
	}
}

// extract serves a fresh cached extraction or calls the extractor and writes
// the result through to the cache.
func (p *Pipeline) extract(ctx context.Context, in Input, key string, dst *Extraction) (stageOutput, error) {
	if cached, ok := p.lookupExtraction(ctx, key); ok {
		*dst = cached
		return stageOutput{payload: cached, fromCache: true}, nil
	}

	extraction, cost, err := p.stages.Extractor.Extract(ctx, in)
	if err != nil {
		return stageOutput{cost: cost}, err
	}
	*dst = extraction
	out := stageOutput{payload: extraction, cost: cost}

	if p.cache == nil {
		return out, nil
	}
	value, err := json.Marshal(extraction)
	if err != nil {
		out.warning = fmt.Sprintf("extraction not cached: %v", err)
		return out, nil
	}
	if err := cache.WriteThrough(ctx, p.cache, &cache.Artifact{
		Key:      key,
		Value:    value,
		Metadata: map[string]string{"stage": StageExtract, "mime_type": in.MIMEType},
	}, p.config.CacheTTL, p.config.CacheWriteTimeout, p.logger); err != nil {
		out.warning = fmt.Sprintf("extraction not cached: %v", err)
	}
	return out, nil
}

func (p *Pipeline) lookupExtraction(ctx context.Context, key string) (Extraction, bool) {
	if p.cache == nil {
		return Extraction{}, false
	}

	artifact, err := p.cache.Get(ctx, key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		p.observeCache(generation.CacheMiss)
		return Extraction{}, false
	case err != nil:
		p.observeCache(generation.CacheError)
		p.logger.WarnContext(ctx, "extraction cache lookup failed", "cache_key", key, "error", err)
		return Extraction{}, false
	case !artifact.Fresh(p.now()):
		p.observeCache(generation.CacheMiss)
		return Extraction{}, false
	}

	var extraction Extraction
	if err := json.Unmarshal(artifact.Value, &extraction); err != nil {
		p.observeCache(generation.CacheError)
		p.logger.WarnContext(ctx, "discarding unreadable cached extraction", "cache_key", key, "error", err)
		return Extraction{}, false
	}
	p.observeCache(generation.CacheHit)
	return extraction, true
}

func (p *Pipeline) observeStage(name, outcome string, d time.Duration) {
	if p.recorder != nil {
		p.recorder.ObserveStage(name, outcome, d)
	}
}

func (p *Pipeline) observeCache(outcome string) {
	if p.recorder != nil {
		p.recorder.ObserveCacheLookup(extractionCacheName, outcome)
	}
}
