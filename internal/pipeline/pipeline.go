// Package pipeline runs one chat invocation: synthesize, validate, execute, narrate.
//
// Synthesis, validation and execution are hard dependencies and end the invocation in
// StateFailed. Narration and charting are soft: they degrade and the invocation
// still completes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pitwall/pitwall/internal/chart"
	"github.com/pitwall/pitwall/internal/guard"
	"github.com/pitwall/pitwall/internal/narrate"
	"github.com/pitwall/pitwall/internal/nl2sql"
	"github.com/pitwall/pitwall/internal/observability"
	"github.com/pitwall/pitwall/internal/query"
	"github.com/pitwall/pitwall/internal/schema"
)

type State string

const (
	StateReceived     State = "received"
	StateSynthesizing State = "synthesizing"
	StateValidating   State = "validating"
	StateExecuting    State = "executing"
	StateNarrating    State = "narrating"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

type Stage string

const (
	StageSynthesis     Stage = "synthesis"
	StageValidation    Stage = "validation"
	StageExecution     Stage = "execution"
	StageNarration     Stage = "narration"
	StageVisualization Stage = "visualization"
)

// Failure is the structured error of a failed invocation. Message is safe to show to users.
type Failure struct {
	Stage   Stage
	Reason  string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s failed: %s", f.Stage, f.Reason)
	}
	return fmt.Sprintf("%s failed: %s: %v", f.Stage, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

type Outcome struct {
	ID         string
	State      State
	Question   string
	SQL        string
	ResultSet  *query.ResultSet
	Narrative  narrate.Answer
	Chart      *chart.Spec
	ChartError *chart.VisualizationError
	Failure    *Failure
}

type Synthesizer interface {
	Synthesize(ctx context.Context, question string, registry *schema.Registry) (nl2sql.SynthesizedQuery, error)
}

type Executor interface {
	Execute(ctx context.Context, sqlText string) (query.ResultSet, error)
}

type Narrator interface {
	Narrate(ctx context.Context, question string, result query.ResultSet) narrate.Answer
}

type Visualizer interface {
	Visualize(ctx context.Context, result query.ResultSet) (chart.Spec, error)
}

type Dependencies struct {
	Registry    *schema.Registry
	Synthesizer Synthesizer
	Executor    Executor
	Narrator    Narrator
	Visualizer  Visualizer
	Logger      *slog.Logger
}

type Pipeline struct {
	deps     Dependencies
	validate func(string, *schema.Registry) guard.Verdict
	newID    func() string
}

func New(deps Dependencies) (*Pipeline, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("pipeline: schema registry is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("pipeline: synthesizer is required")
	case deps.Executor == nil:
		return nil, errors.New("pipeline: executor is required")
	case deps.Narrator == nil:
		return nil, errors.New("pipeline: narrator is required")
	case deps.Visualizer == nil:
		return nil, errors.New("pipeline: visualizer is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Pipeline{deps: deps, validate: guard.Validate, newID: uuid.NewString}, nil
}

func (p *Pipeline) Registry() *schema.Registry {
	return p.deps.Registry
}

// Chat answers question. A failed invocation returns the Outcome together with its *Failure.
func (p *Pipeline) Chat(ctx context.Context, question string) (Outcome, error) {
	return p.run(ctx, question, false)
}

// ChatWithChart is Chat plus a chart generated concurrently with the narration.
// A chart failure is reported in Outcome.ChartError and never fails the invocation.
func (p *Pipeline) ChatWithChart(ctx context.Context, question string) (Outcome, error) {
	return p.run(ctx, question, true)
}

// Visualize runs the chart stage on its own.
func (p *Pipeline) Visualize(ctx context.Context, result query.ResultSet) (chart.Spec, error) {
	logger := observability.WithTrace(ctx, p.deps.Logger).With(slog.String("invocation_id", p.newID()))
	return p.visualize(ctx, logger, result)
}

func (p *Pipeline) run(ctx context.Context, question string, withChart bool) (Outcome, error) {
	out := Outcome{ID: p.newID(), State: StateReceived, Question: question}
	logger := observability.WithTrace(ctx, p.deps.Logger).With(slog.String("invocation_id", out.ID))
	logger.InfoContext(ctx, "pipeline received", slog.Bool("chart", withChart))

	p.transition(ctx, logger, &out, StateSynthesizing)
	start := time.Now()
	synthesized, err := p.deps.Synthesizer.Synthesize(ctx, question, p.deps.Registry)
	if err != nil {
		reason := nl2sql.ReasonUpstream
		var synthErr *nl2sql.SynthesisError
		if errors.As(err, &synthErr) {
			reason = synthErr.Reason
		}
		return p.fail(ctx, logger, out, start, &Failure{
			Stage:   StageSynthesis,
			Reason:  reason,
			Message: synthesisMessage(reason),
			Err:     err,
		})
	}
	p.finishStage(StageSynthesis, "ok", start)
	out.SQL = synthesized.SQL

	p.transition(ctx, logger, &out, StateValidating)
	start = time.Now()
	verdict := p.validate(synthesized.SQL, p.deps.Registry)
	if !verdict.Accepted {
		observability.IncrementGuardRejection(string(verdict.Reason))
		logger.WarnContext(ctx, "query rejected",
			slog.String("reason", string(verdict.Reason)),
			slog.String("detail", verdict.Detail),
			slog.String("sql", synthesized.SQL),
		)
		return p.fail(ctx, logger, out, start, &Failure{
			Stage:   StageValidation,
			Reason:  string(verdict.Reason),
			Message: verdict.Message(),
		})
	}
	p.finishStage(StageValidation, "ok", start)

	p.transition(ctx, logger, &out, StateExecuting)
	start = time.Now()
	result, err := p.deps.Executor.Execute(ctx, synthesized.SQL)
	if err != nil {
		failure := &Failure{Stage: StageExecution, Reason: "syntax", Message: "the generated query could not be run against the database", Err: err}
		var execErr *query.ExecutionError
		if errors.As(err, &execErr) {
			failure.Reason = string(execErr.Class)
			failure.Message = execErr.Message()
		}
		return p.fail(ctx, logger, out, start, failure)
	}
	p.finishStage(StageExecution, "ok", start)
	out.ResultSet = &result
	logger.InfoContext(ctx, "query executed",
		slog.Int("rows", len(result.Rows)),
		slog.Bool("truncated", result.Truncated),
		slog.Int64("duration_ms", result.Duration.Milliseconds()),
	)

	p.transition(ctx, logger, &out, StateNarrating)
	if withChart {
		p.narrateAndChart(ctx, logger, &out, result)
	} else {
		out.Narrative = p.narrate(ctx, out.Question, result)
	}

	p.transition(ctx, logger, &out, StateCompleted)
	observability.ObservePipelineOutcome(string(StateCompleted), "", "")
	return out, nil
}

func (p *Pipeline) narrateAndChart(ctx context.Context, logger *slog.Logger, out *Outcome, result query.ResultSet) {
	var (
		answer   narrate.Answer
		spec     chart.Spec
		chartErr error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		answer = p.narrate(groupCtx, out.Question, result)
		return nil
	})
	group.Go(func() error {
		spec, chartErr = p.visualize(groupCtx, logger, result)
		return nil
	})
	_ = group.Wait()

	out.Narrative = answer
	if chartErr != nil {
		var visErr *chart.VisualizationError
		if !errors.As(chartErr, &visErr) {
			visErr = &chart.VisualizationError{Reason: chart.ReasonUpstream, Err: chartErr}
		}
		out.ChartError = visErr
		return
	}
	out.Chart = &spec
}

func (p *Pipeline) narrate(ctx context.Context, question string, result query.ResultSet) narrate.Answer {
	start := time.Now()
	answer := p.deps.Narrator.Narrate(ctx, question, result)
	outcome := "ok"
	if answer.Degraded {
		outcome = "degraded"
	}
	p.finishStage(StageNarration, outcome, start)
	return answer
}

func (p *Pipeline) visualize(ctx context.Context, logger *slog.Logger, result query.ResultSet) (chart.Spec, error) {
	start := time.Now()
	spec, err := p.deps.Visualizer.Visualize(ctx, result)
	if err != nil {
		p.finishStage(StageVisualization, "failed", start)
		logger.WarnContext(ctx, "visualization failed", slog.String("error", err.Error()))
		return chart.Spec{}, err
	}
	p.finishStage(StageVisualization, "ok", start)
	return spec, nil
}

func (p *Pipeline) transition(ctx context.Context, logger *slog.Logger, out *Outcome, next State) {
	logger.DebugContext(ctx, "pipeline transition",
		slog.String("from", string(out.State)),
		slog.String("to", string(next)),
	)
	out.State = next
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, out Outcome, start time.Time, failure *Failure) (Outcome, error) {
	p.finishStage(failure.Stage, "failed", start)
	observability.ObservePipelineOutcome(string(StateFailed), string(failure.Stage), failure.Reason)

	attrs := []any{
		slog.String("stage", string(failure.Stage)),
		slog.String("reason", failure.Reason),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	if failure.Err != nil {
		attrs = append(attrs, slog.String("error", failure.Err.Error()))
	}
	logger.WarnContext(ctx, "pipeline failed", attrs...)

	out.State = StateFailed
	out.Failure = failure
	return out, failure
}

func (p *Pipeline) finishStage(stage Stage, outcome string, start time.Time) {
	observability.ObserveStage(string(stage), outcome, time.Since(start))
}

func synthesisMessage(reason string) string {
	if reason == nl2sql.ReasonEmptyResponse {
		return "the model did not return a query for this question"
	}
	return "the query service is unavailable right now"
}
