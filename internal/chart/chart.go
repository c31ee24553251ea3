// Package chart asks the model for a declarative chart description of a result set.
//
// The model must answer with a fenced block labelled chartspec holding one JSON object.
// The object is validated against an embedded JSON Schema grammar; nothing in it is
// ever evaluated.
package chart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pitwall/pitwall/internal/llm"
	"github.com/pitwall/pitwall/internal/narrate"
	"github.com/pitwall/pitwall/internal/query"
)

type Reason string

const (
	ReasonNoData           Reason = "no-data"
	ReasonUpstream         Reason = "upstream"
	ReasonEnvelopeMissing  Reason = "envelope-missing"
	ReasonNotParseable     Reason = "not-parseable"
	ReasonGrammarViolation Reason = "grammar-violation"
	ReasonUnknownField     Reason = "unknown-field"
)

const (
	defaultSampleRows  = 50
	defaultSampleBytes = 8 << 10
)

const systemPrompt = "You design a single chart for a SQL result about Formula 1 statistics.\n" +
	"Answer with exactly one fenced code block labelled chartspec and nothing else.\n" +
	"The block holds one JSON object with these keys:\n" +
	"  type: one of \"bar\", \"line\", \"pie\", \"scatter\"\n" +
	"  title: short string (optional)\n" +
	"  x_axis: {\"field\": <column>, \"label\": <string>}\n" +
	"  y_axis: {\"field\": <column>, \"label\": <string>}\n" +
	"  series: [{\"name\": <string>, \"field\": <column>}] (optional)\n" +
	"Every field must be one of the listed columns. Use plain JSON only: no code, no variables, " +
	"no functions, no comments and no arithmetic."

type Axis struct {
	Field string `json:"field"`
	Label string `json:"label,omitempty"`
}

type Series struct {
	Name  string `json:"name,omitempty"`
	Field string `json:"field"`
}

type Spec struct {
	Type   string   `json:"type"`
	Title  string   `json:"title,omitempty"`
	XAxis  Axis     `json:"x_axis"`
	YAxis  Axis     `json:"y_axis"`
	Series []Series `json:"series,omitempty"`
}

type VisualizationError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *VisualizationError) Error() string {
	msg := "visualization failed: " + string(e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VisualizationError) Unwrap() error {
	return e.Err
}

// Message is the user-facing explanation of the failure.
func (e *VisualizationError) Message() string {
	switch e.Reason {
	case ReasonNoData:
		return "there is no data to chart"
	case ReasonUpstream:
		return "the chart service is unavailable right now"
	case ReasonUnknownField:
		return fmt.Sprintf("the chart refers to %q, which is not a column of the result", e.Detail)
	default:
		return "the chart description could not be understood"
	}
}

type Config struct {
	Temperature     float64
	MaxOutputTokens int
	SampleRows      int
	SampleBytes     int
}

type Generator struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
}

func New(client llm.Client, cfg Config, logger *slog.Logger) *Generator {
	if cfg.SampleRows <= 0 {
		cfg.SampleRows = defaultSampleRows
	}
	if cfg.SampleBytes <= 0 {
		cfg.SampleBytes = defaultSampleBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, cfg: cfg, logger: logger}
}

// Visualize returns a chart spec for result. An empty result fails with no-data
// without calling the model.
func (g *Generator) Visualize(ctx context.Context, result query.ResultSet) (Spec, error) {
	if len(result.Rows) == 0 || len(result.Columns) == 0 {
		return Spec{}, &VisualizationError{Reason: ReasonNoData}
	}

	resp, err := g.client.Complete(ctx, llm.Request{
		Purpose:         llm.PurposeChart,
		System:          systemPrompt,
		Messages:        llm.UserPrompt(BuildPrompt(result, g.cfg.SampleRows, g.cfg.SampleBytes)),
		Temperature:     g.cfg.Temperature,
		MaxOutputTokens: g.cfg.MaxOutputTokens,
	})
	if err != nil {
		return Spec{}, &VisualizationError{Reason: ReasonUpstream, Err: err}
	}

	spec, err := Parse(resp.Text, result.Columns)
	if err != nil {
		g.logger.WarnContext(ctx, "chart spec rejected", "error", err)
		return Spec{}, err
	}
	return spec, nil
}

func BuildPrompt(result query.ResultSet, sampleRows, sampleBytes int) string {
	rows, included := narrate.SerializeRows(result, sampleRows, sampleBytes)

	var b strings.Builder
	b.WriteString("Columns: ")
	b.WriteString(strings.Join(result.Columns, ", "))
	fmt.Fprintf(&b, "\nSample rows (%d of %d):\n", included, len(result.Rows))
	b.WriteString(rows)
	return b.String()
}
