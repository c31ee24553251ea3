// Package nl2sql turns a user question into one candidate SQL statement.
//
// The output is untrusted model text. It must pass the guard before it is executed.
package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/pitwall/pitwall/internal/llm"
	"github.com/pitwall/pitwall/internal/schema"
)

const (
	ReasonUpstream      = "upstream"
	ReasonEmptyResponse = "empty-response"
)

const systemPrompt = "You translate questions about Formula 1 statistics into a single read-only SQL query.\n" +
	"Rules:\n" +
	"- Output exactly one SELECT statement (a WITH clause is allowed). Never modify data.\n" +
	"- Use only the tables and columns listed in the schema. Do not invent names.\n" +
	"- Alias computed columns with short snake_case names.\n" +
	"- Do not end the query with a semicolon and do not add a second statement.\n" +
	"- Return only the SQL inside a ```sql fenced block, with no explanation."

var leadingKeyword = regexp.MustCompile(`(?i)\b(select|with)\b`)

type SynthesizedQuery struct {
	SQL      string `json:"sql"`
	Question string `json:"question"`
	Model    string `json:"model,omitempty"`
}

// SynthesisError reports why no candidate statement was produced.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err == nil {
		return "synthesis failed: " + e.Reason
	}
	return fmt.Sprintf("synthesis failed: %s: %v", e.Reason, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

type Config struct {
	Temperature     float64
	MaxOutputTokens int
}

type Synthesizer struct {
	client llm.Client
	cfg    Config
}

func NewSynthesizer(client llm.Client, cfg Config) *Synthesizer {
	return &Synthesizer{client: client, cfg: cfg}
}

func (s *Synthesizer) Synthesize(ctx context.Context, question string, registry *schema.Registry) (SynthesizedQuery, error) {
	question = strings.TrimSpace(question)
	resp, err := s.client.Complete(ctx, llm.Request{
		Purpose:         llm.PurposeSynthesis,
		System:          systemPrompt,
		Messages:        llm.UserPrompt(BuildPrompt(question, registry)),
		Temperature:     s.cfg.Temperature,
		MaxOutputTokens: s.cfg.MaxOutputTokens,
	})
	if err != nil {
		return SynthesizedQuery{}, &SynthesisError{Reason: ReasonUpstream, Err: err}
	}

	sql := ExtractSQL(resp.Text)
	if sql == "" {
		return SynthesizedQuery{}, &SynthesisError{Reason: ReasonEmptyResponse, Err: errors.New("model returned no SQL")}
	}
	return SynthesizedQuery{SQL: sql, Question: question, Model: resp.Model}, nil
}

// BuildPrompt renders the user turn. The same question and schema always produce the same text.
func BuildPrompt(question string, registry *schema.Registry) string {
	var b strings.Builder
	b.WriteString("Schema:\n")
	b.WriteString(registry.Prompt())
	b.WriteString("\nQuestion:\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")
	return b.String()
}

// ExtractSQL strips prose and code fences from model output. The first fenced block
// wins; without one the text from the first SELECT or WITH keyword is used.
func ExtractSQL(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	if block, fenced := firstFencedBlock(trimmed); fenced {
		return block
	}
	if loc := leadingKeyword.FindStringIndex(trimmed); loc != nil {
		return strings.TrimSpace(trimmed[loc[0]:])
	}
	return trimmed
}

func firstFencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start < 0 {
		return "", false
	}
	body := text[start+3:]
	newline := strings.IndexByte(body, '\n')
	if newline < 0 {
		return "", false
	}
	label := strings.TrimSpace(body[:newline])
	if strings.ContainsAny(label, " \t") {
		return "", false
	}
	body = body[newline+1:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body), true
}
