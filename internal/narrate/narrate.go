// Package narrate summarises a result set in plain language.
//
// Narration is best effort: any upstream failure yields a deterministic fallback
// answer instead of an error.
package narrate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pitwall/pitwall/internal/llm"
	"github.com/pitwall/pitwall/internal/query"
)

const (
	DefaultMaxRows  = 500
	DefaultMaxBytes = 16 << 10
)

const systemPrompt = "You answer questions about Formula 1 statistics using only the query result you are given.\n" +
	"Rules:\n" +
	"- Use only facts present in the rows. Never add names, numbers, dates or records that are not in them.\n" +
	"- If the rows are empty, say that no matching data was found.\n" +
	"- If the result is marked incomplete, say the answer may be incomplete.\n" +
	"- Answer in one to three sentences of plain text, without markdown or SQL."

type Answer struct {
	Text     string `json:"text"`
	Degraded bool   `json:"degraded"`
}

type Config struct {
	Temperature     float64
	MaxOutputTokens int
	MaxRows         int
	MaxBytes        int
}

type Narrator struct {
	client llm.Client
	cfg    Config
	logger *slog.Logger
}

func New(client llm.Client, cfg Config, logger *slog.Logger) *Narrator {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Narrator{client: client, cfg: cfg, logger: logger}
}

func (n *Narrator) Narrate(ctx context.Context, question string, result query.ResultSet) Answer {
	resp, err := n.client.Complete(ctx, llm.Request{
		Purpose:         llm.PurposeNarration,
		System:          systemPrompt,
		Messages:        llm.UserPrompt(BuildPrompt(question, result, n.cfg.MaxRows, n.cfg.MaxBytes)),
		Temperature:     n.cfg.Temperature,
		MaxOutputTokens: n.cfg.MaxOutputTokens,
	})
	if err != nil {
		n.logger.WarnContext(ctx, "narration degraded", "error", err, "rows", len(result.Rows))
		return Answer{Text: Fallback(result), Degraded: true}
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		n.logger.WarnContext(ctx, "narration degraded", "error", "empty response", "rows", len(result.Rows))
		return Answer{Text: Fallback(result), Degraded: true}
	}
	return Answer{Text: text}
}

// BuildPrompt renders the question and the rows. Rows beyond maxRows or maxBytes are
// left out and the omission is stated in the prompt.
func BuildPrompt(question string, result query.ResultSet, maxRows, maxBytes int) string {
	rows, included := SerializeRows(result, maxRows, maxBytes)

	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nColumns: ")
	b.WriteString(strings.Join(result.Columns, ", "))
	b.WriteString("\n")
	if len(result.Rows) == 0 {
		b.WriteString("Rows: none\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Rows (%d, one JSON object per line):\n", included)
	b.WriteString(rows)
	if included < len(result.Rows) || result.Truncated {
		b.WriteString("Note: the result is incomplete; more rows matched than are shown.\n")
	}
	return b.String()
}

// SerializeRows writes one JSON object per row with keys in column order. It stops
// before the row that would exceed maxBytes and reports how many rows it wrote.
func SerializeRows(result query.ResultSet, maxRows, maxBytes int) (string, int) {
	var out bytes.Buffer
	included := 0
	for _, row := range result.Rows {
		if maxRows > 0 && included >= maxRows {
			break
		}
		line, err := encodeRow(result.Columns, row)
		if err != nil {
			continue
		}
		if maxBytes > 0 && out.Len()+len(line)+1 > maxBytes {
			break
		}
		out.Write(line)
		out.WriteByte('\n')
		included++
	}
	return out.String(), included
}

func encodeRow(columns []string, row query.Row) ([]byte, error) {
	var line bytes.Buffer
	line.WriteByte('{')
	for i, column := range columns {
		if i > 0 {
			line.WriteByte(',')
		}
		key, err := json.Marshal(column)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(row[column])
		if err != nil {
			return nil, err
		}
		line.Write(key)
		line.WriteByte(':')
		line.Write(value)
	}
	line.WriteByte('}')
	return line.Bytes(), nil
}

// Fallback is the answer used when the model cannot be reached. It depends only on the row count.
func Fallback(result query.ResultSet) string {
	switch count := len(result.Rows); {
	case count == 0:
		return "I found no data matching your question."
	case result.Truncated:
		return fmt.Sprintf("I found more than %d rows for your question but could not summarise them right now.", count)
	case count == 1:
		return "I found 1 row for your question but could not summarise it right now."
	default:
		return fmt.Sprintf("I found %d rows for your question but could not summarise them right now.", count)
	}
}
