package chart

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

const envelopeLabel = "chartspec"

//go:embed grammar.json
var grammarJSON []byte

var grammar = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(grammarJSON, &schema); err != nil {
		return nil, fmt.Errorf("decode chart grammar: %w", err)
	}
	return schema.Resolve(nil)
})

// Parse extracts the chartspec block from model output and checks it against the
// grammar and the available columns. The body is read as data only.
func Parse(text string, columns []string) (Spec, error) {
	body, err := extractEnvelope(text)
	if err != nil {
		return Spec{}, err
	}

	doc, err := decodeStrict(body)
	if err != nil {
		return Spec{}, &VisualizationError{Reason: ReasonNotParseable, Err: err}
	}

	resolved, err := grammar()
	if err != nil {
		return Spec{}, fmt.Errorf("load chart grammar: %w", err)
	}
	if err := resolved.Validate(doc); err != nil {
		return Spec{}, &VisualizationError{Reason: ReasonGrammarViolation, Err: err}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Spec{}, &VisualizationError{Reason: ReasonNotParseable, Err: err}
	}
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return Spec{}, &VisualizationError{Reason: ReasonGrammarViolation, Err: err}
	}

	if field, ok := firstUnknownField(spec, columns); !ok {
		return Spec{}, &VisualizationError{Reason: ReasonUnknownField, Detail: field}
	}
	return spec, nil
}

// extractEnvelope returns the body of the one fenced block labelled chartspec.
func extractEnvelope(text string) (string, error) {
	var bodies []string
	rest := text
	for {
		start := strings.Index(rest, "```")
		if start < 0 {
			break
		}
		rest = rest[start+3:]
		newline := strings.IndexByte(rest, '\n')
		if newline < 0 {
			break
		}
		label := strings.TrimSpace(rest[:newline])
		rest = rest[newline+1:]
		end := strings.Index(rest, "```")
		if end < 0 {
			if strings.EqualFold(label, envelopeLabel) {
				return "", &VisualizationError{Reason: ReasonEnvelopeMissing, Detail: "unterminated chartspec block"}
			}
			break
		}
		if strings.EqualFold(label, envelopeLabel) {
			bodies = append(bodies, rest[:end])
		}
		rest = rest[end+3:]
	}

	switch len(bodies) {
	case 0:
		return "", &VisualizationError{Reason: ReasonEnvelopeMissing}
	case 1:
		return bodies[0], nil
	default:
		return "", &VisualizationError{Reason: ReasonEnvelopeMissing, Detail: "more than one chartspec block"}
	}
}

// decodeStrict reads exactly one JSON value. Numbers are kept exact while decoding and
// converted to float64 afterwards for grammar validation.
func decodeStrict(body string) (any, error) {
	if err := rejectDuplicateKeys(body); err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()

	var doc any
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after chart object")
	}
	return plainNumbers(doc)
}

// rejectDuplicateKeys fails when any object in body repeats a key. encoding/json
// would otherwise keep the last value silently.
func rejectDuplicateKeys(body string) error {
	decoder := json.NewDecoder(strings.NewReader(body))
	decoder.UseNumber()

	type frame struct {
		keys      map[string]struct{}
		expectKey bool
	}
	var stack []*frame
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var top *frame
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}
		switch typed := tok.(type) {
		case json.Delim:
			switch typed {
			case '{':
				if top != nil {
					top.expectKey = true
				}
				stack = append(stack, &frame{keys: map[string]struct{}{}, expectKey: true})
			case '[':
				if top != nil {
					top.expectKey = true
				}
				stack = append(stack, nil)
			case '}', ']':
				stack = stack[:len(stack)-1]
			}
		case string:
			if top != nil && top.expectKey {
				if _, seen := top.keys[typed]; seen {
					return fmt.Errorf("duplicate key %q", typed)
				}
				top.keys[typed] = struct{}{}
				top.expectKey = false
				continue
			}
			if top != nil {
				top.expectKey = true
			}
		default:
			if top != nil {
				top.expectKey = true
			}
		}
	}
}

func plainNumbers(value any) (any, error) {
	switch typed := value.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(typed.String(), 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, fmt.Errorf("number %s out of range", typed)
		}
		return f, nil
	case map[string]any:
		for key, item := range typed {
			converted, err := plainNumbers(item)
			if err != nil {
				return nil, err
			}
			typed[key] = converted
		}
		return typed, nil
	case []any:
		for i, item := range typed {
			converted, err := plainNumbers(item)
			if err != nil {
				return nil, err
			}
			typed[i] = converted
		}
		return typed, nil
	default:
		return typed, nil
	}
}

func firstUnknownField(spec Spec, columns []string) (string, bool) {
	known := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		known[column] = struct{}{}
	}
	fields := []string{spec.XAxis.Field, spec.YAxis.Field}
	for _, series := range spec.Series {
		fields = append(fields, series.Field)
	}
	for _, field := range fields {
		if _, ok := known[field]; !ok {
			return field, false
		}
	}
	return "", true
}
