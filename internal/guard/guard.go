// Package guard decides whether model-generated SQL may run against the store.
//
// Validate is pure. Gates run in a fixed order and the first failure wins:
// empty input, statement type, statement count, then identifier resolution.
package guard

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pitwall/pitwall/internal/schema"
)

type Reason string

const (
	ReasonEmptyStatement      Reason = "empty-statement"
	ReasonDisallowedStatement Reason = "disallowed-statement"
	ReasonStackedStatement    Reason = "stacked-statement"
	ReasonUnknownIdentifier   Reason = "unknown-identifier"
)

var (
	disallowedKeyword = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|pragma|replace|truncate|grant|revoke|vacuum|copy|merge|call|exec|execute|load|install|set|reindex)\b`)
	// Functions that reach outside the registered tables: file readers, extensions, server settings.
	disallowedFunction = regexp.MustCompile(`(?i)\b(load_extension|read_\w+|sniff_csv|parquet_\w+|glob|getenv|current_setting|pg_\w+|lo_import|lo_export|dblink\w*|query|query_table|sqlite_\w+|duckdb_\w+|writefile|readfile|fts_\w+)\s*\(`)
	stackedStatement   = regexp.MustCompile(`;\s*\S`)
)

type Verdict struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Message is the user-facing explanation of a rejection.
func (v Verdict) Message() string {
	switch v.Reason {
	case "":
		return "query accepted"
	case ReasonEmptyStatement:
		return "the generated query was empty"
	case ReasonDisallowedStatement:
		return "only read-only queries are permitted"
	case ReasonStackedStatement:
		return "only a single statement is permitted"
	case ReasonUnknownIdentifier:
		return fmt.Sprintf("the query references %q, which is not part of the schema", v.Detail)
	default:
		return string(v.Reason)
	}
}

func accept() Verdict {
	return Verdict{Accepted: true}
}

func reject(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

func Validate(candidate string, registry *schema.Registry) Verdict {
	if strings.TrimSpace(candidate) == "" {
		return reject(ReasonEmptyStatement, "")
	}

	if match := disallowedKeyword.FindString(candidate); match != "" {
		return reject(ReasonDisallowedStatement, strings.ToLower(match))
	}
	if match := disallowedFunction.FindStringSubmatch(candidate); match != nil {
		return reject(ReasonDisallowedStatement, strings.ToLower(match[1]))
	}

	tokens := tokenize(candidate)
	if lead := leadingKeyword(tokens); lead != "select" && lead != "with" {
		return reject(ReasonDisallowedStatement, lead)
	}

	if stackedStatement.MatchString(candidate) {
		return reject(ReasonStackedStatement, "")
	}

	if unknown, ok := newResolver(tokens, registry).firstUnknown(); ok {
		return reject(ReasonUnknownIdentifier, unknown)
	}
	return accept()
}

// leadingKeyword is the first word after comments and opening parentheses.
func leadingKeyword(tokens []token) string {
	for _, tok := range tokens {
		if tok.is(tokenPunct, "(") {
			continue
		}
		return tok.text
	}
	return ""
}
