// Package llm is the narrow text-completion surface the pipeline stages share.
//
// Stages build a Request with their own system prompt and sampling settings and
// receive plain text back. Providers translate that to their wire format; Retrying
// adds bounded backoff for transient upstream failures.
package llm

import (
	"context"
	"fmt"
	"net/http"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Purpose labels a call for logging and metrics.
type Purpose string

const (
	PurposeSynthesis Purpose = "synthesis"
	PurposeNarration Purpose = "narration"
	PurposeChart     Purpose = "chart"
)

type Message struct {
	Role    Role
	Content string
}

type Request struct {
	Purpose         Purpose
	System          string
	Messages        []Message
	Temperature     float64
	MaxOutputTokens int
}

type Response struct {
	Text     string
	Model    string
	Provider string
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s completion failed status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the same request may succeed if sent again.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// UserPrompt is shorthand for a single-turn conversation.
func UserPrompt(text string) []Message {
	return []Message{{Role: RoleUser, Content: text}}
}
