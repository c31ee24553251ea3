package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pitwall/pitwall/internal/chart"
	"github.com/pitwall/pitwall/internal/config"
	"github.com/pitwall/pitwall/internal/pipeline"
	"github.com/pitwall/pitwall/internal/query"
	"github.com/pitwall/pitwall/internal/store"
)

const (
	maxChatBodyBytes      = 64 << 10
	maxVisualizeBodyBytes = 4 << 20
)

type chatRequest struct {
	Question string `json:"question"`
	Chart    bool   `json:"chart"`
}

type chatResponse struct {
	ID                string            `json:"id"`
	State             pipeline.State    `json:"state"`
	SQLQuery          string            `json:"sql_query"`
	ResultSet         *query.ResultSet  `json:"result_set"`
	Narrative         string            `json:"narrative"`
	NarrativeDegraded bool              `json:"narrative_degraded"`
	Chart             *chart.Spec       `json:"chart,omitempty"`
	ChartError        *chartErrorDetail `json:"chart_error,omitempty"`
}

type chartErrorDetail struct {
	Reason  chart.Reason `json:"reason"`
	Message string       `json:"message"`
}

type visualizeRequest struct {
	ResultSet *query.ResultSet `json:"result_set"`
}

func handleChat(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat pipeline is not configured", false, nil)
		return
	}

	var req chatRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}
	if limit := cfg.Pipeline.MaxQuestionBytes; limit > 0 && len(question) > limit {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_TOO_LONG", "question is too long", false, map[string]any{"max_bytes": limit})
		return
	}

	run := deps.Chat.Chat
	if req.Chart {
		run = deps.Chat.ChatWithChart
	}
	ctx, cancel := requestContext(r.Context(), cfg)
	defer cancel()
	out, err := run(ctx, question)
	if err != nil {
		writeChatFailure(w, r, out, err)
		return
	}

	response := chatResponse{
		ID:                out.ID,
		State:             out.State,
		SQLQuery:          out.SQL,
		ResultSet:         out.ResultSet,
		Narrative:         out.Narrative.Text,
		NarrativeDegraded: out.Narrative.Degraded,
		Chart:             out.Chart,
	}
	if out.ChartError != nil {
		response.ChartError = &chartErrorDetail{Reason: out.ChartError.Reason, Message: out.ChartError.Message()}
	}
	writeJSON(w, http.StatusOK, response)
}

// requestContext bounds pipeline work so a failure is reported before the
// server's write deadline closes the connection.
func requestContext(ctx context.Context, cfg config.Config) (context.Context, context.CancelFunc) {
	if cfg.Pipeline.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cfg.Pipeline.RequestTimeout)
}

func writeChatFailure(w http.ResponseWriter, r *http.Request, out pipeline.Outcome, err error) {
	var failure *pipeline.Failure
	if !errors.As(err, &failure) {
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "chat pipeline failed", false, map[string]any{"id": out.ID})
		return
	}

	status, code, retryable := failureStatus(failure)
	payload := errorEnvelope(r.Context(), code, failure.Message, retryable, map[string]any{
		"id":        out.ID,
		"sql_query": out.SQL,
	})
	payload["stage"] = failure.Stage
	payload["reason"] = failure.Reason
	writeJSON(w, status, payload)
}

func failureStatus(failure *pipeline.Failure) (int, string, bool) {
	switch failure.Stage {
	case pipeline.StageValidation:
		return http.StatusUnprocessableEntity, "QUERY_REJECTED", false
	case pipeline.StageSynthesis:
		return http.StatusBadGateway, "SYNTHESIS_FAILED", true
	case pipeline.StageExecution:
		switch store.Class(failure.Reason) {
		case store.ClassTimeout:
			return http.StatusGatewayTimeout, "EXECUTION_FAILED", true
		case store.ClassUnavailable:
			return http.StatusServiceUnavailable, "EXECUTION_FAILED", true
		default:
			return http.StatusBadRequest, "EXECUTION_FAILED", false
		}
	default:
		return http.StatusInternalServerError, "INTERNAL", false
	}
}

func handleVisualize(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat pipeline is not configured", false, nil)
		return
	}

	var req visualizeRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVisualizeBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid visualize request body", false, map[string]any{"details": err.Error()})
		return
	}
	if req.ResultSet == nil {
		writeError(r.Context(), w, http.StatusBadRequest, "RESULT_SET_REQUIRED", "result_set is required", false, nil)
		return
	}

	ctx, cancel := requestContext(r.Context(), cfg)
	defer cancel()
	spec, err := deps.Chat.Visualize(ctx, *req.ResultSet)
	if err != nil {
		var visErr *chart.VisualizationError
		if !errors.As(err, &visErr) {
			writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "visualization failed", false, nil)
			return
		}
		payload := errorEnvelope(r.Context(), "VISUALIZATION_FAILED", visErr.Message(), visErr.Reason == chart.ReasonUpstream, nil)
		payload["stage"] = pipeline.StageVisualization
		payload["reason"] = visErr.Reason
		writeJSON(w, http.StatusUnprocessableEntity, payload)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chart_spec": spec})
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil || deps.Chat.Registry() == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema registry is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, deps.Chat.Registry().Describe())
}
