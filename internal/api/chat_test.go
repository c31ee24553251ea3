package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pitwall/pitwall/internal/chart"
	"github.com/pitwall/pitwall/internal/narrate"
	"github.com/pitwall/pitwall/internal/pipeline"
	"github.com/pitwall/pitwall/internal/query"
	"github.com/pitwall/pitwall/internal/schema"
)

func TestChatReturnsAnswer(t *testing.T) {
	service := &fakeChatService{outcome: pipeline.Outcome{
		ID:    "inv-1",
		State: pipeline.StateCompleted,
		SQL:   "SELECT full_name AS driver_name FROM drivers",
		ResultSet: &query.ResultSet{
			Columns: []string{"driver_name", "wins"},
			Rows:    []query.Row{{"driver_name": "Max Verstappen", "wins": int64(19)}},
		},
		Narrative: narrate.Answer{Text: "Max Verstappen won 19 races in 2023."},
	}}

	rr := serve(t, service, http.MethodPost, "/v1/chat", `{"question": "  Who won the most races in 2023?  "}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if service.question != "Who won the most races in 2023?" || service.withChart {
		t.Fatalf("service called with %q chart=%v", service.question, service.withChart)
	}

	body := decodeBody(t, rr)
	if body["id"] != "inv-1" || body["state"] != "completed" || body["narrative"] != "Max Verstappen won 19 races in 2023." {
		t.Fatalf("body = %v", body)
	}
	if body["sql_query"] != "SELECT full_name AS driver_name FROM drivers" || body["narrative_degraded"] != false {
		t.Fatalf("body = %v", body)
	}
	resultSet := body["result_set"].(map[string]any)
	rows := resultSet["rows"].([]any)
	if rows[0].(map[string]any)["wins"] != float64(19) || resultSet["truncated"] != false {
		t.Fatalf("result_set = %v", resultSet)
	}
	if _, ok := body["chart"]; ok {
		t.Fatal("chart should be omitted")
	}
}

func TestChatAndVisualizeRunUnderRequestTimeout(t *testing.T) {
	cfg := testConfig(t)
	if cfg.Pipeline.RequestTimeout >= cfg.HTTP.WriteTimeout {
		t.Fatalf("request timeout %s is not below write timeout %s", cfg.Pipeline.RequestTimeout, cfg.HTTP.WriteTimeout)
	}

	cases := []struct {
		path string
		body string
	}{
		{"/v1/chat", `{"question": "Who won in 2023?", "chart": true}`},
		{"/v1/visualize", `{"result_set": {"columns": ["a"], "rows": [{"a": 1}], "truncated": false}}`},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			service := &fakeChatService{
				outcome: pipeline.Outcome{ID: "inv-3", State: pipeline.StateCompleted},
				spec:    chart.Spec{Type: "bar", XAxis: chart.Axis{Field: "a"}, YAxis: chart.Axis{Field: "a"}},
			}
			h := NewHandler(cfg, Dependencies{Chat: service})
			start := time.Now()
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body)))
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
			}
			if service.deadline.IsZero() {
				t.Fatal("pipeline ran without a deadline")
			}
			if limit := start.Add(cfg.Pipeline.RequestTimeout); service.deadline.After(limit.Add(time.Second)) {
				t.Fatalf("deadline = %s, want no later than %s", service.deadline, limit)
			}
		})
	}
}

func TestChatWithChartReportsChartError(t *testing.T) {
	service := &fakeChatService{outcome: pipeline.Outcome{
		ID:         "inv-2",
		State:      pipeline.StateCompleted,
		ResultSet:  &query.ResultSet{Columns: []string{"a"}, Rows: []query.Row{{"a": int64(1)}}},
		Narrative:  narrate.Answer{Text: "One row.", Degraded: true},
		ChartError: &chart.VisualizationError{Reason: chart.ReasonEnvelopeMissing},
	}}

	rr := serve(t, service, http.MethodPost, "/v1/chat", `{"question": "q", "chart": true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !service.withChart {
		t.Fatal("ChatWithChart should be used")
	}
	body := decodeBody(t, rr)
	chartErr := body["chart_error"].(map[string]any)
	if chartErr["reason"] != "envelope-missing" || chartErr["message"] == "" {
		t.Fatalf("chart_error = %v", chartErr)
	}
	if body["narrative_degraded"] != true {
		t.Fatalf("body = %v", body)
	}
}

func TestChatFailureMapping(t *testing.T) {
	cases := []struct {
		name      string
		failure   *pipeline.Failure
		status    int
		code      string
		retryable bool
	}{
		{"rejected", &pipeline.Failure{Stage: pipeline.StageValidation, Reason: "disallowed-statement", Message: "only read-only queries are permitted"}, http.StatusUnprocessableEntity, "QUERY_REJECTED", false},
		{"synthesis", &pipeline.Failure{Stage: pipeline.StageSynthesis, Reason: "upstream", Message: "the query service is unavailable right now"}, http.StatusBadGateway, "SYNTHESIS_FAILED", true},
		{"timeout", &pipeline.Failure{Stage: pipeline.StageExecution, Reason: "timeout", Message: "the query took too long to run"}, http.StatusGatewayTimeout, "EXECUTION_FAILED", true},
		{"unavailable", &pipeline.Failure{Stage: pipeline.StageExecution, Reason: "unavailable", Message: "down"}, http.StatusServiceUnavailable, "EXECUTION_FAILED", true},
		{"syntax", &pipeline.Failure{Stage: pipeline.StageExecution, Reason: "syntax", Message: "bad"}, http.StatusBadRequest, "EXECUTION_FAILED", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &fakeChatService{
				outcome: pipeline.Outcome{ID: "inv-3", State: pipeline.StateFailed, SQL: "DROP TABLE drivers;", Failure: tc.failure},
				err:     tc.failure,
			}
			rr := serve(t, service, http.MethodPost, "/v1/chat", `{"question": "q"}`)
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			body := decodeBody(t, rr)
			if body["error_code"] != tc.code || body["retryable"] != tc.retryable {
				t.Fatalf("body = %v", body)
			}
			if body["stage"] != string(tc.failure.Stage) || body["reason"] != tc.failure.Reason || body["message"] != tc.failure.Message {
				t.Fatalf("body = %v", body)
			}
			if body["trace_id"] == "" {
				t.Fatal("trace_id should be set")
			}
			details := body["context"].(map[string]any)
			if details["id"] != "inv-3" || details["sql_query"] != "DROP TABLE drivers;" {
				t.Fatalf("context = %v", details)
			}
		})
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"question": `, "INVALID_JSON"},
		{"unknown field", `{"question": "q", "sql": "DROP TABLE drivers"}`, "INVALID_JSON"},
		{"blank", `{"question": "   "}`, "QUESTION_REQUIRED"},
		{"too long", `{"question": "` + strings.Repeat("a", 2001) + `"}`, "QUESTION_TOO_LONG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &fakeChatService{}
			rr := serve(t, service, http.MethodPost, "/v1/chat", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if body := decodeBody(t, rr); body["error_code"] != tc.code {
				t.Fatalf("body = %v", body)
			}
			if service.question != "" {
				t.Fatal("pipeline should not run")
			}
		})
	}
}

func TestChatNotConfigured(t *testing.T) {
	h := NewHandler(testConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"question": "q"}`)))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestVisualizeEndpoint(t *testing.T) {
	service := &fakeChatService{spec: chart.Spec{Type: "bar", XAxis: chart.Axis{Field: "driver_name"}, YAxis: chart.Axis{Field: "wins"}}}
	rr := serve(t, service, http.MethodPost, "/v1/visualize",
		`{"result_set": {"columns": ["driver_name", "wins"], "rows": [{"driver_name": "Max Verstappen", "wins": 19}], "truncated": false}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	spec := body["chart_spec"].(map[string]any)
	if spec["type"] != "bar" {
		t.Fatalf("chart_spec = %v", spec)
	}
	if len(service.visualized.Rows) != 1 || service.visualized.Rows[0]["driver_name"] != "Max Verstappen" {
		t.Fatalf("visualized = %+v", service.visualized)
	}
}

func TestVisualizeEndpointFailures(t *testing.T) {
	service := &fakeChatService{visErr: &chart.VisualizationError{Reason: chart.ReasonNotParseable}}
	rr := serve(t, service, http.MethodPost, "/v1/visualize", `{"result_set": {"columns": ["a"], "rows": [{"a": 1}]}}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "VISUALIZATION_FAILED" || body["reason"] != "not-parseable" || body["stage"] != "visualization" {
		t.Fatalf("body = %v", body)
	}

	missing := serve(t, &fakeChatService{}, http.MethodPost, "/v1/visualize", `{}`)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("missing result_set status = %d", missing.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	rr := serve(t, &fakeChatService{}, http.MethodGet, "/v1/schema", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	tables := body["tables"].([]any)
	if len(tables) != 8 {
		t.Fatalf("tables = %d", len(tables))
	}
	first := tables[0].(map[string]any)
	if first["name"] != "seasons" {
		t.Fatalf("first table = %v", first)
	}
}

func serve(t *testing.T, service *fakeChatService, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(testConfig(t), Dependencies{Chat: service})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rr
}

type fakeChatService struct {
	outcome pipeline.Outcome
	err     error
	spec    chart.Spec
	visErr  error

	question   string
	withChart  bool
	visualized query.ResultSet
	deadline   time.Time
}

func (f *fakeChatService) Chat(ctx context.Context, question string) (pipeline.Outcome, error) {
	f.question = question
	f.deadline, _ = ctx.Deadline()
	return f.outcome, f.err
}

func (f *fakeChatService) ChatWithChart(ctx context.Context, question string) (pipeline.Outcome, error) {
	f.question = question
	f.withChart = true
	f.deadline, _ = ctx.Deadline()
	return f.outcome, f.err
}

func (f *fakeChatService) Visualize(ctx context.Context, result query.ResultSet) (chart.Spec, error) {
	f.visualized = result
	f.deadline, _ = ctx.Deadline()
	if f.visErr != nil {
		return chart.Spec{}, f.visErr
	}
	return f.spec, nil
}

func (f *fakeChatService) Registry() *schema.Registry {
	registry, err := schema.Default()
	if err != nil {
		panic(err)
	}
	return registry
}
