package pitwallctl

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pitwall/pitwall/internal/guard"
	"github.com/pitwall/pitwall/internal/schema"
)

const (
	outputJSON = "json"
	outputText = "text"
)

func registerAskCmd(parent *cobra.Command, opts *Options) {
	var (
		withChart bool
		output    string
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and print the answer",
		Example: `  pitwallctl ask "Who won the most races in 2023?"
  pitwallctl ask --chart --output json "Points per constructor in 2021"`,
		Args: func(_ *cobra.Command, args []string) error {
			if strings.TrimSpace(strings.Join(args, " ")) == "" {
				return usageErr("ask requires a question")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != outputText && output != outputJSON {
				return usageErr("unsupported output %q", output)
			}
			payload := map[string]any{
				"question": strings.Join(args, " "),
				"chart":    withChart,
			}
			onSuccess := printJSON(opts.Stdout)
			if output == outputText {
				onSuccess = printAnswer(opts.Stdout)
			}
			return call(cmd.Context(), opts, http.MethodPost, "/v1/chat", payload, onSuccess)
		},
	}
	cmd.Flags().BoolVar(&withChart, "chart", false, "also request a chart specification")
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text or json")
	parent.AddCommand(cmd)
}

func printAnswer(w io.Writer) func([]byte) error {
	return func(raw []byte) error {
		var resp struct {
			Narrative  string          `json:"narrative"`
			SQLQuery   string          `json:"sql_query"`
			Chart      json.RawMessage `json:"chart"`
			ChartError *struct {
				Reason  string `json:"reason"`
				Message string `json:"message"`
			} `json:"chart_error"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("decode answer: %w", err)
		}
		_, _ = fmt.Fprintln(w, resp.Narrative)
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintf(w, "SQL: %s\n", resp.SQLQuery)
		if len(resp.Chart) > 0 && string(resp.Chart) != "null" {
			if pretty, ok := prettyJSON(resp.Chart); ok {
				_, _ = fmt.Fprintf(w, "Chart: %s\n", pretty)
			}
		}
		if resp.ChartError != nil {
			_, _ = fmt.Fprintf(w, "Chart unavailable (%s): %s\n", resp.ChartError.Reason, resp.ChartError.Message)
		}
		return nil
	}
}

func registerVisualizeCmd(parent *cobra.Command, opts *Options) {
	var file string
	cmd := &cobra.Command{
		Use:   "visualize",
		Short: "Request a chart specification for a result set",
		Long: `Read a result set as JSON and ask the service for a chart specification.
The input may be a bare result set or a full chat response carrying result_set.`,
		Example: `  pitwallctl ask -o json "Wins per driver in 2023" | pitwallctl visualize`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := readInput(opts.Stdin, file)
			if err != nil {
				return err
			}
			resultSet, err := extractResultSet(raw)
			if err != nil {
				return err
			}
			return call(cmd.Context(), opts, http.MethodPost, "/v1/visualize", map[string]any{"result_set": resultSet}, printJSON(opts.Stdout))
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "result set JSON file, - for stdin")
	parent.AddCommand(cmd)
}

func readInput(stdin io.Reader, file string) ([]byte, error) {
	if file == "" || file == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return raw, nil
}

func extractResultSet(raw []byte) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode result set: %w", err)
	}
	if nested, ok := doc["result_set"]; ok {
		if string(nested) == "null" {
			return nil, fmt.Errorf("input carries no result_set")
		}
		return nested, nil
	}
	if _, ok := doc["columns"]; !ok {
		return nil, fmt.Errorf("input is neither a result set nor a chat response")
	}
	return json.RawMessage(raw), nil
}

func registerGuardCmd(parent *cobra.Command, opts *Options) {
	var schemaPath string
	cmd := &cobra.Command{
		Use:   "guard <sql>",
		Short: "Check a SQL statement against the query guard locally",
		Long: `Validate a statement with the same guard the service applies before execution.
Exits 1 when the statement is rejected.`,
		Example: `  pitwallctl guard "SELECT full_name FROM drivers"
  pitwallctl guard --schema ./f1.yaml "DELETE FROM results"`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageErr("guard requires a SQL statement")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := schema.Load(cmd.Context(), schemaPath, nil)
			if err != nil {
				return err
			}
			verdict := guard.Validate(strings.Join(args, " "), registry)
			raw, err := json.Marshal(verdict)
			if err != nil {
				return err
			}
			if err := printJSON(opts.Stdout)(raw); err != nil {
				return err
			}
			if !verdict.Accepted {
				_, _ = fmt.Fprintf(opts.Stderr, "rejected: %s\n", verdict.Message())
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "schema descriptor file (defaults to the built-in F1 schema)")
	parent.AddCommand(cmd)
}
