// Package pitwallctl implements the pitwall operator and client CLI.
package pitwallctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

// exitError carries a process exit code through cobra. A nil err means the
// command already reported the problem.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func usageErr(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

func Run(ctx context.Context, args []string, defaults Options) int {
	opts := defaults
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Stdin == nil {
		opts.Stdin = strings.NewReader("")
	}

	root := NewRootCmd(&opts)
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		if exit.err != nil {
			_, _ = fmt.Fprintln(opts.Stderr, exit.err)
		}
		if exit.code == 2 {
			_, _ = fmt.Fprintln(opts.Stderr)
			_, _ = fmt.Fprint(opts.Stderr, root.UsageString())
		}
		return exit.code
	}
	_, _ = fmt.Fprintln(opts.Stderr, err)
	return 1
}

// NewRootCmd builds the command tree. Persistent flags override the matching
// fields of opts before any subcommand runs.
func NewRootCmd(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "pitwallctl",
		Short:         "Ask the pitwall F1 statistics service questions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageErr("missing command")
			}
			return usageErr("unknown command %q", args[0])
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{code: 2, err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&opts.BaseURL, "base-url", firstNonEmpty(opts.BaseURL, "http://localhost:8080"), "pitwall API base URL")
	flags.DurationVar(&opts.Timeout, "timeout", durationOr(opts.Timeout, 60*time.Second), "HTTP timeout (e.g. 30s)")

	registerAskCmd(root, opts)
	registerVisualizeCmd(root, opts)
	registerGuardCmd(root, opts)
	registerGetCmd(root, opts, "health", "Check API liveness", "/v1/health")
	registerGetCmd(root, opts, "ready", "Check API readiness including the statistics store", "/v1/ready")
	registerGetCmd(root, opts, "schema", "Print the schema descriptor the service answers from", "/v1/schema")

	return root
}

func registerGetCmd(parent *cobra.Command, opts *Options, use, short, path string) {
	parent.AddCommand(&cobra.Command{
		Use:   use,
		Short: short,
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd.Context(), opts, http.MethodGet, path, nil, printJSON(opts.Stdout))
		},
	})
}

func noArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usageErr("unexpected arguments: %s", strings.Join(args, " "))
	}
	return nil
}

// call performs one API request and hands a successful body to onSuccess.
func call(ctx context.Context, opts *Options, method, path string, payload any, onSuccess func([]byte) error) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	endpoint := strings.TrimRight(opts.BaseURL, "/") + path
	code, responseBody, err := doRequest(ctx, client, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if code >= 400 {
		return fmt.Errorf("http %d: %s", code, describeError(responseBody))
	}
	return onSuccess(responseBody)
}

func doRequest(ctx context.Context, client *http.Client, method, url string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

// describeError renders the API error envelope on one line, falling back to
// the raw body.
func describeError(raw []byte) string {
	var envelope struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
		Stage     string `json:"stage"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.ErrorCode == "" {
		return strings.TrimSpace(string(raw))
	}
	out := envelope.ErrorCode + ": " + envelope.Message
	if envelope.Stage != "" {
		out += fmt.Sprintf(" (stage=%s reason=%s)", envelope.Stage, envelope.Reason)
	}
	return out
}

func printJSON(w io.Writer) func([]byte) error {
	return func(raw []byte) error {
		if pretty, ok := prettyJSON(raw); ok {
			_, err := fmt.Fprintln(w, pretty)
			return err
		}
		if len(raw) > 0 {
			_, err := fmt.Fprintln(w, string(raw))
			return err
		}
		return nil
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
