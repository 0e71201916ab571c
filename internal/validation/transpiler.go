package validation

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
	"unicode/utf8"
)

// TranspileRequest is the body sent to the transpile service
type TranspileRequest struct {
	Code     string `json:"code"`
	Filename string `json:"filename"`
	Loader   string `json:"loader"`
}

// TranspileResponse is what the transpile service answers
type TranspileResponse struct {
	Success  bool         `json:"success"`
	Code     string       `json:"code"`
	Errors   []Diagnostic `json:"errors"`
	Warnings []Diagnostic `json:"warnings"`
}

// Diagnostic is one transpiler message. The service may send plain strings or
// esbuild-style objects; both decode.
type Diagnostic struct {
	Text   string
	Line   int
	Column int
}

func (d *Diagnostic) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d.Text = s
		return nil
	}
	var obj struct {
		Text     string `json:"text"`
		Message  string `json:"message"`
		Line     int    `json:"line"`
		Column   int    `json:"column"`
		Location *struct {
			Line   int `json:"line"`
			Column int `json:"column"`
		} `json:"location"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	d.Text = obj.Text
	if d.Text == "" {
		d.Text = obj.Message
	}
	d.Line, d.Column = obj.Line, obj.Column
	if obj.Location != nil {
		d.Line, d.Column = obj.Location.Line, obj.Location.Column
	}
	return nil
}

func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", d.Line, d.Column, d.Text)
	}
	return d.Text
}

// ErrTranspilerUnavailable wraps every failure that should trigger the local
// fallback: network errors, timeouts and non-2xx answers.
var ErrTranspilerUnavailable = errors.New("transpiler unavailable")

// TranspilerClient talks to the external TSX transpile service
type TranspilerClient struct {
	url        string
	timeout    time.Duration
	httpClient *http.Client
}

// NewTranspilerClient creates a client. A zero timeout means 10 seconds.
func NewTranspilerClient(url string, timeout time.Duration) *TranspilerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TranspilerClient{
		url:        strings.TrimSpace(url),
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Transpile posts the component source. The returned reason is a short label
// describing why the service could not be used, for metrics.
func (c *TranspilerClient) Transpile(ctx context.Context, code string) (*TranspileResponse, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(TranspileRequest{Code: code, Filename: "Component.tsx", Loader: "tsx"})
	if err != nil {
		return nil, "encode", fmt.Errorf("failed to encode transpile request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, "request", fmt.Errorf("%w: %v", ErrTranspilerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		reason := "unreachable"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		return nil, reason, fmt.Errorf("%w: %v", ErrTranspilerUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, "read", fmt.Errorf("%w: failed to read response: %v", ErrTranspilerUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Sprintf("status_%d", resp.StatusCode),
			fmt.Errorf("%w: status %d: %s", ErrTranspilerUnavailable, resp.StatusCode, truncate(string(raw), 200))
	}

	var out TranspileResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, "decode", fmt.Errorf("%w: invalid response: %v", ErrTranspilerUnavailable, err)
	}
	return &out, "", nil
}

// truncate keeps at most n characters of s
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
