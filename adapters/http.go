package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/internal/util"
)

// HTTPClient is the subset of *http.Client used by the engine
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPEngine executes Request nodes. Response bodies are not read; they are
// parked in a [Responses] registry for streaming.
type HTTPEngine struct {
	client    HTTPClient
	responses *Responses
}

// NewHTTPEngine creates an engine. A nil client gets a default *http.Client
// with the configured timeout, which bounds the whole exchange including the
// body stream.
func NewHTTPEngine(cfg *config.Config, client HTTPClient, responses *Responses) *HTTPEngine {
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.HTTPTimeout * float64(time.Second))}
	}
	return &HTTPEngine{client: client, responses: responses}
}

// Response is the metadata of an executed request. Its body is streamed
// through [colstore.ResponseSource] with ResponseID.
type Response struct {
	ResponseID    string            `json:"responseId"`
	Status        int               `json:"status"`
	StatusText    string            `json:"statusText"`
	Headers       []colstore.Header `json:"headers"`
	ContentLength int64             `json:"contentLength"`
	DurationMs    int64             `json:"durationMs"`
}

var varPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// Substitute replaces {{name}} references with vars; unknown names are left as is
func Substitute(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := varPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

// ValidateURL accepts absolute http and https URLs without user info
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("url has no host")
	}
	if u.User != nil {
		return nil, errors.New("url must not carry user info")
	}
	return u, nil
}

// Execute sends spec with {{var}} substitution applied to the url and header
// values. ctx bounds the request and its body, so it must outlive the
// response stream.
func (e *HTTPEngine) Execute(ctx context.Context, spec *colstore.RequestSpec, vars map[string]string) (*Response, error) {
	logger := util.GetLogger("HTTPEngine.Execute")

	u, err := ValidateURL(Substitute(spec.URL, vars))
	if err != nil {
		return nil, err
	}
	method := spec.Method
	if method == "" {
		method = colstore.MethodGet
	}

	body, err := e.openBody(spec)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, string(method), u.String(), body)
	if err != nil {
		if body != nil {
			body.Close() // nolint:errcheck
		}
		return nil, err
	}
	for _, h := range spec.Headers {
		if h.Enabled && h.Name != "" {
			req.Header.Add(h.Name, Substitute(h.Value, vars))
		}
	}
	if spec.Body != nil && spec.Body.MimeType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", spec.Body.MimeType)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		logger.Debug().Err(err).Str("method", string(method)).Str("url", u.Redacted()).Msg("Request failed")
		return nil, err
	}

	out := &Response{
		ResponseID:    e.responses.Put(resp.Body),
		Status:        resp.StatusCode,
		StatusText:    http.StatusText(resp.StatusCode),
		ContentLength: resp.ContentLength,
		DurationMs:    time.Since(start).Milliseconds(),
	}
	for _, name := range slices.Sorted(maps.Keys(resp.Header)) {
		for _, v := range resp.Header[name] {
			out.Headers = append(out.Headers, colstore.Header{Name: name, Value: v, Enabled: true})
		}
	}
	logger.Debug().
		Str("method", string(method)).
		Str("url", u.Redacted()).
		Int("status", resp.StatusCode).
		Int64("ms", out.DurationMs).
		Msg("Request executed")
	return out, nil
}

// openBody returns the request body stream, or nil for no body
func (e *HTTPEngine) openBody(spec *colstore.RequestSpec) (io.ReadCloser, error) {
	if spec.Body == nil {
		return nil, nil
	}
	path := spec.BodyPath
	if spec.Body.Type == colstore.FileBodyType {
		path = spec.Body.FilePath
	}
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) && spec.Body.Type == colstore.TextBodyType {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open request body: %w", err)
	}
	return f, nil
}
