package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPPipeline forwards generation requests to an external generator service.
type HTTPPipeline struct {
	url    string
	client *http.Client
}

// NewHTTPPipeline builds a pipeline against the given endpoint. The client
// timeout is the only bound on a run; generation legitimately takes minutes,
// so callers configure it accordingly.
func NewHTTPPipeline(url string, timeout time.Duration) *HTTPPipeline {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &HTTPPipeline{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *HTTPPipeline) Run(ctx context.Context, request map[string]any) (PipelineResult, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return PipelineResult{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return PipelineResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(httpReq)
	if err != nil {
		return PipelineResult{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return PipelineResult{}, fmt.Errorf("generator http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return PipelineResult{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Non-JSON generator output is kept verbatim rather than dropped.
		text := strings.TrimSpace(string(body))
		return PipelineResult{Payload: map[string]any{"response": text}}, nil
	}

	out := PipelineResult{Payload: obj}
	if p, ok := obj["file_path"].(string); ok {
		out.ArtifactPath = p
	}
	return out, nil
}
