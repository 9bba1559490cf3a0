package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/exogenesis-omega/constellation/internal/config"
	"github.com/exogenesis-omega/constellation/internal/pattern"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPEmbedder calls a remote embedding endpoint, one text at a time, and
// validates the returned vector's length against the configured dimension.
// It never retries within Embed: a non-2xx response or a dimension
// mismatch is returned directly to the caller (spec.md §4.1).
type HTTPEmbedder struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewHTTPEmbedder constructs an HTTPEmbedder from config. client may be
// nil, in which case http.DefaultClient is used.
func NewHTTPEmbedder(cfg config.EmbeddingConfig, client *http.Client) *HTTPEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPEmbedder{cfg: cfg, client: client}
}

// Dimension returns the embedder's configured output width.
func (e *HTTPEmbedder) Dimension() int { return e.cfg.Dimension }

// Embed fetches a single embedding for text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) (pattern.Vector, error) {
	vecs, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *HTTPEmbedder) embedBatch(ctx context.Context, inputs []string) ([]pattern.Vector, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("embedding: no inputs")
	}
	reqBody, err := json.Marshal(embedReq{Model: e.cfg.Model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	timeout := e.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := e.cfg.BaseURL + e.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("embedding: build request: %w", err)
	}
	if e.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	} else if e.cfg.APIHeader != "" {
		req.Header.Set(e.cfg.APIHeader, e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("embedding: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("embedding: endpoint returned %s: %s", resp.Status, string(body))
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("embedding: parse response: %w", err)
	}
	if len(er.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding: got %d vectors, want %d", len(er.Data), len(inputs))
	}

	out := make([]pattern.Vector, len(er.Data))
	for i := range er.Data {
		if e.cfg.Dimension > 0 && len(er.Data[i].Embedding) != e.cfg.Dimension {
			return nil, fmt.Errorf("embedding: vector %d has %d dims, want %d", i, len(er.Data[i].Embedding), e.cfg.Dimension)
		}
		out[i] = pattern.Vector(er.Data[i].Embedding)
	}
	return out, nil
}

// CheckReachability verifies the embedding endpoint responds correctly by
// sending a minimal test request.
func CheckReachability(ctx context.Context, e *HTTPEmbedder) error {
	_, err := e.Embed(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}
