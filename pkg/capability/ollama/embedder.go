// Package ollama embeds capability text through a local Ollama instance so
// the qdrant matcher can rank by vector similarity.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/semmesh/pkg/capability"
	"github.com/jllopis/semmesh/pkg/errors"
)

const defaultBaseURL = "http://localhost:11434"

// Embedder turns capability descriptors and discovery queries into vectors
// via the Ollama embeddings endpoint.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewEmbedder creates an embedder for the given Ollama base URL and model.
// An empty base URL targets a local instance.
func NewEmbedder(baseURL, model string) *Embedder {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// EmbedCapability embeds the descriptor's searchable surface: name,
// description, domain and tags, the same text the lexical matcher scores.
func (e *Embedder) EmbedCapability(ctx context.Context, cap capability.Capability) ([]float32, error) {
	parts := []string{cap.Name, cap.Description, cap.Domain}
	parts = append(parts, cap.Tags...)
	vec, err := e.Embed(ctx, strings.Join(parts, " "))
	if err != nil {
		return nil, errors.AsMeshError(err).WithAttribute("capability_id", cap.ID)
	}
	return vec, nil
}

// Embed converts one text into a vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "encode embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.CodePeerUnreachable, "embedding service unreachable", err).
			WithRecoverable(true).
			WithAttribute("url", e.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New(errors.CodeInternal, "embedding service rejected the request", nil).
			WithAttribute("url", e.baseURL).
			WithContext("status", resp.StatusCode).
			WithContext("body", strings.TrimSpace(string(body)))
	}

	var decoded struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, errors.New(errors.CodeInternal, "decode embedding response", err)
	}
	if len(decoded.Embedding) == 0 {
		return nil, errors.New(errors.CodeInternal, "embedding service returned an empty vector", nil).
			WithAttribute("model", e.model)
	}

	vec := make([]float32, len(decoded.Embedding))
	for i, v := range decoded.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
