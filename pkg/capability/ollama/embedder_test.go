package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jllopis/semmesh/pkg/capability"
	"github.com/jllopis/semmesh/pkg/errors"
)

func weatherCapability() capability.Capability {
	return capability.Capability{
		ID:          "weather_svc_001_get_weather",
		Name:        "get_weather",
		Description: "Retrieve current weather conditions for a location",
		Domain:      "weather",
		Protocols:   []capability.ProtocolKind{capability.ProtocolRequestResponse},
		Tags:        []string{"real_time", "forecast"},
	}
}

func TestEmbedCapabilityComposesText(t *testing.T) {
	var got struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewEmbedder(srv.URL, "nomic-embed-text")
	vec, err := e.EmbedCapability(context.Background(), weatherCapability())
	if err != nil {
		t.Fatalf("EmbedCapability failed: %v", err)
	}
	if len(vec) != 3 || vec[1] != float32(0.2) {
		t.Errorf("unexpected vector %v", vec)
	}
	if got.Model != "nomic-embed-text" {
		t.Errorf("unexpected model %q", got.Model)
	}
	// The prompt carries the capability's searchable surface.
	for _, want := range []string{"get_weather", "weather conditions", "weather", "real_time", "forecast"} {
		if !strings.Contains(got.Prompt, want) {
			t.Errorf("prompt %q missing %q", got.Prompt, want)
		}
	}
}

func TestEmbedRejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewEmbedder(srv.URL, "missing-model").Embed(context.Background(), "query")
	if !errors.IsCode(err, errors.CodeInternal) {
		t.Errorf("expected INTERNAL for a rejected request, got %v", err)
	}
}

func TestEmbedUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := NewEmbedder(addr, "nomic-embed-text").Embed(context.Background(), "query")
	if !errors.IsCode(err, errors.CodePeerUnreachable) {
		t.Errorf("expected PEER_UNREACHABLE, got %v", err)
	}
}

func TestEmbedEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{}})
	}))
	defer srv.Close()

	_, err := NewEmbedder(srv.URL, "nomic-embed-text").Embed(context.Background(), "query")
	if !errors.IsCode(err, errors.CodeInternal) {
		t.Errorf("expected INTERNAL for an empty vector, got %v", err)
	}
}
