// Package negotiation checks intent/capability compatibility and produces
// session contracts. Negotiation is pure: identical inputs always yield the
// identical result or failure, which makes the fast-path cache safe.
package negotiation

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/jllopis/semmesh/pkg/capability"
	"github.com/jllopis/semmesh/pkg/errors"
)

// Result is the contract produced by a successful negotiation. It is owned
// jointly by consumer and producer for the session lifetime.
type Result struct {
	Protocol capability.ProtocolKind `json:"protocol"`
	// FieldMapping maps intent context keys to capability input names.
	FieldMapping map[string]string `json:"field_mapping"`
	// AgreedConstraints carries the capability's declared constraints.
	AgreedConstraints map[string]any `json:"agreed_constraints,omitempty"`
	SessionID         string         `json:"session_id"`
	// ExpiresAt is a unix timestamp; zero means no expiry.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

type cacheEntry struct {
	result Result
	// weight counts successful reuses of this signature pair.
	weight int
}

// Engine negotiates interaction contracts between intents and capabilities.
type Engine struct {
	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// NewEngine creates a negotiation engine with an empty signature cache.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]*cacheEntry)}
}

// Negotiate checks that every required input of the capability has a
// case-insensitive counterpart among the intent's context keys. On mismatch
// it returns SCHEMA_INCOMPATIBLE and no contract. Successful negotiations are
// cached by the signature pair for fast-path reuse.
func (e *Engine) Negotiate(intent capability.Intent, cap capability.Capability) (Result, error) {
	key := signatureKey(intent, cap)

	e.mu.Lock()
	if entry, ok := e.cache[key]; ok {
		entry.weight++
		cached := cloneResult(entry.result)
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	mapping, missing := mapFields(intent, cap)
	if len(missing) > 0 {
		return Result{}, errors.New(errors.CodeSchemaIncompatible, "intent cannot satisfy required inputs", nil).
			WithRecoverable(true).
			WithContext("missing", missing).
			WithAttribute("intent_id", intent.ID).
			WithAttribute("capability_id", cap.ID)
	}

	result := Result{
		Protocol:          selectProtocol(cap.Protocols),
		FieldMapping:      mapping,
		AgreedConstraints: cloneConstraints(cap.Constraints),
		SessionID:         sessionID(key),
	}

	e.mu.Lock()
	// A concurrent negotiation of the same pair computed the same result;
	// keep whichever entry landed first.
	if _, ok := e.cache[key]; !ok {
		e.cache[key] = &cacheEntry{result: result, weight: 1}
	}
	e.mu.Unlock()

	return cloneResult(result), nil
}

// CachedWeight returns the success weight for a signature pair, zero when the
// pair has never negotiated successfully.
func (e *Engine) CachedWeight(intent capability.Intent, cap capability.Capability) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.cache[signatureKey(intent, cap)]; ok {
		return entry.weight
	}
	return 0
}

// CacheSize returns the number of cached signature pairs.
func (e *Engine) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// mapFields builds the intent-key to input-name mapping and reports required
// inputs the intent cannot provide. Missing names are sorted for determinism.
func mapFields(intent capability.Intent, cap capability.Capability) (map[string]string, []string) {
	contextKeys := make(map[string]string, len(intent.Context))
	for k := range intent.Context {
		contextKeys[strings.ToLower(k)] = k
	}

	mapping := make(map[string]string)
	var missing []string
	for _, input := range cap.Inputs {
		key, ok := contextKeys[strings.ToLower(input.Name)]
		if ok {
			mapping[key] = input.Name
			continue
		}
		if input.Required {
			missing = append(missing, input.Name)
		}
	}
	sort.Strings(missing)
	return mapping, missing
}

// selectProtocol picks request_response whenever the capability supports it;
// otherwise the first declared kind is used.
func selectProtocol(protocols []capability.ProtocolKind) capability.ProtocolKind {
	for _, p := range protocols {
		if p == capability.ProtocolRequestResponse {
			return p
		}
	}
	if len(protocols) > 0 {
		return protocols[0]
	}
	return capability.ProtocolRequestResponse
}

func signatureKey(intent capability.Intent, cap capability.Capability) string {
	sum := sha256.Sum256([]byte(intent.Signature() + "\x00" + cap.Signature()))
	return hex.EncodeToString(sum[:])
}

// sessionID derives the session identifier from the signature hash so repeat
// negotiations of the same pair produce the same contract.
func sessionID(key string) string {
	return "sess-" + key[:16]
}

// cloneResult copies the result's maps so callers cannot reach the cached
// entry (or, through it, the capability's own constraints) by mutation.
func cloneResult(r Result) Result {
	out := r
	out.FieldMapping = make(map[string]string, len(r.FieldMapping))
	for k, v := range r.FieldMapping {
		out.FieldMapping[k] = v
	}
	out.AgreedConstraints = cloneConstraints(r.AgreedConstraints)
	return out
}

func cloneConstraints(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
