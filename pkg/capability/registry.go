package capability

import (
	"context"
	"sort"
	"sync"

	"github.com/jllopis/semmesh/pkg/errors"
)

// Registration pairs a capability with the service that published it.
type Registration struct {
	Service    string
	Capability Capability
	seq        int
}

// Match is a discovery result.
type Match struct {
	Service    string     `json:"service"`
	Capability Capability `json:"capability"`
	Score      float64    `json:"score"`
}

// Score pairs a capability id with a similarity score.
type Score struct {
	ID    string
	Score float64
}

// Matcher ranks capabilities against a free-text query. Implementations must
// be deterministic for identical inputs; the registry applies the score
// threshold and tie-break, so matchers only produce raw scores.
type Matcher interface {
	Rank(ctx context.Context, query string, candidates []Registration) ([]Score, error)
}

// Registry stores published capability descriptors per node.
// It is owned by the node that created it; there is no process-wide instance.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]Registration
	ordered  []Registration
	matcher  Matcher
	minScore float64
}

// Option configures a Registry.
type Option func(*Registry)

// WithMatcher replaces the default lexical matcher.
func WithMatcher(m Matcher) Option {
	return func(r *Registry) {
		if m != nil {
			r.matcher = m
		}
	}
}

// WithMinScore overrides the minimum discovery score (default 0.7).
func WithMinScore(score float64) Option {
	return func(r *Registry) {
		if score > 0 && score <= 1 {
			r.minScore = score
		}
	}
}

// NewRegistry creates an empty registry with the lexical matcher.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:     make(map[string]Registration),
		matcher:  NewLexicalMatcher(),
		minScore: 0.7,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a capability published by service. Capability ids are
// globally unique and immutable; re-registering an id fails with
// CodeDuplicateID even if the descriptor is identical.
func (r *Registry) Register(service string, cap Capability) error {
	if err := cap.Validate(); err != nil {
		return errors.New(errors.CodeInvalidInput, "invalid capability", err).
			WithAttribute("capability_id", cap.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[cap.ID]; exists {
		return errors.New(errors.CodeDuplicateID, "capability id already registered", nil).
			WithAttribute("capability_id", cap.ID).
			WithAttribute("service", service)
	}
	reg := Registration{Service: service, Capability: cap, seq: len(r.ordered)}
	r.byID[cap.ID] = reg
	r.ordered = append(r.ordered, reg)
	return nil
}

// Get returns the registration for a capability id.
func (r *Registry) Get(id string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return Registration{}, errors.New(errors.CodeNotFound, "capability not found", nil).
			WithAttribute("capability_id", id)
	}
	return reg, nil
}

// List returns all registrations in registration order.
func (r *Registry) List() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}

// Discover ranks registered capabilities against a free-text query.
// Results are sorted by score descending; matches below the minimum score are
// filtered out, and ties break by registration order so matching is
// reproducible.
func (r *Registry) Discover(ctx context.Context, query string) ([]Match, error) {
	r.mu.RLock()
	candidates := make([]Registration, len(r.ordered))
	copy(candidates, r.ordered)
	matcher := r.matcher
	minScore := r.minScore
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return nil, nil
	}

	scores, err := matcher.Rank(ctx, query, candidates)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "matcher failed", err)
	}
	byID := make(map[string]float64, len(scores))
	for _, s := range scores {
		byID[s.ID] = s.Score
	}

	matches := make([]Match, 0, len(candidates))
	for _, reg := range candidates {
		score, ok := byID[reg.Capability.ID]
		if !ok || score < minScore {
			continue
		}
		matches = append(matches, Match{
			Service:    reg.Service,
			Capability: reg.Capability,
			Score:      score,
		})
	}

	// Stable sort keeps registration order for equal scores.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches, nil
}
