// Package mesh composes the registry, matcher, negotiation engine, gossip
// node, admission controller, and onboarding registrar into one node. All
// state is owned by the Node instance, created at start and torn down at
// shutdown; there are no process-wide singletons.
package mesh

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jllopis/semmesh/pkg/admission"
	"github.com/jllopis/semmesh/pkg/capability"
	"github.com/jllopis/semmesh/pkg/config"
	"github.com/jllopis/semmesh/pkg/errors"
	"github.com/jllopis/semmesh/pkg/gossip"
	"github.com/jllopis/semmesh/pkg/negotiation"
	"github.com/jllopis/semmesh/pkg/onboarding"
	"github.com/jllopis/semmesh/pkg/telemetry"
)

// Fact types carried on the gossip layer.
const (
	FactCapabilityAdvertised = "capability_advertised"
	FactNegotiationCompleted = "negotiation_completed"
)

// Indexer is implemented by matchers that maintain their own index (the
// qdrant matcher). Published and merged capabilities are fed to it.
type Indexer interface {
	Index(ctx context.Context, cap capability.Capability) error
}

// Node is one mesh participant process.
type Node struct {
	id        string
	registry  *capability.Registry
	engine    *negotiation.Engine
	control   *admission.Controller
	registrar *onboarding.Registrar
	gossip    *gossip.Node
	metrics   *telemetry.MeshMetrics
	indexer   Indexer

	shutdownGrace time.Duration
}

// Option overrides a collaborator before the node is assembled.
type Option func(*options)

type options struct {
	matcher          capability.Matcher
	factLog          gossip.FactLog
	participantStore onboarding.Store
	metrics          *telemetry.MeshMetrics
}

// WithMatcher swaps the capability matcher (e.g. an embedding-based one).
func WithMatcher(m capability.Matcher) Option {
	return func(o *options) { o.matcher = m }
}

// WithFactLog sets the fact log backing the gossip node.
func WithFactLog(log gossip.FactLog) Option {
	return func(o *options) { o.factLog = log }
}

// WithParticipantStore sets the onboarding record store.
func WithParticipantStore(s onboarding.Store) Option {
	return func(o *options) { o.participantStore = s }
}

// WithMetrics wires mesh metrics through all components.
func WithMetrics(m *telemetry.MeshMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// New assembles a mesh node from configuration. Start must be called before
// use.
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidInput, "config is required", nil)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	registryOpts := []capability.Option{capability.WithMinScore(cfg.Registry.MinScore)}
	if o.matcher != nil {
		registryOpts = append(registryOpts, capability.WithMatcher(o.matcher))
	}

	n := &Node{
		id:            cfg.Node.ID,
		registry:      capability.NewRegistry(registryOpts...),
		engine:        negotiation.NewEngine(),
		metrics:       o.metrics,
		shutdownGrace: config.Duration(cfg.Admission.ShutdownGrace, 30*time.Second),
	}
	if idx, ok := o.matcher.(Indexer); ok {
		n.indexer = idx
	}

	store := o.participantStore
	if store == nil && cfg.Onboarding.StorePath != "" {
		sqlStore, err := onboarding.OpenSQLiteStore(cfg.Onboarding.StorePath)
		if err != nil {
			return nil, err
		}
		store = sqlStore
	}
	n.registrar = onboarding.NewRegistrar(store)

	n.control = admission.NewController(
		cfg.Admission.MaxConcurrent,
		cfg.Admission.MaxPerWindow,
		admission.WithTierPolicy(n.registrar),
		admission.WithMetrics(o.metrics),
		admission.WithRateWindow(config.Duration(cfg.Admission.RateWindow, 60*time.Second)),
	)

	factLog := o.factLog
	if factLog == nil && cfg.Node.FactLogPath != "" {
		sqlLog, err := gossip.OpenSQLiteFactLog(cfg.Node.FactLogPath)
		if err != nil {
			return nil, err
		}
		factLog = sqlLog
	}
	if factLog == nil {
		factLog = gossip.NewMemoryFactLog(0)
	}

	n.gossip = gossip.NewNode(gossip.Options{
		ID:           cfg.Node.ID,
		ListenAddr:   cfg.Node.ListenAddr,
		SharedSecret: cfg.Node.SharedSecret,
		MaxHops:      cfg.Node.MaxHops,
		SeenTTL:      config.Duration(cfg.Node.SeenTTL, 10*time.Minute),
		SeenMax:      cfg.Node.SeenMax,
		PingInterval: config.Duration(cfg.Node.PingInterval, 15*time.Second),
		PeerTimeout:  config.Duration(cfg.Node.PeerTimeout, 45*time.Second),
	},
		gossip.WithFactLog(factLog),
		gossip.WithHandler(n.applyFact),
		gossip.WithGate(n.control),
		gossip.WithMetrics(o.metrics),
	)
	n.id = n.gossip.ID()
	return n, nil
}

// Start brings up the gossip listener and onboards the node's own identity
// so its background processing passes the tier checks.
func (n *Node) Start(ctx context.Context) error {
	if err := n.gossip.Start(ctx); err != nil {
		return err
	}
	artifact := "node:" + n.id
	_, err := n.registrar.Onboard(ctx, n.id, onboarding.TierAttest, true, onboarding.Proof{
		ArtifactID:     artifact,
		ArtifactDigest: onboarding.SignArtifact(artifact),
	})
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n.gossip.Shutdown(shutdownCtx)
		return err
	}
	slog.Info("mesh node started", "node", n.id, "addr", n.gossip.Addr())
	return nil
}

// ID returns the node's participant identifier.
func (n *Node) ID() string { return n.id }

// Addr returns the gossip listen address.
func (n *Node) Addr() string { return n.gossip.Addr() }

// Registrar exposes onboarding operations.
func (n *Node) Registrar() *onboarding.Registrar { return n.registrar }

// Admission exposes the admission controller for stats and cancellation.
func (n *Node) Admission() *admission.Controller { return n.control }

// Registry exposes read access to the capability registry.
func (n *Node) Registry() *capability.Registry { return n.registry }

// ConnectPeer joins the gossip overlay through the given peer address.
func (n *Node) ConnectPeer(ctx context.Context, addr string) error {
	return n.gossip.Connect(ctx, addr)
}

// PublishCapability registers the capability locally and advertises it to
// the mesh as a fact. The caller's tier must permit broadcasting.
func (n *Node) PublishCapability(ctx context.Context, participantID string, cap capability.Capability) error {
	return n.control.Submit(ctx, participantID, admission.ActionBroadcast, func(ctx context.Context) error {
		if err := n.registry.Register(participantID, cap); err != nil {
			return err
		}
		if n.indexer != nil {
			if err := n.indexer.Index(ctx, cap); err != nil {
				slog.Warn("capability not indexed", "node", n.id, "capability", cap.ID, "error", err)
			}
		}
		payload, err := cap.Encode()
		if err != nil {
			return err
		}
		_, err = n.gossip.Broadcast(ctx, FactCapabilityAdvertised, string(payload))
		return err
	})
}

// Discover ranks registered capabilities against the free-text query.
func (n *Node) Discover(ctx context.Context, participantID, query string) ([]capability.Match, error) {
	var matches []capability.Match
	err := n.control.Submit(ctx, participantID, admission.ActionRecitation, func(ctx context.Context) error {
		var err error
		matches, err = n.registry.Discover(ctx, query)
		return err
	})
	return matches, err
}

// Negotiate produces a session contract between the intent and a registered
// capability, and gossips the completed session to peers.
func (n *Node) Negotiate(ctx context.Context, participantID string, intent capability.Intent, capabilityID string) (negotiation.Result, error) {
	var result negotiation.Result
	err := n.control.Submit(ctx, participantID, admission.ActionAttestation, func(ctx context.Context) error {
		reg, err := n.registry.Get(capabilityID)
		if err != nil {
			return err
		}
		result, err = n.engine.Negotiate(intent, reg.Capability)
		if err != nil {
			n.metrics.RecordNegotiation(ctx, "rejected")
			return err
		}
		n.metrics.RecordNegotiation(ctx, "completed")

		payload, err := json.Marshal(map[string]any{
			"session_id":    result.SessionID,
			"capability_id": capabilityID,
			"protocol":      result.Protocol,
			"consumer":      participantID,
		})
		if err != nil {
			return err
		}
		if _, err := n.gossip.Broadcast(ctx, FactNegotiationCompleted, string(payload)); err != nil {
			slog.Warn("negotiation fact not broadcast", "node", n.id, "error", err)
		}
		return nil
	})
	return result, err
}

// Broadcast publishes an arbitrary fact to the mesh under the caller's
// participant id.
func (n *Node) Broadcast(ctx context.Context, participantID, factType, payload string) (gossip.Fact, error) {
	var fact gossip.Fact
	err := n.control.Submit(ctx, participantID, admission.ActionBroadcast, func(ctx context.Context) error {
		var err error
		fact, err = n.gossip.Broadcast(ctx, factType, payload)
		return err
	})
	return fact, err
}

// Shutdown drains the admission controller and stops the gossip node.
func (n *Node) Shutdown(ctx context.Context) error {
	if err := n.control.GracefulShutdown(n.shutdownGrace); err != nil {
		slog.Warn("admission drain incomplete", "node", n.id, "error", err)
	}
	return n.gossip.Shutdown(ctx)
}

// applyFact merges inbound gossip facts into local state. Capability
// advertisements land in the registry; everything else only reaches the fact
// log.
func (n *Node) applyFact(ctx context.Context, fact gossip.Fact) error {
	switch fact.Type {
	case FactCapabilityAdvertised:
		cap, err := capability.Decode([]byte(fact.Payload))
		if err != nil {
			return err
		}
		err = n.registry.Register(fact.Origin, cap)
		if err != nil {
			if errors.IsCode(err, errors.CodeDuplicateID) {
				return nil
			}
			return err
		}
		if n.indexer != nil {
			if err := n.indexer.Index(ctx, cap); err != nil {
				slog.Warn("capability not indexed", "node", n.id, "capability", cap.ID, "error", err)
			}
		}
		slog.Debug("capability merged from gossip", "node", n.id, "capability", cap.ID)
	}
	return nil
}
