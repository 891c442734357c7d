package gossip

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jllopis/semmesh/pkg/admission"
	"github.com/jllopis/semmesh/pkg/errors"
	"github.com/jllopis/semmesh/pkg/telemetry"
)

// Handler is invoked for every newly applied fact (local broadcasts and
// first-sight deliveries from peers).
type Handler func(ctx context.Context, fact Fact) error

// Gate admits local processing of inbound facts. The admission controller
// implements it.
type Gate interface {
	Submit(ctx context.Context, participantID string, action admission.ActionType, fn func(context.Context) error) error
}

// Options configures a Node. Zero values fall back to defaults.
type Options struct {
	ID           string
	ListenAddr   string
	SharedSecret string
	MaxHops      int
	SeenTTL      time.Duration
	SeenMax      int
	PingInterval time.Duration
	PeerTimeout  time.Duration
}

// Option wires optional collaborators into a Node.
type Option func(*Node)

// WithFactLog retains applied facts in the given log.
func WithFactLog(log FactLog) Option {
	return func(n *Node) { n.factLog = log }
}

// WithHandler invokes fn for every newly applied fact.
func WithHandler(fn Handler) Option {
	return func(n *Node) { n.handler = fn }
}

// WithGate routes inbound fact processing through the admission gate.
func WithGate(gate Gate) Option {
	return func(n *Node) { n.gate = gate }
}

// WithMetrics records gossip metrics on the given recorder.
func WithMetrics(m *telemetry.MeshMetrics) Option {
	return func(n *Node) { n.metrics = m }
}

// Node is one gossip participant: a TCP listener, an active peer set, and
// the seen-fact set that makes redelivery idempotent. All state is owned by
// the node instance; nothing is process-global.
type Node struct {
	id           string
	listenAddr   string
	secret       string
	maxHops      int
	pingInterval time.Duration
	peerTimeout  time.Duration

	seen    *seenSet
	factLog FactLog
	handler Handler
	gate    Gate
	metrics *telemetry.MeshMetrics

	mu       sync.RWMutex
	peers    map[string]*peer
	listener net.Listener
	started  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a gossip node. Start must be called before it will accept
// or originate traffic.
func NewNode(opts Options, extras ...Option) *Node {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = "127.0.0.1:0"
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = 5
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.PeerTimeout <= 0 {
		opts.PeerTimeout = 45 * time.Second
	}
	n := &Node{
		id:           opts.ID,
		listenAddr:   opts.ListenAddr,
		secret:       opts.SharedSecret,
		maxHops:      opts.MaxHops,
		pingInterval: opts.PingInterval,
		peerTimeout:  opts.PeerTimeout,
		seen:         newSeenSet(opts.SeenTTL, opts.SeenMax),
		peers:        make(map[string]*peer),
	}
	for _, extra := range extras {
		extra(n)
	}
	return n
}

// ID returns the node identifier used as fact origin.
func (n *Node) ID() string { return n.id }

// Addr returns the bound listen address, empty before Start.
func (n *Node) Addr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Start binds the listener and launches the accept and maintenance loops.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return errors.New(errors.CodeInternal, "node already started", nil)
	}
	listener, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		n.mu.Unlock()
		return errors.New(errors.CodeInternal, "bind gossip listener", err).
			WithAttribute("addr", n.listenAddr)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	n.listener = listener
	n.cancel = cancel
	n.started = true
	n.mu.Unlock()

	slog.Info("gossip node listening", "node", n.id, "addr", listener.Addr().String())

	n.wg.Add(2)
	go n.acceptLoop(loopCtx)
	go n.maintenanceLoop(loopCtx)
	return nil
}

// Connect dials a peer and registers it in the active set on success.
func (n *Node) Connect(ctx context.Context, addr string) error {
	n.mu.RLock()
	_, exists := n.peers[addr]
	n.mu.RUnlock()
	if exists {
		return nil
	}

	slog.Debug("connecting to peer", "node", n.id, "peer", addr, "state", PeerConnecting.String())
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.New(errors.CodePeerUnreachable, "peer connect failed", err).
			WithRecoverable(true).
			WithAttribute("peer", addr)
	}

	p := newPeer(addr, conn, PeerConnected)
	n.addPeer(p)
	n.wg.Add(1)
	go n.readLoop(p)
	slog.Info("peer connected", "node", n.id, "peer", addr)
	return nil
}

// Broadcast originates a fact: applies it locally and forwards it to every
// connected peer at hop count 1.
func (n *Node) Broadcast(ctx context.Context, factType, payload string) (Fact, error) {
	ts := Now()
	fact := Fact{
		ID:        FactID(payload, ts, n.id),
		Origin:    n.id,
		Timestamp: ts,
		Type:      factType,
		Payload:   payload,
	}

	if !n.seen.MarkIfNew(fact.ID) {
		// Same payload at the same instant from the same origin; nothing
		// new to propagate.
		return fact, nil
	}
	if err := n.apply(ctx, fact); err != nil {
		return Fact{}, err
	}

	env, err := factEnvelope(fact, n.secret, 1)
	if err != nil {
		return Fact{}, err
	}
	sent := n.fanOut(env, nil)
	n.metrics.RecordFactForwarded(ctx, sent)
	slog.Debug("fact broadcast", "node", n.id, "fact", fact.ID, "peers", sent)
	return fact, nil
}

// Peers returns the sorted addresses of the active peer set.
func (n *Node) Peers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.peers))
	for addr := range n.peers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// SeenCount reports the live size of the seen-fact set.
func (n *Node) SeenCount() int { return n.seen.Len() }

// Shutdown stops the loops, closes all connections, and waits for the
// node's goroutines bounded by ctx.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	cancel := n.cancel
	listener := n.listener
	peers := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.peers = make(map[string]*peer)
	n.mu.Unlock()

	cancel()
	listener.Close()
	for _, p := range peers {
		p.close()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("gossip node stopped", "node", n.id)
		return nil
	case <-ctx.Done():
		return errors.New(errors.CodeTimeout, "gossip shutdown timed out", ctx.Err())
	}
}

func (n *Node) acceptLoop(ctx context.Context) {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			slog.Warn("accept failed", "node", n.id, "error", err)
			return
		}
		p := newPeer(conn.RemoteAddr().String(), conn, PeerListening)
		n.addPeer(p)
		n.wg.Add(1)
		go n.readLoop(p)
		slog.Debug("inbound peer accepted", "node", n.id, "peer", p.addr)
	}
}

func (n *Node) readLoop(p *peer) {
	defer n.wg.Done()
	defer n.removePeer(p, "connection closed")

	p.setState(PeerListening)
	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := DecodeEnvelope(line)
		if err != nil {
			// Malformed lines never kill the connection or the node.
			n.metrics.RecordFactReceived(context.Background(), "malformed")
			slog.Warn("dropping malformed envelope", "node", n.id, "peer", p.addr, "error", err)
			continue
		}
		n.handleEnvelope(context.Background(), p, env)
	}
}

func (n *Node) handleEnvelope(ctx context.Context, from *peer, env Envelope) {
	if err := env.Verify(n.secret); err != nil {
		n.metrics.RecordFactReceived(ctx, "seal_breach")
		slog.Warn("dropping envelope with broken seal",
			"node", n.id, "peer", from.addr, "id", env.ID)
		return
	}
	from.touch()

	switch env.Type {
	case TypePing:
		pong := Envelope{
			Type:      TypePong,
			ID:        env.ID,
			Seal:      ComputeSeal("", n.secret),
			Origin:    n.id,
			Timestamp: Now(),
		}
		if err := from.send(pong); err != nil {
			n.removePeer(from, "pong failed")
		}
	case TypePong:
		// touch above is all a pong is for.
	case TypeFact:
		n.handleFact(ctx, from, env)
	}
}

func (n *Node) handleFact(ctx context.Context, from *peer, env Envelope) {
	fact, err := env.fact()
	if err != nil {
		n.metrics.RecordFactReceived(ctx, "malformed")
		slog.Warn("dropping fact with malformed content", "node", n.id, "id", env.ID)
		return
	}
	if !n.seen.MarkIfNew(env.ID) {
		n.metrics.RecordFactReceived(ctx, "duplicate")
		slog.Debug("duplicate fact ignored", "node", n.id, "fact", env.ID)
		return
	}

	var applyErr error
	if n.gate != nil {
		applyErr = n.gate.Submit(ctx, n.id, admission.ActionSync, func(ctx context.Context) error {
			return n.apply(ctx, fact)
		})
	} else {
		applyErr = n.apply(ctx, fact)
	}
	if applyErr != nil {
		n.metrics.RecordFactReceived(ctx, "rejected")
		slog.Warn("inbound fact not applied", "node", n.id, "fact", env.ID, "error", applyErr)
	} else {
		n.metrics.RecordFactReceived(ctx, "applied")
	}

	if env.HopCount < n.maxHops {
		next := env
		next.HopCount++
		sent := n.fanOut(next, from)
		n.metrics.RecordFactForwarded(ctx, sent)
	}
}

// apply records the fact and hands it to the handler.
func (n *Node) apply(ctx context.Context, fact Fact) error {
	if n.factLog != nil {
		if err := n.factLog.Append(ctx, fact); err != nil {
			return err
		}
	}
	if n.handler != nil {
		return n.handler(ctx, fact)
	}
	return nil
}

// fanOut sends the envelope to every active peer except the one it arrived
// on. Unreachable peers are removed; there are no retries.
func (n *Node) fanOut(env Envelope, except *peer) int {
	n.mu.RLock()
	targets := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		if p == except {
			continue
		}
		targets = append(targets, p)
	}
	n.mu.RUnlock()

	sent := 0
	for _, p := range targets {
		if err := p.send(env); err != nil {
			slog.Warn("peer unreachable", "node", n.id, "peer", p.addr, "error", err)
			n.removePeer(p, "send failed")
			continue
		}
		sent++
	}
	return sent
}

func (n *Node) maintenanceLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.pingPeers()
			n.prunePeers()
			n.seen.Sweep()
			n.metrics.RecordActivePeers(ctx, len(n.Peers()))
		}
	}
}

func (n *Node) pingPeers() {
	ping := Envelope{
		Type:      TypePing,
		ID:        uuid.NewString(),
		Seal:      ComputeSeal("", n.secret),
		Origin:    n.id,
		Timestamp: Now(),
	}
	n.mu.RLock()
	targets := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		targets = append(targets, p)
	}
	n.mu.RUnlock()
	for _, p := range targets {
		if err := p.send(ping); err != nil {
			n.removePeer(p, "ping failed")
		}
	}
}

// prunePeers drops peers that have been silent past the timeout.
func (n *Node) prunePeers() {
	n.mu.RLock()
	var silent []*peer
	for _, p := range n.peers {
		if p.idleSince() > n.peerTimeout {
			silent = append(silent, p)
		}
	}
	n.mu.RUnlock()
	for _, p := range silent {
		n.removePeer(p, "liveness timeout")
	}
}

func (n *Node) addPeer(p *peer) {
	n.mu.Lock()
	if old, ok := n.peers[p.addr]; ok && old != p {
		old.close()
	}
	n.peers[p.addr] = p
	n.mu.Unlock()
}

func (n *Node) removePeer(p *peer, reason string) {
	n.mu.Lock()
	current, ok := n.peers[p.addr]
	if ok && current == p {
		delete(n.peers, p.addr)
	}
	n.mu.Unlock()
	p.close()
	if ok && current == p {
		slog.Info("peer removed", "node", n.id, "peer", p.addr, "reason", reason)
	}
}
