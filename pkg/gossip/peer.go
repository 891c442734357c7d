package gossip

import (
	"net"
	"sync"
	"time"

	"github.com/jllopis/semmesh/pkg/errors"
)

// PeerState tracks a connection through its lifecycle.
type PeerState int

const (
	PeerDisconnected PeerState = iota
	PeerConnecting
	PeerConnected
	PeerListening
)

func (s PeerState) String() string {
	switch s {
	case PeerDisconnected:
		return "disconnected"
	case PeerConnecting:
		return "connecting"
	case PeerConnected:
		return "connected"
	case PeerListening:
		return "listening"
	default:
		return "unknown"
	}
}

// peer is one live connection. Writes are serialized by writeMu; lastSeen is
// refreshed on every inbound envelope and drives liveness pruning.
type peer struct {
	addr string
	conn net.Conn

	mu       sync.Mutex
	writeMu  sync.Mutex
	state    PeerState
	lastSeen time.Time
}

func newPeer(addr string, conn net.Conn, state PeerState) *peer {
	return &peer{
		addr:     addr,
		conn:     conn,
		state:    state,
		lastSeen: time.Now(),
	}
}

func (p *peer) send(env Envelope) error {
	line, err := env.Encode()
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := p.conn.Write(line); err != nil {
		return errors.New(errors.CodePeerUnreachable, "write to peer failed", err).
			WithAttribute("peer", p.addr)
	}
	return nil
}

func (p *peer) touch() {
	p.mu.Lock()
	p.lastSeen = time.Now()
	p.mu.Unlock()
}

func (p *peer) idleSince() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastSeen)
}

func (p *peer) setState(state PeerState) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *peer) currentState() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *peer) close() {
	p.setState(PeerDisconnected)
	p.conn.Close()
}
