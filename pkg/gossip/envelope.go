// Package gossip propagates facts between mesh nodes over TCP. Every
// envelope carries an integrity seal derived from the shared secret; duplicate
// fact ids are dropped on first sight and forwards are hop-bounded, so
// propagation of any single fact always terminates.
package gossip

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/jllopis/semmesh/pkg/errors"
)

// MessageType discriminates wire envelopes.
type MessageType string

const (
	TypeFact MessageType = "fact"
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Envelope is the newline-delimited JSON wire record exchanged between
// nodes. Content is the encoded fact payload; Seal is the hex sha256 of
// content plus the shared secret and must verify before any processing.
type Envelope struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	Seal      string      `json:"seal"`
	Origin    string      `json:"origin"`
	Timestamp float64     `json:"timestamp"`
	HopCount  int         `json:"hopCount"`
}

// Fact is an applied gossip fact as handed to the node's handler and kept in
// the fact log.
type Fact struct {
	ID        string  `json:"id"`
	Origin    string  `json:"origin"`
	Timestamp float64 `json:"timestamp"`
	Type      string  `json:"type"`
	Payload   string  `json:"payload"`
	HopCount  int     `json:"hop_count"`
}

// factContent is the structure encoded into Envelope.Content for facts.
type factContent struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// ComputeSeal derives the integrity seal for a content string.
func ComputeSeal(content, sharedSecret string) string {
	sum := sha256.Sum256([]byte(content + sharedSecret))
	return hex.EncodeToString(sum[:])
}

// FactID derives the globally unique fact id from payload, timestamp and
// origin. Identical facts re-broadcast at a different time get a new id.
func FactID(payload string, timestamp float64, origin string) string {
	material := payload + "|" + formatTimestamp(timestamp) + "|" + origin
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])
}

func formatTimestamp(ts float64) string {
	b, _ := json.Marshal(ts)
	return string(b)
}

// Now returns the current time as the wire timestamp (unix seconds).
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Verify checks the envelope seal against the shared secret.
func (e Envelope) Verify(sharedSecret string) error {
	if e.Seal != ComputeSeal(e.Content, sharedSecret) {
		return errors.New(errors.CodeSealBreach, "envelope seal does not verify", nil).
			WithAttribute("id", e.ID).
			WithAttribute("origin", e.Origin)
	}
	return nil
}

// Encode renders the envelope as a single JSON line ready for the wire.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "encode envelope", err)
	}
	return append(b, '\n'), nil
}

// DecodeEnvelope parses one wire line. Structural problems come back as
// MALFORMED_MESSAGE so the connection loop can drop-and-log.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return Envelope{}, errors.New(errors.CodeMalformedMessage, "envelope is not valid JSON", err)
	}
	switch e.Type {
	case TypeFact, TypePing, TypePong:
	default:
		return Envelope{}, errors.New(errors.CodeMalformedMessage, "unknown envelope type", nil).
			WithAttribute("type", string(e.Type))
	}
	if e.ID == "" || e.Origin == "" {
		return Envelope{}, errors.New(errors.CodeMalformedMessage, "envelope missing id or origin", nil)
	}
	if e.HopCount < 0 {
		return Envelope{}, errors.New(errors.CodeMalformedMessage, "negative hop count", nil)
	}
	return e, nil
}

// fact extracts the Fact carried by a fact envelope.
func (e Envelope) fact() (Fact, error) {
	var content factContent
	if err := json.Unmarshal([]byte(e.Content), &content); err != nil {
		return Fact{}, errors.New(errors.CodeMalformedMessage, "fact content is not valid JSON", err).
			WithAttribute("id", e.ID)
	}
	return Fact{
		ID:        e.ID,
		Origin:    e.Origin,
		Timestamp: e.Timestamp,
		Type:      content.Type,
		Payload:   content.Payload,
		HopCount:  e.HopCount,
	}, nil
}

// factEnvelope builds a sealed fact envelope at the given hop count.
func factEnvelope(f Fact, sharedSecret string, hopCount int) (Envelope, error) {
	content, err := json.Marshal(factContent{Type: f.Type, Payload: f.Payload})
	if err != nil {
		return Envelope{}, errors.New(errors.CodeInternal, "encode fact content", err)
	}
	return Envelope{
		Type:      TypeFact,
		ID:        f.ID,
		Content:   string(content),
		Seal:      ComputeSeal(string(content), sharedSecret),
		Origin:    f.Origin,
		Timestamp: f.Timestamp,
		HopCount:  hopCount,
	}, nil
}
