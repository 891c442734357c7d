// Package capability defines the semantic capability descriptor and the
// registry that matches free-text queries against published capabilities.
//
// A capability is the entire public contract a service publishes: instead of
// an endpoint like "GET /weather" it declares "I can provide weather
// information for a given location". Cross-service compatibility depends only
// on this shape.
package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DataType enumerates the field types a capability can declare.
type DataType string

const (
	TypeString  DataType = "string"
	TypeInteger DataType = "integer"
	TypeFloat   DataType = "float"
	TypeBoolean DataType = "boolean"
	TypeJSON    DataType = "json"
	TypeBinary  DataType = "binary"
)

// ProtocolKind enumerates the interaction styles a capability supports.
// Negotiated protocols are a closed set, never dynamically executed code.
type ProtocolKind string

const (
	ProtocolRequestResponse ProtocolKind = "request_response"
	ProtocolStreaming       ProtocolKind = "streaming"
	ProtocolEventDriven     ProtocolKind = "event_driven"
	ProtocolNegotiated      ProtocolKind = "negotiated"
)

// FieldSchema describes one input or output field of a capability.
type FieldSchema struct {
	Name        string         `json:"name"`
	Type        DataType       `json:"type"`
	Description string         `json:"description"`
	Required    bool           `json:"required"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// Capability is an immutable, published description of an offered operation.
// A changed capability is a new id; instances are never mutated in place.
type Capability struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Domain      string         `json:"domain"`
	Inputs      []FieldSchema  `json:"inputs"`
	Outputs     []FieldSchema  `json:"outputs"`
	Constraints map[string]any `json:"constraints,omitempty"`
	Protocols   []ProtocolKind `json:"protocols_supported"`
	Tags        []string       `json:"semantic_tags,omitempty"`
}

// Intent is a consumer's declared need, matched against capabilities.
// Intents are ephemeral and discarded after negotiation.
type Intent struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	RequiredTags []string       `json:"required_capabilities,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Priority     int            `json:"priority"`
}

// Validate checks descriptor well-formedness before registration.
func (c Capability) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("capability: id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("capability %s: name is required", c.ID)
	}
	if len(c.Protocols) == 0 {
		return fmt.Errorf("capability %s: at least one protocol is required", c.ID)
	}
	for _, p := range c.Protocols {
		if !validProtocol(p) {
			return fmt.Errorf("capability %s: unknown protocol %q", c.ID, p)
		}
	}
	for _, f := range c.Inputs {
		if err := f.validate(); err != nil {
			return fmt.Errorf("capability %s: input: %w", c.ID, err)
		}
	}
	for _, f := range c.Outputs {
		if err := f.validate(); err != nil {
			return fmt.Errorf("capability %s: output: %w", c.ID, err)
		}
	}
	return nil
}

func (f FieldSchema) validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("field name is required")
	}
	switch f.Type {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeJSON, TypeBinary:
		return nil
	default:
		return fmt.Errorf("field %s: unknown type %q", f.Name, f.Type)
	}
}

func validProtocol(p ProtocolKind) bool {
	switch p {
	case ProtocolRequestResponse, ProtocolStreaming, ProtocolEventDriven, ProtocolNegotiated:
		return true
	}
	return false
}

// Encode serializes the capability to its wire form.
func (c Capability) Encode() ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses a capability from its wire form.
func Decode(data []byte) (Capability, error) {
	var c Capability
	if err := json.Unmarshal(data, &c); err != nil {
		return Capability{}, fmt.Errorf("decode capability: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Capability{}, err
	}
	return c, nil
}

// Signature returns a stable string identity for negotiation caching.
// It covers the fields that affect schema compatibility.
func (c Capability) Signature() string {
	var b strings.Builder
	b.WriteString(c.ID)
	for _, in := range c.Inputs {
		b.WriteString("|")
		b.WriteString(strings.ToLower(in.Name))
		b.WriteString(":")
		b.WriteString(string(in.Type))
		if in.Required {
			b.WriteString("!")
		}
	}
	for _, p := range c.Protocols {
		b.WriteString("|")
		b.WriteString(string(p))
	}
	return b.String()
}

// Signature returns a stable string identity for negotiation caching.
func (i Intent) Signature() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(i.Description)))
	keys := make([]string, 0, len(i.Context))
	for k := range i.Context {
		keys = append(keys, strings.ToLower(k))
	}
	// Context keys participate in field mapping, so they are part of the
	// signature. Order must not depend on map iteration.
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
	}
	for _, tag := range i.RequiredTags {
		b.WriteString("+")
		b.WriteString(strings.ToLower(tag))
	}
	return b.String()
}
