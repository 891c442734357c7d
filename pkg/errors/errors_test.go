// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	me := New(CodePeerUnreachable, "peer dial failed", cause)

	if me.Code != CodePeerUnreachable {
		t.Errorf("expected CodePeerUnreachable, got %v", me.Code)
	}
	if me.Message != "peer dial failed" {
		t.Errorf("expected message 'peer dial failed', got %q", me.Message)
	}
	if me.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(me, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	me := New(CodeSchemaIncompatible, "negotiation failed", nil)
	me.WithContext("intent", "intent-42").
		WithContext("missing", []string{"location"})

	if me.Context["intent"] != "intent-42" {
		t.Errorf("expected context intent to be 'intent-42'")
	}
	if me.Context["missing"] == nil {
		t.Errorf("expected context missing to be set")
	}
}

func TestWithAttribute(t *testing.T) {
	me := New(CodeRateLimit, "rate window full", nil)
	me.WithAttribute("participant_id", "svc-1").
		WithAttribute("window_count", "10")

	if me.Attributes["participant_id"] != "svc-1" {
		t.Errorf("expected attribute participant_id")
	}
	if me.Attributes["window_count"] != "10" {
		t.Errorf("expected attribute window_count")
	}
}

func TestWithRecoverable(t *testing.T) {
	me := New(CodeSchemaIncompatible, "schema mismatch", nil)
	if me.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}

	me.WithRecoverable(true)
	if !me.Recoverable {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		me       *MeshError
		expected string
	}{
		{
			name:     "with cause",
			me:       New(CodeSealBreach, "seal mismatch", errors.New("bad digest")),
			expected: "[SEAL_BREACH] seal mismatch: bad digest",
		},
		{
			name:     "without cause",
			me:       New(CodeNotFound, "capability not found", nil),
			expected: "[NOT_FOUND] capability not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.me.Error()
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAsMeshError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
		{
			name:     "already MeshError",
			err:      New(CodeDuplicateID, "already registered", nil),
			expected: CodeDuplicateID,
		},
		{
			name:     "generic error",
			err:      errors.New("generic error"),
			expected: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			me := AsMeshError(tt.err)
			if tt.expected == "" {
				if me != nil {
					t.Errorf("expected nil for nil error")
				}
			} else {
				if me == nil {
					t.Errorf("expected non-nil MeshError")
				} else if me.Code != tt.expected {
					t.Errorf("expected %v, got %v", tt.expected, me.Code)
				}
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	me := New(CodeConcurrencyLimit, "cap reached", nil)
	if !IsCode(me, CodeConcurrencyLimit) {
		t.Errorf("expected IsCode to match")
	}
	if IsCode(me, CodeRateLimit) {
		t.Errorf("expected IsCode mismatch for different code")
	}
	if IsCode(errors.New("plain"), CodeInternal) {
		t.Errorf("expected IsCode false for non-MeshError")
	}
	if IsCode(nil, CodeInternal) {
		t.Errorf("expected IsCode false for nil")
	}
}

func TestMarshalJSON(t *testing.T) {
	me := New(CodeSealBreach, "seal mismatch", errors.New("bad digest"))
	me.WithContext("origin", "node-a").
		WithAttribute("envelope_id", "f-1").
		WithRecoverable(false)

	data, err := json.Marshal(me)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}

	if result["code"] != "SEAL_BREACH" {
		t.Errorf("expected code 'SEAL_BREACH', got %v", result["code"])
	}
	if result["recoverable"] != false {
		t.Errorf("expected recoverable false")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected int
	}{
		{CodeNotFound, 404},
		{CodeUnauthorized, 401},
		{CodeInvalidInput, 400},
		{CodeSchemaIncompatible, 400},
		{CodeTimeout, 408},
		{CodeRateLimit, 429},
		{CodeConcurrencyLimit, 429},
		{CodeDuplicateID, 409},
		{CodePeerUnreachable, 502},
		{CodeInternal, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			me := New(tt.code, "test", nil)
			if me.StatusCode != tt.expected {
				t.Errorf("expected status %d, got %d", tt.expected, me.StatusCode)
			}
		})
	}
}
