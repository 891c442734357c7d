package capability

import (
	"context"
	"testing"
)

func TestLexicalRankDeterministic(t *testing.T) {
	m := NewLexicalMatcher()
	candidates := []Registration{{Service: "svc", Capability: weatherCapability()}}

	first, err := m.Rank(context.Background(), "get weather data", candidates)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := m.Rank(context.Background(), "get weather data", candidates)
		if err != nil {
			t.Fatalf("Rank failed: %v", err)
		}
		if again[0].Score != first[0].Score {
			t.Fatalf("score not deterministic: %v vs %v", again[0].Score, first[0].Score)
		}
	}
}

func TestLexicalScoreBounds(t *testing.T) {
	m := NewLexicalMatcher()
	candidates := []Registration{{Service: "svc", Capability: weatherCapability()}}

	queries := []string{
		"",
		"get_weather",
		"get weather data",
		"completely unrelated query about spaceships",
		"weather weather weather weather",
	}
	for _, q := range queries {
		scores, err := m.Rank(context.Background(), q, candidates)
		if err != nil {
			t.Fatalf("Rank(%q) failed: %v", q, err)
		}
		if s := scores[0].Score; s < 0 || s > 1 {
			t.Errorf("Rank(%q) score %v out of [0,1]", q, s)
		}
	}
}

func TestLexicalExactNameScoresHighest(t *testing.T) {
	m := NewLexicalMatcher()
	weather := weatherCapability()
	other := weatherCapability()
	other.ID = "notify_svc_001_send_notification"
	other.Name = "send_notification"
	other.Description = "Deliver a notification message to a user channel"
	other.Domain = "notification"
	other.Tags = []string{"alerts", "delivery"}

	candidates := []Registration{
		{Service: "weather", Capability: weather},
		{Service: "notify", Capability: other},
	}
	scores, err := m.Rank(context.Background(), "get weather", candidates)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if scores[0].Score <= scores[1].Score {
		t.Errorf("expected weather capability to outscore notification: %v vs %v",
			scores[0].Score, scores[1].Score)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"get_weather", 2},
		{"Get Weather Data!", 3},
		{"", 0},
		{"---", 0},
	}
	for _, tt := range tests {
		if got := tokenize(tt.in); len(got) != tt.want {
			t.Errorf("tokenize(%q) = %v, want %d tokens", tt.in, got, tt.want)
		}
	}
}
