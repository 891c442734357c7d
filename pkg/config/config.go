package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Node       NodeConfig       `koanf:"node"`
	Admission  AdmissionConfig  `koanf:"admission"`
	Registry   RegistryConfig   `koanf:"registry"`
	Onboarding OnboardingConfig `koanf:"onboarding"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// NodeConfig controls the gossip layer of a mesh node.
type NodeConfig struct {
	ID           string `koanf:"id"`            // empty = generated at start
	ListenAddr   string `koanf:"listen_addr"`   // host:port for inbound peers
	SharedSecret string `koanf:"shared_secret"` // seal key, must match across the mesh
	MaxHops      int    `koanf:"max_hops"`
	SeenTTL      string `koanf:"seen_ttl"`       // retention for the seen-fact set
	SeenMax      int    `koanf:"seen_max"`       // hard cap on seen-fact entries
	PingInterval string `koanf:"ping_interval"`  // peer liveness ping cadence
	PeerTimeout  string `koanf:"peer_timeout"`   // silence before a peer is pruned
	FactLogPath  string `koanf:"fact_log_path"`  // sqlite path, empty = in-memory
}

// AdmissionConfig bounds per-participant load.
type AdmissionConfig struct {
	MaxConcurrent  int    `koanf:"max_concurrent"`
	MaxPerWindow   int    `koanf:"max_per_window"`
	RateWindow     string `koanf:"rate_window"`
	ShutdownGrace  string `koanf:"shutdown_grace"`
}

// RegistryConfig controls capability matching.
type RegistryConfig struct {
	MinScore       float64 `koanf:"min_score"`
	Matcher        string  `koanf:"matcher"` // lexical, qdrant
	QdrantAddr     string  `koanf:"qdrant_addr"`
	EmbedderURL    string  `koanf:"embedder_url"`
	EmbedderModel  string  `koanf:"embedder_model"`
	DescriptorDir  string  `koanf:"descriptor_dir"` // optional YAML capability files
}

type OnboardingConfig struct {
	StorePath string `koanf:"store_path"` // sqlite path, empty = in-memory
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("node.listen_addr", "127.0.0.1:7946")
	k.Set("node.max_hops", 5)
	k.Set("node.seen_ttl", "10m")
	k.Set("node.seen_max", 10000)
	k.Set("node.ping_interval", "15s")
	k.Set("node.peer_timeout", "45s")

	k.Set("admission.max_concurrent", 6)
	k.Set("admission.max_per_window", 10)
	k.Set("admission.rate_window", "60s")
	k.Set("admission.shutdown_grace", "30s")

	k.Set("registry.min_score", 0.7)
	k.Set("registry.matcher", "lexical")
	k.Set("registry.qdrant_addr", "localhost:6334")
	k.Set("registry.embedder_url", "http://localhost:11434")
	k.Set("registry.embedder_model", "nomic-embed-text")

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (SEMMESH_NODE_MAX_HOPS -> node.max_hops)
	if err := k.Load(env.Provider("SEMMESH_", ".", envKeyToPath), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKeyToPath maps SEMMESH_NODE_MAX_HOPS to node.max_hops. Every section
// name is a single word, so only the first underscore becomes a separator;
// the leaf key keeps its underscores (max_hops, shared_secret, ...).
func envKeyToPath(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, "SEMMESH_"))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}

// Duration parses a duration string, falling back when empty or invalid.
func Duration(s string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
