// Command semmesh runs one semantic capability mesh node: it publishes
// locally described capabilities, answers discovery and negotiation, and
// gossips facts with its peers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jllopis/semmesh/pkg/capability"
	"github.com/jllopis/semmesh/pkg/capability/ollama"
	"github.com/jllopis/semmesh/pkg/capability/qdrant"
	"github.com/jllopis/semmesh/pkg/config"
	"github.com/jllopis/semmesh/pkg/mesh"
	"github.com/jllopis/semmesh/pkg/telemetry"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	peers := flag.String("peers", "", "comma-separated peer addresses to join")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("semmesh", version)
		return
	}

	if err := run(*configPath, *peers); err != nil {
		fmt.Fprintln(os.Stderr, "semmesh:", err)
		os.Exit(1)
	}
}

func run(configPath, peers string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	tele, err := telemetry.Setup("semmesh", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tele.Shutdown(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.NewMeshMetrics(ctx)
	if err != nil {
		return err
	}

	opts := []mesh.Option{mesh.WithMetrics(metrics)}
	if matcher, err := buildMatcher(ctx, cfg); err != nil {
		return err
	} else if matcher != nil {
		opts = append(opts, mesh.WithMatcher(matcher))
	}

	node, err := mesh.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := node.Start(ctx); err != nil {
		return err
	}
	logger.Info("mesh node up", "node", node.ID(), "addr", node.Addr())

	if cfg.Registry.DescriptorDir != "" {
		caps, err := capability.LoadDir(cfg.Registry.DescriptorDir)
		if err != nil {
			return err
		}
		for _, cap := range caps {
			if err := node.PublishCapability(ctx, node.ID(), cap); err != nil {
				logger.Warn("capability not published", "capability", cap.ID, "error", err)
				continue
			}
			logger.Info("capability published", "capability", cap.ID, "name", cap.Name)
		}
	}

	if configPath != "" {
		watcher, err := config.NewWatcher([]string{configPath})
		if err != nil {
			return err
		}
		watcher.OnChange(func(next *config.Config) {
			telemetry.ConfigureSlog(os.Stderr, next.Log.Level, next.Log.Format)
		})
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	for _, addr := range splitPeers(peers) {
		if err := node.ConnectPeer(ctx, addr); err != nil {
			logger.Warn("peer join failed", "peer", addr, "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return node.Shutdown(shutdownCtx)
}

// buildMatcher returns nil for the default lexical matcher.
func buildMatcher(ctx context.Context, cfg *config.Config) (capability.Matcher, error) {
	switch cfg.Registry.Matcher {
	case "", "lexical":
		return nil, nil
	case "qdrant":
		embedder := ollama.NewEmbedder(cfg.Registry.EmbedderURL, cfg.Registry.EmbedderModel)
		matcher, err := qdrant.New(cfg.Registry.QdrantAddr, "semmesh_capabilities", 768, embedder)
		if err != nil {
			return nil, err
		}
		if err := matcher.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return matcher, nil
	default:
		return nil, fmt.Errorf("unknown matcher %q", cfg.Registry.Matcher)
	}
}

func splitPeers(peers string) []string {
	if peers == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(peers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
