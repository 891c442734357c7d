// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeshMetrics tracks gossip and admission activity for production monitoring.
type MeshMetrics struct {
	// factsReceived counts inbound facts by disposition (applied, duplicate, dropped)
	factsReceived metric.Int64Counter

	// factsForwarded counts outbound fact forwards
	factsForwarded metric.Int64Counter

	// admissionRejected counts admission rejections by reason
	admissionRejected metric.Int64Counter

	// activePeers tracks the size of the active peer set
	activePeers metric.Int64Gauge

	// negotiations counts negotiation outcomes (success, incompatible, cached)
	negotiations metric.Int64Counter
}

// NewMeshMetrics creates a mesh metrics tracker with OTEL meters.
func NewMeshMetrics(_ context.Context) (*MeshMetrics, error) {
	meter := otel.Meter("semmesh/node")

	factsReceived, err := meter.Int64Counter(
		"semmesh.gossip.facts.received",
		metric.WithDescription("Inbound facts by disposition"),
	)
	if err != nil {
		return nil, err
	}

	factsForwarded, err := meter.Int64Counter(
		"semmesh.gossip.facts.forwarded",
		metric.WithDescription("Facts forwarded to peers"),
	)
	if err != nil {
		return nil, err
	}

	admissionRejected, err := meter.Int64Counter(
		"semmesh.admission.rejected",
		metric.WithDescription("Admission rejections by reason"),
	)
	if err != nil {
		return nil, err
	}

	activePeers, err := meter.Int64Gauge(
		"semmesh.gossip.peers.active",
		metric.WithDescription("Current active peer count"),
	)
	if err != nil {
		return nil, err
	}

	negotiations, err := meter.Int64Counter(
		"semmesh.negotiation.outcomes",
		metric.WithDescription("Negotiation outcomes (success, incompatible, cached)"),
	)
	if err != nil {
		return nil, err
	}

	return &MeshMetrics{
		factsReceived:     factsReceived,
		factsForwarded:    factsForwarded,
		admissionRejected: admissionRejected,
		activePeers:       activePeers,
		negotiations:      negotiations,
	}, nil
}

// RecordFactReceived records an inbound fact and how it was handled.
func (m *MeshMetrics) RecordFactReceived(ctx context.Context, disposition string) {
	if m == nil {
		return
	}
	m.factsReceived.Add(ctx, 1, metric.WithAttributes(
		attribute.String("disposition", disposition),
	))
}

// RecordFactForwarded records facts forwarded to peers.
func (m *MeshMetrics) RecordFactForwarded(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.factsForwarded.Add(ctx, int64(count))
}

// RecordAdmissionRejected records an admission rejection.
func (m *MeshMetrics) RecordAdmissionRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.admissionRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordActivePeers records the current active peer count.
func (m *MeshMetrics) RecordActivePeers(ctx context.Context, count int) {
	if m == nil {
		return
	}
	m.activePeers.Record(ctx, int64(count))
}

// RecordNegotiation records a negotiation outcome.
func (m *MeshMetrics) RecordNegotiation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.negotiations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
