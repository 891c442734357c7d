// Package qdrant provides an embedding-based capability matcher backed by a
// Qdrant collection. It is a drop-in alternative to the default lexical
// matcher for meshes that can afford an embedding round-trip per discovery.
package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jllopis/semmesh/pkg/capability"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Embedder converts discovery queries and capability descriptors into
// vectors. The ollama package provides the default implementation.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedCapability(ctx context.Context, cap capability.Capability) ([]float32, error)
}

// Matcher ranks capabilities by cosine similarity of embeddings.
type Matcher struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	embedder    Embedder
	collection  string
	vectorSize  uint64
}

// New connects to a Qdrant instance and prepares the matcher.
func New(addr, collection string, vectorSize uint64, embedder Embedder) (*Matcher, error) {
	if embedder == nil {
		return nil, fmt.Errorf("qdrant matcher requires an embedder")
	}
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %v", err)
	}
	return &Matcher{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		embedder:    embedder,
		collection:  collection,
		vectorSize:  vectorSize,
	}, nil
}

// EnsureCollection creates the backing collection if it doesn't exist.
func (m *Matcher) EnsureCollection(ctx context.Context) error {
	_, err := m.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     m.vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Index embeds and upserts a capability so Rank can find it. Call once per
// registration; capabilities are immutable so re-indexing is never needed.
func (m *Matcher) Index(ctx context.Context, cap capability.Capability) error {
	vector, err := m.embedder.EmbedCapability(ctx, cap)
	if err != nil {
		return fmt.Errorf("embed capability %s: %w", cap.ID, err)
	}
	_, err = m.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: m.collection,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(cap.ID)},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: vector},
					},
				},
				Payload: map[string]*pb.Value{
					"capability_id": {Kind: &pb.Value_StringValue{StringValue: cap.ID}},
					"name":          {Kind: &pb.Value_StringValue{StringValue: cap.Name}},
					"domain":        {Kind: &pb.Value_StringValue{StringValue: cap.Domain}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert capability point: %w", err)
	}
	return nil
}

// Rank implements capability.Matcher.
func (m *Matcher) Rank(ctx context.Context, query string, candidates []capability.Registration) ([]capability.Score, error) {
	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	resp, err := m.points.Search(ctx, &pb.SearchPoints{
		CollectionName: m.collection,
		Vector:         vector,
		Limit:          uint64(len(candidates)),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	known := make(map[string]struct{}, len(candidates))
	for _, reg := range candidates {
		known[reg.Capability.ID] = struct{}{}
	}

	out := make([]capability.Score, 0, len(resp.Result))
	for _, r := range resp.Result {
		id := r.Payload["capability_id"].GetStringValue()
		// The collection may hold points for capabilities this node no
		// longer tracks; only score known candidates.
		if _, ok := known[id]; !ok {
			continue
		}
		out = append(out, capability.Score{ID: id, Score: float64(r.Score)})
	}
	return out, nil
}

// pointID derives a stable UUID for a capability id; Qdrant point ids must
// be UUIDs or integers.
func pointID(capabilityID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(capabilityID)).String()
}
