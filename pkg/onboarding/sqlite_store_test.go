package onboarding

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jllopis/semmesh/pkg/errors"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "participants.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStorePutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	record := ParticipantRecord{
		ID:              "node-a",
		Tier:            TierAttest,
		ConsentAccepted: true,
		ProofDigest:     "abc123",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "node-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Tier != TierAttest || !got.ConsentAccepted || got.ProofDigest != "abc123" {
		t.Errorf("unexpected record: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt not preserved: %v vs %v", got.CreatedAt, now)
	}
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestSQLiteStoreUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := ParticipantRecord{ID: "node-a", Tier: TierRecite, ConsentAccepted: true}
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	record.Tier = TierSeal
	if err := store.Put(ctx, record); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := store.Get(ctx, "node-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Tier != TierSeal {
		t.Errorf("expected seal tier after upsert, got %s", got.Tier)
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record after upsert, got %d", len(records))
	}
}

func TestRegistrarOverSQLite(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistrar(store)
	ctx := context.Background()

	if _, err := r.Onboard(ctx, "node-a", TierRecite, true, Proof{}); err != nil {
		t.Fatalf("Onboard failed: %v", err)
	}
	record, err := r.Get(ctx, "node-a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if record.Tier != TierRecite {
		t.Errorf("unexpected record: %+v", record)
	}
}
