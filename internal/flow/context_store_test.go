package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/Enkidu/internal/dimension"
	"github.com/BTreeMap/Enkidu/internal/models"
	"github.com/BTreeMap/Enkidu/internal/store"
	"github.com/google/go-cmp/cmp"
)

func TestContextStore_LoadDefaults(t *testing.T) {
	cs := NewContextStore(store.NewInMemoryStore(), 1, 5)
	cs.now = func() time.Time { return testEpoch }

	uc, err := cs.Load(context.Background(), "+15550001111")
	if err != nil {
		t.Fatal(err)
	}
	want := models.NewUserContext("+15550001111", 1, testEpoch)
	if diff := cmp.Diff(want, uc); diff != "" {
		t.Errorf("default context mismatch (-want +got):\n%s", diff)
	}
}

func TestContextStore_SaveLoadRoundTrip(t *testing.T) {
	st := store.NewInMemoryStore()
	cs := NewContextStore(st, 1, 5)
	cs.now = func() time.Time { return testEpoch }
	ctx := context.Background()

	uc, _ := cs.Load(ctx, "u1")
	uc.Dimensions[dimension.IdentityAndValues] = &models.DimensionState{Covered: true, Questions: []models.QuestionRecord{{QuestionText: "q", AskedAt: testEpoch}}}
	uc.History = append(uc.History, NewTurn("hi", models.SenderUser, dimension.IdentityAndValues, testEpoch))
	uc.Depth = 3
	if err := cs.Save(ctx, uc); err != nil {
		t.Fatal(err)
	}
	if uc.Version != 1 {
		t.Errorf("expected version 1 after first save, got %d", uc.Version)
	}

	got, err := cs.Load(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(uc, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	if _, _, err := st.Get(ctx, "user_u1"); err != nil {
		t.Errorf("expected key user_u1 to be written: %v", err)
	}
}

func TestContextStore_StaleSaveConflicts(t *testing.T) {
	cs := NewContextStore(store.NewInMemoryStore(), 1, 5)
	ctx := context.Background()

	a, _ := cs.Load(ctx, "u")
	b, _ := cs.Load(ctx, "u")
	if err := cs.Save(ctx, a); err != nil {
		t.Fatal(err)
	}
	err := cs.Save(ctx, b)
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestContextStore_NormalizesStoredRecord(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	raw := `{"user_id":"u","dimensions":{"astrology":{"covered":true},"mentalHealth":null},"depth":42,"tier":"weird","streak":-3}`
	if _, err := st.Put(ctx, ContextKey("u"), []byte(raw), 0); err != nil {
		t.Fatal(err)
	}

	cs := NewContextStore(st, 1, 5)
	uc, err := cs.Load(ctx, "u")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := uc.Dimensions["astrology"]; ok {
		t.Error("unknown dimension key should be dropped")
	}
	if s := uc.Dimensions[dimension.MentalHealth]; s == nil || s.Questions == nil {
		t.Errorf("nil dimension state should be repaired, got %+v", s)
	}
	if uc.Depth != 5 || uc.Tier != models.TierLow || uc.Streak != 0 {
		t.Errorf("out of range metrics not repaired: depth=%d tier=%s streak=%d", uc.Depth, uc.Tier, uc.Streak)
	}
	if uc.History == nil || uc.HistoryArchive == nil || uc.ThematicSummaries == nil || uc.RequestTimestamps == nil {
		t.Error("missing collections should be materialized")
	}
	if uc.Version != 1 {
		t.Errorf("expected version 1, got %d", uc.Version)
	}
}

func TestContextStore_LoadErrors(t *testing.T) {
	st := store.NewInMemoryStore()
	ctx := context.Background()
	cs := NewContextStore(st, 1, 5)

	if _, err := cs.Load(ctx, ""); !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("expected ErrEmptyUserID, got %v", err)
	}
	st.Put(ctx, ContextKey("bad"), []byte("{not json"), 0)
	if _, err := cs.Load(ctx, "bad"); err == nil {
		t.Error("expected decode error")
	}
}

func TestContextStore_Lookup(t *testing.T) {
	cs := NewContextStore(store.NewInMemoryStore(), 1, 5)
	ctx := context.Background()
	_, found, err := cs.Lookup(ctx, "nobody")
	if err != nil || found {
		t.Fatalf("expected not found, got found=%v err=%v", found, err)
	}
}
