package memory

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	memorymodel "github.com/klixlabs/klix-backend/internal/model/memory"
	"github.com/klixlabs/klix-backend/internal/store/memstore"
)

func newTestMemory(t *testing.T) (*Service, *memstore.Store, string) {
	t.Helper()
	st := memstore.New()
	userID := uuid.NewString()
	err := st.CreateProfile(context.Background(), memorymodel.Profile{
		ID:        userID,
		Name:      "Riko",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return NewService(st, log.New(io.Discard)), st, userID
}

func seedInsight(t *testing.T, st *memstore.Store, userID, text string, confidence float64, createdAt time.Time) string {
	t.Helper()
	id := uuid.NewString()
	err := st.SaveInsights(context.Background(), []memorymodel.Insight{{
		ID:         id,
		UserID:     userID,
		Type:       "preference",
		Text:       text,
		Confidence: confidence,
		CreatedAt:  createdAt,
	}})
	if err != nil {
		t.Fatalf("seed insight: %v", err)
	}
	return id
}

func TestProfileNotFound(t *testing.T) {
	svc, _, _ := newTestMemory(t)
	if _, err := svc.Profile(context.Background(), uuid.NewString()); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestReplaceGlobalMemory(t *testing.T) {
	svc, _, userID := newTestMemory(t)
	ctx := context.Background()

	if err := svc.ReplaceGlobalMemory(ctx, userID, "prefers walking tours"); err != nil {
		t.Fatalf("replace memory: %v", err)
	}
	profile, err := svc.Profile(ctx, userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.GlobalMemory != "prefers walking tours" {
		t.Fatalf("unexpected memory: %q", profile.GlobalMemory)
	}
	if profile.MemoryUpdatedAt.IsZero() {
		t.Fatal("expected memory timestamp updated")
	}

	if err := svc.ReplaceGlobalMemory(ctx, uuid.NewString(), "x"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestPendingInsightsFiltersAndCaps(t *testing.T) {
	svc, st, userID := newTestMemory(t)
	ctx := context.Background()
	base := time.Now().UTC()

	seedInsight(t, st, userID, "below threshold", 0.6, base)
	for i := 0; i < 12; i++ {
		seedInsight(t, st, userID, "qualifying", 0.8, base.Add(time.Duration(i)*time.Second))
	}

	pending, err := svc.PendingInsights(ctx, userID)
	if err != nil {
		t.Fatalf("pending insights: %v", err)
	}
	if len(pending) != 10 {
		t.Fatalf("expected review cap of 10, got %d", len(pending))
	}
	for _, ins := range pending {
		if ins.Text != "qualifying" {
			t.Fatalf("low-confidence insight leaked into review: %+v", ins)
		}
	}
	if !pending[0].CreatedAt.After(pending[len(pending)-1].CreatedAt) {
		t.Fatal("expected newest-first ordering")
	}
}

func TestApplyInsightsCommitsToMemory(t *testing.T) {
	svc, st, userID := newTestMemory(t)
	ctx := context.Background()

	if err := svc.ReplaceGlobalMemory(ctx, userID, "existing memory"); err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	id := seedInsight(t, st, userID, "enjoys hiking on weekends", 0.8, time.Now().UTC())

	if err := svc.ApplyInsights(ctx, userID, []string{id}, true); err != nil {
		t.Fatalf("apply insights: %v", err)
	}

	profile, err := svc.Profile(ctx, userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	want := "existing memory\n\nRecently learned:\n- enjoys hiking on weekends"
	if profile.GlobalMemory != want {
		t.Fatalf("unexpected memory:\n%q\nwant:\n%q", profile.GlobalMemory, want)
	}

	pending, err := svc.PendingInsights(ctx, userID)
	if err != nil {
		t.Fatalf("pending insights: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected insight marked applied, got %+v", pending)
	}
}

func TestApplyInsightsDismissal(t *testing.T) {
	svc, st, userID := newTestMemory(t)
	ctx := context.Background()

	id := seedInsight(t, st, userID, "enjoys hiking on weekends", 0.8, time.Now().UTC())

	if err := svc.ApplyInsights(ctx, userID, []string{id}, false); err != nil {
		t.Fatalf("dismiss insights: %v", err)
	}

	profile, err := svc.Profile(ctx, userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.GlobalMemory != "" {
		t.Fatalf("dismissal must not touch memory, got %q", profile.GlobalMemory)
	}
	pending, err := svc.PendingInsights(ctx, userID)
	if err != nil {
		t.Fatalf("pending insights: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected dismissed insight marked applied, got %+v", pending)
	}
}

func TestApplyInsightsIgnoresForeignIDs(t *testing.T) {
	svc, st, userID := newTestMemory(t)
	ctx := context.Background()

	otherUser := uuid.NewString()
	if err := st.CreateProfile(ctx, memorymodel.Profile{ID: otherUser, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed other profile: %v", err)
	}
	foreignID := seedInsight(t, st, otherUser, "someone else's insight", 0.8, time.Now().UTC())

	if err := svc.ApplyInsights(ctx, userID, []string{foreignID}, true); err != nil {
		t.Fatalf("apply insights: %v", err)
	}
	profile, err := svc.Profile(ctx, userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.GlobalMemory != "" {
		t.Fatalf("foreign insight must not reach this user's memory, got %q", profile.GlobalMemory)
	}
}
