// Package memory manages the long-term memory profile and the insight
// review workflow: listing unapplied insights and committing accepted ones
// into the profile text.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	analysis "github.com/klixlabs/klix-backend/internal/analysis/memory"
	memorymodel "github.com/klixlabs/klix-backend/internal/model/memory"
	"github.com/klixlabs/klix-backend/internal/store"
)

// ErrProfileNotFound is returned when the caller has no profile row.
var ErrProfileNotFound = errors.New("profile not found")

// reviewLimit caps how many pending insights are offered at once.
const reviewLimit = 10

// Service exposes memory profile reads and insight commits.
type Service struct {
	store  store.Store
	logger *log.Logger
}

// NewService wires the memory service.
func NewService(st store.Store, logger *log.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// Profile returns the caller's memory profile.
func (s *Service) Profile(ctx context.Context, userID string) (memorymodel.Profile, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return memorymodel.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return memorymodel.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return profile, nil
}

// ReplaceGlobalMemory overwrites the long-term memory, e.g. with the
// onboarding questionnaire text.
func (s *Service) ReplaceGlobalMemory(ctx context.Context, userID, globalMemory string) error {
	err := s.store.UpdateGlobalMemory(ctx, userID, globalMemory, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return ErrProfileNotFound
	}
	if err != nil {
		return fmt.Errorf("update global memory: %w", err)
	}
	return nil
}

// PendingInsights lists the caller's unapplied insights at or above the
// surface threshold, newest first.
func (s *Service) PendingInsights(ctx context.Context, userID string) ([]memorymodel.Insight, error) {
	insights, err := s.store.ListUnappliedInsights(ctx, userID, analysis.SurfaceThreshold, reviewLimit)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	return insights, nil
}

// ApplyInsights resolves a review decision. When applyToMemory is set the
// named insights are appended to the long-term memory as a "Recently
// learned" block; either way every named insight is marked applied, which
// also covers explicit dismissal.
func (s *Service) ApplyInsights(ctx context.Context, userID string, insightIDs []string, applyToMemory bool) error {
	if applyToMemory {
		insights, err := s.store.GetInsights(ctx, userID, insightIDs)
		if err != nil {
			return fmt.Errorf("load insights: %w", err)
		}
		if len(insights) > 0 {
			if err := s.appendToMemory(ctx, userID, insights); err != nil {
				return err
			}
		}
	}

	if err := s.store.MarkInsightsApplied(ctx, userID, insightIDs); err != nil {
		return fmt.Errorf("mark insights applied: %w", err)
	}
	return nil
}

func (s *Service) appendToMemory(ctx context.Context, userID string, insights []memorymodel.Insight) error {
	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrProfileNotFound
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	var b strings.Builder
	if profile.GlobalMemory != "" {
		b.WriteString(profile.GlobalMemory)
		b.WriteString("\n\n")
	}
	b.WriteString("Recently learned:")
	for _, ins := range insights {
		b.WriteString("\n- ")
		b.WriteString(ins.Text)
	}

	if err := s.store.UpdateGlobalMemory(ctx, userID, b.String(), time.Now().UTC()); err != nil {
		return fmt.Errorf("update global memory: %w", err)
	}
	s.logger.Info("committed insights to memory", "user", userID, "count", len(insights))
	return nil
}
