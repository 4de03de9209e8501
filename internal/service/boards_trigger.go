package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	v1 "github.com/agor/agor/pkg/api/v1"
)

// fireZoneTriggers inspects a board mutation's affected object for a Zone
// carrying a non-nil Trigger and, if one of the moved/upserted objects
// references a worktree now positioned inside that zone, fires
// sessions.prompt against that worktree's most recent session (creating
// one if none exists) using the interpolated prompt_template
// (SPEC_FULL.md §12 "Board Zone triggers").
//
// Failures here are logged, not returned: a trigger misfire shouldn't roll
// back the board edit that caused it.
func (s *Service) fireZoneTriggers(ctx context.Context, principal v1.Principal, board *v1.Board, moved v1.BoardObject) {
	if moved.Type != v1.BoardObjectWorktree || moved.WorktreeID == "" {
		return
	}
	worktreeID := moved.WorktreeID

	for _, obj := range board.Objects {
		if obj.Type != v1.BoardObjectZone || obj.Trigger == nil {
			continue
		}
		if obj.Trigger.On != v1.ZoneTriggerOnEnter {
			continue
		}
		if !pointInZone(moved.X, moved.Y, obj) {
			continue
		}
		s.runZoneTrigger(ctx, principal, worktreeID, *obj.Trigger)
	}
}

func pointInZone(x, y float64, zone v1.BoardObject) bool {
	return x >= zone.X && x <= zone.X+zone.Width && y >= zone.Y && y <= zone.Y+zone.Height
}

func (s *Service) runZoneTrigger(ctx context.Context, principal v1.Principal, worktreeID string, trigger v1.ZoneTrigger) {
	sessions, err := s.store.ListSessionsByWorktree(ctx, worktreeID)
	if err != nil {
		s.log.Warn("zone trigger: listing sessions for worktree failed", zap.String("worktree_id", worktreeID), zap.Error(err))
		return
	}

	var target *v1.Session
	if len(sessions) > 0 {
		target = sessions[len(sessions)-1]
	} else {
		vendor := v1.VendorClaudeCode
		if trigger.Vendor != nil {
			vendor = *trigger.Vendor
		}
		sess, err := s.CreateSession(ctx, principal, v1.CreateSessionRequest{WorktreeID: worktreeID, Vendor: vendor})
		if err != nil {
			s.log.Warn("zone trigger: session creation failed", zap.String("worktree_id", worktreeID), zap.Error(err))
			return
		}
		target = sess
	}

	prompt := strings.ReplaceAll(trigger.PromptTemplate, "{{ worktree.id }}", worktreeID)
	if _, err := s.Prompt(ctx, principal, target.ID, v1.PromptRequest{Prompt: prompt}); err != nil {
		s.log.Warn("zone trigger: prompt failed", zap.String("session_id", target.ID), zap.Error(err))
	}
}
