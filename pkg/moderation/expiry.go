package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/allthingslinux/tux/pkg/log"
	"github.com/allthingslinux/tux/pkg/storage"
)

const expiryBatchSize = 25

// ExpirySweeper lifts tempbans whose expiry has passed. It runs on the task
// scheduler and issues a system-initiated UNBAN through the coordinator, so
// each lifted ban gets its own case and mod-log entry.
type ExpirySweeper struct {
	store   *storage.Store
	coord   *Coordinator
	adapter Adapter
	logger  *slog.Logger
}

func NewExpirySweeper(store *storage.Store, coord *Coordinator, adapter Adapter) *ExpirySweeper {
	return &ExpirySweeper{
		store:   store,
		coord:   coord,
		adapter: adapter,
		logger:  log.Component("expiry"),
	}
}

// Sweep unbans every due tempban, one coordinator pass each. A failing
// unban is left for the next sweep.
func (s *ExpirySweeper) Sweep(ctx context.Context) error {
	due, err := s.store.ExpiredTempBans(ctx, time.Now().UTC(), expiryBatchSize)
	if err != nil {
		return fmt.Errorf("expired tempbans: %w", err)
	}

	for _, c := range due {
		c := c
		resp := s.coord.Execute(ctx, Request{
			GuildID:         c.GuildID,
			ModeratorID:     s.adapter.BotUserID(),
			TargetID:        c.UserID,
			CaseType:        storage.CaseUnban,
			Reason:          fmt.Sprintf("Tempban expired (case #%d)", c.Number),
			Silent:          true,
			SystemInitiated: true,
			Actions: []Action{
				{Description: "unban", Run: func(ctx context.Context) error {
					return s.adapter.Unban(ctx, c.GuildID, c.UserID, "Tempban expired")
				}},
			},
		})
		if resp.Err != nil {
			// A voided UNBAN case resolves the tempban either way, so a
			// target already unbanned by hand does not loop forever.
			s.logger.Warn("tempban expiry unban failed",
				"guild_id", c.GuildID, "user_id", c.UserID,
				"case_number", c.Number, "error", resp.Err.Error())
			continue
		}
		s.logger.Info("tempban expired and lifted",
			"guild_id", c.GuildID, "user_id", c.UserID, "case_number", c.Number)
	}
	return nil
}
