package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mjgate/internal/model"
)

// Administrative operations run synchronously against one account's
// settings surface. Unlike submissions they return errors (LogicError) so
// callers can distinguish operator mistakes from platform faults.

// SyncAccountInfo refreshes an account's settings and info panels from the
// platform and persists the updated record.
func (s *Service) SyncAccountInfo(ctx context.Context, channelID string) error {
	in := s.pool.GetAlive(channelID)
	if in == nil {
		return model.NewLogicError("account instance not found: " + channelID)
	}
	account := in.Account()

	if msg := in.Client.Info(ctx, newNonce(), model.VariantMidjourney); !msg.OK() {
		return model.NewLogicError("info refresh failed: " + msg.Description)
	}
	if msg := in.Client.Setting(ctx, newNonce(), model.VariantMidjourney); !msg.OK() {
		return model.NewLogicError("settings refresh failed: " + msg.Description)
	}
	if account.EnableNiji {
		if msg := in.Client.Setting(ctx, newNonce(), model.VariantNiji); !msg.OK() {
			return model.NewLogicError("niji settings refresh failed: " + msg.Description)
		}
	}
	if err := s.accounts.Save(ctx, account); err != nil {
		return fmt.Errorf("persist account %s: %w", account.ID, err)
	}
	s.log.Info("account settings synced", zap.String("channel_id", channelID))
	return nil
}

// ChangeVersion presses the version selector on the settings panel.
func (s *Service) ChangeVersion(ctx context.Context, channelID, version string) error {
	in := s.pool.GetAlive(channelID)
	if in == nil {
		return model.NewLogicError("account instance not found: " + channelID)
	}
	if msg := in.Client.SettingSelect(ctx, newNonce(), version); !msg.OK() {
		return model.NewLogicError("version change failed: " + msg.Description)
	}
	return nil
}

// AccountAction presses an arbitrary settings button, e.g. toggling remix
// or fast mode.
func (s *Service) AccountAction(ctx context.Context, channelID, customID string, variant model.BotVariant) error {
	if strings.TrimSpace(customID) == "" {
		return model.NewLogicError("custom id is empty")
	}
	in := s.pool.GetAlive(channelID)
	if in == nil {
		return model.NewLogicError("account instance not found: " + channelID)
	}
	if variant == "" {
		variant = model.VariantMidjourney
	}
	if msg := in.Client.SettingButton(ctx, newNonce(), customID, variant); !msg.OK() {
		return model.NewLogicError("settings action failed: " + msg.Description)
	}
	return nil
}
