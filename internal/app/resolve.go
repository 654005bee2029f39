package app

import (
	"context"
	"errors"
	"fmt"

	"price-gap-monitor/internal/storage"
)

// ResolveAlert marks a single alert as resolved by id.
func (a *App) ResolveAlert(ctx context.Context, opts ResolveOptions) error {
	if opts.AlertID <= 0 {
		return errors.New("alert id 必须为正整数")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.MarkAlertResolved(ctx, opts.AlertID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("alert %d not found", opts.AlertID)
		}
		return err
	}

	a.Logger.Info().Int64("alert_id", opts.AlertID).Msg("alert resolved")
	return nil
}
