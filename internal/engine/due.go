package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"price-gap-monitor/internal/storage"
)

// Mode selects which side of the watch a due-set computation covers.
type Mode string

const (
	// ModeOwn selects own-role entities by their own-role recency.
	ModeOwn Mode = "own"
	// ModeCompetitor selects competitor-role entities by competitor recency.
	ModeCompetitor Mode = "competitor"
	// ModeBoth is the legacy aggregate path: an entity is due when either
	// role's recency for its endpoint is stale. Kept for migration only.
	ModeBoth Mode = "both"
)

// InvalidModeError reports an unrecognized scheduling mode. The cycle must
// fail rather than fall back to a default.
type InvalidModeError struct {
	Mode string
}

func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid scheduling mode %q (expected own, competitor, or both)", e.Mode)
}

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOwn:
		return ModeOwn, nil
	case ModeCompetitor:
		return ModeCompetitor, nil
	case ModeBoth:
		return ModeBoth, nil
	}
	return "", &InvalidModeError{Mode: s}
}

// SelectDueEntities returns the active entities whose polling interval has
// elapsed, each judged strictly by its own role's last observation. Entities
// whose recency could not be established are skipped and their store errors
// joined into the returned error; the returned slice is still usable.
func (e *Engine) SelectDueEntities(ctx context.Context, now time.Time) ([]storage.WatchEntity, error) {
	entities, err := e.watches.ListActiveWatchEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active watch entities: %w", err)
	}
	return e.filterDue(ctx, entities, func(ctx context.Context, entity storage.WatchEntity) (bool, error) {
		return e.entityDue(ctx, now, entity, entity.Role)
	})
}

// SelectDueByMode returns the due subset for one scheduling mode. own and
// competitor restrict strict selection to that role; both applies the legacy
// OR across roles.
func (e *Engine) SelectDueByMode(ctx context.Context, now time.Time, mode Mode) ([]storage.WatchEntity, error) {
	entities, err := e.watches.ListActiveWatchEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active watch entities: %w", err)
	}

	switch mode {
	case ModeOwn, ModeCompetitor:
		role := storage.RoleOwn
		if mode == ModeCompetitor {
			role = storage.RoleCompetitor
		}
		filtered := make([]storage.WatchEntity, 0, len(entities))
		for _, entity := range entities {
			if entity.Role == role {
				filtered = append(filtered, entity)
			}
		}
		return e.filterDue(ctx, filtered, func(ctx context.Context, entity storage.WatchEntity) (bool, error) {
			return e.entityDue(ctx, now, entity, entity.Role)
		})
	case ModeBoth:
		return e.filterDue(ctx, entities, func(ctx context.Context, entity storage.WatchEntity) (bool, error) {
			return e.entityDueEitherRole(ctx, now, entity)
		})
	}
	return nil, &InvalidModeError{Mode: string(mode)}
}

type dueFunc func(ctx context.Context, entity storage.WatchEntity) (bool, error)

func (e *Engine) filterDue(ctx context.Context, entities []storage.WatchEntity, isDue dueFunc) ([]storage.WatchEntity, error) {
	due := make([]storage.WatchEntity, 0, len(entities))
	var errs []error
	for _, entity := range entities {
		ok, err := isDue(ctx, entity)
		if err != nil {
			e.logger.Error().Err(err).
				Str("group", entity.ProductGroupKey).
				Str("channel", entity.Channel).
				Str("endpoint", entity.EndpointRef).
				Msg("recency lookup failed; entity skipped")
			errs = append(errs, fmt.Errorf("%s/%s %s: %w", entity.ProductGroupKey, entity.Channel, entity.EndpointRef, err))
			continue
		}
		if ok {
			due = append(due, entity)
		}
	}
	return due, errors.Join(errs...)
}

func (e *Engine) entityDue(ctx context.Context, now time.Time, entity storage.WatchEntity, role storage.Role) (bool, error) {
	last, err := e.obs.LastObservationTimestamp(ctx, entity.ProductGroupKey, entity.Channel, entity.EndpointRef, role)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return now.Sub(*last) >= entity.PollInterval(), nil
}

func (e *Engine) entityDueEitherRole(ctx context.Context, now time.Time, entity storage.WatchEntity) (bool, error) {
	ownDue, err := e.entityDue(ctx, now, entity, storage.RoleOwn)
	if err != nil {
		return false, err
	}
	if ownDue {
		return true, nil
	}
	return e.entityDue(ctx, now, entity, storage.RoleCompetitor)
}
