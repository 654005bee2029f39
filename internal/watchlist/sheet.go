package watchlist

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"price-gap-monitor/internal/storage"
)

// ValuesReader reads a tab's cell values. Implemented by the sheets client.
type ValuesReader interface {
	Values(ctx context.Context, spreadsheetID, readRange string) ([][]string, error)
}

// SheetSource reads the watch list from a Google Sheets tab.
type SheetSource struct {
	reader        ValuesReader
	spreadsheetID string
	tab           string
	logger        zerolog.Logger
}

// NewSheetSource constructs a sheet watch-list source over one tab.
func NewSheetSource(reader ValuesReader, spreadsheetID, tab string, logger zerolog.Logger) *SheetSource {
	return &SheetSource{
		reader:        reader,
		spreadsheetID: spreadsheetID,
		tab:           tab,
		logger:        logger.With().Str("component", "watchlist_sheet").Logger(),
	}
}

// Load reads the whole tab and parses it into entities.
func (s *SheetSource) Load(ctx context.Context) ([]storage.WatchEntity, error) {
	rows, err := s.reader.Values(ctx, s.spreadsheetID, s.tab)
	if err != nil {
		return nil, fmt.Errorf("read watchlist tab %s: %w", s.tab, err)
	}

	entities := parseEntities(rows, s.logger)
	s.logger.Info().Int("rows", len(rows)).Int("entities", len(entities)).Str("tab", s.tab).Msg("watchlist loaded")
	return entities, nil
}

var _ Source = (*SheetSource)(nil)
