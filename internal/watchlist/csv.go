package watchlist

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"price-gap-monitor/internal/storage"
)

// CSVSource reads the watch list from a local CSV file.
type CSVSource struct {
	path   string
	logger zerolog.Logger
}

// NewCSVSource constructs a CSV watch-list source.
func NewCSVSource(path string, logger zerolog.Logger) *CSVSource {
	return &CSVSource{
		path:   path,
		logger: logger.With().Str("component", "watchlist_csv").Logger(),
	}
}

// Load parses the file into entities.
func (s *CSVSource) Load(_ context.Context) ([]storage.WatchEntity, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open watchlist: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read watchlist csv: %w", err)
	}

	entities := parseEntities(rows, s.logger)
	s.logger.Info().Int("rows", len(rows)).Int("entities", len(entities)).Str("path", s.path).Msg("watchlist loaded")
	return entities, nil
}

var _ Source = (*CSVSource)(nil)
