package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-gap-monitor/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// ptr is a helper to create pointers to values.
func ptr[T any](v T) *T {
	return &v
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type obsKey struct {
	group    string
	channel  string
	endpoint string
	role     storage.Role
}

// fakeStore implements the store gateway in memory. Last-seen timestamps,
// latest observations and rounds are set directly by tests; alerts go through
// the same opened-since window check the real store applies.
type fakeStore struct {
	entities []storage.WatchEntity

	lastSeen    map[obsKey]time.Time
	lastSeenErr map[obsKey]error

	own       map[pairKey]*storage.PriceObservation
	ownErr    map[pairKey]error
	rounds    map[pairKey][]storage.PriceObservation
	roundsErr map[pairKey]error

	alerts    []storage.Alert
	createErr map[pairKey]error

	nextID int64
	clock  func() time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lastSeen:    make(map[obsKey]time.Time),
		lastSeenErr: make(map[obsKey]error),
		own:         make(map[pairKey]*storage.PriceObservation),
		ownErr:      make(map[pairKey]error),
		rounds:      make(map[pairKey][]storage.PriceObservation),
		roundsErr:   make(map[pairKey]error),
		createErr:   make(map[pairKey]error),
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *fakeStore) UpsertWatchEntity(_ context.Context, entity storage.WatchEntity) (storage.WatchEntity, error) {
	for i, existing := range s.entities {
		if existing.ProductGroupKey == entity.ProductGroupKey &&
			existing.Channel == entity.Channel &&
			existing.Role == entity.Role &&
			existing.EndpointRef == entity.EndpointRef {
			entity.ID = existing.ID
			entity.CreatedAt = existing.CreatedAt
			s.entities[i] = entity
			return entity, nil
		}
	}
	s.nextID++
	entity.ID = s.nextID
	entity.CreatedAt = s.clock()
	s.entities = append(s.entities, entity)
	return entity, nil
}

func (s *fakeStore) ListActiveWatchEntities(context.Context) ([]storage.WatchEntity, error) {
	active := make([]storage.WatchEntity, 0, len(s.entities))
	for _, entity := range s.entities {
		if entity.Active {
			active = append(active, entity)
		}
	}
	return active, nil
}

func (s *fakeStore) InsertObservation(_ context.Context, obs storage.PriceObservation) (storage.PriceObservation, error) {
	s.nextID++
	obs.ID = s.nextID
	key := obsKey{group: obs.ProductGroupKey, channel: obs.Channel, endpoint: obs.EndpointRef, role: obs.Role}
	s.lastSeen[key] = obs.CapturedAt
	return obs, nil
}

func (s *fakeStore) LastObservationTimestamp(_ context.Context, group, channel, endpoint string, role storage.Role) (*time.Time, error) {
	key := obsKey{group: group, channel: channel, endpoint: endpoint, role: role}
	if err := s.lastSeenErr[key]; err != nil {
		return nil, err
	}
	ts, ok := s.lastSeen[key]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (s *fakeStore) LatestOwnObservation(_ context.Context, group, channel string) (*storage.PriceObservation, error) {
	key := pairKey{group: group, channel: channel}
	if err := s.ownErr[key]; err != nil {
		return nil, err
	}
	return s.own[key], nil
}

func (s *fakeStore) LatestCompetitorRound(_ context.Context, group, channel string) ([]storage.PriceObservation, error) {
	key := pairKey{group: group, channel: channel}
	if err := s.roundsErr[key]; err != nil {
		return nil, err
	}
	return s.rounds[key], nil
}

func (s *fakeStore) ListRecentObservations(context.Context, int) ([]storage.PriceObservation, error) {
	return nil, nil
}

func (s *fakeStore) ListObservationsBetween(context.Context, string, string, time.Time, time.Time) ([]storage.PriceObservation, error) {
	return nil, nil
}

func (s *fakeStore) CreateAlert(_ context.Context, alert storage.Alert, dedupSince time.Time) (storage.Alert, error) {
	key := pairKey{group: alert.ProductGroupKey, channel: alert.Channel}
	if err := s.createErr[key]; err != nil {
		return storage.Alert{}, err
	}
	for _, existing := range s.alerts {
		if existing.ProductGroupKey == alert.ProductGroupKey &&
			existing.Channel == alert.Channel &&
			existing.Kind == alert.Kind &&
			!existing.CreatedAt.Before(dedupSince) {
			return storage.Alert{}, storage.ErrDuplicateAlert
		}
	}
	s.nextID++
	alert.ID = s.nextID
	alert.CreatedAt = s.clock()
	s.alerts = append(s.alerts, alert)
	return alert, nil
}

func (s *fakeStore) AlertsOpenedSince(_ context.Context, group, channel, kind string, since time.Time) ([]storage.Alert, error) {
	matched := make([]storage.Alert, 0)
	for _, alert := range s.alerts {
		if alert.ProductGroupKey == group && alert.Channel == channel && alert.Kind == kind && !alert.CreatedAt.Before(since) {
			matched = append(matched, alert)
		}
	}
	return matched, nil
}

func (s *fakeStore) ListOpenAlerts(context.Context) ([]storage.Alert, error) {
	open := make([]storage.Alert, 0)
	for _, alert := range s.alerts {
		if !alert.Resolved {
			open = append(open, alert)
		}
	}
	return open, nil
}

func (s *fakeStore) ListRecentAlerts(context.Context, int) ([]storage.Alert, error) {
	return s.alerts, nil
}

func (s *fakeStore) MarkAlertResolved(_ context.Context, id int64) error {
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Resolved = true
			return nil
		}
	}
	return storage.ErrNotFound
}

var (
	_ storage.WatchEntityStore = (*fakeStore)(nil)
	_ storage.ObservationStore = (*fakeStore)(nil)
	_ storage.AlertStore       = (*fakeStore)(nil)
)

func newTestEngine(store *fakeStore, opts Options) *Engine {
	return New(store, store, store, opts, noopLogger())
}

func watch(group, channel string, role storage.Role, endpoint string, freqMinutes int) storage.WatchEntity {
	return storage.WatchEntity{
		ProductGroupKey:      group,
		Channel:              channel,
		Role:                 role,
		EndpointRef:          endpoint,
		PollFrequencyMinutes: freqMinutes,
		Active:               true,
	}
}

func observation(group, channel string, role storage.Role, endpoint, price string, at time.Time) storage.PriceObservation {
	return storage.PriceObservation{
		ProductGroupKey: group,
		Channel:         channel,
		Role:            role,
		EndpointRef:     endpoint,
		Price:           dec(price),
		Currency:        "CLP",
		CapturedAt:      at,
	}
}
