package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	watchEntityColumns = `id,
        product_group_key,
        channel,
        role,
        endpoint_ref,
        competitor_label,
        poll_frequency_minutes,
        gap_threshold,
        active,
        created_at,
        updated_at`

	upsertWatchEntitySQL = `INSERT INTO watch_entities (
        product_group_key,
        channel,
        role,
        endpoint_ref,
        competitor_label,
        poll_frequency_minutes,
        gap_threshold,
        active
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (product_group_key, channel, role, endpoint_ref) DO UPDATE
    SET
        competitor_label       = EXCLUDED.competitor_label,
        poll_frequency_minutes = EXCLUDED.poll_frequency_minutes,
        gap_threshold          = EXCLUDED.gap_threshold,
        active                 = EXCLUDED.active,
        updated_at             = now()
    RETURNING ` + watchEntityColumns + `;`

	listActiveWatchEntitiesSQL = `SELECT ` + watchEntityColumns + `
    FROM watch_entities
    WHERE active
    ORDER BY product_group_key, channel, role, endpoint_ref;`

	observationColumns = `id,
        product_group_key,
        channel,
        role,
        endpoint_ref,
        competitor_label,
        price,
        stock,
        currency,
        captured_at,
        raw_payload`

	insertObservationSQL = `INSERT INTO price_observations (
        product_group_key,
        channel,
        role,
        endpoint_ref,
        competitor_label,
        price,
        stock,
        currency,
        captured_at,
        raw_payload
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING ` + observationColumns + `;`

	lastObservationTimestampSQL = `SELECT MAX(captured_at)
    FROM price_observations
    WHERE product_group_key = $1
      AND channel = $2
      AND endpoint_ref = $3
      AND role = $4;`

	latestOwnObservationSQL = `SELECT ` + observationColumns + `
    FROM price_observations
    WHERE product_group_key = $1
      AND channel = $2
      AND role = 'own'
    ORDER BY captured_at DESC, id DESC
    LIMIT 1;`

	latestCompetitorRoundSQL = `SELECT ` + observationColumns + `
    FROM price_observations
    WHERE product_group_key = $1
      AND channel = $2
      AND role = 'competitor'
      AND captured_at = (
          SELECT MAX(captured_at)
          FROM price_observations
          WHERE product_group_key = $1
            AND channel = $2
            AND role = 'competitor'
      )
    ORDER BY price, endpoint_ref;`

	listRecentObservationsSQL = `SELECT ` + observationColumns + `
    FROM price_observations
    ORDER BY captured_at DESC, id DESC
    LIMIT $1;`

	listObservationsBetweenSQL = `SELECT ` + observationColumns + `
    FROM price_observations
    WHERE product_group_key = $1
      AND channel = $2
      AND captured_at >= $3
      AND captured_at < $4
    ORDER BY captured_at, id;`

	alertColumns = `id,
        product_group_key,
        channel,
        kind,
        detail,
        own_price,
        min_competitor_price,
        gap_pct,
        endpoint_own,
        endpoint_min_competitor,
        created_at,
        resolved`

	insertAlertSQL = `INSERT INTO alerts (
        product_group_key,
        channel,
        kind,
        detail,
        own_price,
        min_competitor_price,
        gap_pct,
        endpoint_own,
        endpoint_min_competitor
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    )
    RETURNING ` + alertColumns + `;`

	alertsOpenedSinceSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE product_group_key = $1
      AND channel = $2
      AND kind = $3
      AND created_at >= $4
    ORDER BY created_at DESC;`

	alertExistsSinceSQL = `SELECT EXISTS (
        SELECT 1 FROM alerts
        WHERE product_group_key = $1
          AND channel = $2
          AND kind = $3
          AND created_at >= $4
    );`

	listOpenAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    WHERE NOT resolved
    ORDER BY created_at DESC;`

	listRecentAlertsSQL = `SELECT ` + alertColumns + `
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	resolveAlertSQL = `UPDATE alerts
    SET resolved = true
    WHERE id = $1;`

	tryAdvisoryLockSQL   = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL    = `SELECT pg_advisory_unlock($1);`
	alertIdentityLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1));`
)

// WatchEntityStore defines operations for the monitored-endpoint registry.
type WatchEntityStore interface {
	UpsertWatchEntity(ctx context.Context, entity WatchEntity) (WatchEntity, error)
	ListActiveWatchEntities(ctx context.Context) ([]WatchEntity, error)
}

// ObservationStore defines read/append access to captured prices.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs PriceObservation) (PriceObservation, error)
	LastObservationTimestamp(ctx context.Context, productGroupKey, channel, endpointRef string, role Role) (*time.Time, error)
	LatestOwnObservation(ctx context.Context, productGroupKey, channel string) (*PriceObservation, error)
	LatestCompetitorRound(ctx context.Context, productGroupKey, channel string) ([]PriceObservation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]PriceObservation, error)
	ListObservationsBetween(ctx context.Context, productGroupKey, channel string, from, to time.Time) ([]PriceObservation, error)
}

// AlertStore defines alert creation and lookup. CreateAlert must reject a
// candidate whose twin was opened at or after dedupSince with
// ErrDuplicateAlert, atomically with the insert.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert Alert, dedupSince time.Time) (Alert, error)
	AlertsOpenedSince(ctx context.Context, productGroupKey, channel, kind string, since time.Time) ([]Alert, error)
	ListOpenAlerts(ctx context.Context) ([]Alert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error)
	MarkAlertResolved(ctx context.Context, id int64) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to watch entities, observations, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertWatchEntity inserts or updates a watch entity by its identity key.
func (s *Store) UpsertWatchEntity(ctx context.Context, entity WatchEntity) (WatchEntity, error) {
	pool, err := s.getPool()
	if err != nil {
		return WatchEntity{}, err
	}

	row := pool.QueryRow(ctx, upsertWatchEntitySQL,
		entity.ProductGroupKey,
		entity.Channel,
		string(entity.Role),
		entity.EndpointRef,
		optionalString(entity.CompetitorLabel),
		entity.PollFrequencyMinutes,
		optionalDecimal(entity.GapThreshold),
		entity.Active,
	)

	stored, scanErr := scanWatchEntity(row)
	if scanErr != nil {
		return WatchEntity{}, fmt.Errorf("upsert watch entity: %w", scanErr)
	}
	return stored, nil
}

// ListActiveWatchEntities lists entities eligible for scheduling.
func (s *Store) ListActiveWatchEntities(ctx context.Context) ([]WatchEntity, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveWatchEntitiesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active watch entities: %w", queryErr)
	}
	defer rows.Close()

	entities := make([]WatchEntity, 0)
	for rows.Next() {
		entity, scanErr := scanWatchEntity(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entities = append(entities, entity)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entities, nil
}

// InsertObservation appends a captured price. Observations are never updated.
func (s *Store) InsertObservation(ctx context.Context, obs PriceObservation) (PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return PriceObservation{}, err
	}

	var payload interface{}
	if len(obs.RawPayload) > 0 {
		payload = []byte(obs.RawPayload)
	}

	var stock interface{}
	if obs.Stock != nil {
		stock = *obs.Stock
	}

	row := pool.QueryRow(ctx, insertObservationSQL,
		obs.ProductGroupKey,
		obs.Channel,
		string(obs.Role),
		obs.EndpointRef,
		optionalString(obs.CompetitorLabel),
		obs.Price.String(),
		stock,
		obs.Currency,
		obs.CapturedAt,
		payload,
	)

	stored, scanErr := scanObservation(row)
	if scanErr != nil {
		return PriceObservation{}, fmt.Errorf("insert observation: %w", scanErr)
	}
	return stored, nil
}

// LastObservationTimestamp returns the most recent capture for one endpoint
// and role, or nil when the endpoint was never observed in that role.
func (s *Store) LastObservationTimestamp(ctx context.Context, productGroupKey, channel, endpointRef string, role Role) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var ts *time.Time
	if scanErr := pool.QueryRow(ctx, lastObservationTimestampSQL, productGroupKey, channel, endpointRef, string(role)).Scan(&ts); scanErr != nil {
		return nil, fmt.Errorf("last observation timestamp: %w", scanErr)
	}
	return ts, nil
}

// LatestOwnObservation returns the newest own-role capture for a pair, or nil.
func (s *Store) LatestOwnObservation(ctx context.Context, productGroupKey, channel string) (*PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, latestOwnObservationSQL, productGroupKey, channel)
	obs, scanErr := scanObservation(row)
	if scanErr != nil {
		if scanErr == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest own observation: %w", scanErr)
	}
	return &obs, nil
}

// LatestCompetitorRound returns every competitor capture sharing the most
// recent competitor timestamp for a pair, cheapest first.
func (s *Store) LatestCompetitorRound(ctx context.Context, productGroupKey, channel string) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestCompetitorRoundSQL, productGroupKey, channel)
	if queryErr != nil {
		return nil, fmt.Errorf("latest competitor round: %w", queryErr)
	}
	defer rows.Close()

	round := make([]PriceObservation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		round = append(round, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return round, nil
}

// ListRecentObservations lists the most recent captures across all pairs.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]PriceObservation, 0, limit)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// ListObservationsBetween lists one pair's captures within a time window.
func (s *Store) ListObservationsBetween(ctx context.Context, productGroupKey, channel string, from, to time.Time) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, productGroupKey, channel, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]PriceObservation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// CreateAlert persists a new alert unless one with the same identity was
// opened at or after dedupSince. The check and the insert run in one
// transaction serialised per identity, so two concurrent cycles cannot both
// pass the window check. Resolution state is ignored on purpose: the window
// anchors to when an alert was opened, not to how it was closed.
func (s *Store) CreateAlert(ctx context.Context, alert Alert, dedupSince time.Time) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return Alert{}, fmt.Errorf("begin alert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	identity := alert.ProductGroupKey + "|" + alert.Channel + "|" + alert.Kind
	if _, execErr := tx.Exec(ctx, alertIdentityLockSQL, identity); execErr != nil {
		return Alert{}, fmt.Errorf("lock alert identity: %w", execErr)
	}

	var exists bool
	if scanErr := tx.QueryRow(ctx, alertExistsSinceSQL, alert.ProductGroupKey, alert.Channel, alert.Kind, dedupSince).Scan(&exists); scanErr != nil {
		return Alert{}, fmt.Errorf("check alert window: %w", scanErr)
	}
	if exists {
		return Alert{}, ErrDuplicateAlert
	}

	row := tx.QueryRow(ctx, insertAlertSQL,
		alert.ProductGroupKey,
		alert.Channel,
		alert.Kind,
		alert.Detail,
		alert.OwnPrice.String(),
		alert.MinCompetitorPrice.String(),
		alert.GapPct.String(),
		alert.EndpointOwn,
		alert.EndpointMinCompetitor,
	)

	stored, scanErr := scanAlert(row)
	if scanErr != nil {
		if isDuplicateKeyError(scanErr) {
			return Alert{}, ErrDuplicateAlert
		}
		return Alert{}, fmt.Errorf("insert alert: %w", scanErr)
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return Alert{}, fmt.Errorf("commit alert: %w", commitErr)
	}
	return stored, nil
}

// AlertsOpenedSince lists alerts of one identity opened at or after since,
// resolved or not. Alerts open in the unresolved state, so creation time is
// the anchor the dedup window counts from.
func (s *Store) AlertsOpenedSince(ctx context.Context, productGroupKey, channel, kind string, since time.Time) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, alertsOpenedSinceSQL, productGroupKey, channel, kind, since)
	if queryErr != nil {
		return nil, fmt.Errorf("alerts opened since: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListOpenAlerts lists every unresolved alert, newest first.
func (s *Store) ListOpenAlerts(ctx context.Context) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpenAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list open alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListRecentAlerts lists most recent alerts regardless of resolution.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// MarkAlertResolved flags an alert as handled. Operator surface; the engine
// never calls this.
func (s *Store) MarkAlertResolved(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, resolveAlertSQL, id)
	if execErr != nil {
		return fmt.Errorf("mark alert resolved: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAlerts(rows pgx.Rows) ([]Alert, error) {
	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanWatchEntity(row pgx.Row) (WatchEntity, error) {
	var (
		entity       WatchEntity
		role         string
		label        sql.NullString
		thresholdStr sql.NullString
	)

	if err := row.Scan(
		&entity.ID,
		&entity.ProductGroupKey,
		&entity.Channel,
		&role,
		&entity.EndpointRef,
		&label,
		&entity.PollFrequencyMinutes,
		&thresholdStr,
		&entity.Active,
		&entity.CreatedAt,
		&entity.UpdatedAt,
	); err != nil {
		return WatchEntity{}, err
	}

	entity.Role = Role(role)
	if label.Valid {
		value := label.String
		entity.CompetitorLabel = &value
	}
	if thresholdStr.Valid {
		threshold, err := decimal.NewFromString(thresholdStr.String)
		if err != nil {
			return WatchEntity{}, fmt.Errorf("parse gap threshold: %w", err)
		}
		entity.GapThreshold = &threshold
	}

	return entity, nil
}

func scanObservation(row pgx.Row) (PriceObservation, error) {
	var (
		obs      PriceObservation
		role     string
		label    sql.NullString
		priceStr string
		stock    sql.NullInt64
		payload  json.RawMessage
	)

	if err := row.Scan(
		&obs.ID,
		&obs.ProductGroupKey,
		&obs.Channel,
		&role,
		&obs.EndpointRef,
		&label,
		&priceStr,
		&stock,
		&obs.Currency,
		&obs.CapturedAt,
		&payload,
	); err != nil {
		return PriceObservation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("parse price: %w", err)
	}

	obs.Role = Role(role)
	obs.Price = price
	if label.Valid {
		value := label.String
		obs.CompetitorLabel = &value
	}
	if stock.Valid {
		value := stock.Int64
		obs.Stock = &value
	}
	if len(payload) > 0 {
		obs.RawPayload = payload
	}

	return obs, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		alert  Alert
		ownStr string
		minStr string
		gapStr string
	)

	if err := row.Scan(
		&alert.ID,
		&alert.ProductGroupKey,
		&alert.Channel,
		&alert.Kind,
		&alert.Detail,
		&ownStr,
		&minStr,
		&gapStr,
		&alert.EndpointOwn,
		&alert.EndpointMinCompetitor,
		&alert.CreatedAt,
		&alert.Resolved,
	); err != nil {
		return Alert{}, err
	}

	var convErr error
	alert.OwnPrice, convErr = decimal.NewFromString(ownStr)
	if convErr != nil {
		return Alert{}, fmt.Errorf("parse own price: %w", convErr)
	}
	alert.MinCompetitorPrice, convErr = decimal.NewFromString(minStr)
	if convErr != nil {
		return Alert{}, fmt.Errorf("parse min competitor price: %w", convErr)
	}
	alert.GapPct, convErr = decimal.NewFromString(gapStr)
	if convErr != nil {
		return Alert{}, fmt.Errorf("parse gap pct: %w", convErr)
	}

	return alert, nil
}

func optionalString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func optionalDecimal(v *decimal.Decimal) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

var (
	_ WatchEntityStore = (*Store)(nil)
	_ ObservationStore = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
