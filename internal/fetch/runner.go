package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"price-gap-monitor/internal/storage"
)

// RunnerOptions tune fetch concurrency and throttling.
type RunnerOptions struct {
	PerChannelWorkers int
	RatePerSecond     float64
	RateBurst         int
	DefaultCurrency   string
}

// Report summarises one fetch run.
type Report struct {
	RunID   string
	Bucket  time.Time
	Stored  int
	Failed  int
	Skipped int
}

// Runner polls the due entities across their channels. Channels run in
// parallel with a bounded worker pool each; a shared limiter throttles
// request starts across all of them. Every stored observation carries the
// run's bucket timestamp, so competitor captures of one run form one round.
type Runner struct {
	fetchers map[string]ChannelFetcher
	obs      storage.ObservationStore
	limiter  *rate.Limiter
	workers  int
	currency string
	logger   zerolog.Logger
}

// NewRunner constructs a runner over the given channel fetchers.
func NewRunner(fetchers []ChannelFetcher, obs storage.ObservationStore, opts RunnerOptions, logger zerolog.Logger) *Runner {
	byName := make(map[string]ChannelFetcher, len(fetchers))
	for _, fetcher := range fetchers {
		byName[fetcher.Channel()] = fetcher
	}

	workers := opts.PerChannelWorkers
	if workers <= 0 {
		workers = 2
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	currency := opts.DefaultCurrency
	if currency == "" {
		currency = "CLP"
	}

	return &Runner{
		fetchers: byName,
		obs:      obs,
		limiter:  limiter,
		workers:  workers,
		currency: currency,
		logger:   logger.With().Str("component", "fetch_runner").Logger(),
	}
}

// Fetch polls every entity and stores the captured prices, all stamped with
// the bucket timestamp. Entities on channels without a fetcher are skipped.
// Per-entity failures are isolated and joined into the returned error; the
// report is valid either way.
func (r *Runner) Fetch(ctx context.Context, entities []storage.WatchEntity, bucket time.Time) (Report, error) {
	report := Report{RunID: uuid.NewString(), Bucket: bucket}
	if len(entities) == 0 {
		return report, nil
	}

	logger := r.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().Int("entities", len(entities)).Time("bucket", bucket).Msg("fetch run started")

	byChannel := make(map[string][]storage.WatchEntity)
	for _, entity := range entities {
		byChannel[entity.Channel] = append(byChannel[entity.Channel], entity)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		errs []error
	)

	for channel, batch := range byChannel {
		fetcher, ok := r.fetchers[channel]
		if !ok {
			logger.Warn().Str("channel", channel).Int("entities", len(batch)).Msg("no fetcher configured for channel")
			report.Skipped += len(batch)
			continue
		}

		workers := r.workers
		if workers > len(batch) {
			workers = len(batch)
		}
		jobs := make(chan storage.WatchEntity)

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for entity := range jobs {
					err := r.fetchOne(ctx, fetcher, entity, bucket, logger)
					mu.Lock()
					if err != nil {
						report.Failed++
						errs = append(errs, fmt.Errorf("%s/%s %s: %w", entity.ProductGroupKey, entity.Channel, entity.EndpointRef, err))
					} else {
						report.Stored++
					}
					mu.Unlock()
				}
			}()
		}

		wg.Add(1)
		go func(batch []storage.WatchEntity) {
			defer wg.Done()
			defer close(jobs)
			for _, entity := range batch {
				select {
				case jobs <- entity:
				case <-ctx.Done():
					return
				}
			}
		}(batch)
	}

	wg.Wait()

	logger.Info().
		Int("stored", report.Stored).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Msg("fetch run finished")

	return report, errors.Join(errs...)
}

func (r *Runner) fetchOne(ctx context.Context, fetcher ChannelFetcher, entity storage.WatchEntity, bucket time.Time, logger zerolog.Logger) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	quote, err := fetcher.FetchPrice(ctx, entity.EndpointRef)
	if err != nil {
		logger.Error().Err(err).
			Str("group", entity.ProductGroupKey).
			Str("channel", entity.Channel).
			Str("endpoint", entity.EndpointRef).
			Msg("fetch failed")
		return err
	}

	currency := quote.Currency
	if currency == "" {
		currency = r.currency
	}

	obs := storage.PriceObservation{
		ProductGroupKey: entity.ProductGroupKey,
		Channel:         entity.Channel,
		Role:            entity.Role,
		EndpointRef:     entity.EndpointRef,
		CompetitorLabel: entity.CompetitorLabel,
		Price:           quote.Price,
		Stock:           quote.Stock,
		Currency:        currency,
		CapturedAt:      bucket,
		RawPayload:      quote.Raw,
	}
	if _, err := r.obs.InsertObservation(ctx, obs); err != nil {
		logger.Error().Err(err).
			Str("group", entity.ProductGroupKey).
			Str("channel", entity.Channel).
			Msg("store observation failed")
		return err
	}

	logger.Debug().
		Str("group", entity.ProductGroupKey).
		Str("channel", entity.Channel).
		Str("role", string(entity.Role)).
		Str("price", quote.Price.String()).
		Msg("observation stored")
	return nil
}
