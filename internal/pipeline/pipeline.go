// Package pipeline wires the ingestion consumer to the reading store, the
// alert evaluator, and the API server, and owns their lifecycles.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"silicamon/internal/api"
	"silicamon/internal/config"
	"silicamon/internal/consumer"
	"silicamon/internal/evaluator"
	"silicamon/internal/logger"
	"silicamon/internal/metrics"
	"silicamon/internal/models"
	"silicamon/internal/notify"
	"silicamon/internal/predictor"
	"silicamon/internal/settings"
	"silicamon/internal/store"
)

// Pipeline is the high-level coordinator for consuming, scoring, and alerting.
type Pipeline struct {
	cfg *config.Config

	store     *store.Store
	backend   store.Backend
	settings  *settings.Store
	predictor *predictor.Predictor
	notifier  *notify.Notifier
	evaluator *evaluator.Evaluator
	consumer  *consumer.Consumer
	apiServer *api.Server

	readingChan chan *models.SensorReading
	wg          sync.WaitGroup
}

// New constructs the full pipeline from config. Optional collaborators
// (durable backend, mail relay) degrade to nil with a warning instead of
// failing startup; alerting runs regardless.
func New(cfg *config.Config) (*Pipeline, error) {
	log := logger.WithComponent("pipeline")

	st, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var influxBackend *store.InfluxBackend
	var backend store.Backend
	if cfg.Influx.URL != "" {
		b, err := store.NewInfluxBackend(cfg.Influx)
		if err != nil {
			log.Warn().Err(err).Msg("durable backend unavailable, running memory-only")
		} else {
			influxBackend = b
			backend = b
		}
	} else {
		log.Warn().Msg("no durable backend configured, running memory-only")
	}
	readingStore := store.New(backend, cfg.Retention.MaxAge)

	if influxBackend != nil {
		queryCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		rows, err := influxBackend.RecentReadings(queryCtx, time.Now().Add(-cfg.Retention.MaxAge))
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("window rehydration failed, starting empty")
		} else if n := readingStore.Seed(rows); n > 0 {
			log.Info().Int("readings", n).Msg("window rehydrated from durable store")
		}
	}

	pred := predictor.New(cfg.TrainingDataPath, cfg.ModelPath)
	if !pred.Ready() {
		log.Info().Msg("no model loaded, attempting initial training")
		if err := pred.Retrain(); err != nil {
			log.Warn().Err(err).Msg("initial training failed, predictions unavailable until retrain")
		}
	}

	var notifier *notify.Notifier
	if cfg.SMTP.Sender != "" {
		n, err := notify.New(cfg.SMTP)
		if err != nil {
			log.Warn().Err(err).Msg("mail notifier unavailable, alerts will not be dispatched")
		} else {
			notifier = n
		}
	} else {
		log.Warn().Msg("no smtp sender configured, alerts will not be dispatched")
	}

	var dispatcher evaluator.Dispatcher
	if notifier != nil {
		dispatcher = notifier
	}
	eval := evaluator.New(pred, st, dispatcher)

	readingChan := make(chan *models.SensorReading, cfg.Kafka.QueueSize)
	metrics.IngestQueueCapacity.Set(float64(cap(readingChan)))

	p := &Pipeline{
		cfg:         cfg,
		store:       readingStore,
		backend:     backend,
		settings:    st,
		predictor:   pred,
		notifier:    notifier,
		evaluator:   eval,
		consumer:    consumer.New(cfg.Kafka, readingChan),
		readingChan: readingChan,
	}

	p.apiServer = api.NewServer(api.Config{
		Addr:       cfg.API.Addr,
		AdminToken: cfg.API.AdminToken,
		Store:      readingStore,
		Settings:   st,
		Predictor:  pred,
		Evaluator:  eval,
		Notifier:   notifier,
	})
	return p, nil
}

// Run starts background goroutines and blocks until the context is
// cancelled, then shuts down in stages.
func (p *Pipeline) Run(ctx context.Context) error {
	log := logger.WithComponent("pipeline")
	log.Info().Msg("pipeline starting")

	// Retention sweeper
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.store.RunSweeper(ctx, p.cfg.Retention.SweepInterval)
	}()

	// Ingestion subscription
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.consumer.Run(ctx); err != nil {
			log.Error().Err(err).Msg("consumer exited")
		}
	}()

	// Processing loop
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processLoop(ctx)
	}()

	// API server
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server error")
		}
	}()

	// Stats reporting
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	return p.shutdown()
}

// processLoop drains the reading channel. For each reading, persistence and
// alert evaluation run concurrently; both finish (or fail) before the next
// reading starts, so per-reading stage order is preserved.
func (p *Pipeline) processLoop(ctx context.Context) {
	log := logger.WithComponent("pipeline")

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("process loop panic recovered")
			metrics.PanicsRecovered.WithLabelValues("pipeline").Inc()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-p.readingChan:
			if !ok {
				return
			}
			metrics.IngestQueueSize.Set(float64(len(p.readingChan)))
			p.process(ctx, reading)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, reading *models.SensorReading) {
	log := logger.WithComponent("pipeline")

	// The pipeline loop is the sole writer, so this pre-check is exact:
	// a regressed or duplicate sequence is detected here and the reading
	// is neither stored nor evaluated.
	if reading.Sequence <= p.store.LastSequence() {
		log.Warn().
			Int64("sequence", reading.Sequence).
			Int64("last", p.store.LastSequence()).
			Msg("out-of-order reading rejected")
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	// Persistence path: a slow or failing backend must not delay alerting.
	go func() {
		defer wg.Done()
		if _, err := p.store.Append(ctx, reading); err != nil {
			var be *store.BackendError
			if errors.As(err, &be) {
				log.Warn().Err(err).
					Int64("sequence", reading.Sequence).
					Msg("durable persistence failed, window retains reading")
				return
			}
			log.Error().Err(err).
				Int64("sequence", reading.Sequence).
				Msg("append rejected")
		}
	}()

	// Alerting path.
	go func() {
		defer wg.Done()
		p.evaluator.Evaluate(ctx, reading)
	}()

	wg.Wait()
}

// shutdown performs graceful shutdown
func (p *Pipeline) shutdown() error {
	log := logger.WithComponent("pipeline")
	log.Info().Msg("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("stopping api server")
	if err := p.apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	log.Info().Msg("closing kafka consumer")
	if err := p.consumer.Close(); err != nil {
		log.Error().Err(err).Msg("consumer close error")
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	if p.backend != nil {
		log.Info().Msg("closing durable backend")
		p.backend.Close()
	}

	log.Info().Msg("pipeline stopped gracefully")
	return nil
}

// reportStats periodically logs statistics
func (p *Pipeline) reportStats(ctx context.Context) {
	log := logger.WithComponent("pipeline")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			consumerStats := p.consumer.Stats()
			evalStats := p.evaluator.Stats()

			ev := log.Info().
				Uint64("consumed", consumerStats.Consumed).
				Uint64("dropped", consumerStats.Dropped).
				Uint64("alerted", evalStats.Alerted).
				Uint64("suppressed", evalStats.Suppressed).
				Uint64("failed", evalStats.Failed).
				Int("window_size", p.store.Len()).
				Int("queue_size", len(p.readingChan)).
				Bool("degraded", p.store.Degraded())

			if p.notifier != nil {
				ns := p.notifier.Stats()
				ev = ev.Uint64("notifications_sent", ns.Sent).
					Uint64("notifications_failed", ns.Failed)
			}
			ev.Msg("stats")
		}
	}
}
