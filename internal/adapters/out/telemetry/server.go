package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

const shutdownTimeout = 5 * time.Second

// Sampler returns the current usage of every sampled container. It records
// the samples itself through Metrics.ContainerSampled.
type Sampler func(ctx context.Context) ([]domain.ContainerStats, error)

// NewServer creates an HTTP server serving /metrics (Prometheus) and /healthz.
func NewServer(addr string, m *Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Serve runs the metrics server and samples containers every interval until
// ctx is cancelled. A failed sample is logged and retried next interval.
func Serve(ctx context.Context, addr string, interval time.Duration, m *Metrics, sample Sampler) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "adapter",
		zerowrap.FieldAdapter: "telemetry",
		zerowrap.FieldAction:  "Serve",
		"listen":             addr,
	})
	log := zerowrap.FromCtx(ctx)
	srv := NewServer(addr, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		runSampler(gctx, interval, m, sample)
		return nil
	})

	return g.Wait()
}

// runSampler drops gauges of containers that disappeared since the previous
// round.
func runSampler(ctx context.Context, interval time.Duration, m *Metrics, sample Sampler) {
	log := zerowrap.FromCtx(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := make(map[string]bool)
	for {
		stats, err := sample(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("stats sample failed")
		} else {
			current := make(map[string]bool, len(stats))
			for _, st := range stats {
				current[st.Name] = true
			}
			for name := range seen {
				if !current[name] {
					m.ForgetContainer(name)
				}
			}
			seen = current
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
