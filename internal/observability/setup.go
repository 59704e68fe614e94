package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "linkguard"

var (
	linksDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkguard_links_deleted_total",
		Help: "Messages removed for carrying links.",
	})
	mutes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkguard_mutes_total",
		Help: "Users muted after crossing the violation threshold.",
	})
	broadcastSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkguard_broadcast_sent_total",
		Help: "Broadcast messages delivered.",
	})
	broadcastPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkguard_broadcast_pruned_total",
		Help: "Recipients pruned from the directory as unreachable.",
	})
	processing = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "linkguard_moderation_seconds",
		Help:    "Time spent moderating a single message.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init wires tracing and starts the metrics endpoint. The server lives until
// ctx is cancelled; its lifecycle never blocks the bot.
func Init(ctx context.Context, addr string) error {
	provider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(provider)

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:     addr,
		Handler:  mux,
		ErrorLog: zap.NewStdLog(logger),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = provider.Shutdown(shutdownCtx)
		_ = logger.Sync()
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	return nil
}

// StartSpan opens a span on the global tracer.
func StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name)
}

func RecordLinkDeleted() { linksDeleted.Inc() }

func RecordMute() { mutes.Inc() }

func RecordBroadcastSent() { broadcastSent.Inc() }

func RecordBroadcastPruned() { broadcastPruned.Inc() }

func ObserveModeration(d time.Duration) { processing.Observe(d.Seconds()) }
