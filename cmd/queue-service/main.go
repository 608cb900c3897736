package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicq/queue-service/internal/config"
	"clinicq/queue-service/internal/httpapi"
	"clinicq/queue-service/internal/hub"
	"clinicq/queue-service/internal/notify"
	"clinicq/queue-service/internal/relay"
	"clinicq/queue-service/internal/store/postgres"
	"clinicq/queue-service/internal/telemetry"

	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	h := hub.New(cfg.SubscriberBuffer)
	handler := httpapi.NewHandler(store)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		ClinicPerMinute: cfg.ClinicRateLimitPerMinute,
		ClinicBurst:     cfg.ClinicRateLimitBurst,
	})

	background, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	eventRelay := relay.New(store, h, relay.Config{BatchSize: cfg.RelayBatchSize})
	go eventRelay.Run(background, cfg.RelayPollInterval)

	worker := notify.New(store, notify.Config{
		BatchSize:     cfg.NotifyBatchSize,
		SMSProvider:   cfg.NotifySMSProvider,
		EmailProvider: cfg.NotifyEmailProvider,
	})
	go notify.Start(background, cfg.NotifyPollInterval, worker)

	go h.RunHeartbeat(background, cfg.HeartbeatInterval)

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", newRealtimeHandler(h))

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queue-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopBackground()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// newRealtimeHandler exposes the hub over sockjs. A session holds at most
// one clinic subscription at a time; resubscribing moves it. Clients must
// query the HTTP API for current state on connect: the stream only carries
// events published after the subscription started, plus heartbeats.
func newRealtimeHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		var sub *hub.Subscriber
		var clinicID string
		defer func() {
			if sub != nil {
				h.Unsubscribe(clinicID, sub)
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if sub != nil {
				h.Unsubscribe(clinicID, sub)
				sub = nil
			}
			if parsed.Action == "unsubscribe" {
				continue
			}
			clinicID = parsed.ClinicID
			sub = h.Subscribe(clinicID)
			go func(s *hub.Subscriber) {
				for frame := range s.Ch {
					_ = session.Send(string(frame))
				}
			}(sub)
		}
	})
}
