package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duka/cmd/server/config"
	"duka/internal/adapters/rest"
	"duka/internal/mpesa"
	"duka/internal/notify"
	"duka/internal/observability"
	"duka/internal/payments"
	"duka/internal/realtime"

	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	mpesaCfg, err := config.LoadMpesa()
	if err != nil {
		return err
	}
	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}

	gateway, err := buildGateway(mpesaCfg)
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	go hub.Run()

	notifiers := []payments.Notifier{notify.NewHubNotifier(hub)}
	if os.Getenv("REDIS_URL") != "" {
		store, cleanupRedis, err := buildRedisNotifier(ctx)
		if err != nil {
			return err
		}
		defer cleanupRedis()
		notifiers = append(notifiers, store)
		log.Println("redis payment event store enabled")
	}
	notifier := notify.NewFanout(notifiers...)

	svc, cleanup := buildPaymentService(ctx, os.Getenv("DATABASE_URL"), gateway, notifier, log.Printf)
	defer cleanup()
	svc.SetCurrency(mpesaCfg.Currency)

	metrics := observability.NewMetrics()

	callbackLimit, err := config.LoadCallbackLimit()
	if err != nil {
		return err
	}
	server := rest.NewServer(svc, hub, mpesaCfg.CallbackSecret, metrics, log.Printf)
	var handler http.Handler
	if callbackLimit != nil {
		handler = server.Routes(payments.NewRateLimiter(callbackLimit.Interval, callbackLimit.Burst))
	} else {
		handler = server.Routes(nil)
	}

	obsSrv, err := startObservabilityServer(metrics)
	if err != nil {
		return err
	}

	if os.Getenv("PAYMENT_SWEEP_INTERVAL") != "" {
		sweepCfg, err := config.LoadSweep()
		if err != nil {
			return err
		}
		go runSweep(ctx, svc, sweepCfg)
	}

	srv := &http.Server{
		Addr:    httpCfg.Addr,
		Handler: handler,
	}

	log.Printf("payment server running on %s", httpCfg.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown: %v", err)
		}
		if obsSrv != nil {
			_ = obsSrv.Shutdown(shutdownCtx)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// buildGateway constructs the Daraja client, wrapped with reliability
// controls when the retry env knobs are present.
func buildGateway(cfg config.MpesaConfig) (payments.Gateway, error) {
	clientCfg := mpesa.Config{
		BaseURL:        cfg.BaseURL,
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		ShortCode:      cfg.ShortCode,
		Passkey:        cfg.Passkey,
		CallbackURL:    cfg.CallbackURL(),
	}
	if cfg.Timeout != nil {
		clientCfg.Timeout = *cfg.Timeout
	}
	client := mpesa.NewClient(clientCfg)

	if os.Getenv("MPESA_RETRY_MAX_ATTEMPTS") == "" {
		return client, nil
	}
	relCfg, err := payments.LoadReliabilityConfig()
	if err != nil {
		return nil, err
	}
	return payments.NewReliableGatewayFromConfig(client, relCfg), nil
}

// runSweep periodically resolves transactions stuck in PENDING by
// querying the provider for their final state.
func runSweep(ctx context.Context, svc *payments.Service, cfg config.SweepConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resolved, err := svc.SweepPending(ctx, cfg.MinAge)
			if err != nil {
				log.Printf("pending sweep: %v", err)
			}
			if resolved > 0 {
				log.Printf("pending sweep resolved %d transaction(s)", resolved)
			}
		}
	}
}

func startObservabilityServer(metrics *observability.Metrics) (*http.Server, error) {
	if os.Getenv("OBS_ADDR") == "" {
		return nil, nil
	}
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(metrics))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("observability server error: %v", err)
		}
	}()

	return srv, nil
}
