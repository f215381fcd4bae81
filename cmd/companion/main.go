// Command companion runs the crisis-aware companion core as a local service.
//
// It wires the full message pipeline — session store, crisis detector, PII
// redactor, response cache, OpenAI completion provider, and the template
// responder — behind an interactive stdin loop, and serves the ops API for
// runtime inspection.
//
// Sessions live in memory only and are wiped on exit. Without OPENAI_API_KEY
// the process still runs; replies come from the deterministic templates.
//
// Usage:
//
//	# Full setup
//	OPENAI_API_KEY=sk-... ./companion
//
//	# Template-only, custom ops port
//	OPS_PORT=9090 ./companion
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"companion-core/internal/config"
	"companion-core/internal/crisis"
	"companion-core/internal/fallback"
	"companion-core/internal/language"
	"companion-core/internal/logger"
	"companion-core/internal/metrics"
	"companion-core/internal/ops"
	"companion-core/internal/pipeline"
	"companion-core/internal/provider"
	"companion-core/internal/redact"
	"companion-core/internal/respcache"
	"companion-core/internal/session"
)

func main() {
	cfg := config.Load()
	printBanner(cfg)

	m := metrics.New()

	store := session.NewStore(session.Config{
		Timeout:     cfg.SessionTimeout(),
		MaxSessions: cfg.MaxSessions,
		MaxTurns:    cfg.MaxTurnsPerSession,
		RatePerMin:  cfg.RateLimitPerMin,
		RateBurst:   cfg.RateBurst,
	}, logger.New("session", cfg.LogLevel), m)

	detector := crisis.NewDetector(cfg.EscalationWindow(), logger.New("crisis", cfg.LogLevel), m)
	// Destroying a session also drops its escalation history.
	store.OnDestroy(detector.RemoveSession)

	cache := respcache.New(cfg.CacheCapacity, m)

	orch := pipeline.New(pipeline.Config{
		ProviderTimeout: cfg.ProviderTimeout(),
		MaxRetries:      cfg.ProviderMaxRetries,
		DefaultLocale:   cfg.DefaultLocale,
	}, pipeline.Deps{
		Store:    store,
		Detector: detector,
		Cache:    cache,
		Redactor: redact.New(logger.New("redact", cfg.LogLevel), m),
		Provider: provider.NewOpenAI(cfg.OpenAIModel, cfg.ProviderTimeout(), logger.New("openai", cfg.LogLevel)),
		Language: language.NewStatic(),
		Fallback: fallback.New(),
		Log:      logger.New("pipeline", cfg.LogLevel),
		Metrics:  m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background sweeps: expired sessions and stale crisis alerts.
	sessionSweep := session.NewSweepService(store, cfg.SessionSweepInterval())
	sessionSweep.Start(ctx)
	alertSweep := crisis.NewSweepService(detector, cfg.SessionSweepInterval(), cfg.StaleAlertAfter(), func(alerts []crisis.Alert) {
		for _, a := range alerts {
			log.Printf("[ALERTS] Unattended crisis alert %s (severity %s)", a.ID, a.Severity)
		}
	})
	alertSweep.Start(ctx)

	opsServer := ops.New(ops.Deps{
		Orchestrator: orch,
		Store:        store,
		Cache:        cache,
		Detector:     detector,
		Metrics:      m,
	}, cfg.OpsToken)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.OpsPort)
		if err := opsServer.ListenAndServe(addr); err != nil {
			log.Fatalf("[OPS] Fatal: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down, wiping sessions.")
		cancel()
		sessionSweep.Stop()
		alertSweep.Stop()
		store.DestroyAll()
		os.Exit(0)
	}()

	runConsole(ctx, orch, cfg.DefaultLocale)

	store.DestroyAll()
}

// runConsole is the interactive demo loop: each line is one message in a
// single continuing session until EOF.
func runConsole(ctx context.Context, orch *pipeline.Orchestrator, locale string) {
	fmt.Println("Type a message and press enter. Ctrl-D exits.")
	scanner := bufio.NewScanner(os.Stdin)
	var sessionID string
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		res, err := orch.Process(ctx, pipeline.Request{
			SessionID: sessionID,
			Message:   text,
			Locale:    locale,
			Client:    session.RequestInfo{IPAddress: "127.0.0.1", UserAgent: "companion-console"},
		})
		if err != nil {
			fmt.Printf("  (rejected: %v)\n", err)
			continue
		}
		sessionID = res.SessionID

		fmt.Printf("\n%s\n\n", res.Reply)
		if res.IsCrisis {
			fmt.Printf("  [crisis: severity=%s level=%d]\n", res.Crisis.Severity, res.Crisis.EscalationLevel)
			for _, r := range res.Crisis.Resources {
				fmt.Printf("  - %s: %s\n", r.Name, r.Contact)
			}
		}
		if res.Cached {
			fmt.Println("  [cached]")
		}
	}
}

func printBanner(cfg *config.Config) {
	providerState := "OpenAI (" + cfg.OpenAIModel + ")"
	if os.Getenv("OPENAI_API_KEY") == "" {
		providerState = "templates only (OPENAI_API_KEY not set)"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Companion Core  (Go)                        ║
╚══════════════════════════════════════════════════════╝
  Provider        : %s
  Session timeout : %d min
  Max sessions    : %d
  Ops port        : %d

  Check status:
    curl http://localhost:%d/status
`, providerState,
		cfg.SessionTimeoutMin, cfg.MaxSessions,
		cfg.OpsPort, cfg.OpsPort)
}
