package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/facturio-bot/server/internal/assistant"
	"github.com/facturio-bot/server/internal/billing"
	"github.com/facturio-bot/server/internal/cooldown"
	"github.com/facturio-bot/server/internal/core"
	"github.com/facturio-bot/server/internal/document"
	"github.com/facturio-bot/server/internal/form"
	"github.com/facturio-bot/server/internal/retry"
	"github.com/facturio-bot/server/internal/session"
	logx "github.com/facturio-bot/server/pkg/logger"
	pkgredis "github.com/facturio-bot/server/pkg/redis"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	_ "modernc.org/sqlite"
)

// AppConfig defines all configurable parameters for the service, sourced
// from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis        pkgredis.Config
	DatabasePath string `envconfig:"DATABASE_PATH" default:"facturio.db"`

	// Documents
	TemplateDir string `envconfig:"TEMPLATE_DIR" default:"templates"`
	OutputDir   string `envconfig:"OUTPUT_DIR" default:"outputs"`

	// Timers
	FormIdleTimeout string `envconfig:"FORM_IDLE_TIMEOUT" default:"30m"`
	SweepInterval   string `envconfig:"SWEEP_INTERVAL" default:"5m"`
	CooldownDefault string `envconfig:"COOLDOWN_DEFAULT" default:"30s"`
	CooldownPremium string `envconfig:"COOLDOWN_PREMIUM" default:"10s"`

	// Referral bonuses
	ReferredBonus int64 `envconfig:"REFERRAL_REFERRED_BONUS" default:"25"`
	ReferrerBonus int64 `envconfig:"REFERRAL_REFERRER_BONUS" default:"50"`
}

func mustDuration(name, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid %s '%s': %v", name, value, err)
	}
	return d
}

// consoleResponder stands in for the platform presentation layer during
// the scripted walk-through.
type consoleResponder struct{}

func (consoleResponder) Defer() error {
	fmt.Println("   [ack] processing...")
	return nil
}

func (consoleResponder) Deliver(payload any) error {
	fmt.Printf("   [reply] %+v\n", payload)
	return nil
}

func (consoleResponder) FollowUp(payload any) error {
	fmt.Printf("   [follow-up] %+v\n", payload)
	return nil
}

func main() {
	ctx := context.Background()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()
	logx.Info().Msg("connected to redis")

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := billing.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	accounts, err := billing.New(db, retry.NewExecutor(), nil)
	if err != nil {
		log.Fatalf("Failed to build billing store: %v", err)
	}

	registry := document.NewRegistry()
	if err := registry.LoadDir(cfg.TemplateDir); err != nil {
		logx.Warn().Err(err).Str("dir", cfg.TemplateDir).Msg("no template directory, registering sample template")
		if err := registry.Register(document.Template{
			ID:     "invoice-std",
			Name:   "Standard invoice",
			Cost:   10,
			Fields: []string{"client", "date", "prix", "quantite", "reference", "remise", "prix+20%"},
		}); err != nil {
			log.Fatalf("Failed to register sample template: %v", err)
		}
	}

	retention, err := document.NewRetention(cfg.OutputDir, 0, 0)
	if err != nil {
		log.Fatalf("Failed to prepare output retention: %v", err)
	}

	idle := mustDuration("FORM_IDLE_TIMEOUT", cfg.FormIdleTimeout)
	sweepEvery := mustDuration("SWEEP_INTERVAL", cfg.SweepInterval)

	collector := form.NewCollector(form.NewRedisStore(rdb, idle), idle, nil)
	gate := cooldown.NewGate(nil)

	svc := assistant.New(accounts, registry, document.NewRenderer(), retention, collector, gate, nil, assistant.Config{
		Cooldowns: cooldown.TierConfig{
			Default: mustDuration("COOLDOWN_DEFAULT", cfg.CooldownDefault),
			Premium: mustDuration("COOLDOWN_PREMIUM", cfg.CooldownPremium),
		},
		ReferredBonus: cfg.ReferredBonus,
		ReferrerBonus: cfg.ReferrerBonus,
	})

	// cleanup runs off the request path
	sweepCtx, stopSweepers := context.WithCancel(ctx)
	defer stopSweepers()
	go collector.RunSweeper(sweepCtx, sweepEvery)
	go gate.RunSweeper(sweepCtx, sweepEvery, cooldown.DefaultRetention)
	go retention.RunSweeper(sweepCtx, sweepEvery)

	// ====================================================
	// Scripted walk-through of a full generation flow
	actor := "demo-actor"
	templateID := registry.IDs()[0]
	fmt.Printf("Walking template %q for actor %q\n", templateID, actor)

	newRequest := func() assistant.Request {
		return assistant.Request{
			Actor:      actor,
			Kind:       session.KindCommand,
			CreatedAt:  time.Now(),
			TemplateID: templateID,
		}
	}

	req := newRequest()
	sess := svc.Session(req, consoleResponder{})
	if err := svc.StartForm(ctx, sess, req); err != nil {
		log.Fatalf("Failed to start form: %v", err)
	}

	fields, err := registry.FieldNames(templateID)
	if err != nil {
		log.Fatalf("Failed to load fields: %v", err)
	}

	page := 0
	for page*form.PageSize < len(fields) {
		lo := page * form.PageSize
		hi := min(lo+form.PageSize, len(fields))

		values := make(map[string]string, hi-lo)
		for i, field := range fields[lo:hi] {
			values[field] = fmt.Sprintf("sample-%d", lo+i+1)
		}
		// feed the price field something numeric so derived fields compute
		if _, ok := values["prix"]; ok {
			values["prix"] = "100"
		}

		req = newRequest()
		req.PageIndex = page
		req.Values = values

		fmt.Printf("\nSubmitting page %d\n", page)
		sess = svc.Session(req, consoleResponder{})
		if err := svc.SubmitPage(ctx, sess, req); err != nil {
			log.Fatalf("Failed to submit page %d: %v", page, err)
		}
		page++
	}

	req = newRequest()
	sess = svc.Session(req, consoleResponder{})
	if err := svc.Credits(ctx, sess, req); err != nil {
		log.Fatalf("Failed to read balance: %v", err)
	}

	fmt.Println("\nWalk-through complete")
}
