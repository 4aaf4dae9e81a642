package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vigilant-labs/vigil/pkg/config"
	"github.com/vigilant-labs/vigil/pkg/logging"
	"github.com/vigilant-labs/vigil/pkg/moderation"
	"github.com/vigilant-labs/vigil/pkg/server"
	"github.com/vigilant-labs/vigil/pkg/store"
	"github.com/vigilant-labs/vigil/pkg/threat"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "check":
		if len(os.Args) < 3 {
			fmt.Println("Usage: vigil check <text>")
			os.Exit(1)
		}
		runCheck(strings.Join(os.Args[2:], " "))
	case "version":
		fmt.Printf("Vigil v%s\n", Version)
		fmt.Println("Risk scoring and disposition engine")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Vigil v%s - risk scoring and disposition engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  vigil serve         Start the HTTP server")
	fmt.Println("  vigil check <text>  Evaluate a piece of text and print the case")
	fmt.Println("  vigil version       Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  VIGIL_LISTEN_ADDR    HTTP listen address (default :8090)")
	fmt.Println("  VIGIL_BACKEND        Storage backend: memory or postgres")
	fmt.Println("  VIGIL_DATABASE_URL   Postgres connection string")
	fmt.Println("  VIGIL_REDIS_ADDR     Redis address for shared counters (optional)")
	fmt.Println("  VIGIL_SEED_DIR       Directory with YAML seed files (default ./seeds)")
}

// stack is everything serve and check share: stores, engines, server deps.
type stack struct {
	opts    server.Options
	cleanup []func()
}

func (s *stack) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func buildStack(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stack, error) {
	s := &stack{}

	var (
		termStore      moderation.TermStore
		caseStore      moderation.CaseStore
		violationStore moderation.ViolationStore
		eventStore     threat.EventStore
		ruleStore      threat.RuleStore
		repStore       threat.ReputationStore
	)

	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.cleanup = append(s.cleanup, pool.Close)
		if err := store.EnsureSchema(ctx, pool); err != nil {
			s.close()
			return nil, err
		}
		termStore = store.NewPGTermStore(pool)
		caseStore = store.NewPGCaseStore(pool)
		violationStore = store.NewPGViolationStore(pool)
		eventStore = store.NewPGEventStore(pool)
		ruleStore = store.NewPGRuleStore(pool)
		repStore = store.NewPGReputationStore(pool)
		log.Info("postgres backend ready")
	default:
		termStore = store.NewMemoryTermStore()
		caseStore = store.NewMemoryCaseStore()
		violationStore = store.NewMemoryViolationStore()
		eventStore = store.NewMemoryEventStore()
		ruleStore = store.NewMemoryRuleStore()
		repStore = store.NewMemoryReputationStore()
		log.Info("memory backend ready")
	}

	var history moderation.HistoryStore
	var counters threat.CounterStore
	if cfg.RedisAddr != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			s.close()
			return nil, err
		}
		s.cleanup = append(s.cleanup, func() { _ = rdb.Close() })
		history = store.NewRedisHistoryStore(rdb)
		counters = store.NewRedisCounterStore(rdb)
		log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
	} else {
		history = store.NewMemoryHistoryStore()
		counters = store.NewMemoryCounterStore()
	}

	cachedTerms := store.NewCachedTermStore(termStore, cfg.TermCacheTTL)
	repStore = store.NewCachedReputationStore(repStore, cfg.ReputationCacheTTL)

	seeder := store.NewSeeder(termStore, ruleStore, repStore, log)
	if err := seeder.Load(ctx, cfg.SeedDir); err != nil {
		s.close()
		return nil, fmt.Errorf("loading seeds: %w", err)
	}

	// Detector pipeline. Optional detectors degrade gracefully: a missing
	// model or embedder just leaves that signal out.
	matcher := moderation.NewTermMatcher(cachedTerms, log)
	pipeline := moderation.NewPipeline(cfg.DetectorTimeout, log)
	pipeline.Register(matcher)
	pipeline.Register(moderation.NewPersonalInfoDetector())

	var index moderation.SimilarityIndex
	if cfg.EnableSimilarity {
		embedder := moderation.NewOllamaEmbedder(cfg.EmbedderModel, cfg.EmbedderURL)
		spamIndex, err := moderation.NewSpamIndex(embedder)
		if err != nil {
			log.Warn("similarity index disabled", zap.Error(err))
		} else {
			phrases, err := store.LoadSpamPhrases(cfg.SeedDir)
			if err != nil {
				log.Warn("similarity index disabled", zap.Error(err))
			} else if len(phrases) > 0 {
				loadCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
				err := spamIndex.LoadPhrases(loadCtx, phrases)
				cancel()
				if err != nil {
					log.Warn("similarity index disabled", zap.Error(err))
				} else {
					index = spamIndex
					log.Info("similarity index ready", zap.Int("phrases", len(phrases)))
				}
			}
		}
	}
	pipeline.Register(moderation.NewSpamDetector(history, index, cfg.DuplicateWindow, log))

	if cfg.EnableToxicity {
		hcfg := moderation.DefaultHugotScorerConfig()
		if cfg.ToxicityModelPath != "" {
			hcfg.ModelPath = cfg.ToxicityModelPath
		}
		if cfg.OnnxLibraryPath != "" {
			hcfg.OnnxLibraryPath = cfg.OnnxLibraryPath
		}
		scorer := moderation.NewHugotScorerWithFallback(hcfg, log)
		if scorer != nil {
			s.cleanup = append(s.cleanup, func() { _ = scorer.Close() })
			pipeline.Register(moderation.NewToxicityDetector(scorer))
			log.Info("toxicity detection enabled")
		} else {
			log.Info("toxicity detection disabled (no model)")
		}
	}

	engine := moderation.NewEngine(caseStore, pipeline, log)
	engine.AddRedactor(matcher)

	// Account sanctions run against the in-process store until an account
	// service integration is configured.
	enforcer := moderation.NewEnforcer(violationStore, store.NewMemoryAccountStore(), log)
	reviewer := moderation.NewReviewer(caseStore, enforcer, log)

	threatEngine := threat.NewEngine(eventStore, ruleStore, repStore, counters, cfg.HighRiskCountries, log)

	s.opts = server.Options{
		ModEngine:    engine,
		Reviewer:     reviewer,
		Enforcer:     enforcer,
		Cases:        caseStore,
		Terms:        cachedTerms,
		Violations:   violationStore,
		ThreatEngine: threatEngine,
		Events:       eventStore,
		Rules:        ruleStore,
		Reputation:   repStore,
		Log:          log,
	}
	return s, nil
}

func runServe() {
	cfg := config.NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stk, err := buildStack(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer stk.close()

	server.Version = Version
	srv := server.New(stk.opts)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(cfg.ListenAddr) }()

	select {
	case err := <-errCh:
		log.Fatal("server failed", zap.Error(err))
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}

func runCheck(text string) {
	cfg := config.NewDefaultConfig()
	cfg.Backend = config.BackendMemory
	cfg.RedisAddr = ""

	log := zap.NewNop()
	ctx := context.Background()

	stk, err := buildStack(ctx, cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer stk.close()

	c, err := stk.opts.ModEngine.Check(ctx, moderation.CheckRequest{
		AuthorID: "cli",
		Content:  text,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println(string(out))
}
