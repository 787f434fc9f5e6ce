package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gradintel/tuition-cli/internal/cost"
	"github.com/gradintel/tuition-cli/internal/monitoring"
	"github.com/gradintel/tuition-cli/internal/pipeline"
	"github.com/gradintel/tuition-cli/internal/quota"
	"github.com/gradintel/tuition-cli/internal/store"
	anthropicpkg "github.com/gradintel/tuition-cli/pkg/anthropic"
	"github.com/gradintel/tuition-cli/pkg/gemini"
)

// pipelineEnv holds the initialized store, clients, and pipeline needed by
// the extract/batch/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Guard    *quota.Guard
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "tuition.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initPipeline sets up the store, API clients, quota guard, and pipeline.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if cfg.Gemini.Key == "" {
		return nil, eris.New("gemini API key is required (TUITION_GEMINI_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	validator, err := pipeline.NewSourceValidator(cfg.Sources.DomainsPath)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	geminiOpts := []gemini.Option{gemini.WithModel(cfg.Gemini.Model)}
	if cfg.Gemini.BaseURL != "" {
		geminiOpts = append(geminiOpts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	}
	geminiClient := gemini.NewClient(cfg.Gemini.Key, geminiOpts...)

	alerter := monitoring.NewAlerter(cfg.Monitoring)
	guard := quota.NewGuard(st, cfg.Quota, alerter)

	extractor := pipeline.NewExtractor(
		geminiClient,
		cfg.Gemini.Model,
		time.Duration(cfg.Pipeline.ExtractTimeoutSecs)*time.Second,
		validator,
	)

	var verifier *pipeline.CrossVerifier
	if cfg.Pipeline.CrossVerify {
		if cfg.Anthropic.Key == "" {
			zap.L().Warn("TUITION_ANTHROPIC_KEY not set, cross-verification disabled")
		} else {
			verifier = pipeline.NewCrossVerifier(
				anthropicpkg.NewClient(cfg.Anthropic.Key),
				cfg.Anthropic.Model,
				time.Duration(cfg.Pipeline.VerifyTimeoutSecs)*time.Second,
			)
		}
	}

	p := pipeline.New(pipeline.Options{
		Extractor:   extractor,
		Verifier:    verifier,
		Guard:       guard,
		Store:       st,
		Calculator:  cost.NewCalculator(pricingRates()),
		GeminiModel: cfg.Gemini.Model,
		ClaudeModel: cfg.Anthropic.Model,
		CacheTTL:    time.Duration(cfg.Pipeline.CacheTTLHours) * time.Hour,
	})

	return &pipelineEnv{Store: st, Pipeline: p, Guard: guard}, nil
}

// pricingRates merges configured pricing over the built-in defaults.
func pricingRates() cost.Rates {
	rates := cost.DefaultRates()
	for m, p := range cfg.Pricing.Gemini {
		rates.Gemini[m] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	for m, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[m] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	if cfg.Pricing.GroundedQuerySurcharge > 0 {
		rates.GroundedQuerySurcharge = cfg.Pricing.GroundedQuerySurcharge
	}
	return rates
}
