package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brightpath-advice/advicegen/internal/extract"
	"github.com/brightpath-advice/advicegen/internal/narrative"
	"github.com/brightpath-advice/advicegen/internal/pdf"
	"github.com/brightpath-advice/advicegen/internal/pipeline"
	"github.com/brightpath-advice/advicegen/internal/providers"
	"github.com/brightpath-advice/advicegen/internal/store"
	"github.com/brightpath-advice/advicegen/pkg/llm"
)

// env bundles the wired pipeline for the serve and generate commands.
type env struct {
	store        store.Store
	orchestrator *pipeline.Orchestrator
	exporter     *pdf.Exporter
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initPipeline wires the store, model adapters, fund-fact fetcher, PDF
// exporter, and orchestrator from the loaded config.
func initPipeline(ctx context.Context) (*env, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("cmd: anthropic key is not configured")
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "cmd: open store")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "cmd: migrate store")
	}

	client := llm.WithTimeout(llm.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Timeout())
	extractor := extract.New(client, cfg.Anthropic.ExtractModel, cfg.Extract)
	writer := narrative.New(client, cfg.Anthropic.NarrativeModel, cfg.Narrative)

	fetcher := providers.NewFetcher(
		providers.NewHTTPSource(cfg.Providers),
		providers.NewStoreCache(st),
		cfg.Providers.CacheTTL(),
	)

	exporter := pdf.NewExporter(cfg.PDF)

	return &env{
		store:        st,
		orchestrator: pipeline.New(st, extractor, writer, exporter, fetcher),
		exporter:     exporter,
	}, nil
}

// Close releases the browser and the store.
func (e *env) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.exporter.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("exporter shutdown failed", zap.Error(err))
	}
	if err := e.store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
