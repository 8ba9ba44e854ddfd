package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/shelfline/curator-cli/internal/clip"
	"github.com/shelfline/curator-cli/internal/decision"
	"github.com/shelfline/curator-cli/internal/learning"
	"github.com/shelfline/curator-cli/internal/ocr"
	"github.com/shelfline/curator-cli/internal/pipeline"
	"github.com/shelfline/curator-cli/internal/search"
	"github.com/shelfline/curator-cli/internal/store"
	"github.com/shelfline/curator-cli/internal/workflow"
)

// appEnv bundles the wired application services for one command run.
type appEnv struct {
	store   store.Store
	loop    *learning.Loop
	manager *workflow.Manager
	runner  *pipeline.Runner
}

// initEnv opens the store and wires the pipeline services from config.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	loop := learning.NewLoop(st)
	manager := workflow.NewManager(st, loop, cfg.Images.Root)
	runner := pipeline.NewRunner(cfg, pipeline.Deps{
		Store:    st,
		Provider: search.NewProvider(cfg.Search),
		Clip:     clip.NewService(cfg.Clip),
		OCR:      extractor,
		Engine:   decision.New(cfg.Decision),
		Loop:     loop,
		Workflow: manager,
	})

	return &appEnv{
		store:   st,
		loop:    loop,
		manager: manager,
		runner:  runner,
	}, nil
}

func (e *appEnv) Close() {
	_ = e.store.Close()
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
