package main

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/compliacert/extract-cli/internal/audit"
	"github.com/compliacert/extract-cli/internal/extractor"
	"github.com/compliacert/extract-cli/internal/orchestrator"
	"github.com/compliacert/extract-cli/internal/resilience"
	"github.com/compliacert/extract-cli/internal/settings"
	"github.com/compliacert/extract-cli/internal/store"
	"github.com/compliacert/extract-cli/pkg/claude"
	"github.com/compliacert/extract-cli/pkg/docintel"
)

// extractEnv holds the initialized store, clients and orchestrator shared by
// the extract/batch/serve commands.
type extractEnv struct {
	Store        store.Store
	Settings     *settings.Cache
	Registry     *extractor.Registry
	Breakers     *resilience.Pool
	Orchestrator *orchestrator.Orchestrator

	recorder *audit.Recorder
	docai    docintel.Client
}

// Close releases resources. The recorder drains its queue before the store
// closes, so submitted audit records are not lost on shutdown.
func (e *extractEnv) Close() {
	if e.recorder != nil {
		e.recorder.Close()
	}
	if e.docai != nil {
		_ = e.docai.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initExtraction sets up the store, registers every configured tier and
// builds the orchestrator. When sink is nil the async recorder is used.
// Callers should defer env.Close().
func initExtraction(ctx context.Context, sink orchestrator.AuditSink) (*extractEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &extractEnv{
		Store:    st,
		Settings: settings.NewCache(st, time.Duration(cfg.Extraction.SettingsTTLSecs)*time.Second),
		Registry: extractor.NewRegistry(),
		Breakers: resilience.NewPool(resilience.CircuitConfig{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			ResetTimeout:     time.Duration(cfg.Resilience.ResetTimeoutSecs) * time.Second,
		}),
	}

	// Free tiers are always available.
	env.Registry.Register(extractor.NewQRMetadata())
	tpl, err := extractor.NewTemplate()
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load template patterns")
	}
	env.Registry.Register(tpl)

	// AI tiers need an Anthropic key.
	if cfg.Anthropic.Key != "" {
		ai := claude.NewClient(cfg.Anthropic.Key)
		limiter := rate.NewLimiter(rate.Limit(cfg.Anthropic.RequestsPerSec), 1)
		env.Registry.Register(extractor.NewAIText(ai, cfg.Anthropic.TextModel, limiter))
		env.Registry.Register(extractor.NewVision(ai, cfg.Anthropic.VisionModel, limiter))
	} else {
		zap.L().Warn("EXTRACT_ANTHROPIC_KEY not set, AI tiers unavailable")
	}

	// Document intelligence tier (optional — skipped when not configured).
	if cfg.DocAI.Enabled {
		docai, err := docintel.NewClient(ctx)
		if err != nil {
			zap.L().Warn("document ai client init failed, tier unavailable", zap.Error(err))
		} else {
			env.docai = docai
			env.Registry.Register(extractor.NewDocIntel(docai))
		}
	}

	zap.L().Info("extractors registered", zap.Strings("tiers", env.Registry.List()))

	if sink == nil {
		env.recorder = audit.NewRecorder(st, cfg.Audit.QueueSize)
		sink = env.recorder
	}

	guard := resilience.DefaultGuardConfig()
	if cfg.Resilience.CallTimeoutSecs > 0 {
		guard.Timeout = time.Duration(cfg.Resilience.CallTimeoutSecs) * time.Second
	}
	if cfg.Resilience.MaxAttempts > 0 {
		guard.Retry.MaxAttempts = cfg.Resilience.MaxAttempts
	}

	env.Orchestrator = orchestrator.New(env.Registry, env.Breakers, env.Settings, sink).
		WithGuardConfig(guard)

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "extract.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// mimeForFile guesses the MIME type for an uploadable document from its
// extension. The analyzer sniffs magic bytes anyway; this is a hint.
func mimeForFile(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
