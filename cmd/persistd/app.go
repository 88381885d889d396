package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"simplepersist/internal/adapters/httpapi"
	"simplepersist/internal/config"
	"simplepersist/internal/hub"
	"simplepersist/internal/observability"
	"simplepersist/internal/persist"
	"simplepersist/internal/storage"
)

// application is the wired process: one opener and one hub shared by every
// configured store.
type application struct {
	Handler  http.Handler
	Registry *prometheus.Registry
	opener   storage.Opener
	hub      *hub.Hub
	logger   *slog.Logger
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	opener, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	app := &application{
		Registry: prometheus.NewRegistry(),
		opener:   opener,
		hub:      hub.New(hub.WithLogger(logger)),
		logger:   logger,
	}
	recorder, err := observability.NewPrometheusRecorder(app.Registry)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Registry.MustRegister(
		observability.NewHubCollector(app.hub.Stats),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	common := []persist.Option{
		persist.WithHub(app.hub),
		persist.WithLogger(logger),
		persist.WithMetrics(recorder),
	}
	for _, sc := range cfg.Stores {
		h, err := app.storeHandler(sc, common)
		if err != nil {
			app.Close()
			return nil, err
		}
		httpapi.Mount(mux, sc.MountPath(), h)
		logger.Info("mounted store", "name", sc.Name, "kind", sc.Kind, "path", sc.MountPath())
	}
	app.Handler = mux
	return app, nil
}

func (a *application) storeHandler(sc config.Store, common []persist.Option) (http.Handler, error) {
	hopts := []httpapi.Option{httpapi.WithLogger(a.logger)}
	if sc.TenantQuery != "" {
		hopts = append(hopts, httpapi.WithTenantResolver(httpapi.QueryTenant(sc.TenantQuery)))
	}
	opts := append([]persist.Option(nil), common...)
	switch storage.Kind(sc.Kind) {
	case storage.KindKeyValue:
		if sc.Validation != "" {
			rule, err := persist.CompileKeyValueRule(sc.Validation)
			if err != nil {
				return nil, fmt.Errorf("store %s: %w", sc.Name, err)
			}
			opts = append(opts, persist.WithKeyValueValidation(rule))
		}
		return httpapi.NewKeyValueHandler(persist.NewKeyValueService(sc.Name, a.opener, opts...), hopts...), nil
	case storage.KindCollection:
		if sc.Validation != "" {
			rule, err := persist.CompileCollectionRule(sc.Validation)
			if err != nil {
				return nil, fmt.Errorf("store %s: %w", sc.Name, err)
			}
			opts = append(opts, persist.WithCollectionValidation(rule))
		}
		return httpapi.NewCollectionHandler(persist.NewCollectionService(sc.Name, a.opener, opts...), hopts...), nil
	default:
		return nil, fmt.Errorf("store %s: unknown kind %q", sc.Name, sc.Kind)
	}
}

// Close drops every subscriber and releases the storage backend.
func (a *application) Close() {
	a.hub.Close()
	if closer, ok := a.opener.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("close storage", "error", err)
		}
	}
}
