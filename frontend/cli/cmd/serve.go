package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/furisto/parley/backend/agent"
	"github.com/furisto/parley/backend/api"
	"github.com/furisto/parley/backend/api/auth"
	"github.com/furisto/parley/backend/memory"
	"github.com/furisto/parley/backend/model"
	"github.com/furisto/parley/backend/ratelimit"
	"github.com/furisto/parley/backend/tool"
	"github.com/furisto/parley/frontend/cli/pkg/fail"
	"github.com/furisto/parley/shared/config"
	"github.com/furisto/parley/shared/listener"
	"github.com/posthog/posthog-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	ConfigFile  string
	EnvFile     string
	HTTPAddress string
	UnixSocket  string
}

func NewServeCmd() *cobra.Command {
	options := serveOptions{}
	cmd := &cobra.Command{
		Use:     "serve [flags]",
		Short:   "Run the chat API server",
		GroupID: "system",
		Args:    cobra.NoArgs,
		Long: `Run the chat API server.

The server listens on the address from the configuration unless --listen-http
or --listen-unix is given. When started by systemd or launchd with socket
activation, the inherited socket is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), options)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecrets(); err != nil {
				return fail.NewMissingSecretError(err)
			}

			return serve(cmd.Context(), cfg, options, slog.Default())
		},
	}

	cmd.Flags().StringVar(&options.ConfigFile, "config", "", "path to the configuration file (default <config dir>/config.yaml)")
	cmd.Flags().StringVar(&options.EnvFile, "env-file", ".env", "path to a .env file with secrets")
	cmd.Flags().StringVar(&options.HTTPAddress, "listen-http", "", "the address to listen on for HTTP requests")
	cmd.Flags().StringVar(&options.UnixSocket, "listen-unix", "", "the path to listen on for unix socket requests")

	return cmd
}

func loadConfig(ctx context.Context, options serveOptions) (*config.Config, error) {
	fs := getFileSystem(ctx)

	path := options.ConfigFile
	if path == "" {
		configDir, err := getUserInfo(ctx).ConfigDir()
		if err != nil {
			return nil, err
		}
		candidate := filepath.Join(configDir, "config.yaml")
		if exists, _ := afero.Exists(fs, candidate); exists {
			path = candidate
		}
	}

	return config.NewLoader(fs, getKeyring(ctx)).Load(path, options.EnvFile)
}

func serve(ctx context.Context, cfg *config.Config, options serveOptions, logger *slog.Logger) error {
	fs := getFileSystem(ctx)
	userInfo := getUserInfo(ctx)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dataDir := ""
	if cfg.Database.Path == "" || cfg.Attachments.Dir == "" {
		dir, err := userInfo.DataDir()
		if err != nil {
			return err
		}
		dataDir = dir
	}
	dbPath := firstNonEmpty(cfg.Database.Path, filepath.Join(dataDir, "parley.db"))
	attachmentsDir := firstNonEmpty(cfg.Attachments.Dir, filepath.Join(dataDir, "attachments"))

	store, err := memory.Open(ctx, dbPath, logger)
	if err != nil {
		return fail.EnhanceError(err, dbPath)
	}
	defer store.Close()

	catalog, err := model.NewCatalog(cfg.Specs()...)
	if err != nil {
		return err
	}

	primary, err := newProvider(cfg.Providers.Primary, registry, logger)
	if err != nil {
		return fmt.Errorf("primary provider: %w", err)
	}
	fallback, err := newProvider(cfg.Providers.Fallback, registry, logger)
	if err != nil {
		return fmt.Errorf("fallback provider: %w", err)
	}

	var searchOptions []tool.SerpAPIOption
	if cfg.Search.URL != "" {
		searchOptions = append(searchOptions, tool.WithSerpAPIURL(cfg.Search.URL))
	}
	serp, err := tool.NewSerpAPIBackend(cfg.Search.APIKey, searchOptions...)
	if err != nil {
		return err
	}
	search, err := tool.NewCachedBackend(serp, cfg.Search.CacheSize, cfg.Search.CacheTTL)
	if err != nil {
		return err
	}
	defer search.Close()

	limiter, err := ratelimit.NewLimiter(store,
		ratelimit.WithTimeframes(cfg.RateLimit.Timeframes...),
		ratelimit.WithBurst(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	)
	if err != nil {
		return err
	}
	defer limiter.Close()

	orchestrator, err := agent.NewOrchestrator(
		agent.Dependencies{
			Catalog:     catalog,
			Primary:     primary,
			Fallback:    fallback,
			History:     store,
			Prompts:     agent.NewPromptResolver(store, logger),
			Limiter:     limiter,
			Tools:       tool.NewExecutor(logger, tool.NewSearchTool(search)),
			Attachments: memory.NewFileAttachments(fs, attachmentsDir, logger),
		},
		agent.WithMaxToolRoundTrips(cfg.Agent.MaxToolRoundTrips),
		agent.WithLogger(logger),
		agent.WithMetrics(registry),
	)
	if err != nil {
		return err
	}

	var analyticsClient posthog.Client
	if cfg.Analytics.PostHogKey != "" {
		analyticsClient, err = posthog.NewWithConfig(cfg.Analytics.PostHogKey, posthog.Config{Endpoint: cfg.Analytics.PostHogEndpoint})
		if err != nil {
			return fmt.Errorf("failed to create analytics client: %w", err)
		}
		defer analyticsClient.Close()
	}

	handler := api.NewHandler(api.HandlerOptions{
		Orchestrator:  orchestrator,
		Conversations: store,
		Tokens:        auth.NewTokenProvider([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer),
		Analytics:     analyticsClient,
		Metrics:       registry,
		Logger:        logger,
	})

	httpAddress := options.HTTPAddress
	if httpAddress == "" && options.UnixSocket == "" && !listener.IsSocketActivation() {
		httpAddress = cfg.Server.Address
	}
	provider, err := listener.DetectProvider(httpAddress, options.UnixSocket)
	if err != nil {
		return err
	}
	l, err := provider.Create()
	if err != nil {
		return fail.EnhanceError(err, firstNonEmpty(options.UnixSocket, httpAddress))
	}
	defer provider.Close()

	server := api.NewServer(handler, "")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "server listening", "address", l.Addr().String(), "activation", provider.ActivationType())
		return server.Serve(l)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.InfoContext(context.Background(), "shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newProvider(cfg config.ProviderConfig, registry *prometheus.Registry, logger *slog.Logger) (model.Provider, error) {
	options := []model.ProviderOption{
		model.WithMetrics(registry),
		model.WithLogger(logger),
	}
	if cfg.BaseURL != "" {
		options = append(options, model.WithURL(cfg.BaseURL))
	}

	var (
		provider model.Provider
		err      error
	)
	switch cfg.Kind {
	case model.ProviderKindOpenAI:
		provider, err = model.NewOpenAIProvider(cfg.APIKey, options...)
	case model.ProviderKindAnthropic:
		provider, err = model.NewAnthropicProvider(cfg.APIKey, options...)
	default:
		err = fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return provider, nil
}
