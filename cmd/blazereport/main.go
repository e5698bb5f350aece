// Package main provides the blazereport server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazereport/internal/alerting"
	"github.com/good-yellow-bee/blazereport/internal/api"
	"github.com/good-yellow-bee/blazereport/internal/api/health"
	"github.com/good-yellow-bee/blazereport/internal/auth"
	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/logging"
	"github.com/good-yellow-bee/blazereport/internal/metrics"
	"github.com/good-yellow-bee/blazereport/internal/models"
	"github.com/good-yellow-bee/blazereport/internal/notifier"
	"github.com/good-yellow-bee/blazereport/internal/render"
	"github.com/good-yellow-bee/blazereport/internal/report"
	"github.com/good-yellow-bee/blazereport/internal/scheduler"
	"github.com/good-yellow-bee/blazereport/internal/storage"
	"github.com/good-yellow-bee/blazereport/pkg/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "blazereport",
	Short: "BlazeReport - scheduled reports and alerts",
	Long: `BlazeReport runs report and alert schedules: it renders charts and
dashboards, evaluates alert queries and delivers the results over email,
Slack, Teams and webhooks.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, REST API and metrics server",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.VersionString())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	if configFile != "" {
		return LoadConfig(configFile)
	}
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Server.LogFormat, cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)
	logger.Infow("starting blazereport", "version", config.Version, "commit", config.Commit)

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.api.Run(gctx) })
	if a.metrics != nil {
		g.Go(a.metrics.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
			defer cancel()
			return a.metrics.Shutdown(shutdownCtx)
		})
	}
	if err := a.scheduler.Start(gctx); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	err = g.Wait()
	if cfg.Scheduler.Enabled {
		<-a.scheduler.Done()
	}
	logger.Info("blazereport stopped")
	return err
}

// app holds the wired components.
type app struct {
	store      *storage.SQLiteStorage
	sources    *alerting.Datasources
	dispatcher *notifier.Dispatcher
	scheduler  *scheduler.Scheduler
	api        *api.Server
	metrics    *metrics.Server
	logger     *zap.SugaredLogger
}

func (a *app) close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.logger.Warnw("close notifiers", logging.FieldError, err)
		}
	}
	if a.sources != nil {
		if err := a.sources.Close(); err != nil {
			a.logger.Warnw("close datasources", logging.FieldError, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warnw("close database", logging.FieldError, err)
		}
	}
}

func build(ctx context.Context, cfg *Config, logger *zap.SugaredLogger) (*app, error) {
	a := &app{logger: logger}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	a.store = storage.NewSQLiteStorage(cfg.Database.Path, logger)
	if err := a.store.Open(ctx); err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := a.store.Migrate(ctx); err != nil {
		return nil, errors.Wrap(err, "migrate database")
	}
	logger.Infow("database initialized", "path", cfg.Database.Path)

	var err error
	a.sources, err = alerting.OpenDatasources(ctx, cfg.Alerting.Datasources, logger)
	if err != nil {
		return nil, err
	}
	evaluator := alerting.NewEvaluator(alerting.Config{QueryTimeout: cfg.Alerting.QueryTimeout}, a.sources, logger)

	tokens := auth.NewJWTService([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTTTL)
	producer, err := newProducer(cfg, tokens, logger)
	if err != nil {
		return nil, err
	}

	a.dispatcher, err = newDispatcher(cfg, a.store, logger)
	if err != nil {
		return nil, err
	}

	specs, err := auth.ParseExecutors(cfg.Executor.Types)
	if err != nil {
		return nil, err
	}
	resolver := auth.NewResolver(specs, a.store.Users(), tokens)

	machine := report.NewMachine(report.Deps{
		Schedules:          a.store.Schedules(),
		Logs:               a.store.ExecutionLogs(),
		Content:            producer,
		Evaluator:          evaluator,
		Notifier:           a.dispatcher,
		ErrorNotifyTimeout: cfg.Executor.ErrorNotifyTimeout,
		Logger:             logger,
	})
	command := report.NewCommand(a.store.Schedules(), resolver, machine, cfg.Features.Features, logger)

	a.scheduler = scheduler.New(scheduler.Config{
		Enabled:           cfg.Scheduler.Enabled,
		MaxWorkers:        cfg.Scheduler.MaxWorkers,
		SoftTimeout:       cfg.Scheduler.SoftTimeout,
		SyncInterval:      cfg.Scheduler.SyncInterval,
		PruneCron:         cfg.Scheduler.LogRetentionCron,
		ConcurrencyPolicy: cfg.Scheduler.ConcurrencyPolicy,
	}, command, a.store.Schedules(), a.store.ExecutionLogs(), logger)

	a.api, err = api.New(&api.Config{
		Address:          cfg.Server.HTTPAddress,
		RateLimitPerUser: cfg.Server.RateLimit,
		RunTimeout:       cfg.Server.RunTimeout,
	}, a.store, command, tokens, logger)
	if err != nil {
		return nil, errors.Wrap(err, "create api server")
	}
	if len(cfg.Alerting.Datasources) > 0 {
		a.api.RegisterHealthChecker(health.NewDatasourceChecker(a.sources))
	}

	if cfg.Server.MetricsAddress != "" {
		a.metrics = metrics.NewServer(cfg.Server.MetricsAddress, logger)
	}
	built = true
	return a, nil
}

func newProducer(cfg *Config, tokens *auth.JWTService, logger *zap.SugaredLogger) (*content.Producer, error) {
	service := &models.User{ID: cfg.Renderer.ServiceUser, Username: cfg.Renderer.ServiceUser, Role: models.RoleAdmin}
	permalinks := render.NewPermalinkClient(cfg.Webapp.BaseURL, func() (string, error) {
		return tokens.GenerateToken(service)
	}, cfg.Renderer.Config, logger)
	exporter := render.NewExporter(cfg.Renderer.Config, logger)

	var renderer content.Renderer
	if cfg.Renderer.RendererURL != "" {
		r, err := render.NewRenderer(cfg.Renderer.Config, logger)
		if err != nil {
			return nil, err
		}
		renderer = r
	} else {
		logger.Warn("renderer.renderer_url is not set, screenshot and pdf schedules will fail")
	}
	return content.NewProducer(cfg.Webapp, renderer, exporter, permalinks, logger), nil
}

func newDispatcher(cfg *Config, store storage.Storage, logger *zap.SugaredLogger) (*notifier.Dispatcher, error) {
	opts := []notifier.DispatcherOption{notifier.WithDryRun(cfg.Features.DryRun)}
	var slackClient *notifier.SlackClient
	if cfg.Notifiers.Slack != nil {
		var err error
		if slackClient, err = notifier.NewSlackClient(*cfg.Notifiers.Slack); err != nil {
			return nil, errors.Wrap(err, "slack client")
		}
		directory, err := notifier.NewSlackDirectory(slackClient, cfg.Notifiers.Slack.DirectorySize, cfg.Notifiers.Slack.DirectoryTTL)
		if err != nil {
			return nil, errors.Wrap(err, "slack directory")
		}
		opts = append(opts, notifier.WithMigrator(notifier.NewSlackMigrator(directory, store.Schedules(), logger)))
	}

	d := notifier.NewDispatcher(logger, opts...)
	if cfg.Notifiers.Email != nil {
		email, err := notifier.NewEmailNotifier(*cfg.Notifiers.Email)
		if err != nil {
			return nil, errors.Wrap(err, "email notifier")
		}
		d.Register(models.RecipientEmail, email)
	}
	if slackClient != nil {
		d.Register(models.RecipientSlack, notifier.NewSlackNotifier(slackClient))
		d.Register(models.RecipientSlackV2, notifier.NewSlackV2Notifier(slackClient))
	}
	d.Register(models.RecipientTeams, notifier.NewTeamsNotifier(cfg.Notifiers.Teams))
	d.Register(models.RecipientWebhook, notifier.NewWebhookNotifier(cfg.Notifiers.Webhook))
	return d, nil
}
