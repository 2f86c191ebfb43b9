package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fraudScoringApp/config"
	"fraudScoringApp/internal/app"
	"fraudScoringApp/internal/domain/model"
	"fraudScoringApp/internal/infrastructure/storage"
	"fraudScoringApp/internal/lib/logger"
	"fraudScoringApp/internal/lib/logger/sl"
	"fraudScoringApp/internal/traces"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fraudScoringApp",
		Short:        "Asynchronous fraud scoring for payment transactions",
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(app.RoleServe, "Accept transactions over HTTP and serve decisions"),
		newRunCmd(app.RoleWorker, "Score queued transactions"),
		newRunCmd(app.RoleAll, "Run the HTTP front end and the scoring workers in one process"),
		newMigrateCmd(),
		newThresholdCmd(),
	)
	return root
}

func newRunCmd(role app.Role, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(role),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), role)
		},
	}
}

func run(parent context.Context, role app.Role) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Env, cfg.LogLevel).With(slog.String("role", string(role)))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, cfg.ModelVersion, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("failed to flush traces", sl.Err(err))
		}
	}()

	log.Info("initializing app")
	a, err := app.NewApp(ctx, log, cfg, role)
	if err != nil {
		log.Error("failed to initialize app", sl.Err(err))
		return err
	}

	if a.HTTPServer != nil {
		log.Info("http server listening", slog.String("port", cfg.HTTPPort))
	}

	err = a.Run(ctx)
	log.Info("service stopped")
	return err
}

// withStore opens the metadata database for one-off admin commands.
func withStore(ctx context.Context, fn func(*storage.PostgresMetadataStore) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	db, err := storage.OpenPostgres(ctx, cfg.MetadataDatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(storage.NewPostgresMetadataStore(db))
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <up|down|status|version|redo|reset> [args]",
		Short: "Run database migrations against DATABASE_URL and METADATA_DATABASE_URL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			urls := []string{cfg.DatabaseURL}
			if cfg.MetadataDatabaseURL != cfg.DatabaseURL {
				urls = append(urls, cfg.MetadataDatabaseURL)
			}
			for _, url := range urls {
				db, err := storage.OpenPostgres(ctx, url)
				if err != nil {
					return err
				}
				err = storage.Migrate(ctx, db, args[0], args[1:]...)
				_ = db.Close()
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newThresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Read or change the decision threshold",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the stored threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(store *storage.PostgresMetadataStore) error {
				c, err := store.GetConfig(cmd.Context())
				if err != nil {
					return err
				}
				cmd.Printf("%g (updated %s)\n", c.Threshold, c.UpdatedAt.Format(time.RFC3339))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <value>",
		Short: "Store a new threshold in [0,1]",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseThreshold(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(store *storage.PostgresMetadataStore) error {
				if err := store.SetThreshold(cmd.Context(), v); err != nil {
					return err
				}
				cmd.Printf("threshold set to %g\n", v)
				return nil
			})
		},
	})

	return cmd
}

func parseThreshold(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("threshold %q is not a number", s)
	}
	if !model.ValidThreshold(v) {
		return 0, fmt.Errorf("threshold %v outside [0,1]", v)
	}
	if !model.StorableThreshold(v) {
		return 0, fmt.Errorf("threshold %v has more than %d decimal places", v, model.ThresholdDecimals)
	}
	return v, nil
}
