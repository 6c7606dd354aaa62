package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/fmeleard84/team-dash-manager-sub011/internal/app"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/config"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/db"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/migrate"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/server"
	"github.com/fmeleard84/team-dash-manager-sub011/internal/telemetry"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tdm",
	Short: "Team Dash booking coordinator",
	Long: `tdm matches project role requirements with workers and runs the booking race.
- Requirement: one role slot on a project (role, seniority, languages, expertises).
- Booking: draft -> searching -> accepted, or declined/expired. The first eligible claim wins.
- Synthetic roles are filled by the role's AI worker as soon as they open.
- Every transition is written to an event log that can be tailed or streamed.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger())
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TEAMDASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory holding teamdash.yml and the sqlite database")
	flags.String("db-driver", "sqlite", "database driver (sqlite|postgres)")
	flags.String("db-dsn", "", "database DSN (required for postgres)")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor recorded on events")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "text", "log format (text|json)")
	for _, name := range []string{"workspace", "db-driver", "db-dsn", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(requirementCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(jobsCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(viper.GetString("log-format"), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// runtimeConfig reads TEAMDASH_* variables and lets explicit flags win.
func runtimeConfig() (config.Runtime, error) {
	rt, err := config.ParseRuntime()
	if err != nil {
		return rt, err
	}
	flags := rootCmd.PersistentFlags()
	if flags.Changed("workspace") {
		rt.Workspace = viper.GetString("workspace")
	}
	if flags.Changed("db-driver") {
		rt.DBDriver = viper.GetString("db-driver")
	}
	if flags.Changed("db-dsn") {
		rt.DBDSN = viper.GetString("db-dsn")
	}
	return rt, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	rt, err := runtimeConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, rt, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actor() string {
	return viper.GetString("actor-id")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var workers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the outbox dispatcher and expiry sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := runtimeConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.Addr
			}
			shutdownTracing, err := telemetry.Setup(ctx, rt.OTelEndpoint, "tdm", version)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdownTracing(sctx)
			}()
			logger := slog.Default()
			a, err := app.Open(ctx, rt, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Feed:     a.Feed,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: rt.JWTSecret, Logger: logger},
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			bg := make(chan error, 1)
			if workers {
				go func() { bg <- a.Run(ctx) }()
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(sctx)
			}()
			logger.Info("serving booking API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", "/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			if workers {
				if err := <-bg; err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default TEAMDASH_ADDR or 127.0.0.1:8080)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&workers, "workers", true, "run the provisioning dispatcher and expiry sweep in-process")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := runtimeConfig()
			if err != nil {
				return err
			}
			conn, dialect, err := db.Open(db.Config{Driver: rt.DBDriver, DSN: rt.DBDSN, Workspace: rt.Workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn, dialect); err != nil {
				return err
			}
			v, err := migrate.Version(conn)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d (%s)\n", v, dialect)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage teamdash.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default teamdash.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			return yaml.NewEncoder(os.Stdout).Encode(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate teamdash.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
}
