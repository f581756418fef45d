package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vonshlovens/tripsync/internal/api"
	"github.com/vonshlovens/tripsync/internal/config"
	"github.com/vonshlovens/tripsync/internal/db"
	"github.com/vonshlovens/tripsync/internal/sync"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "tripsync",
		Short:   "Travel diary sync client",
		Long:    `Keeps a local travel diary (trips, records and photos) in sync with the diary service.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(os.Stderr)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		initCmd(),
		loginCmd(),
		logoutCmd(),
		whoamiCmd(),
		syncCmd(),
		daemonCmd(),
		statusCmd(),
		migrateCmd(),
		tripsCmd(),
		exportCmd(),
		importCmd(),
		devserverCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(w io.Writer) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}

// app bundles what most commands need
type app struct {
	cfg    *config.Config
	store  *db.DB
	state  *sync.StateTracker
	client *api.Client
}

// openApp loads the configuration, opens and migrates the local store and
// prepares an authenticated client
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	store, err := db.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	if err := store.RunMigrations(ctx); err != nil {
		store.Close()
		return nil, err
	}

	state, err := sync.NewStateTracker(cfg.DataDir, cfg.Remote.BaseURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	a := &app{cfg: cfg, store: store, state: state}
	a.client = api.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout())
	a.client.SetCredentials(a.credentials())
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// credentials reuses the stored token and logs in again with the configured
// password once it expires
func (a *app) credentials() api.CredentialProvider {
	username := a.state.Username()
	if username == "" {
		username = a.cfg.Remote.Username
	}
	return api.NewPasswordLogin(a.client, username, a.cfg.Remote.Password, a.state.Token(), func(token string) {
		a.state.SetLogin(username, token)
		if err := a.state.Save(); err != nil {
			slog.Warn("failed to save token", "error", err)
		}
	})
}

func (a *app) requireLogin() error {
	if a.state.LoggedIn() || (a.cfg.Remote.Username != "" && a.cfg.Remote.Password != "") {
		return nil
	}
	return fmt.Errorf("%w: run 'tripsync login' first", sync.ErrNotLoggedIn)
}

func (a *app) engine() *sync.Engine {
	return sync.NewEngine(a.store, a.client, a.state, sync.OptionsFromConfig(a.cfg))
}

func prompt(reader *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactive setup to create config file",
		Long:  `Interactively creates a configuration file for the diary service and the local store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(os.Stdin)
			defaults := config.DefaultConfig()

			fmt.Println("=== tripsync setup ===")
			fmt.Println()

			baseURL := prompt(reader, "Diary service URL", defaults.Remote.BaseURL)
			username := prompt(reader, "Username", "")
			driver := prompt(reader, "Local store (sqlite/postgres)", defaults.Store.Driver)

			var store string
			switch driver {
			case "sqlite":
				store = "store:\n  driver: sqlite\n"
			case "postgres":
				host := prompt(reader, "  Postgres host", "localhost")
				port := prompt(reader, "  Postgres port", "5432")
				user := prompt(reader, "  Postgres user", "")
				database := prompt(reader, "  Postgres database", "")
				if database == "" {
					return fmt.Errorf("database name is required")
				}
				schema := prompt(reader, "  Schema", config.SanitizeIdentifier(username))
				sslMode := prompt(reader, "  SSL mode", defaults.Store.Postgres.SSLMode)
				store = fmt.Sprintf(`store:
  driver: postgres
  postgres:
    host: "%s"
    port: %s
    user: "%s"
    password: "${TRIPSYNC_DB_PASSWORD}"
    database: "%s"
    schema: "%s"
    sslmode: "%s"
`, host, port, user, database, schema, sslMode)
			default:
				return fmt.Errorf("unknown store driver %q", driver)
			}

			configContent := fmt.Sprintf(`%s
remote:
  base_url: "%s"
  username: "%s"
  password: "${TRIPSYNC_PASSWORD}"  # optional, enables automatic re-login
  timeout_sec: %d

sync:
  concurrency: %d
  interval_sec: %d
  debounce_ms: %d
  retry_attempts: %d
  show_progress: true
`, store, baseURL, username, defaults.Remote.TimeoutSec,
				defaults.Sync.Concurrency, defaults.Sync.IntervalSec,
				defaults.Sync.DebounceMs, defaults.Sync.RetryAttempts)

			configDir, err := config.GetStateDir()
			if err != nil {
				return err
			}
			configPath := filepath.Join(configDir, "config.yaml")

			if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}

			fmt.Printf("\nConfig file written to: %s\n", configPath)
			fmt.Println("\nTo sign in, run: tripsync login")
			fmt.Println("To sync once, run: tripsync sync")
			fmt.Println("To keep syncing in the background, run: tripsync daemon")
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the diary service",
		Long:  `Exchanges a username and password for an access token and stores it for later runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			reader := bufio.NewReader(os.Stdin)
			if username == "" {
				username = prompt(reader, "Username", a.cfg.Remote.Username)
			}
			if password == "" {
				password = a.cfg.Remote.Password
			}
			if password == "" {
				password = prompt(reader, "Password", "")
			}

			token, err := a.client.CreateToken(ctx, username, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			a.state.SetLogin(username, token.AccessToken)
			if err := a.state.Save(); err != nil {
				return fmt.Errorf("failed to save login: %w", err)
			}

			a.client.SetCredentials(api.StaticToken(token.AccessToken))
			user, err := a.client.ReadUser(ctx)
			if err != nil {
				return fmt.Errorf("token issued but user lookup failed: %w", err)
			}

			fmt.Printf("Logged in as %s.\n", user.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (prompted when omitted)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the login and delete the local diary",
		Long:  `Clears the stored token and sync cursor and removes all local trips, records and photos.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			a.state.Clear()
			if err := a.state.Save(); err != nil {
				return fmt.Errorf("failed to save state: %w", err)
			}

			deleted, err := a.store.DeleteWhere(ctx, db.Filter{IncludeDeleted: true})
			if err != nil {
				return fmt.Errorf("failed to clear local diary: %w", err)
			}

			fmt.Printf("Logged out. Removed %d local trips.\n", deleted)
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.requireLogin(); err != nil {
				return err
			}

			user, err := a.client.ReadUser(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local store and sync info",
		Long:  `Shows the local store, the signed-in account, the sync cursor and entity counts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.store.GetStatus(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}
			schemaVersion, err := a.store.MigrationVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to get schema version: %w", err)
			}

			fmt.Println("=== tripsync status ===")
			fmt.Printf("Local Store: %s (schema v%d)\n", status.Driver, schemaVersion)
			if status.Driver == db.DriverSQLite {
				fmt.Printf("  Path: %s\n", a.cfg.SQLitePath())
			} else {
				fmt.Printf("  Host: %s\n", a.cfg.Store.Postgres.Host)
				fmt.Printf("  Schema: %s\n", a.cfg.Store.Postgres.Schema)
			}
			fmt.Println()
			fmt.Printf("Remote: %s\n", a.cfg.Remote.BaseURL)
			if a.state.LoggedIn() {
				fmt.Printf("  Account: %s\n", a.state.Username())
			} else {
				fmt.Printf("  Account: not logged in\n")
			}
			if cursor := a.state.Cursor(); cursor != nil {
				fmt.Printf("  Last Sync: %s\n", cursor.Local().Format(time.RFC3339))
			} else {
				fmt.Printf("  Last Sync: never\n")
			}
			fmt.Println()
			fmt.Printf("Diary:\n")
			fmt.Printf("  Trips: %d\n", status.Trips)
			fmt.Printf("  Records: %d\n", status.Records)
			fmt.Printf("  Photos: %d\n", status.Photos)
			fmt.Printf("  Tombstones: %d\n", status.Tombstones)
			if status.LatestUpdate != nil {
				fmt.Printf("  Last Edit: %s\n", status.LatestUpdate.Local().Format(time.RFC3339))
			}

			changed, err := a.engine().HasLocalChanges(ctx)
			if err == nil && changed {
				fmt.Println("\nLocal changes are waiting to be synced.")
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run local store migrations",
		Long:  `Runs all pending migrations against the configured local store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			store, err := db.New(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open local store: %w", err)
			}
			defer store.Close()

			if err := store.RunMigrations(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			schemaVersion, err := store.MigrationVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Migrations completed successfully (schema v%d).\n", schemaVersion)
			return nil
		},
	}
}

// describeError renders err for the terminal
func describeError(err error) string {
	var cycleErr *sync.CycleError
	if errors.As(err, &cycleErr) {
		var b strings.Builder
		fmt.Fprintf(&b, "%d items could not be applied:\n", len(cycleErr.Report.Failed()))
		for _, item := range cycleErr.Report.Failed() {
			fmt.Fprintf(&b, "  %s %s: %v\n", item.Kind, item.ID, item.Err)
		}
		return b.String()
	}

	var te *api.TransportError
	if errors.As(err, &te) && te.Unauthorized() {
		return "the diary service rejected the login; run 'tripsync login' again"
	}
	return err.Error()
}
