package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xyl2024/Mini-Agent-Web/agentloop"
	"github.com/xyl2024/Mini-Agent-Web/server"
	"github.com/xyl2024/Mini-Agent-Web/store"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve agent sessions over HTTP",
	Long: `Serve agent sessions over HTTP. Histories are kept in PostgreSQL when
server.database_url is set and in memory otherwise. Idle sessions are
unloaded after server.session_timeout and restored from the store on use.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if addrFlag != "" {
			cfg.Server.Addr = addrFlag
		}
		logger := newLogger()

		client, err := cfg.NewClient(logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var histories store.HistoryStore
		if cfg.Server.DatabaseURL != "" {
			pg, err := store.NewPostgresStore(cfg.Server.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to initialize session database: %w", err)
			}
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return fmt.Errorf("failed to migrate session database: %w", err)
			}
			histories = pg
		} else {
			logger.Warn("server.database_url not set, sessions are kept in memory")
			histories = store.NewMemoryStore()
		}
		defer histories.Close()

		manager := agentloop.NewSessionManager(sessionFactory(cfg, client, logger), cfg.Server.SessionTimeout)
		manager.SetLogger(logger)
		defer manager.Close()
		manager.StartJanitor(ctx, janitorInterval(cfg.Server.SessionTimeout))

		srv := server.New(manager, histories, logger)
		fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", cfg.Server.Addr)
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides server.addr)")
}

// janitorInterval checks for idle sessions a few times per timeout.
func janitorInterval(timeout time.Duration) time.Duration {
	interval := timeout / 4
	if interval < time.Second {
		return time.Second
	}
	if interval > 5*time.Minute {
		return 5 * time.Minute
	}
	return interval
}
