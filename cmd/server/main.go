package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"cardclash/internal/accounts"
	"cardclash/internal/config"
	"cardclash/internal/game"
	"cardclash/internal/server"
	"cardclash/internal/store"
)

// Build metadata injected via -ldflags at build time
var buildVersion = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cardclash-server",
	Short: "Real-time two-player card challenge game server",
	PreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err == nil {
			log.Printf("config: loaded .env")
		}
		config.Init(cfgFile)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if err := run(cfg); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.cardclash.yaml)")
}

func run(cfg config.Config) error {
	var (
		sessions store.SessionStore
		stats    store.StatsStore
	)
	if cfg.DatabaseDSN != "" {
		pg, err := store.OpenPostgres(cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		sessions, stats = pg, pg
		log.Printf("store: using postgres")
	} else {
		mem := store.NewMemory()
		sessions, stats = mem, mem
		log.Printf("store: no DSN configured, using in-memory store")
	}

	seed := cfg.DeckSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	decks := game.NewProvisioner(nil, seed)
	auth := accounts.NewClient(cfg.AccountsBaseURL)
	hub := server.NewHub(sessions, stats, decks, auth)
	router := server.NewRouter(hub, buildVersion)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("cardclash server %s listening on %s (accounts=%s)", buildVersion, cfg.Addr, cfg.AccountsBaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
