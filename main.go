package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"claudebridge/internal/auth"
	"claudebridge/internal/config"
	"claudebridge/internal/kv"
	"claudebridge/internal/logger"
	"claudebridge/internal/server"
	"claudebridge/internal/service"
	"claudebridge/internal/thinking"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "claudebridge",
		Short:   "OpenAI-compatible API proxy for Anthropic OAuth accounts",
		Version: version,
	}

	rootCmd.AddCommand(startCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var (
		port    int
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real deployments set the environment directly.
			if err := godotenv.Load(); err == nil {
				slog.Debug("loaded .env file")
			}

			cfg := config.Load()
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			logLevel := slog.LevelInfo
			if verbose || cfg.Debug {
				logLevel = slog.LevelDebug
				cfg.Debug = true
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: logLevel,
			})))

			slog.Info("claudebridge", "version", version)

			remote := kv.FromConfig(cfg)

			var credStore auth.CredentialStore
			if remote != nil {
				slog.Info("using remote credential store")
				credStore = auth.NewKVStore(remote)
			} else {
				slog.Info("using local credential file", "path", cfg.CredentialFile)
				credStore = auth.NewFileStore(cfg.CredentialFile)
			}

			manager := auth.NewManager(credStore)
			login := auth.NewLogin(manager)
			cache := thinking.NewCache(remote, cfg.ThinkingCacheTTL)
			client := service.NewClient()

			if manager.Authenticated(cmd.Context()) {
				slog.Info("existing OAuth credential found")
			} else {
				slog.Warn("not authenticated; open the web UI to log in",
					"url", fmt.Sprintf("http://localhost:%d/", cfg.Port))
			}
			slog.Info("thinking cache", "persistent", cache.Persistent(), "ttl", cfg.ThinkingCacheTTL)

			srv := server.New(server.Options{
				Port:   cfg.Port,
				Auth:   manager,
				Login:  login,
				Cache:  cache,
				Client: client,
			})

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				slog.Info("shutting down...")
				logger.CloseAll()
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()

			fmt.Println()
			fmt.Printf("  claudebridge is running on http://localhost:%d\n", cfg.Port)
			fmt.Println()

			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 9095, "port to listen on")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	return cmd
}
