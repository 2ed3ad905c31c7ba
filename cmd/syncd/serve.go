package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon with its control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if a.Config.APISecret == "" {
			log.Println("⚠️ SYNC_API_SECRET not set, control API will reject every request")
		}

		if err := a.Start(context.Background()); err != nil {
			return err
		}

		server := &http.Server{
			Addr:    ":" + a.Config.Port,
			Handler: a.Router(),
		}

		// Channel to listen for shutdown signals
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		serveErr := make(chan error, 1)
		go func() {
			log.Printf("🚀 syncd starting on port %s", a.Config.Port)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErr <- err
			}
		}()

		select {
		case sig := <-shutdown:
			log.Printf("⚠️ Received signal: %v. Shutting down gracefully...", sig)
		case err := <-serveErr:
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Println("✅ Shutdown complete")
		return nil
	},
}
