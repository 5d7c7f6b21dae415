package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"deftheim/internal/rpc"
	"deftheim/internal/watcher"
)

const defaultListen = "127.0.0.1:7420"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the command API over HTTP",
	Long: `Serve the command API for the desktop shell.

Commands are invoked with POST /api/v1/invoke/<command> and a JSON body
holding the arguments. The mod repository and the plugins directory are
watched and rescanned when they change.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveNoWatch bool

func init() {
	flags := serveCmd.Flags()
	flags.String(keyListen, defaultListen, "address to listen on")
	flags.StringSlice(keyCORSOrigin, nil, "allowed CORS origin (repeatable)")
	flags.BoolVar(&serveNoWatch, "no-watch", false, "do not watch directories for changes")

	for _, key := range []string{keyListen, keyCORSOrigin} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	svc, err := openService(logrus.InfoLevel, true)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !serveNoWatch {
		w, err := watcher.New(svc.Service, svc.log)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		defer func() {
			if err := w.Stop(); err != nil {
				svc.log.WithError(err).Warn("stopping watcher")
			}
		}()
	}

	handler := rpc.NewRouter(&rpc.RouterDeps{
		Log:         svc.log,
		Dispatcher:  rpc.NewDispatcher(svc.Service, svc.log),
		CORSOrigins: viper.GetStringSlice(keyCORSOrigin),
		Version:     version,
	})
	srv := &http.Server{
		Addr:              viper.GetString(keyListen),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		svc.log.WithField("addr", srv.Addr).Info("serving command API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	svc.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
