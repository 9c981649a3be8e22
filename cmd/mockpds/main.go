// Command mockpds serves an in-memory Personal Data Server for trying pdsctl
// against without a real account.
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

	flag "github.com/spf13/pflag"

	"github.com/lucid-softworks/akari/internal/logging"
	"github.com/lucid-softworks/akari/internal/mockpds"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "mockpds: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mockpds", flag.ContinueOnError)
	addr := fs.StringP("addr", "a", "127.0.0.1:2583", "Listen address")
	accessTTL := fs.Duration("access-ttl", 2*time.Hour, "Lifetime of issued access tokens")
	accounts := fs.StringArray("account", []string{"alice.test:hunter2"}, "Account as handle:password[:did] (repeatable)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = logging.ParseLevel(*logLevel)
	logConfig.Component = "mockpds"
	if err := logging.InitGlobalLogger(logConfig); err != nil {
		return err
	}
	logger := logging.GetGlobalLogger()

	parsed := make([]mockpds.Account, 0, len(*accounts))
	for _, arg := range *accounts {
		acct, err := mockpds.ParseAccount(arg)
		if err != nil {
			return err
		}
		parsed = append(parsed, acct)
		logger.Info("Registered account", "handle", acct.Handle, "did", acct.DID)
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           mockpds.New(parsed, mockpds.WithAccessTTL(*accessTTL), mockpds.WithLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", *addr, "access_ttl", accessTTL.String())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Stopped")
	return nil
}
