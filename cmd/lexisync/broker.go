package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lexisync/lexisync/internal/broker"
	"github.com/lexisync/lexisync/internal/config"
)

func newBrokerCmd() *cobra.Command {
	var listen, signKey string

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the rendezvous broker",
		Long: `Run the rendezvous broker that pairs devices and relays their
traffic. Metrics are exposed on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBroker(listen, signKey)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "token signing key (overrides config)")
	return cmd
}

func runBroker(listenFlag, signKeyFlag string) error {
	setupLogging()

	cfg := &config.BrokerConfig{}
	if cfgFile != "" {
		loaded, err := config.LoadBrokerConfig(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg.ApplyDefaults()
	}
	if listenFlag != "" {
		cfg.Listen = listenFlag
	}
	if signKeyFlag != "" {
		cfg.SignKey = signKeyFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	srv := broker.NewServer(broker.Config{
		SignKey:     cfg.SignKey,
		SessionTTL:  config.Duration(cfg.SessionTTL),
		PairTimeout: config.Duration(cfg.PairTimeout),
		TokenTTL:    config.Duration(cfg.TokenTTL),
	})

	ctx, cancel := interruptContext()
	defer cancel()

	stop := make(chan struct{})
	go srv.Janitor(stop)
	defer close(stop)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Msg("broker listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down broker")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
