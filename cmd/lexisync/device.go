package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexisync/lexisync/internal/config"
	"github.com/lexisync/lexisync/internal/metrics"
	"github.com/lexisync/lexisync/internal/peer"
	"github.com/lexisync/lexisync/internal/session"
	"github.com/lexisync/lexisync/internal/store"
	"github.com/lexisync/lexisync/internal/transfer"
	"github.com/lexisync/lexisync/internal/transport"
	"github.com/lexisync/lexisync/pkg/bytesize"
)

// loadDeviceConfig loads the device config from --config, falling back
// to defaults when no file is given.
func loadDeviceConfig() (*config.DeviceConfig, error) {
	if cfgFile != "" {
		cfg, err := config.LoadDeviceConfig(cfgFile)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}

	cfg := &config.DeviceConfig{}
	cfg.ApplyDefaults()
	return cfg, nil
}

// openStore opens the vocabulary database under the data directory and
// records the configured profile.
func openStore(ctx context.Context, cfg *config.DeviceConfig) (*store.SQLite, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.OpenSQLite(filepath.Join(cfg.DataDir, "vocab.db"))
	if err != nil {
		return nil, err
	}

	if cfg.Profile.SourceLanguage != "" {
		if err := st.SetProfile(ctx, cfg.Profile.Vocab()); err != nil {
			st.Close()
			return nil, fmt.Errorf("store profile: %w", err)
		}
	}
	return st, nil
}

// buildPeer assembles a device endpoint against the configured broker.
func buildPeer(cfg *config.DeviceConfig, st store.Store) *peer.Peer {
	connector := transport.NewBrokerConnector(transport.Options{BrokerURL: cfg.Broker})
	m := metrics.Init(nil)

	return peer.New(peer.Config{
		Connector:      connector,
		Store:          st,
		Observers:      []session.Observer{m.SessionObserver()},
		OnFile:         fileSink(cfg.DownloadDir),
		OnText:         textSink(),
		ConnectTimeout: config.Duration(cfg.ConnectTimeout),
		IdleTimeout:    config.Duration(cfg.IdleTimeout),
		SyncTimeout:    config.Duration(cfg.SyncTimeout),
	})
}

// fileSink writes received files into the download directory.
func fileSink(dir string) transfer.FileFunc {
	return func(name, fileType string, data []byte) {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			log.Error().Err(err).Msg("create download dir")
			return
		}
		// Strip any path the sender put in the name
		target := filepath.Join(dir, filepath.Base(name))
		if err := os.WriteFile(target, data, 0o600); err != nil {
			log.Error().Err(err).Str("file", target).Msg("write received file")
			return
		}
		fmt.Printf("received %s (%s, %s) -> %s\n", name, bytesize.Format(int64(len(data))), fileType, target)
	}
}

func textSink() transfer.TextFunc {
	return func(content, contentType string, timestamp int64) {
		fmt.Printf("received text (%s):\n%s\n", contentType, content)
	}
}

// interruptContext returns a context cancelled on SIGINT/SIGTERM.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// waitForState polls until the session reaches the wanted state, the
// session disconnects, or the context ends.
func waitForState(ctx context.Context, p *peer.Peer, want session.State) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		switch p.State() {
		case want:
			return nil
		case session.StateDisconnected:
			if err := p.Session().LastError(); err != nil {
				return err
			}
			return fmt.Errorf("session disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
