package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexisync/lexisync/internal/metrics"
	"github.com/lexisync/lexisync/internal/session"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <session-id>",
		Short: "Join a session and run a two-way vocabulary merge",
		Long: `Join the session another device is hosting and run one sync round:
both devices exchange the entries changed since their last sync and
merge them, newest version winning, review schedules preserved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(args[0])
		},
	}
}

func runSync(sessionID string) error {
	setupLogging()

	ctx, cancel := interruptContext()
	defer cancel()

	cfg, err := loadDeviceConfig()
	if err != nil {
		return err
	}
	if cfg.Profile.SourceLanguage == "" {
		return fmt.Errorf("sync requires a profile in the config file")
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	p := buildPeer(cfg, st)
	defer p.Disconnect("shutting down")

	if err := p.Join(ctx, sessionID); err != nil {
		return fmt.Errorf("join session: %w", err)
	}

	fmt.Printf("Verification code: %s\n", p.VerificationCode())
	fmt.Println("Ask the other device to enter this code.")

	if err := waitForState(ctx, p, session.StateConnected); err != nil {
		return err
	}

	stats, err := p.Sync(ctx)
	m := metrics.Init(nil)
	if err != nil {
		m.SyncRounds.WithLabelValues("error").Inc()
		return fmt.Errorf("sync: %w", err)
	}
	m.SyncRounds.WithLabelValues("ok").Inc()

	fmt.Println("Sync complete:")
	fmt.Printf("  received new entries:  %d\n", stats.RemoteAdded)
	fmt.Printf("  received updates:      %d\n", stats.LocalUpdated)
	fmt.Printf("  sent new entries:      %d\n", stats.LocalAdded)
	fmt.Printf("  sent updates:          %d\n", stats.RemoteUpdated)
	fmt.Printf("  total entries:         %d\n", stats.TotalMerged)
	return nil
}
