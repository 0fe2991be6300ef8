package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/lexisync/lexisync/internal/session"
)

func newReceiveCmd() *cobra.Command {
	var noQR bool

	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Host a session and wait for another device",
		Long: `Host a session on the broker. The session ID is printed (and shown
as a QR code) for the other device to join with.

When the other device joins it displays a 6-digit code; type that code
here to verify the pairing. The session then stays open to receive
files, text, and sync requests until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReceive(noQR)
		},
	}
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "do not render the session ID as a QR code")
	return cmd
}

func runReceive(noQR bool) error {
	setupLogging()

	ctx, cancel := interruptContext()
	defer cancel()

	cfg, err := loadDeviceConfig()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	p := buildPeer(cfg, st)
	defer p.Disconnect("shutting down")

	sessionID, err := p.Host(ctx)
	if err != nil {
		return fmt.Errorf("host session: %w", err)
	}

	fmt.Printf("Session ID: %s\n", sessionID)
	if !noQR {
		if qr, err := qrcode.New(sessionID, qrcode.Medium); err == nil {
			fmt.Println(qr.ToSmallString(false))
		}
	}
	fmt.Println("Waiting for the other device to join...")

	if err := waitForState(ctx, p, session.StateVerifying); err != nil {
		return err
	}

	// The joining device shows a 6-digit code; verification retries
	// until the sender accepts one.
	reader := bufio.NewReader(os.Stdin)
	for p.State() == session.StateVerifying {
		fmt.Print("Enter the code shown on the other device: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		code := strings.TrimSpace(line)
		if code == "" {
			continue
		}
		if err := p.SubmitCode(ctx, code); err != nil {
			return err
		}

		// A rejected code leaves the session in verifying; give the
		// sender a moment to arbitrate before re-prompting.
		outcome, cancelWait := context.WithTimeout(ctx, 5*time.Second)
		err = waitForState(outcome, p, session.StateConnected)
		cancelWait()
		if err == nil {
			break
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		fmt.Println("Code not accepted, try again.")
	}

	fmt.Println("Devices paired. Waiting for transfers; press Ctrl-C to stop.")

	<-ctx.Done()
	return nil
}
