package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lexisync/lexisync/internal/session"
	"github.com/lexisync/lexisync/pkg/bytesize"
)

func newSendCmd() *cobra.Command {
	var text string
	var maxSize string

	cmd := &cobra.Command{
		Use:   "send <session-id> [files...]",
		Short: "Join a session and send files or text",
		Long: `Join the session another device is hosting and send it files.

A 6-digit verification code is displayed after joining; the person at
the hosting device types it there to confirm the pairing. Transfers
start once verification completes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args[0], args[1:], text, maxSize)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "send a text snippet instead of (or in addition to) files")
	cmd.Flags().StringVar(&maxSize, "max-size", "32MB", "refuse files larger than this (e.g. 500KB, 32MB)")
	return cmd
}

func runSend(sessionID string, files []string, text, maxSize string) error {
	setupLogging()

	if len(files) == 0 && text == "" {
		return fmt.Errorf("nothing to send: pass files or --text")
	}

	limit, err := bytesize.Parse(maxSize)
	if err != nil {
		return fmt.Errorf("parse --max-size: %w", err)
	}

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

	if err := p.Join(ctx, sessionID); err != nil {
		return fmt.Errorf("join session: %w", err)
	}

	fmt.Printf("Verification code: %s\n", p.VerificationCode())
	fmt.Println("Ask the other device to enter this code.")

	if err := waitForState(ctx, p, session.StateConnected); err != nil {
		return err
	}
	fmt.Println("Devices paired.")

	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		if info.Size() > limit {
			return fmt.Errorf("%s is %s, over the %s limit", path,
				bytesize.Format(info.Size()), bytesize.Format(limit))
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		name := filepath.Base(path)
		fileType := mime.TypeByExtension(filepath.Ext(path))
		if fileType == "" {
			fileType = "application/octet-stream"
		}

		fmt.Printf("sending %s (%s)\n", name, bytesize.Format(int64(len(data))))
		_, err = p.SendFile(ctx, name, fileType, data, func(sent, total int) {
			if sent == total {
				fmt.Printf("  %s: %d/%d chunks\n", name, sent, total)
			}
		})
		if err != nil {
			return fmt.Errorf("send %s: %w", name, err)
		}
	}

	if text != "" {
		if err := p.SendText(ctx, text, "text/plain"); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
	}

	fmt.Println("Done.")
	return nil
}
