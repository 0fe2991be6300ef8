// lexisync synchronizes vocabulary collections between devices over a
// rendezvous broker.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexisync",
		Short: "lexisync - device-to-device vocabulary synchronization",
		Long: `lexisync pairs two devices through a rendezvous broker and keeps
their vocabulary collections in sync.

QUICK START:

  # On the receiving device: host a session. The session ID is printed
  # (and shown as a QR code) for the other device.
  lexisync receive

  # On the sending device: join with the session ID. A 6-digit code is
  # displayed; type it on the receiving device to verify the pairing.
  lexisync send ABC123 deck-backup.json

  # Run a two-way merge of both vocabularies:
  lexisync sync ABC123

  # Run your own broker:
  lexisync broker --listen :8443

For more help on any command, use: lexisync <command> --help`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	rootCmd.AddCommand(newBrokerCmd())
	rootCmd.AddCommand(newReceiveCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newInitCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("lexisync %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
