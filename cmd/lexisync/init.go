package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const deviceConfigTemplate = `# lexisync device configuration
broker: http://localhost:8443
data_dir: ~/.lexisync
download_dir: ~/.lexisync/downloads

profile:
  id: %s
  name: My Vocabulary
  source_language: en
  target_language: es

connect_timeout: 15s
idle_timeout: 15m
sync_timeout: 30s
`

const brokerConfigTemplate = `# lexisync broker configuration
listen: ":8443"
sign_key: %s
session_ttl: 15m
pair_timeout: 30s
token_ttl: 30m
`

func newInitCmd() *cobra.Command {
	var server bool
	var outputDir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate example configuration files",
		Long: `Generate an example device.yaml, or with --broker a broker.yaml with
a fresh signing key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(server, outputDir)
		},
	}
	cmd.Flags().BoolVar(&server, "broker", false, "generate broker.yaml instead of device.yaml")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "output directory for config files")
	return cmd
}

func runInit(brokerCfg bool, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}

	randHex := func(n int) (string, error) {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		return hex.EncodeToString(buf), nil
	}

	if brokerCfg {
		key, err := randHex(32)
		if err != nil {
			return err
		}
		path := filepath.Join(outputDir, "broker.yaml")
		if err := writeIfAbsent(path, fmt.Sprintf(brokerConfigTemplate, key)); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	}

	id, err := randHex(8)
	if err != nil {
		return err
	}
	path := filepath.Join(outputDir, "device.yaml")
	if err := writeIfAbsent(path, fmt.Sprintf(deviceConfigTemplate, id)); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	fmt.Println("Edit the profile languages before syncing.")
	return nil
}

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
