package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/speechstream/pkg/voice"
)

const defaultConfigTemplate = `# speechstream configuration

server:
  # websocket endpoint of the voice server
  url: ""
  # bearer token, if the server requires authentication
  token: ""
  # per-request activity deadline; refreshed by every inbound chunk
  request_timeout: 10s
  # reconnect attempts after an unexpected disconnect; 0 retries forever
  reconnect_attempts: 5
  reconnect_delay: 2s

audio:
  sample_rate: 16000
  channels: 1
  # buffered seconds before a clip counts as playable
  ready_threshold: 0.5
  # upper bound on a single clip's length
  max_clip_seconds: 300

runtime_cache:
  # lru or refcounted
  policy: lru
  max_clips: 64
  max_kb: 65536

disk_cache:
  enabled: true
  # persistent, temporary or preload
  location: persistent
  relative_path: clips
  compression: true

debug: false
`

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
		RunE:  runConfigShow,
	}

	configInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		RunE:  runConfigInit,
	}

	configPathCmd = &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(*cobra.Command, []string) error {
			fmt.Println(configFile)
			return nil
		},
	}
)

func init() {
	configCmd.AddCommand(configInitCmd, configPathCmd)
}

func runConfigShow(*cobra.Command, []string) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("no config file at %s; run `speechstream config init`\n", configFile)
			return nil
		}
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(*cobra.Command, []string) error {
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("%s already exists", configFile)
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	// The template must stay loadable and valid apart from the empty URL.
	cfg, err := voice.LoadConfig(configFile)
	if err != nil {
		return err
	}
	cfg.Server.URL = "wss://placeholder.invalid"
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	fmt.Printf("wrote %s\n", configFile)
	return nil
}
