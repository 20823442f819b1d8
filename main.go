// Package main provides the entry point for the speechstream CLI.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/speechstream/pkg/voice"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	debug      bool
	serverURL  string
	token      string

	rootCmd = &cobra.Command{
		Use:   "speechstream",
		Short: "Stream synthesized speech from the command line",
		Long: "\nSynthesize, cache and play speech from a streaming voice server.\n" +
			"Clips are cached in memory and on disk, so repeated text plays\n" +
			"instantly and works offline.",
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig()
		},
	}
)

// scope resolves platform directories for config and caches.
var scope = gap.NewScope(gap.User, "speechstream")

// defaultConfigPath returns the platform config file location.
func defaultConfigPath() (string, error) {
	path, err := scope.ConfigPath("speechstream.yaml")
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

// initConfig wires viper to the config file and flag overrides.
func initConfig() error {
	if configFile == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return err
		}
		configFile = path
	}
	viper.SetConfigFile(configFile)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("speechstream")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	if debug {
		log.SetLevel(log.DebugLevel)
		voice.Logger().SetLevel(log.DebugLevel)
	}
	return nil
}

// loadConfig materializes the effective library configuration from defaults,
// config file, environment and flags, in that order.
func loadConfig() (voice.Config, error) {
	cfg := voice.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if token != "" {
		cfg.Server.Token = token
	}
	cfg.Debug = cfg.Debug || debug
	return cfg, nil
}

func init() {
	if len(CommitSHA) >= 7 { //nolint:mnd
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: platform config dir)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "voice server websocket URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token for the voice server")
	_ = viper.BindPFlag("server.url", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("server.token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(speakCmd, transcribeCmd, cacheCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
