// Package cli provides the docsync server's command-line interface:
// generate-credentials mints a new API key/secret pair, serve starts the
// sync server. Built with cobra + viper in the same shape as this
// codebase's other service entry points.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo/docsync/config"
	"github.com/evalgo/docsync/internal/obs"
)

var cfgFile string

// RootCmd is the docsync server's entry point.
var RootCmd = &cobra.Command{
	Use:   "docsync",
	Short: "Offline-first document sync server",
	Long: `docsync runs the authoritative sync server that reconciles offline
client mutations over an authenticated websocket protocol, or mints the
API credentials clients authenticate with.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.docsync.yaml)")
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(generateCredentialsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".docsync")
	}
	viper.SetEnvPrefix("DOCSYNC")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and flag defaults still apply.
		obs.Logger.WithError(err).Debug("cli: no config file loaded")
	}
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	servePort        int
	serveDatabaseURL string
	serveMasterKeyHex string
	serveMonitoring  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadServerConfig()
		if servePort != 0 {
			cfg.Port = servePort
		}
		if serveDatabaseURL != "" {
			cfg.DatabaseURL = serveDatabaseURL
		}
		if cmd.Flags().Changed("monitoring") {
			cfg.Monitoring = serveMonitoring
		}
		if cfg.Monitoring {
			obs.SetLevel(logrusDebugLevel())
		}

		masterKey, err := loadMasterKey(serveMasterKeyHex)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runServer(ctx, cfg, masterKey)
	},
}

var generateCredentialsCmd = &cobra.Command{
	Use:   "generate-credentials",
	Short: "Mint a new API key/secret pair for an embedding application",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			return fmt.Errorf("generate-credentials: --name is required")
		}
		cfg := config.LoadServerConfig()
		if serveDatabaseURL != "" {
			cfg.DatabaseURL = serveDatabaseURL
		}
		masterKey, err := loadMasterKey(serveMasterKeyHex)
		if err != nil {
			return err
		}
		return runGenerateCredentials(context.Background(), cfg, masterKey, name)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveDatabaseURL, "database-url", "", "Postgres connection string (overrides config)")
	serveCmd.Flags().StringVar(&serveMasterKeyHex, "master-key", "", "32-byte hex-encoded key sealing API credential secrets (overrides DOCSYNC_MASTER_KEY)")
	serveCmd.Flags().BoolVar(&serveMonitoring, "monitoring", false, "enable structured activity logging")

	generateCredentialsCmd.Flags().String("name", "", "name of the embedding application this credential identifies")
	generateCredentialsCmd.Flags().StringVar(&serveDatabaseURL, "database-url", "", "Postgres connection string (overrides config)")
	generateCredentialsCmd.Flags().StringVar(&serveMasterKeyHex, "master-key", "", "32-byte hex-encoded key sealing API credential secrets (overrides DOCSYNC_MASTER_KEY)")
}
