package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	logger  *zap.Logger
)

func main() {
	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "authgate: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("authgate exited with error", zap.Error(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Bearer-token gated user directory",
	Long: `authgate stores user identity records and serves them over HTTP to
callers presenting a valid HMAC-signed bearer token.

Configuration is read from configs/authgate.yaml or ./authgate.yaml and may be
overridden with environment variables such as AUTH_JWT_SECRET and DATABASE_URL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/authgate.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the authgate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "authgate %s\n", version)
	},
}
