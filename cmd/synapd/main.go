// Package main implements synapd, the single bootstrap binary for a synap
// node: a cobra root command with a "serve" subcommand that runs the
// storage engine and a "coordinator" subcommand that runs the cluster's
// registration/health control plane, mirroring cuemby-warren/cmd/warren's
// rootCmd-plus-subcommand shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/synaplabs/synap/internal/telemetry"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"

	cfgFile string
	v       = viper.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "synapd: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "synapd",
	Short:   "synapd runs a synap storage node or cluster coordinator",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit structured JSON logs")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(coordinatorCmd)
}

func initLogging() {
	telemetry.Init(telemetry.Config{
		Level: v.GetString("log.level"),
		JSON:  v.GetBool("log.json"),
	})
}
