package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"crimewatch/internal/config"
	"crimewatch/internal/logging"
)

var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "crimewatch",
	Short: "Crime reporting service backed by a simulated ledger",
	Long: `crimewatch accepts crime reports, records them on a simulated ledger
and aggregates community verifications.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path := viper.GetString("config"); path != "" {
			viper.SetConfigFile(path)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("read config: %w", err)
			}
		}

		l, err := logging.New(viper.GetString("log.level"), viper.GetString("log.format"))
		if err != nil {
			return err
		}
		logger = l
		if f := viper.ConfigFileUsed(); f != "" {
			logger.Debug("using config file", zap.String("file", f))
		}
		return nil
	},
}

func init() {
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default crimewatch.yaml in ., $HOME/.crimewatch or /etc/crimewatch)")
	flags.StringP("log-level", "l", "info", "log level (debug|info|warn|error)")
	flags.String("log-format", "json", "log format (json|console)")
	bindFlag("config", flags.Lookup("config"))
	bindFlag("log.level", flags.Lookup("log-level"))
	bindFlag("log.format", flags.Lookup("log-format"))

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	viper.SetConfigName("crimewatch")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.crimewatch")
	viper.AddConfigPath("/etc/crimewatch")

	viper.SetEnvPrefix("crimewatch")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, statusCmd, versionCmd)
}

func bindFlag(key string, f *pflag.Flag) {
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
