package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/configentry"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/coordinator"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/hub"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/logging"
	"github.com/jake-scott/ojmicroline-bridge/internal/pkg/ojapi"
)

const envPrefix = "OJMICROLINE"

var _cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ojmicroline-bridge",
	Short: "Bridge OJ Microline floor heating thermostats onto a local API",

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		return logging.Configure(viper.GetViper())
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&_cfgFile, "config", "", "config file (default is $HOME/.ojmicroline.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().String("log-location", "stderr", "stdout, stderr or a file path")
	rootCmd.PersistentFlags().String("store", "~/.ojmicroline/entries.db", "SQLite database holding the config entries")
	rootCmd.PersistentFlags().String("driver", ojapi.SimulatorDriverName, "vendor API driver")

	errPanic(viper.GetViper().BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level")))
	errPanic(viper.GetViper().BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format")))
	errPanic(viper.GetViper().BindPFlag("logging.location", rootCmd.PersistentFlags().Lookup("log-location")))
	errPanic(viper.GetViper().BindPFlag("store.path", rootCmd.PersistentFlags().Lookup("store")))
	errPanic(viper.GetViper().BindPFlag("vendor.driver", rootCmd.PersistentFlags().Lookup("driver")))

	viper.SetDefault("coordinator.update-interval", coordinator.DefaultUpdateInterval)
	viper.SetDefault("coordinator.api-timeout", coordinator.DefaultAPITimeout)
	viper.SetDefault("coordinator.refresh-delay", coordinator.DefaultRefreshDelay)
	viper.SetDefault("hub.max-concurrent-setups", hub.DefaultMaxConcurrentSetups)
	viper.SetDefault("hub.setup-retry-interval", hub.DefaultSetupRetryInterval)
	viper.SetDefault("simulator.lag", "1500ms")
}

func initConfig() error {
	if _cfgFile != "" {
		viper.SetConfigFile(_cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return errors.Wrap(err, "finding home directory")
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".ojmicroline")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if _cfgFile != "" || !errors.As(err, &notFound) {
			return errors.Wrap(err, "reading config")
		}
	} else {
		logging.Logger(nil).Debugf("Using config file %s", viper.ConfigFileUsed())
	}

	return nil
}

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}

func checkRequiredFlags(needFlags ...string) error {
	missingFlags := []string{}

	for _, f := range needFlags {
		if !viper.IsSet(f) || viper.GetString(f) == "" {
			missingFlags = append(missingFlags, f)
		}
	}

	if len(missingFlags) > 0 {
		itemPlural := "item"
		if len(missingFlags) > 1 {
			itemPlural = "items"
		}
		return fmt.Errorf("required config %s `%s` not set", itemPlural, strings.Join(missingFlags, "`, `"))
	}

	return nil
}

// openStore opens the SQLite entry store, creating its directory if needed
func openStore() (*configentry.SQLiteStore, error) {
	path, err := homedir.Expand(viper.GetString("store.path"))
	if err != nil {
		return nil, errors.Wrap(err, "expanding store path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "creating store directory")
	}

	logging.Logger(nil).Debugf("Opening entry store %s", path)
	return configentry.OpenSQLite(path)
}

// hubSettings reads the coordinator and hub tuning out of viper
func hubSettings() hub.Settings {
	ojapi.ConfigureSimulator(viper.GetDuration("simulator.lag"))

	return hub.NewSettings().
		WithDriver(viper.GetString("vendor.driver")).
		WithUpdateInterval(viper.GetDuration("coordinator.update-interval")).
		WithAPITimeout(viper.GetDuration("coordinator.api-timeout")).
		WithRefreshDelay(viper.GetDuration("coordinator.refresh-delay")).
		WithMaxConcurrentSetups(viper.GetInt("hub.max-concurrent-setups")).
		WithSetupRetryInterval(viper.GetDuration("hub.setup-retry-interval"))
}
