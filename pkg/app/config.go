package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/transitlive/pkg/log"
)

const configFlagName = "config"

var cfgFile string

// EnvPrefix prefixes environment overrides, e.g. TRANSITLIVE_MQTT_BROKER.
const EnvPrefix = "TRANSITLIVE"

func addConfigFlag(basename string, fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile,
		fmt.Sprintf("Read configuration from the specified file; %s_* environment variables override it.", EnvPrefix))
}

// loadConfig reads the config file, if any, and binds environment overrides.
func loadConfig(v *viper.Viper, file string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file == "" {
		return nil
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file %s: %w", file, err)
	}
	fmt.Fprintf(os.Stderr, "Using config file: %s\n", v.ConfigFileUsed())
	return nil
}

// watchLogLevel applies log.level edits of the config file without a restart.
func watchLogLevel(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		level := v.GetString("log.level")
		if err := log.SetLevel(level); err != nil {
			log.Error(err, "Ignoring log level from edited config", "file", e.Name)
			return
		}
		log.Info("Log level reloaded", "file", e.Name, "level", level)
	})
	v.WatchConfig()
}
