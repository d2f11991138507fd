// Package config resolves runtime settings from flags, an optional config
// file, and the environment, in that order of discovery.
package config

import (
	"log"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds everything the server needs at startup.
type Config struct {
	Addr            string
	AccountsBaseURL string
	DatabaseDSN     string
	DeckSeed        int64
}

// Init points viper at the config file (explicit path, else
// $HOME/.cardclash.yaml) and the environment. Missing files are fine; the
// environment alone is a complete configuration.
func Init(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".cardclash")
		}
	}
	viper.SetEnvPrefix("cardclash")
	viper.AutomaticEnv()
	viper.SetDefault("addr", ":8081")
	viper.SetDefault("accounts_base_url", "http://localhost:8080")
	viper.SetDefault("database_dsn", "")
	viper.SetDefault("deck_seed", 0)

	if err := viper.ReadInConfig(); err == nil {
		log.Printf("config: using %s", viper.ConfigFileUsed())
	}
}

// Load materializes the resolved settings.
func Load() Config {
	return Config{
		Addr:            viper.GetString("addr"),
		AccountsBaseURL: viper.GetString("accounts_base_url"),
		DatabaseDSN:     viper.GetString("database_dsn"),
		DeckSeed:        viper.GetInt64("deck_seed"),
	}
}
