package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VOICEID_SERVER_PORT.
const EnvPrefix = "VOICEID"

// legacyEnv maps the unprefixed variable names older deployments use.
var legacyEnv = map[string]string{
	"server.api_key":  "API_KEY",
	"store.dsn":       "DATABASE_URL",
	"model.dimension": "EMBEDDING_DIM",
}

// defaultSearchPaths are tried in order when no config file is given.
var defaultSearchPaths = []string{
	"config/config.yaml",
	"config/config.yml",
	"config.yaml",
}

// Options controls where Load looks for configuration.
type Options struct {
	ConfigFile string // explicit YAML path; empty means search defaultSearchPaths
	EnvFile    string // explicit .env path; empty means ".env" when present
}

// Load reads YAML config, a .env file and environment overrides, then
// applies defaults and validates the result.
func Load(opts Options) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if fileExists(envFile) {
		// Existing process env wins over .env entries.
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")

	configFile := opts.ConfigFile
	if configFile == "" {
		for _, p := range defaultSearchPaths {
			if fileExists(p) {
				configFile = p
				break
			}
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnv registers every config key with viper so AutomaticEnv-style
// overrides reach Unmarshal even when the key is absent from the file.
func bindEnv(v *viper.Viper) error {
	for _, key := range configKeys(reflect.TypeOf(Config{}), "") {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		names := []string{key, envName}
		if legacy, ok := legacyEnv[key]; ok {
			names = append(names, legacy)
		}
		if err := v.BindEnv(names...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

// configKeys lists dotted mapstructure keys for every leaf field of t.
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		if prefix != "" {
			name = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(f.Type, name)...)
			continue
		}
		keys = append(keys, name)
	}
	return keys
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
