package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix for environment variable overrides.
// GRIDETL_CACHE_ROOT sets cache_root; a double underscore descends into
// nested keys, so GRIDETL_FETCH__TIMEOUT sets fetch.timeout.
const EnvPrefix = "GRIDETL_"

// findConfigFile finds the config file to use.
// Priority: explicit path > gridetl.yaml > gridetl.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat("gridetl.yaml"); err == nil {
		return "gridetl.yaml"
	}
	if _, err := os.Stat("gridetl.yml"); err == nil {
		return "gridetl.yml"
	}
	return ""
}

// Load builds the configuration from defaults, an optional YAML file,
// environment variables, and explicitly set flags, in that order of
// increasing precedence.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	cfgFile = findConfigFile(cfgFile)
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// 3. Environment variables (GRIDETL_ prefix)
	// Transform: GRIDETL_FETCH__TIMEOUT -> fetch.timeout
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			// Transform kebab-case to snake_case, with dashes marking
			// nesting for the structured flags.
			key := strings.ReplaceAll(f.Name, "-", "_")
			switch key {
			case "fetch_timeout":
				return "fetch.timeout", posflag.FlagVal(flags, f)
			case "fetch_retries":
				return "fetch.retries", posflag.FlagVal(flags, f)
			case "destination":
				return "destination.type", posflag.FlagVal(flags, f)
			case "db_path":
				return "destination.path", posflag.FlagVal(flags, f)
			case "parquet_dir":
				return "parquet.dir", posflag.FlagVal(flags, f)
			case "populate_remote_cache":
				// The flag asks to write through; the config models the
				// layer as not read-only.
				return "remote_cache.read_only", !mustBool(flags, f.Name)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Secrets support ${VAR} expansion so they stay out of config files.
	cfg.Fetch.Token = expandEnvVars(cfg.Fetch.Token)
	cfg.Destination.DSN = expandEnvVars(cfg.Destination.DSN)

	cfg.CacheRoot = filepath.Clean(cfg.CacheRoot)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mustBool(flags *pflag.FlagSet, name string) bool {
	v, _ := flags.GetBool(name)
	return v
}

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}
