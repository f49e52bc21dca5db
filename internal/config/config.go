// Package config loads the Kestrel configuration from defaults, an optional
// file and KESTREL_ environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. KESTREL_SERVER_PORT.
const EnvPrefix = "KESTREL"

// Load builds the configuration. KESTREL_TIER picks the tier defaults,
// then the file at path (if any) and the environment are layered on top.
// KESTREL_DEBUG=true forces debug logging.
func Load(path string) (*domain.Config, error) {
	cfg := defaultsFor(domain.Tier(os.Getenv(EnvPrefix + "_TIER")))

	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(cfg).Elem())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if debug, _ := strconv.ParseBool(os.Getenv(EnvPrefix + "_DEBUG")); debug {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func defaultsFor(tier domain.Tier) *domain.Config {
	switch tier {
	case domain.TierPro, domain.TierEnterprise:
		cfg := domain.ProConfig()
		cfg.Tier = tier
		return cfg
	default:
		return domain.DefaultConfig()
	}
}

// setDefaults registers every leaf field of the struct under its dotted
// mapstructure key, which is what lets AutomaticEnv see nested keys.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			name = field.Name
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}
