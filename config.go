package hsm

import (
	"log/slog"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/stateforward/hsm-engine/clock"
)

// Config configures a Machine. The fields tagged "-" cannot be loaded from
// a document and are set in code.
type Config struct {
	// ID identifies the instance. Defaults to a UUIDv7.
	ID   string `mapstructure:"id" yaml:"id"`
	Name string `mapstructure:"name" yaml:"name"`
	// Initial overrides the graph's initial state.
	Initial              string        `mapstructure:"initial" yaml:"initial"`
	DisableAutoStart     bool          `mapstructure:"disable_auto_start" yaml:"disable_auto_start"`
	DisableAutoTerminate bool          `mapstructure:"disable_auto_terminate" yaml:"disable_auto_terminate"`
	ActionTimeout        time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PoolSize             int           `mapstructure:"pool_size" yaml:"pool_size"`

	Logger    *slog.Logger `mapstructure:"-" yaml:"-"`
	Pool      *Pool        `mapstructure:"-" yaml:"-"`
	Clock     clock.Clock  `mapstructure:"-" yaml:"-"`
	Observers []Observer   `mapstructure:"-" yaml:"-"`
}

// LoadConfig decodes a generic map, such as a parsed config file section,
// into a Config. Durations accept strings like "250ms"; unknown keys are
// rejected.
func LoadConfig(raw map[string]any) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, invalidConfig(err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, invalidConfig(err)
	}
	return cfg, nil
}

// LoadConfigYAML parses a YAML document and decodes it with LoadConfig.
func LoadConfigYAML(data []byte) (Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, invalidConfig(err)
	}
	return LoadConfig(raw)
}

func invalidConfig(cause error) error {
	return apperrors.Wrap(cause, apperrors.CategoryBadInput, "invalid machine config").
		WithTextCode(ErrCodeInvalidConfig)
}
