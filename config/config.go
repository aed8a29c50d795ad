// Package config loads the client configuration file. The file is TOML with
// a [log] table, an [engine] table with its nested transport tables and a
// [plugin] table handed to the plugin manager as is.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"

	"github.com/linchenxuan/strixlink/engine"
	"github.com/linchenxuan/strixlink/log"
)

// ErrInvalidSection is returned when a known table has the wrong shape.
var ErrInvalidSection = errors.New("invalid config section")

// Section is a typed configuration table.
type Section interface {
	GetName() string
	Validate() error
}

// Config is the decoded configuration file.
type Config struct {
	Log    *log.LogCfg
	Engine *engine.Config
	Plugin map[string]any
}

// Default returns the configuration used for an empty file.
func Default() *Config {
	return &Config{
		Log:    log.DefaultLogCfg(),
		Engine: engine.DefaultConfig(),
		Plugin: map[string]any{},
	}
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML data on top of the defaults and validates every section.
func Parse(data []byte) (*Config, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, err
	}

	cfg := Default()
	for _, sec := range cfg.sections() {
		if err := decodeSection(raw, sec); err != nil {
			return nil, err
		}
	}

	if p, ok := raw["plugin"]; ok {
		m, ok := p.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: [plugin] must be a table", ErrInvalidSection)
		}
		cfg.Plugin = m
	}

	for _, name := range unknownTables(raw) {
		log.Warn().Str("table", name).Msg("Unknown config table ignored")
	}
	return cfg, nil
}

func (c *Config) sections() []Section {
	return []Section{c.Log, c.Engine}
}

func decodeSection(raw map[string]any, sec Section) error {
	name := sec.GetName()
	if v, ok := raw[name]; ok {
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: [%s] must be a table", ErrInvalidSection, name)
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook:  mapstructure.TextUnmarshallerHookFunc(),
			ErrorUnused: true,
			Result:      sec,
		})
		if err != nil {
			return err
		}
		if err := decoder.Decode(m); err != nil {
			return fmt.Errorf("decode [%s]: %w", name, err)
		}
	}
	if err := sec.Validate(); err != nil {
		return fmt.Errorf("validate [%s]: %w", name, err)
	}
	return nil
}

func unknownTables(raw map[string]any) []string {
	var out []string
	for k := range raw {
		switch k {
		case "log", "engine", "plugin":
		default:
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
