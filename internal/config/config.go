// Package config loads siphon's settings: built-in defaults, then the TOML
// file, then SIPHON_* environment variables. Command-line flags are applied
// by the caller before Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/go-homedir"

	"github.com/bamsammich/siphon/internal/filter"
)

// EnvPrefix prefixes every environment override, e.g. SIPHON_DEVICE_NAME.
const EnvPrefix = "siphon"

// Config is the full configuration.
type Config struct {
	Device   DeviceConfig   `toml:"device" envconfig:"device"`
	Transfer TransferConfig `toml:"transfer" envconfig:"transfer"`
	Ledger   LedgerConfig   `toml:"ledger" envconfig:"ledger"`
	Watch    WatchConfig    `toml:"watch" envconfig:"watch"`
	Filter   FilterConfig   `toml:"filter" envconfig:"filter"`
}

// DeviceConfig selects the phone and the directory to copy from.
type DeviceConfig struct {
	Name          string   `toml:"name" envconfig:"name" validate:"required_without=ID"`
	ID            string   `toml:"id" envconfig:"id" validate:"omitempty,usbid"`
	SourceDir     string   `toml:"source_dir" envconfig:"source_dir" validate:"required"`
	MountTemplate string   `toml:"mount_template" envconfig:"mount_template"`
	Recursive     bool     `toml:"recursive" envconfig:"recursive"`
	LsusbCommand  []string `toml:"lsusb_command" envconfig:"lsusb_command"`
	UID           int      `toml:"uid" envconfig:"uid" validate:"gte=0"`
}

// TransferConfig controls how files are copied.
type TransferConfig struct {
	Destination string        `toml:"destination" envconfig:"destination" validate:"required"`
	Method      string        `toml:"method" envconfig:"method" validate:"oneof=command fs"`
	Command     []string      `toml:"command" envconfig:"command" validate:"required_if=Method command"`
	Timeout     time.Duration `toml:"timeout" envconfig:"timeout" validate:"gte=0"`
	Pace        time.Duration `toml:"pace" envconfig:"pace" validate:"gte=0"`
	BWLimit     string        `toml:"bwlimit" envconfig:"bwlimit"`
	DryRun      bool          `toml:"dry_run" envconfig:"dry_run"`
}

// LedgerConfig locates the copy-once ledger.
type LedgerConfig struct {
	Path     string `toml:"path" envconfig:"path" validate:"required"`
	Backend  string `toml:"backend" envconfig:"backend" validate:"oneof=log sqlite"`
	Identity string `toml:"identity" envconfig:"identity" validate:"oneof=path content"`
	History  string `toml:"history" envconfig:"history"`
}

// WatchConfig controls polling.
type WatchConfig struct {
	PollInterval       time.Duration `toml:"poll_interval" envconfig:"poll_interval" validate:"gte=100ms"`
	MaxPollInterval    time.Duration `toml:"max_poll_interval" envconfig:"max_poll_interval" validate:"gtefield=PollInterval"`
	DisconnectInterval time.Duration `toml:"disconnect_interval" envconfig:"disconnect_interval" validate:"gte=100ms"`
}

// FilterConfig narrows the files considered on the device.
type FilterConfig struct {
	Include    []string `toml:"include" envconfig:"include"`
	Exclude    []string `toml:"exclude" envconfig:"exclude"`
	File       string   `toml:"file" envconfig:"file"`
	IgnoreCase bool     `toml:"ignore_case" envconfig:"ignore_case"`
	SkipHidden bool     `toml:"skip_hidden" envconfig:"skip_hidden"`
	MinSize    string   `toml:"min_size" envconfig:"min_size" validate:"omitempty,size"`
	MaxSize    string   `toml:"max_size" envconfig:"max_size" validate:"omitempty,size"`
}

// Dir returns the config directory, $XDG_CONFIG_HOME/siphon.
func Dir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "siphon")
}

// Path returns the default config file path.
func Path() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

// DataDir returns $XDG_DATA_HOME/siphon, where the ledger lives by default.
func DataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "siphon")
}

// Default returns the built-in configuration.
func Default() Config {
	data := DataDir()
	return Config{
		Device: DeviceConfig{
			SourceDir: "Phone/DCIM/Camera",
		},
		Transfer: TransferConfig{
			Method:  "command",
			Command: []string{"gio", "copy"},
			Timeout: 10 * time.Minute,
		},
		Ledger: LedgerConfig{
			Path:     filepath.Join(data, "ledger.log"),
			Backend:  "log",
			Identity: "path",
			History:  filepath.Join(data, "successful_transfers.log"),
		},
		Watch: WatchConfig{
			PollInterval:       5 * time.Second,
			MaxPollInterval:    time.Minute,
			DisconnectInterval: 5 * time.Second,
		},
		Filter: FilterConfig{
			IgnoreCase: true,
			SkipHidden: true,
		},
	}
}

// Load builds the configuration from defaults, the file at path and the
// environment. An empty path means Path(); a missing default file is not an
// error, a missing explicit one is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = Path()
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) || explicit {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Transfer.Destination, &c.Ledger.Path, &c.Ledger.History, &c.Filter.File} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %s: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

var usbID = regexp.MustCompile(`^[0-9A-Fa-f]{4}:[0-9A-Fa-f]{4}$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("usbid", func(fl validator.FieldLevel) bool {
		return usbID.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("size", func(fl validator.FieldLevel) bool {
		_, err := filter.ParseSize(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the configuration, reporting every invalid field.
func (c Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %q)", field, fe.Tag(), fmt.Sprint(fe.Value())))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Chain builds the filter chain described by f.
func (f FilterConfig) Chain() (*filter.Chain, error) {
	chain := filter.NewChain()
	chain.IgnoreCase(f.IgnoreCase)
	chain.SkipHidden(f.SkipHidden)
	for _, g := range f.Include {
		if err := chain.AddInclude(g); err != nil {
			return nil, fmt.Errorf("include %q: %w", g, err)
		}
	}
	for _, g := range f.Exclude {
		if err := chain.AddExclude(g); err != nil {
			return nil, fmt.Errorf("exclude %q: %w", g, err)
		}
	}
	if f.File != "" {
		if err := chain.LoadFile(f.File); err != nil {
			return nil, err
		}
	}
	if f.MinSize != "" {
		n, err := filter.ParseSize(f.MinSize)
		if err != nil {
			return nil, fmt.Errorf("min_size: %w", err)
		}
		chain.SetMinSize(n)
	}
	if f.MaxSize != "" {
		n, err := filter.ParseSize(f.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("max_size: %w", err)
		}
		chain.SetMaxSize(n)
	}
	return chain, nil
}

// BandwidthLimit returns the bwlimit setting in bytes per second, 0 when
// unset.
func (t TransferConfig) BandwidthLimit() (int64, error) {
	if t.BWLimit == "" {
		return 0, nil
	}
	n, err := filter.ParseSize(t.BWLimit)
	if err != nil {
		return 0, fmt.Errorf("bwlimit: %w", err)
	}
	return n, nil
}

// Write encodes cfg as TOML to path, creating parent directories. An
// existing file is not overwritten.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write config: %w", err)
	}
	return f.Close()
}
