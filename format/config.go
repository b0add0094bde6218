package format

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"

	"github.com/jpequegn/iceberg-lakehouse/lakeerr"
)

// Settings is the on-disk shape of the format config file.
type Settings struct {
	Defaults DefaultSettings `mapstructure:"defaults"`
	Tables   []TableSetting  `mapstructure:"tables"`
}

// DefaultSettings holds warehouse-wide defaults.
type DefaultSettings struct {
	Format string `mapstructure:"format"`
}

// TableSetting pins the format for one table. Name may be namespace-qualified
// ("analytics.events") or bare ("events", meaning the default namespace).
type TableSetting struct {
	Name   string `mapstructure:"name"`
	Format string `mapstructure:"format"`
}

// Config is a reloadable view of the format config file. A missing file is
// not an error; it behaves as an empty config.
type Config struct {
	path string

	mu       sync.RWMutex
	settings Settings
}

// LoadConfig reads the config file at path.
func LoadConfig(path string) (*Config, error) {
	c := &Config{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the config file location.
func (c *Config) Path() string { return c.path }

// Reload re-reads the config file, replacing the in-memory settings. Invalid
// format values fail the whole reload so a bad edit never half-applies.
func (c *Config) Reload() error {
	v := viper.New()
	v.SetConfigFile(c.path)
	v.SetConfigType("yaml")

	var settings Settings
	switch err := v.ReadInConfig(); {
	case err == nil:
		if err := v.Unmarshal(&settings); err != nil {
			return fmt.Errorf("parse format config %s: %w", c.path, err)
		}
	case os.IsNotExist(err):
		// Missing file: empty settings.
	default:
		return fmt.Errorf("read format config %s: %w", c.path, err)
	}

	if settings.Defaults.Format != "" {
		if _, err := Parse(settings.Defaults.Format); err != nil {
			return fmt.Errorf("format config %s: defaults: %w", c.path, err)
		}
	}
	for _, t := range settings.Tables {
		if t.Name == "" {
			return fmt.Errorf("format config %s: %w", c.path,
				&lakeerr.ValidationError{Field: "tables", Reason: "table entry without a name"})
		}
		if _, err := Parse(t.Format); err != nil {
			return fmt.Errorf("format config %s: table %s: %w", c.path, t.Name, err)
		}
	}

	c.mu.Lock()
	c.settings = settings
	c.mu.Unlock()
	return nil
}

// DefaultFormat returns the config-wide default, if set.
func (c *Config) DefaultFormat() (Format, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.settings.Defaults.Format == "" {
		return "", false
	}
	return Format(c.settings.Defaults.Format), true
}

// TableSettings returns a copy of the per-table overrides.
func (c *Config) TableSettings() []TableSetting {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TableSetting, len(c.settings.Tables))
	copy(out, c.settings.Tables)
	return out
}

// TableFormat returns the per-table setting for the given name, if set.
func (c *Config) TableFormat(name string) (Format, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.settings.Tables {
		if t.Name == name {
			return Format(t.Format), true
		}
	}
	return "", false
}

// SetDefaultFormat updates the config-wide default and persists the file.
func (c *Config) SetDefaultFormat(f Format) error {
	if _, err := Parse(string(f)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings.Defaults.Format = string(f)
	return c.save()
}

// SetTableFormat pins a table's format and persists the file.
func (c *Config) SetTableFormat(name string, f Format) error {
	if _, err := Parse(string(f)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.settings.Tables {
		if t.Name == name {
			c.settings.Tables[i].Format = string(f)
			return c.save()
		}
	}
	c.settings.Tables = append(c.settings.Tables, TableSetting{Name: name, Format: string(f)})
	return c.save()
}

// RemoveTableFormat drops a table's pinned format and persists the file.
func (c *Config) RemoveTableFormat(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.settings.Tables {
		if t.Name == name {
			c.settings.Tables = append(c.settings.Tables[:i:i], c.settings.Tables[i+1:]...)
			return c.save()
		}
	}
	return nil
}

// save writes the settings atomically: temp file in the same directory, then
// rename. Callers hold c.mu.
func (c *Config) save() error {
	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("defaults.format", c.settings.Defaults.Format)
	tables := make([]map[string]string, 0, len(c.settings.Tables))
	for _, t := range c.settings.Tables {
		tables = append(tables, map[string]string{"name": t.Name, "format": t.Format})
	}
	v.Set("tables", tables)

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".format-config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := v.WriteConfigAs(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write format config: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace format config: %w", err)
	}
	return nil
}
