package sqlite

const (
	defaultDBFile      = "prefs.db"
	defaultBusyTimeout = 5000 // milliseconds
)

// Config holds YAML configuration for the prefs.sqlite module.
type Config struct {
	// Path to the database file. Defaults to <data_dir>/prefs.db.
	Path string `yaml:"path"`
	// WAL toggles write-ahead logging. Enabled by default.
	WAL *bool `yaml:"wal"`
	// BusyTimeout in milliseconds for lock contention.
	BusyTimeout int `yaml:"busy_timeout"`
}

func (c *Config) defaults() {
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}
