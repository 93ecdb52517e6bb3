package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"

	"gred/internal/dblib"
)

// DatabaseConfig is one named entry of connections.yaml.
type DatabaseConfig struct {
	Type     string `yaml:"type"`
	DBName   string `yaml:"dbname,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     string `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Path     string `yaml:"path,omitempty"` // SQLite file
}

// Config is the parsed connections.yaml.
type Config struct {
	Connections map[string]DatabaseConfig `yaml:"connections"`
}

// ConnectionFlags are the command line overrides for a connection.
type ConnectionFlags struct {
	Database string
	Host     string
	Port     string
	Username string
	Password string
}

func getConnectionsPath() (string, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "connections.yaml"), nil
}

// loadConfig reads connections.yaml; a missing file is an empty config.
func loadConfig() (*Config, error) {
	path, err := getConnectionsPath()
	if err != nil {
		return nil, err
	}
	return loadConfigFile(path)
}

func loadConfigFile(path string) (*Config, error) {
	config := &Config{Connections: map[string]DatabaseConfig{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", path, err)
	}
	if config.Connections == nil {
		config.Connections = map[string]DatabaseConfig{}
	}
	for name, db := range config.Connections {
		if _, err := dblib.ParseDatabaseType(db.Type); err != nil {
			return nil, fmt.Errorf("connection %q: %w", name, err)
		}
	}
	return config, nil
}

// GetDatabase looks up a named connection.
func (c *Config) GetDatabase(name string) (DatabaseConfig, bool) {
	db, ok := c.Connections[name]
	return db, ok
}

// Names returns the configured connection names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// apply overlays non-empty flags on cfg.
func (f ConnectionFlags) apply(cfg DatabaseConfig) DatabaseConfig {
	if f.Database != "" {
		if t, err := dblib.ParseDatabaseType(cfg.Type); err == nil && t == dblib.SQLite {
			cfg.Path = f.Database
		} else {
			cfg.DBName = f.Database
		}
	}
	if f.Host != "" {
		cfg.Host = f.Host
	}
	if f.Port != "" {
		cfg.Port = f.Port
	}
	if f.Username != "" {
		cfg.User = f.Username
	}
	if f.Password != "" {
		cfg.Password = f.Password
	}
	return cfg
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// buildConnSpec renders the driver DSN for cfg.
func buildConnSpec(cfg DatabaseConfig) (dblib.ConnSpec, error) {
	dbType, err := dblib.ParseDatabaseType(cfg.Type)
	if err != nil {
		return dblib.ConnSpec{}, err
	}

	switch dbType {
	case dblib.SQLite:
		path := cfg.Path
		if path == "" {
			path = cfg.DBName
		}
		if _, err := os.Stat(path); err != nil {
			return dblib.ConnSpec{}, fmt.Errorf("sqlite file does not exist: %s", path)
		}
		return dblib.ConnSpec{Type: dbType, DSN: path}, nil

	case dblib.PostgreSQL:
		parts := []string{"dbname=" + pqQuote(cfg.DBName)}
		if cfg.Host != "" {
			parts = append(parts, "host="+pqQuote(cfg.Host))
		}
		if cfg.Port != "" {
			parts = append(parts, "port="+pqQuote(cfg.Port))
		}
		userName := cfg.User
		if userName == "" {
			userName = currentUsername()
		}
		if userName != "" {
			parts = append(parts, "user="+pqQuote(userName))
		}
		if cfg.Password != "" {
			parts = append(parts, "password="+pqQuote(cfg.Password))
		}
		parts = append(parts, "sslmode=disable")
		return dblib.ConnSpec{Type: dbType, DSN: strings.Join(parts, " ")}, nil

	case dblib.MySQL:
		userName := cfg.User
		if userName == "" {
			userName = currentUsername()
		}
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.Port
		if port == "" {
			port = "3306"
		}
		mcfg := mysql.NewConfig()
		mcfg.User = userName
		mcfg.Passwd = cfg.Password
		mcfg.Net = "tcp"
		mcfg.Addr = net.JoinHostPort(host, port)
		mcfg.DBName = cfg.DBName
		dsn := mcfg.FormatDSN()
		return dblib.ConnSpec{Type: dbType, DSN: dsn}, nil
	}
	return dblib.ConnSpec{}, fmt.Errorf("unsupported database type")
}

// pqQuote quotes a lib/pq key/value connection string value.
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// resolveConnection finds the connection for name: a configured entry, a
// SQLite file path, or a localhost PostgreSQL/MySQL database of that name.
func resolveConnection(ctx context.Context, config *Config, name string, flags ConnectionFlags) (dblib.ConnSpec, error) {
	if cfg, ok := config.GetDatabase(name); ok {
		return buildConnSpec(flags.apply(cfg))
	}
	if strings.HasSuffix(name, ".db") || strings.HasSuffix(name, ".sqlite") || strings.HasSuffix(name, ".sqlite3") {
		return buildConnSpec(flags.apply(DatabaseConfig{Type: "sqlite", Path: name}))
	}
	return tryFallbackConnections(ctx, name, flags)
}

func tryFallbackConnections(ctx context.Context, dbName string, flags ConnectionFlags) (dblib.ConnSpec, error) {
	candidates := []DatabaseConfig{
		{Type: "postgres", DBName: dbName, Host: "localhost", Port: "5432"},
		{Type: "mysql", DBName: dbName, Host: "localhost", Port: "3306", User: "root"},
	}

	var lastErr error
	for _, cfg := range candidates {
		spec, err := buildConnSpec(flags.apply(cfg))
		if err != nil {
			lastErr = err
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		db, err := dblib.Open(pingCtx, spec)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		db.Close()
		return spec, nil
	}
	return dblib.ConnSpec{}, fmt.Errorf("failed to connect to both PostgreSQL and MySQL: %w", lastErr)
}
