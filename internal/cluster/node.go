// internal/cluster/node.go
package cluster

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Role defines the role of a node in the cluster.
type Role string

const (
	Leader   Role = "leader"
	Follower Role = "follower"
)

// Mode defines the replication mode for the leader.
type Mode string

const (
	Sync  Mode = "sync"  // Leader waits for followers to ACK before responding to client.
	Async Mode = "async" // Leader responds to client immediately.
)

// Backend names the medium a node persists records to.
type Backend string

const (
	Memory   Backend = "memory"
	SQLite   Backend = "sqlite"
	Postgres Backend = "postgres"
)

// NodeConfig holds all configuration for a single node.
type NodeConfig struct {
	ID   string `env:"ID" envDefault:"node-1"`
	Role Role   `env:"ROLE" envDefault:"leader"`
	// Mode is only used by the leader.
	Mode Mode `env:"MODE" envDefault:"sync"`
	Port int  `env:"PORT" envDefault:"8080"`
	// PeersCSV lists follower addresses, comma separated.
	PeersCSV string  `env:"PEERS"`
	Backend  Backend `env:"BACKEND" envDefault:"memory"`

	SQLitePath  string `env:"SQLITE_PATH" envDefault:"records.db"`
	PostgresURL string `env:"POSTGRES_URL"`

	// MaxHistory bounds the undo and redo stacks; 0 means unbounded.
	MaxHistory  int  `env:"MAX_HISTORY" envDefault:"0"`
	TraceStdout bool `env:"TRACE_STDOUT" envDefault:"false"`

	// Peers is PeersCSV normalized into base URLs (e.g., "http://follower1:8081").
	Peers []string
}

// LoadConfig reads RECORDS_* environment variables into a NodeConfig.
func LoadConfig() (*NodeConfig, error) {
	cfg := &NodeConfig{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "RECORDS_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Peers = NormalizePeers(cfg.PeersCSV)
	return cfg, nil
}

// Validate rejects unknown roles, modes and backends.
func (c *NodeConfig) Validate() error {
	switch c.Role {
	case Leader, Follower:
	default:
		return fmt.Errorf("unknown role %q", c.Role)
	}
	switch c.Mode {
	case Sync, Async:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.Backend {
	case Memory, SQLite:
	case Postgres:
		if strings.TrimSpace(c.PostgresURL) == "" {
			return fmt.Errorf("postgres backend requires a database url")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxHistory < 0 {
		return fmt.Errorf("max history must not be negative")
	}
	return nil
}

// BaseURL returns the local base URL for this node.
func (c *NodeConfig) BaseURL() string {
	// Assumes localhost; for container networking, this might differ.
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// NormalizePeers takes a comma-separated string of peer addresses
// and cleans it up into a slice of valid base URLs.
func NormalizePeers(peersCSV string) []string {
	if strings.TrimSpace(peersCSV) == "" {
		return nil
	}
	parts := strings.Split(peersCSV, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		u, err := url.Parse(p)
		if err == nil && u.Scheme != "" && u.Host != "" {
			// It's a valid, full URL (e.g., "http://foo.com:8080")
			out = append(out, strings.TrimRight(u.String(), "/"))
		} else {
			// It's likely just "host:port", assume http.
			out = append(out, fmt.Sprintf("http://%s", p))
		}
	}
	return out
}
