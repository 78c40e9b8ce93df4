package types

import "time"

// State represents lapp lifecycle states
type State string

const (
	StateInstalled State = "installed" // Registered but disabled
	StateEnabled   State = "enabled"
	StateLoaded    State = "loaded"
)

// Lapp is a snapshot of one registry entry
type Lapp struct {
	Name        string     `json:"name"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Version     string     `json:"version,omitempty"`
	Path        string     `json:"path"`
	SizeBytes   int64      `json:"size_bytes"`
	Permissions []string   `json:"permissions"`
	Digest      string     `json:"digest"` // Digest of the wasm module
	Enabled     bool       `json:"enabled"`
	State       State      `json:"state"`
	Gossip      bool       `json:"gossip"`   // Gossip subscription active
	Poisoned    bool       `json:"poisoned"` // Live instance awaiting reload
	InstalledAt time.Time  `json:"installed_at"`
	LoadedAt    *time.Time `json:"loaded_at,omitempty"`
}

// Manifest is the lapp-provided declaration read from lapp.toml or lapp.yaml
type Manifest struct {
	Name         string   `toml:"name" yaml:"name" json:"name"`
	Title        string   `toml:"title,omitempty" yaml:"title,omitempty" json:"title,omitempty"`
	Description  string   `toml:"description,omitempty" yaml:"description,omitempty" json:"description,omitempty"`
	Version      string   `toml:"version,omitempty" yaml:"version,omitempty" json:"version,omitempty"`
	Enabled      bool     `toml:"enabled" yaml:"enabled" json:"enabled"`
	Permissions  []string `toml:"permissions" yaml:"permissions" json:"permissions"`
	Wasm         string   `toml:"wasm,omitempty" yaml:"wasm,omitempty" json:"wasm,omitempty"`
	StaticDir    string   `toml:"static_dir,omitempty" yaml:"static_dir,omitempty" json:"static_dir,omitempty"`
	Index        string   `toml:"index,omitempty" yaml:"index,omitempty" json:"index,omitempty"`
	GossipOnLoad bool     `toml:"gossip_on_load,omitempty" yaml:"gossip_on_load,omitempty" json:"gossip_on_load,omitempty"`
}

// Manifest defaults
const (
	DefaultWasmFile  = "server.wasm"
	DefaultStaticDir = "static"
	DefaultIndexFile = "index.html"
)

// WithDefaults fills unset optional fields
func (m Manifest) WithDefaults() Manifest {
	if m.Wasm == "" {
		m.Wasm = DefaultWasmFile
	}
	if m.StaticDir == "" {
		m.StaticDir = DefaultStaticDir
	}
	if m.Index == "" {
		m.Index = DefaultIndexFile
	}
	if m.Permissions == nil {
		m.Permissions = []string{}
	}
	return m
}

// Stats contains lapps manager statistics
type Stats struct {
	Installed int  `json:"installed"`
	Enabled   int  `json:"enabled"`
	Loaded    int  `json:"loaded"`
	Gossiping int  `json:"gossiping"`
	Broken    bool `json:"broken"` // Registry lock unusable until recovery
}
