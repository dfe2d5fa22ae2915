package conf

import (
	"context"
	"encoding/json"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	E "github.com/sagernet/sing-relay/common/exceptions"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost          = "localhost"
	DefaultListenPort    = 12345
	DefaultLocalPort     = 1234
	DefaultReadChunkSize = 1024
	DefaultLogLevel      = "info"
)

type Config struct {
	Listen        string `json:"listen,omitempty" yaml:"listen,omitempty"`
	ListenPort    uint16 `json:"listen_port,omitempty" yaml:"listen_port,omitempty"`
	Server        string `json:"server,omitempty" yaml:"server,omitempty"`
	ServerPort    uint16 `json:"server_port,omitempty" yaml:"server_port,omitempty"`
	LocalPort     uint16 `json:"local_port,omitempty" yaml:"local_port,omitempty"`
	ReadChunkSize int    `json:"read_chunk_size,omitempty" yaml:"read_chunk_size,omitempty"`
	ExcludeSender bool   `json:"exclude_sender,omitempty" yaml:"exclude_sender,omitempty"`
	LogLevel      string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

// Load reads a configuration file. Files ending in .yaml or .yml are decoded
// as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, E.Cause(err, "read config file")
	}
	config := new(Config)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, config)
	default:
		err = json.Unmarshal(content, config)
	}
	if err != nil {
		return nil, E.Cause(err, "decode config file")
	}
	return config, nil
}

// Merge fills every zero field of c from other. Values already set on c win.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if c.Listen == "" {
		c.Listen = other.Listen
	}
	if c.ListenPort == 0 {
		c.ListenPort = other.ListenPort
	}
	if c.Server == "" {
		c.Server = other.Server
	}
	if c.ServerPort == 0 {
		c.ServerPort = other.ServerPort
	}
	if c.LocalPort == 0 {
		c.LocalPort = other.LocalPort
	}
	if c.ReadChunkSize == 0 {
		c.ReadChunkSize = other.ReadChunkSize
	}
	if other.ExcludeSender {
		c.ExcludeSender = true
	}
	if c.LogLevel == "" {
		c.LogLevel = other.LogLevel
	}
}

func Default() *Config {
	return &Config{
		Listen:        DefaultHost,
		ListenPort:    DefaultListenPort,
		Server:        DefaultHost,
		ServerPort:    DefaultListenPort,
		LocalPort:     DefaultLocalPort,
		ReadChunkSize: DefaultReadChunkSize,
		LogLevel:      DefaultLogLevel,
	}
}

func (c *Config) Validate() error {
	if c.ReadChunkSize < 0 {
		return E.New("invalid read chunk size: ", c.ReadChunkSize)
	}
	if c.Server != "" && c.ServerPort == 0 {
		return E.New("missing server port")
	}
	return nil
}

// ResolveAddrPort turns a host name or literal address into an address to
// bind or dial. An empty host means all interfaces.
func ResolveAddrPort(ctx context.Context, host string, port uint16) (netip.AddrPort, error) {
	if host == "" {
		return netip.AddrPortFrom(netip.IPv6Unspecified(), port), nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, E.Cause(err, "resolve ", host)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, E.New("no address for ", host)
	}
	for _, addr := range addrs {
		if addr.Unmap().Is4() {
			return netip.AddrPortFrom(addr.Unmap(), port), nil
		}
	}
	return netip.AddrPortFrom(addrs[0], port), nil
}

func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(int(c.ListenPort)))
}
