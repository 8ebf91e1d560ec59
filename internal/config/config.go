// Package config holds the proxy's command-line configuration.
package config

import (
	"fmt"

	flags "github.com/jessevdk/go-flags"
)

// Default RPC ports for the chain.
const (
	MainnetRPCPort = 9776
	TestnetRPCPort = 19776
)

// Config is the full proxy configuration, populated from command-line flags.
type Config struct {
	Address string `long:"address" default:"127.0.0.1" description:"the address to listen on"`
	Port    int    `long:"port" default:"54321" description:"the port to listen on"`

	RPCIP   string `long:"rpcip" default:"127.0.0.1" description:"the ip of the node rpc server to connect to"`
	RPCPort int    `long:"rpcport" description:"the port of the node rpc server to connect to"`
	RPCUser string `long:"rpcuser" required:"true" description:"the username of the node rpc server to connect to"`
	RPCPass string `long:"rpcpass" required:"true" description:"the password of the node rpc server to connect to"`

	Testnet bool `short:"t" long:"testnet" description:"running on testnet"`
	Jobs    bool `short:"j" long:"jobs" description:"show jobs in the log"`
	Verbose bool `short:"v" long:"verbose" description:"set log level to debug"`

	MetricsAddr string `long:"metrics" description:"serve prometheus metrics on this address (disabled when empty)"`
	HistoryDir  string `long:"submit-history" default:"./submit_history" description:"directory for per-submission dumps (empty disables)"`
}

// Load parses args (without the program name) into a Config and applies
// network-dependent defaults.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.RPCPort == 0 {
		if cfg.Testnet {
			cfg.RPCPort = TestnetRPCPort
		} else {
			cfg.RPCPort = MainnetRPCPort
		}
	}

	return cfg, nil
}

// ListenAddr returns the stratum bind address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// NodeURL returns the node's HTTP JSON-RPC endpoint.
func (c *Config) NodeURL() string {
	return fmt.Sprintf("http://%s:%d", c.RPCIP, c.RPCPort)
}
