// Package config loads the command-line, environment and file settings of
// both chat programs.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/omochice/toy-crypto-chat/internal/crypt"
)

// DefaultPort is the TCP port the responder listens on unless told otherwise.
const DefaultPort = 35001

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CRYPTOCHAT"

// Transport names.
const (
	TransportTCP  = "tcp"
	TransportWS   = "ws"
	TransportAuto = "auto"
)

var (
	// ErrUsage is returned when the command line does not match the role.
	ErrUsage            = errors.New("config: wrong number of arguments")
	// ErrInvalidPort is returned for a non-numeric or out of range port.
	ErrInvalidPort      = errors.New("config: invalid port")
	// ErrInvalidTransport is returned for an unknown transport name.
	ErrInvalidTransport = errors.New("config: invalid transport")
)

// Role selects which program is loading its configuration.
type Role int

const (
	// Initiator connects to a responder.
	Initiator Role = iota
	// Responder listens and serves one initiator at a time.
	Responder
)

func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

// Config holds the resolved settings.
type Config struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Transport  string `mapstructure:"transport"`
	Key        string `mapstructure:"key"`
	IV         string `mapstructure:"iv"`
	Passphrase string `mapstructure:"passphrase"`
	Report     string `mapstructure:"report"`
}

// Usage returns the one-line usage text for role.
func Usage(program string, role Role) string {
	if role == Initiator {
		return fmt.Sprintf("Usage: %s [flags] <hostname> <port>", program)
	}
	return fmt.Sprintf("Usage: %s [flags]", program)
}

// Load resolves the configuration for role from args (without the program
// name), the CRYPTOCHAT_* environment and an optional --config file.
// Flags take precedence over the environment, which takes precedence over the file.
func Load(role Role, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	fs := newFlagSet(role)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, name := range []string{"port", "transport", "key", "iv", "passphrase", "report"} {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(name, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.applyArgs(role, fs.Args()); err != nil {
		return nil, err
	}
	if err := cfg.validate(role); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("transport", TransportTCP)
	v.SetDefault("key", crypt.DefaultKey)
	v.SetDefault("iv", crypt.DefaultIV)
	v.SetDefault("passphrase", "")
	v.SetDefault("report", "")
}

func newFlagSet(role Role) *pflag.FlagSet {
	fs := pflag.NewFlagSet(role.String(), pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	if role == Responder {
		fs.Int("port", DefaultPort, "Port to listen on")
		fs.String("transport", TransportTCP, "Transport carrying the frames (tcp, ws or auto)")
	} else {
		fs.String("transport", TransportTCP, "Transport carrying the frames (tcp or ws)")
	}
	fs.String("key", crypt.DefaultKey, "16-byte AES key")
	fs.String("iv", crypt.DefaultIV, "16-byte AES IV")
	fs.String("passphrase", "", "Derive key and IV from this passphrase")
	fs.String("report", "", "Append a protobuf JSON summary of each connection to this file")
	fs.String("config", "", "Path to config file")
	return fs
}

func (c *Config) applyArgs(role Role, args []string) error {
	switch role {
	case Initiator:
		if len(args) != 2 {
			return ErrUsage
		}
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPort, args[1])
		}
		c.Host = args[0]
		c.Port = port
	case Responder:
		if len(args) != 0 {
			return ErrUsage
		}
	}
	return nil
}

func (c *Config) validate(role Role) error {
	lowest := 0
	if role == Initiator {
		lowest = 1
	}
	if c.Port < lowest || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	switch {
	case c.Transport == TransportTCP, c.Transport == TransportWS:
	case c.Transport == TransportAuto && role == Responder:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, c.Transport)
	}
	return nil
}

// Address returns the host:port pair to listen on or dial.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Keys returns the key/IV pair, derived from the passphrase when one is set.
func (c *Config) Keys() (crypt.Keys, error) {
	if c.Passphrase != "" {
		return crypt.DeriveKeyIV(c.Passphrase)
	}
	k := crypt.Keys{Key: []byte(c.Key), IV: []byte(c.IV)}
	if err := k.Validate(); err != nil {
		return crypt.Keys{}, err
	}
	return k, nil
}
