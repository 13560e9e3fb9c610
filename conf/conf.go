// Package conf loads the daemon's TOML configuration. The core treats
// this as its only source of identity, listeners, link blocks, and
// tunables; rehashing re-reads the same path.
package conf

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchr/braid/scan/wild"
)

// Duration wraps time.Duration so that TOML values can be written as
// "5m" or "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

type Server struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	// three characters, first a digit; derived from name+description
	// when left empty
	SID string `toml:"sid"`
}

type Listener struct {
	Addr string `toml:"addr"`
	// "clients" or "servers"
	Role      string `toml:"role"`
	Transport string `toml:"transport"`
}

type Link struct {
	Name        string   `toml:"name"`
	Addr        string   `toml:"addr"`
	SendPass    string   `toml:"sendpass"`
	RecvPass    string   `toml:"recvpass"`
	AutoConnect Duration `toml:"autoconnect"`
	Failover    string   `toml:"failover"`
	Timeout     Duration `toml:"timeout"`
	Transport   string   `toml:"transport"`
	Hidden      bool     `toml:"hidden"`
}

type Oper struct {
	Name string `toml:"name"`
	// bcrypt hash, produced by cmd/mkpasswd
	Pass string `toml:"pass"`
	Type string `toml:"type"`
}

// ListLimit bounds a list mode (+b/+e/+I) for channels matching Glob.
type ListLimit struct {
	Glob string `toml:"glob"`
	Max  int    `toml:"max"`
}

// XLineDefault seeds a ban at boot, alongside whatever the x-line
// database already holds.
type XLineDefault struct {
	Kind     string   `toml:"kind"`
	Mask     string   `toml:"mask"`
	Reason   string   `toml:"reason"`
	Duration Duration `toml:"duration"`
}

type Config struct {
	Network   string     `toml:"network"`
	Server    Server     `toml:"server"`
	Listeners []Listener `toml:"listener"`
	Links     []Link     `toml:"link"`
	Opers     []Oper     `toml:"oper"`

	// bcrypt hash required of connecting clients via PASS; empty
	// disables the check
	Password string `toml:"password"`

	// grant the founder prefix to whoever creates a channel, on top
	// of the usual ops
	FounderOnCreate bool `toml:"founder_on_create"`

	// "rfc1459" (default) or "ascii"
	CaseMapping string `toml:"casemapping"`

	MOTDPath string `toml:"motd"`
	PidFile  string `toml:"pidfile"`
	// sqlite database holding x-lines; empty keeps them in memory only
	XLineDB string `toml:"xlinedb"`

	// optional prometheus listener, e.g. "127.0.0.1:9090"
	MetricsAddr string `toml:"metrics"`

	PingInterval     Duration `toml:"ping_interval"`
	PingTimeout      Duration `toml:"ping_timeout"`
	RegTimeout       Duration `toml:"registration_timeout"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	// largest tolerated clock skew on a BURST, in seconds
	MaxTSDelta int64 `toml:"max_ts_delta"`

	ModesPerLine int            `toml:"modes_per_line"`
	ListLimits   []ListLimit    `toml:"listlimit"`
	XLines       []XLineDefault `toml:"xline"`

	DisabledCommands []string `toml:"disabled_commands"`

	// loaded from MOTDPath
	MOTD []string `toml:"-"`

	path string
}

// Path is where this config was loaded from; REHASH re-reads it.
func (c *Config) Path() string { return c.path }

var ErrNoListeners = errors.New("no listeners configured")

func Load(path string) (*Config, error) {
	c := defaults()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}
	c.path = path
	return c, c.finish()
}

// LoadString decodes an inline document; used by tests.
func LoadString(doc string) (*Config, error) {
	c := defaults()
	if _, err := toml.Decode(doc, c); err != nil {
		return nil, err
	}
	return c, c.finish()
}

func defaults() *Config {
	return &Config{
		CaseMapping:      "rfc1459",
		PingInterval:     Duration{2 * time.Minute},
		PingTimeout:      Duration{4 * time.Minute},
		RegTimeout:       Duration{10 * time.Second},
		HandshakeTimeout: Duration{30 * time.Second},
		MaxTSDelta:       600,
		ModesPerLine:     4,
	}
}

func (c *Config) finish() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if len(c.Listeners) == 0 {
		return ErrNoListeners
	}
	for _, l := range c.Listeners {
		if l.Role != "clients" && l.Role != "servers" {
			return fmt.Errorf("listener %s: unknown role %q", l.Addr, l.Role)
		}
	}
	switch c.CaseMapping {
	case "rfc1459", "ascii":
	default:
		return fmt.Errorf("unknown casemapping %q", c.CaseMapping)
	}

	if c.Server.SID == "" {
		c.Server.SID = DeriveSID(c.Server.Name, c.Server.Description)
	}
	if len(c.Server.SID) != 3 || c.Server.SID[0] < '0' || c.Server.SID[0] > '9' {
		return fmt.Errorf("bad sid %q: want three characters starting with a digit", c.Server.SID)
	}

	if c.MOTDPath != "" {
		b, err := os.ReadFile(c.MOTDPath)
		if err != nil {
			return err
		}
		c.MOTD = strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	}
	return nil
}

// DeriveSID produces a stable three-digit server id from the server's
// name and description, for configs that do not pin one.
func DeriveSID(name, desc string) string {
	var sid uint32
	for i := 0; i < len(name); i++ {
		sid = 5*sid + uint32(name[i])
	}
	for i := 0; i < len(desc); i++ {
		sid = 5*sid + uint32(desc[i])
	}
	return fmt.Sprintf("%03d", sid%1000)
}

// FindLink gives back the link block for a server name.
func (c *Config) FindLink(name string) (*Link, bool) {
	for i := range c.Links {
		if strings.EqualFold(c.Links[i].Name, name) {
			return &c.Links[i], true
		}
	}
	return nil, false
}

func (c *Config) FindOper(name string) (*Oper, bool) {
	for i := range c.Opers {
		if c.Opers[i].Name == name {
			return &c.Opers[i], true
		}
	}
	return nil, false
}

func (c *Config) CommandDisabled(cmd string) bool {
	for _, v := range c.DisabledCommands {
		if strings.EqualFold(v, cmd) {
			return true
		}
	}
	return false
}

// ListMax gives the bound for a list mode on the named channel; 0
// means unbounded.
func (c *Config) ListMax(channel string) int {
	for _, v := range c.ListLimits {
		if wild.Match(strings.ToLower(v.Glob), strings.ToLower(channel)) {
			return v.Max
		}
	}
	return 0
}
