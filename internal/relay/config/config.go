// Package config loads the relay engine settings from an optional YAML file,
// the environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the relay engine configuration.
type Config struct {
	NGAddr   string `yaml:"ng_addr" env:"NG_ADDR" env-default:"127.0.0.1:22222" env-description:"NG control UDP listen address"`
	GRPCAddr string `yaml:"grpc_addr" env:"GRPC_ADDR" env-default:"0.0.0.0:9090" env-description:"gRPC control listen address, empty disables"`
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" env-default:"0.0.0.0:8090" env-description:"HTTP admin listen address, empty disables"`
	SIPAddr  string `yaml:"sip_addr" env:"SIP_ADDR" env-description:"SIP front door UDP listen address, empty disables"`

	BindIP        string `yaml:"bind_ip" env:"BIND_IP" env-default:"0.0.0.0" env-description:"Interface media sockets listen on"`
	AdvertiseAddr string `yaml:"advertise" env:"ADVERTISE" env-description:"Address written into answers (auto-detected if not set)"`

	Ports PortRange `yaml:"ports"`

	Shards       int           `yaml:"shards" env:"SHARDS" env-default:"1" env-description:"Number of worker shards"`
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL" env-default:"100ms" env-description:"Worker timer resolution"`
	BindTimeout  time.Duration `yaml:"bind_timeout" env:"BIND_TIMEOUT" env-default:"5s" env-description:"Drop legs whose socket never binds, 0 disables"`

	LogLevel string `yaml:"log_level" env:"LOGLEVEL" env-default:"info" env-description:"Log level"`
}

// PortRange is the half-open media port range [Min, Max).
type PortRange struct {
	Min int `yaml:"min" env:"RTP_PORT_MIN" env-default:"10000" env-description:"First media port"`
	Max int `yaml:"max" env:"RTP_PORT_MAX" env-default:"20000" env-description:"Media port range end (exclusive)"`
}

// Size is the number of ports in the range.
func (r PortRange) Size() int {
	return r.Max - r.Min
}

// Split cuts the range into n disjoint, contiguous sub-ranges. Leftover
// ports go to the first sub-ranges.
func (r PortRange) Split(n int) []PortRange {
	if n <= 0 {
		return nil
	}
	size, extra := r.Size()/n, r.Size()%n
	out := make([]PortRange, 0, n)
	start := r.Min
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		out = append(out, PortRange{Min: start, Max: end})
		start = end
	}
	return out
}

func (r PortRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Ports.Min <= 0 || c.Ports.Max > 65536 {
		errs = append(errs, fmt.Errorf("port range %s outside 1-65535", c.Ports))
	}
	if c.Ports.Max <= c.Ports.Min {
		errs = append(errs, fmt.Errorf("port range %s is empty", c.Ports))
	}
	if c.Shards < 1 {
		errs = append(errs, fmt.Errorf("shards must be at least 1, got %d", c.Shards))
	} else if c.Ports.Size() < c.Shards {
		errs = append(errs, fmt.Errorf("port range %s too small for %d shards", c.Ports, c.Shards))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick interval must be positive, got %s", c.TickInterval))
	}
	if c.BindTimeout < 0 {
		errs = append(errs, fmt.Errorf("bind timeout must not be negative, got %s", c.BindTimeout))
	}
	if _, err := netip.ParseAddr(c.BindIP); err != nil {
		errs = append(errs, fmt.Errorf("bind ip: %w", err))
	}
	if c.NGAddr == "" && c.GRPCAddr == "" && c.SIPAddr == "" {
		errs = append(errs, errors.New("no control surface enabled"))
	}
	return errors.Join(errs...)
}

// BindAddr returns BindIP parsed. Call Validate first.
func (c *Config) BindAddr() netip.Addr {
	addr, _ := netip.ParseAddr(c.BindIP)
	return addr
}

// Load reads the optional YAML file named by -config, then the environment,
// then applies explicitly set flags on top.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("relayengine", flag.ContinueOnError)

	var (
		path  string
		flags Config
	)
	fs.StringVar(&path, "config", "", "YAML config file")
	fs.StringVar(&flags.NGAddr, "ng", "", "NG control UDP listen address")
	fs.StringVar(&flags.GRPCAddr, "grpc", "", "gRPC control listen address")
	fs.StringVar(&flags.HTTPAddr, "http", "", "HTTP admin listen address")
	fs.StringVar(&flags.SIPAddr, "sip", "", "SIP front door listen address")
	fs.StringVar(&flags.BindIP, "bind", "", "Interface media sockets listen on")
	fs.StringVar(&flags.AdvertiseAddr, "advertise", "", "Address to advertise in SDP (auto-detected if not set)")
	fs.IntVar(&flags.Ports.Min, "rtp-port-min", 0, "Minimum RTP port")
	fs.IntVar(&flags.Ports.Max, "rtp-port-max", 0, "RTP port range end (exclusive)")
	fs.IntVar(&flags.Shards, "shards", 0, "Number of worker shards")
	fs.DurationVar(&flags.TickInterval, "tick", 0, "Worker timer resolution")
	fs.DurationVar(&flags.BindTimeout, "bind-timeout", 0, "Bind confirmation timeout")
	fs.StringVar(&flags.LogLevel, "loglevel", "", "Log level")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage of relayengine:\n")
		fs.PrintDefaults()
		cleanenv.FUsage(fs.Output(), &Config{}, nil)()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, apply func()) {
		if set[name] {
			apply()
		}
	}
	override("ng", func() { cfg.NGAddr = flags.NGAddr })
	override("grpc", func() { cfg.GRPCAddr = flags.GRPCAddr })
	override("http", func() { cfg.HTTPAddr = flags.HTTPAddr })
	override("sip", func() { cfg.SIPAddr = flags.SIPAddr })
	override("bind", func() { cfg.BindIP = flags.BindIP })
	override("advertise", func() { cfg.AdvertiseAddr = flags.AdvertiseAddr })
	override("rtp-port-min", func() { cfg.Ports.Min = flags.Ports.Min })
	override("rtp-port-max", func() { cfg.Ports.Max = flags.Ports.Max })
	override("shards", func() { cfg.Shards = flags.Shards })
	override("tick", func() { cfg.TickInterval = flags.TickInterval })
	override("bind-timeout", func() { cfg.BindTimeout = flags.BindTimeout })
	override("loglevel", func() { cfg.LogLevel = flags.LogLevel })

	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = primaryInterfaceIP()
	}
	return cfg, nil
}

// primaryInterfaceIP returns the first IPv4 address of an up, non-loopback
// interface.
func primaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
