// Package config loads the checker configuration using viper.
//
// The file has a `common` section whose keys apply to both the `arp` and
// `dhcp` sections unless those set them too. Resolver tables are keyed by IP
// address, so sections are read as raw maps and decoded with mapstructure
// instead of viper.Unmarshal, which would split the keys on dots.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"firestige.xyz/netprobe/internal/log"
)

var (
	// ErrUnreadable means the file does not exist or cannot be opened.
	ErrUnreadable = errors.New("netprobe: configuration unreadable")
	// ErrInvalid means the file was read but its content is not usable.
	ErrInvalid = errors.New("netprobe: configuration invalid")
)

const envPrefix = "NETPROBE"

type Config struct {
	ARP     ARPConfig     `mapstructure:"arp"`
	DHCP    DHCPConfig    `mapstructure:"dhcp"`
	Capture CaptureConfig `mapstructure:"capture"`
	Log     log.Config    `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type ARPConfig struct {
	Interface string            `mapstructure:"interface" yaml:"interface"`
	Resolvers map[string]string `mapstructure:"resolvers" yaml:"resolvers"` // IP -> MAC
	Passive   bool              `mapstructure:"passive"   yaml:"passive"`
}

type DHCPConfig struct {
	Interface  string   `mapstructure:"interface"   yaml:"interface"`
	Servers    []string `mapstructure:"servers"     yaml:"servers"`
	Ranges     []string `mapstructure:"dhcp_ranges" yaml:"dhcp_ranges"`
	Gateways   []string `mapstructure:"gateways"    yaml:"gateways"`
	DNSServers []string `mapstructure:"dns_servers" yaml:"dns_servers"`
	Passive    bool     `mapstructure:"passive"     yaml:"passive"`
	ClientName string   `mapstructure:"client_name" yaml:"client_name,omitempty"`
}

type CaptureConfig struct {
	ReadTimeout time.Duration `mapstructure:"read_timeout"` // bounds each socket read
	Wait        time.Duration `mapstructure:"wait"`         // how long replies are collected
	Filter      bool          `mapstructure:"filter"`       // kernel BPF filter
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // empty = no export
}

// keys re-read through viper so env vars and defaults apply
var (
	arpKeys     = []string{"interface", "passive", "resolvers"}
	dhcpKeys    = []string{"interface", "passive", "client_name", "servers", "dhcp_ranges", "gateways", "dns_servers"}
	captureKeys = []string{"read_timeout", "wait", "filter"}
	logKeys     = []string{"level", "format", "pattern", "time"}
	metricsKeys = []string{"textfile"}
)

// Load reads path. The format follows the extension (json, yaml, toml);
// any other extension, such as .conf, is read as JSON. Env vars override
// section keys, e.g. NETPROBE_DHCP_INTERFACE, NETPROBE_DHCP_GATEWAYS=a,b or
// NETPROBE_ARP_RESOLVERS=ip=mac,ip=mac.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	v := viper.New()
	v.SetConfigType(configType(path))
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadConfig(f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}

	common := v.GetStringMap("common")
	cfg := &Config{}
	sections := []struct {
		name   string
		common bool
		keys   []string
		out    interface{}
	}{
		{"arp", true, arpKeys, &cfg.ARP},
		{"dhcp", true, dhcpKeys, &cfg.DHCP},
		{"capture", false, captureKeys, &cfg.Capture},
		{"log", false, logKeys, &cfg.Log},
		{"metrics", false, metricsKeys, &cfg.Metrics},
	}
	for _, s := range sections {
		raw := map[string]interface{}{}
		if s.common {
			for k, val := range common {
				raw[k] = val
			}
		}
		for k, val := range v.GetStringMap(s.name) {
			raw[k] = val
		}
		for _, k := range s.keys {
			if val := v.Get(s.name + "." + k); val != nil {
				raw[k] = val
			}
		}
		if err := decode(raw, s.out); err != nil {
			return nil, fmt.Errorf("%w: section %s: %v", ErrInvalid, s.name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configType(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, supported := range viper.SupportedExts {
		if ext == supported {
			return ext
		}
	}
	return "json"
}

// setDefaults sets defaults for scalar keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.read_timeout", "1s")
	v.SetDefault("capture.wait", "2s")
	v.SetDefault("capture.filter", true)

	v.SetDefault("log.level", "error")
	v.SetDefault("log.format", "text")
}

func decode(input map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToPairsHook(),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// secondsToDurationHook reads bare numbers as seconds.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		}
		return data, nil
	}
}

// stringToPairsHook reads "ip=mac,ip=mac" into a map.
func stringToPairsHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Map {
			return data, nil
		}
		out := map[string]string{}
		for _, pair := range strings.Split(data.(string), ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			k, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("expected ip=mac, got %q", pair)
			}
			out[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
		return out, nil
	}
}

// Validate checks addresses, MACs and networks. Interfaces are checked when
// a protocol runs, since a check may be limited to one protocol.
func (c *Config) Validate() error {
	for ip, mac := range c.ARP.Resolvers {
		if err := checkIPv4(ip); err != nil {
			return fmt.Errorf("%w: arp.resolvers: %v", ErrInvalid, err)
		}
		if _, err := net.ParseMAC(mac); err != nil {
			return fmt.Errorf("%w: arp.resolvers[%s]: %v", ErrInvalid, ip, err)
		}
	}
	for _, mac := range c.DHCP.Servers {
		if _, err := net.ParseMAC(mac); err != nil {
			return fmt.Errorf("%w: dhcp.servers: %v", ErrInvalid, err)
		}
	}
	for _, r := range c.DHCP.Ranges {
		if strings.Contains(r, "/") {
			if p, err := netip.ParsePrefix(r); err != nil || !p.Addr().Is4() {
				return fmt.Errorf("%w: dhcp.dhcp_ranges: invalid IPv4 network %q", ErrInvalid, r)
			}
		} else if err := checkIPv4(r); err != nil {
			return fmt.Errorf("%w: dhcp.dhcp_ranges: %v", ErrInvalid, err)
		}
	}
	for _, gw := range c.DHCP.Gateways {
		if err := checkIPv4(gw); err != nil {
			return fmt.Errorf("%w: dhcp.gateways: %v", ErrInvalid, err)
		}
	}
	for _, dns := range c.DHCP.DNSServers {
		if err := checkIPv4(dns); err != nil {
			return fmt.Errorf("%w: dhcp.dns_servers: %v", ErrInvalid, err)
		}
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Capture.ReadTimeout < 0 || c.Capture.Wait < 0 {
		return fmt.Errorf("%w: capture durations must not be negative", ErrInvalid)
	}
	return nil
}

func checkIPv4(s string) error {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !addr.Is4() {
		return fmt.Errorf("invalid IPv4 address %q", s)
	}
	return nil
}
