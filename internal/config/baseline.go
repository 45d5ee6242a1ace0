package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type baseline struct {
	ARP  *ARPConfig  `yaml:"arp,omitempty"`
	DHCP *DHCPConfig `yaml:"dhcp,omitempty"`
}

// WriteBaseline writes learned allow-lists as a YAML document Load can read
// back. A nil section is left out.
func WriteBaseline(w io.Writer, arp *ARPConfig, dhcp *DHCPConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(baseline{ARP: arp, DHCP: dhcp}); err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	return enc.Close()
}
