package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Bench.BatchSize == 0 {
		c.Bench.BatchSize = 32
	}
	if c.Bench.Iterations == 0 {
		c.Bench.Iterations = 100000
	}
	if c.Bench.MetricsAddress == "" {
		c.Bench.MetricsAddress = ":9310"
	}
}

func (c *Config) Validate() error {
	seenName := make(map[string]bool)
	seenPort := make(map[uint32]bool)
	for i, p := range c.Ports {
		if p.Name == "" {
			return fmt.Errorf("ports[%d]: name is required", i)
		}
		if seenName[p.Name] {
			return fmt.Errorf("ports[%d]: duplicate name '%s'", i, p.Name)
		}
		if seenPort[p.Number] {
			return fmt.Errorf("ports[%d]: duplicate number %d", i, p.Number)
		}
		seenName[p.Name] = true
		seenPort[p.Number] = true
	}

	for i, s := range c.Bench.Scenarios {
		if s.Name == "" {
			return fmt.Errorf("bench.scenarios[%d]: name is required", i)
		}
		if s.Actions == "" {
			return fmt.Errorf("bench.scenarios[%d]: actions is required", i)
		}
		if err := s.Packet.validate(); err != nil {
			return fmt.Errorf("bench.scenarios[%d].packet: %w", i, err)
		}
	}
	return nil
}

func (p *PacketSpec) validate() error {
	if _, err := net.ParseMAC(p.EthSrc); err != nil {
		return fmt.Errorf("eth_src: %w", err)
	}
	if _, err := net.ParseMAC(p.EthDst); err != nil {
		return fmt.Errorf("eth_dst: %w", err)
	}
	if net.ParseIP(p.SrcIP) == nil {
		return fmt.Errorf("src_ip '%s' is not an IP address", p.SrcIP)
	}
	if net.ParseIP(p.DstIP) == nil {
		return fmt.Errorf("dst_ip '%s' is not an IP address", p.DstIP)
	}
	switch p.Proto {
	case "tcp", "udp", "icmp":
	default:
		return fmt.Errorf("proto '%s' is not one of tcp, udp, icmp", p.Proto)
	}
	if p.VlanVID > 4095 {
		return fmt.Errorf("vlan_vid %d out of range", p.VlanVID)
	}
	return nil
}
