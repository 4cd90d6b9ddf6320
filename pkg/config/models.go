package config

import "github.com/veesix-networks/odp/pkg/logger"

type Config struct {
	Logging Logging `yaml:"logging"`
	Ports   []Port  `yaml:"ports,omitempty"`
	Bench   Bench   `yaml:"bench,omitempty"`
}

type Logging struct {
	Format     string                     `yaml:"format"`
	Level      logger.LogLevel            `yaml:"level"`
	Components map[string]logger.LogLevel `yaml:"components,omitempty"`
}

// Port maps a symbolic datapath port name to its number. The text
// codec uses the mapping in both directions.
type Port struct {
	Name   string `yaml:"name"`
	Number uint32 `yaml:"number"`
}

type Bench struct {
	BatchSize      int        `yaml:"batch_size,omitempty"`
	Iterations     int        `yaml:"iterations,omitempty"`
	MetricsAddress string     `yaml:"metrics_address,omitempty"`
	Scenarios      []Scenario `yaml:"scenarios,omitempty"`
}

// Scenario is one benchmark run: a synthetic packet, the action list
// to execute against batches of it, and optionally the flow key text
// the run should decode first.
type Scenario struct {
	Name    string     `yaml:"name"`
	Key     string     `yaml:"key,omitempty"`
	Actions string     `yaml:"actions"`
	Packet  PacketSpec `yaml:"packet"`
}

// PacketSpec describes the synthetic packet built for a scenario.
type PacketSpec struct {
	EthSrc     string `yaml:"eth_src"`
	EthDst     string `yaml:"eth_dst"`
	VlanVID    uint16 `yaml:"vlan_vid,omitempty"`
	SrcIP      string `yaml:"src_ip"`
	DstIP      string `yaml:"dst_ip"`
	Proto      string `yaml:"proto"`
	SrcPort    uint16 `yaml:"src_port,omitempty"`
	DstPort    uint16 `yaml:"dst_port,omitempty"`
	PayloadLen int    `yaml:"payload_len,omitempty"`
}
