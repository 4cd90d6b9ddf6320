package main

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/veesix-networks/odp/pkg/config"
	"github.com/veesix-networks/odp/pkg/exec"
	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/metrics"
	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
	"github.com/veesix-networks/odp/pkg/odptext"
	"github.com/veesix-networks/odp/pkg/packet"
)

type benchResult struct {
	batches int
	packets int
	elapsed time.Duration
}

func (r *benchResult) packetsPerSec() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.packets) / r.elapsed.Seconds()
}

// countingDelegate stands in for a real datapath: it counts the
// actions the interpreter hands off and drops the packets.
type countingDelegate struct {
	m *metrics.Metrics
}

func (d *countingDelegate) ExecuteAction(batch *packet.Batch, a nlattr.Attr, mayConsume bool) {
	d.m.ActionsExecuted.WithLabelValues(odp.ActionName(a.Type)).Inc()
	if mayConsume {
		batch.Consume()
	}
}

func runScenario(ports *odptext.PortMap, m *metrics.Metrics, bench *config.Bench, sc *config.Scenario) (*benchResult, error) {
	var actions nlattr.Builder
	if err := odptext.ParseActions(sc.Actions, ports, &actions); err != nil {
		return nil, fmt.Errorf("actions: %w", err)
	}

	if sc.Key != "" {
		if err := checkKey(ports, m, sc.Key); err != nil {
			return nil, err
		}
	}

	data, err := buildPacket(&sc.Packet)
	if err != nil {
		return nil, fmt.Errorf("packet: %w", err)
	}

	pkts := make([]*packet.Packet, bench.BatchSize)
	for i := range pkts {
		pkts[i] = packet.New(data)
	}
	batch := packet.NewBatch(pkts...)

	dp := &countingDelegate{m: m}
	res := &benchResult{}
	start := time.Now()
	for i := 0; i < bench.Iterations; i++ {
		b := batch.Clone()
		t0 := time.Now()
		if err := exec.Run(dp, b, actions.Bytes(), true); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		m.ExecDuration.Observe(time.Since(t0).Seconds())
		m.BatchesExecuted.Inc()
		m.PacketsProcessed.Add(float64(bench.BatchSize))
		res.batches++
		res.packets += bench.BatchSize
	}
	res.elapsed = time.Since(start)
	return res, nil
}

// checkKey parses the scenario's flow key text and grades how well
// the decoder fits it, so a typo in the config surfaces before the
// timed loop starts.
func checkKey(ports *odptext.PortMap, m *metrics.Metrics, text string) error {
	var key, mask nlattr.Builder
	if _, err := odptext.ParseKey(text, ports, &key, &mask); err != nil {
		return fmt.Errorf("key: %w", err)
	}
	var f flow.Flow
	fit := odp.FlowFromKey(key.Bytes(), &f)
	if fit == odp.FitError {
		m.DecodeErrors.Inc()
		return fmt.Errorf("key: decode failed (%s)", fit)
	}
	return nil
}

func buildPacket(spec *config.PacketSpec) ([]byte, error) {
	ethSrc, err := net.ParseMAC(spec.EthSrc)
	if err != nil {
		return nil, fmt.Errorf("eth_src: %w", err)
	}
	ethDst, err := net.ParseMAC(spec.EthDst)
	if err != nil {
		return nil, fmt.Errorf("eth_dst: %w", err)
	}
	srcIP := net.ParseIP(spec.SrcIP)
	dstIP := net.ParseIP(spec.DstIP)
	if srcIP == nil || dstIP == nil {
		return nil, fmt.Errorf("invalid src_ip or dst_ip")
	}
	v4 := srcIP.To4() != nil

	eth := &layers.Ethernet{SrcMAC: ethSrc, DstMAC: ethDst}
	payload := gopacket.Payload(make([]byte, spec.PayloadLen))

	var stack []gopacket.SerializableLayer
	stack = append(stack, eth)

	etherType := layers.EthernetTypeIPv4
	if !v4 {
		etherType = layers.EthernetTypeIPv6
	}
	if spec.VlanVID != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		stack = append(stack, &layers.Dot1Q{
			VLANIdentifier: spec.VlanVID,
			Type:           etherType,
		})
	} else {
		eth.EthernetType = etherType
	}

	var ip4 *layers.IPv4
	var ip6 *layers.IPv6
	if v4 {
		ip4 = &layers.IPv4{
			Version: 4,
			IHL:     5,
			TTL:     64,
			SrcIP:   srcIP,
			DstIP:   dstIP,
		}
		stack = append(stack, ip4)
	} else {
		ip6 = &layers.IPv6{
			Version:  6,
			HopLimit: 64,
			SrcIP:    srcIP,
			DstIP:    dstIP,
		}
		stack = append(stack, ip6)
	}

	switch spec.Proto {
	case "tcp":
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(spec.SrcPort),
			DstPort: layers.TCPPort(spec.DstPort),
			SYN:     true,
			Window:  65535,
		}
		if v4 {
			ip4.Protocol = layers.IPProtocolTCP
			tcp.SetNetworkLayerForChecksum(ip4)
		} else {
			ip6.NextHeader = layers.IPProtocolTCP
			tcp.SetNetworkLayerForChecksum(ip6)
		}
		stack = append(stack, tcp)
	case "udp":
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(spec.SrcPort),
			DstPort: layers.UDPPort(spec.DstPort),
		}
		if v4 {
			ip4.Protocol = layers.IPProtocolUDP
			udp.SetNetworkLayerForChecksum(ip4)
		} else {
			ip6.NextHeader = layers.IPProtocolUDP
			udp.SetNetworkLayerForChecksum(ip6)
		}
		stack = append(stack, udp)
	case "icmp":
		if v4 {
			ip4.Protocol = layers.IPProtocolICMPv4
			stack = append(stack, &layers.ICMPv4{
				TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			})
		} else {
			ip6.NextHeader = layers.IPProtocolICMPv6
			icmp := &layers.ICMPv6{
				TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0),
			}
			icmp.SetNetworkLayerForChecksum(ip6)
			stack = append(stack, icmp)
		}
	default:
		return nil, fmt.Errorf("unsupported proto %q", spec.Proto)
	}
	stack = append(stack, payload)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, stack...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
