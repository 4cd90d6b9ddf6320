package packet

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/veesix-networks/odp/pkg/flow"
)

// TCP flag bits as tracked in flow.Flow.TCPFlags.
const (
	TCPFin uint16 = 1 << 0
	TCPSyn uint16 = 1 << 1
	TCPRst uint16 = 1 << 2
	TCPPsh uint16 = 1 << 3
	TCPAck uint16 = 1 << 4
	TCPUrg uint16 = 1 << 5
	TCPEce uint16 = 1 << 6
	TCPCwr uint16 = 1 << 7
	TCPNs  uint16 = 1 << 8
)

// Extract parses the packet's headers into a Flow, carrying the
// datapath metadata over unchanged.
func Extract(p *Packet) *flow.Flow {
	f := &flow.Flow{
		Tunnel:    p.Md.Tunnel,
		Priority:  p.Md.Priority,
		SkbMark:   p.Md.PktMark,
		DpHash:    p.Md.DpHash,
		RecircID:  p.Md.RecircID,
		InPort:    p.Md.InPort,
		BaseLayer: p.Md.BaseLayer,
	}

	first := layers.LayerTypeEthernet
	if p.Md.BaseLayer == flow.LayerL3 {
		f.EthType = p.Md.EthType
		switch p.Md.EthType {
		case flow.EthTypeIPv4:
			first = layers.LayerTypeIPv4
		case flow.EthTypeIPv6:
			first = layers.LayerTypeIPv6
		default:
			return f
		}
	}

	pkt := gopacket.NewPacket(p.Data, first, gopacket.Default)

	mplsSeen := 0
	for _, l := range pkt.Layers() {
		switch layer := l.(type) {
		case *layers.Ethernet:
			copy(f.EthSrc[:], layer.SrcMAC)
			copy(f.EthDst[:], layer.DstMAC)
			f.EthType = uint16(layer.EthernetType)
			if f.EthType < flow.EthTypeMin {
				f.EthType = flow.EthTypeNone
			}

		case *layers.Dot1Q:
			// Only the outer tag is tracked.
			if f.VlanTCI == 0 {
				f.VlanTCI = uint16(layer.Priority)<<flow.VlanPCPShift |
					flow.VlanCFI | layer.VLANIdentifier
			}
			f.EthType = uint16(layer.Type)

		case *layers.MPLS:
			if mplsSeen < flow.MaxMPLSLabels {
				lse := layer.Label << 12
				lse |= uint32(layer.TrafficClass) << 9
				if layer.StackBottom {
					lse |= flow.MPLSBOSMask
				}
				lse |= uint32(layer.TTL)
				f.MPLSLSE[mplsSeen] = lse
				mplsSeen++
			}
			f.EthType = flow.EthTypeMPLS

		case *layers.IPv4:
			f.EthType = flow.EthTypeIPv4
			copy(f.NwSrc[:], layer.SrcIP.To4())
			copy(f.NwDst[:], layer.DstIP.To4())
			f.NwProto = uint8(layer.Protocol)
			f.NwTOS = layer.TOS
			f.NwTTL = layer.TTL
			if layer.Flags&layers.IPv4MoreFragments != 0 || layer.FragOffset != 0 {
				f.NwFrag = flow.FragAny
				if layer.FragOffset != 0 {
					f.NwFrag |= flow.FragLater
				}
			}

		case *layers.IPv6:
			f.EthType = flow.EthTypeIPv6
			copy(f.IPv6Src[:], layer.SrcIP.To16())
			copy(f.IPv6Dst[:], layer.DstIP.To16())
			f.IPv6Lbl = layer.FlowLabel
			f.NwProto = uint8(layer.NextHeader)
			f.NwTOS = layer.TrafficClass
			f.NwTTL = layer.HopLimit

		case *layers.TCP:
			f.TpSrc = uint16(layer.SrcPort)
			f.TpDst = uint16(layer.DstPort)
			f.TCPFlags = tcpFlags(layer)

		case *layers.UDP:
			f.TpSrc = uint16(layer.SrcPort)
			f.TpDst = uint16(layer.DstPort)

		case *layers.SCTP:
			f.TpSrc = uint16(layer.SrcPort)
			f.TpDst = uint16(layer.DstPort)

		case *layers.ICMPv4:
			f.TpSrc = uint16(layer.TypeCode.Type())
			f.TpDst = uint16(layer.TypeCode.Code())

		case *layers.ICMPv6:
			f.TpSrc = uint16(layer.TypeCode.Type())
			f.TpDst = uint16(layer.TypeCode.Code())

		case *layers.ICMPv6NeighborSolicitation:
			copy(f.NDTarget[:], layer.TargetAddress.To16())
			ndLinkAddrs(f, layer.Options)

		case *layers.ICMPv6NeighborAdvertisement:
			copy(f.NDTarget[:], layer.TargetAddress.To16())
			ndLinkAddrs(f, layer.Options)

		case *layers.ARP:
			f.EthType = flow.EthTypeARP
			if layer.Operation <= 0xff {
				f.NwProto = uint8(layer.Operation)
			}
			copy(f.NwSrc[:], layer.SourceProtAddress)
			copy(f.NwDst[:], layer.DstProtAddress)
			copy(f.ArpSHA[:], layer.SourceHwAddress)
			copy(f.ArpTHA[:], layer.DstHwAddress)
		}
	}
	return f
}

func tcpFlags(t *layers.TCP) uint16 {
	var fl uint16
	set := func(bit uint16, on bool) {
		if on {
			fl |= bit
		}
	}
	set(TCPFin, t.FIN)
	set(TCPSyn, t.SYN)
	set(TCPRst, t.RST)
	set(TCPPsh, t.PSH)
	set(TCPAck, t.ACK)
	set(TCPUrg, t.URG)
	set(TCPEce, t.ECE)
	set(TCPCwr, t.CWR)
	set(TCPNs, t.NS)
	return fl
}

func ndLinkAddrs(f *flow.Flow, opts []layers.ICMPv6Option) {
	for _, opt := range opts {
		switch opt.Type {
		case layers.ICMPv6OptSourceAddress:
			copy(f.ArpSHA[:], opt.Data)
		case layers.ICMPv6OptTargetAddress:
			copy(f.ArpTHA[:], opt.Data)
		}
	}
}
