package odp

import (
	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
)

// PutTunnel appends the nested tunnel attribute for tnl. Zero-valued
// optional fields are omitted; TTL is always written since decode
// requires it.
func PutTunnel(b *nlattr.Builder, tnl *flow.TunnelKey) {
	off := b.BeginNested(KeyAttrTunnel)
	if tnl.Flags&flow.TunnelKeyF != 0 {
		b.PutUint64(TunnelAttrID, tnl.ID)
	}
	if tnl.IPSrc != [4]byte{} {
		b.PutBytes(TunnelAttrIPv4Src, tnl.IPSrc[:])
	}
	if tnl.IPDst != [4]byte{} {
		b.PutBytes(TunnelAttrIPv4Dst, tnl.IPDst[:])
	}
	if tnl.TOS != 0 {
		b.PutUint8(TunnelAttrTOS, tnl.TOS)
	}
	b.PutUint8(TunnelAttrTTL, tnl.TTL)
	if tnl.Flags&flow.TunnelDF != 0 {
		b.PutFlag(TunnelAttrDF)
	}
	if tnl.Flags&flow.TunnelCSUM != 0 {
		b.PutFlag(TunnelAttrCSUM)
	}
	if tnl.Flags&flow.TunnelOAM != 0 {
		b.PutFlag(TunnelAttrOAM)
	}
	if tnl.OptsLen > 0 {
		b.PutBytes(TunnelAttrGeneveOpts, tnl.Opts[:tnl.OptsLen])
	}
	if tnl.TpSrc != 0 {
		b.PutUint16(TunnelAttrTpSrc, tnl.TpSrc)
	}
	if tnl.TpDst != 0 {
		b.PutUint16(TunnelAttrTpDst, tnl.TpDst)
	}
	b.EndNested(off)
}

// KeyFromFlow appends the flow key attributes for f. inPort is the
// value written for the input port attribute; PortNone omits it.
// recircSupported controls whether dp_hash and recirc_id are written.
func KeyFromFlow(b *nlattr.Builder, f *flow.Flow, inPort uint32, recircSupported bool) {
	putKey(b, f, f, inPort, recircSupported, false)
}

// KeyFromMask appends the mask key for mask, borrowing structure from
// the flow it applies to. The flow decides which attributes appear and
// the mask supplies their values.
func KeyFromMask(b *nlattr.Builder, f, mask *flow.Flow, inPortMask uint32, recircSupported bool) {
	putKey(b, f, mask, inPortMask, recircSupported, true)
}

func putKey(b *nlattr.Builder, f, data *flow.Flow, inPort uint32,
	recircSupported, exportMask bool) {

	b.PutUint32(KeyAttrPriority, data.Priority)

	if f.Tunnel.IsSet() || exportMask {
		PutTunnel(b, &data.Tunnel)
	}

	b.PutUint32(KeyAttrSkbMark, data.SkbMark)

	if recircSupported {
		b.PutUint32(KeyAttrDpHash, data.DpHash)
		b.PutUint32(KeyAttrRecircID, data.RecircID)
	}

	if f.InPort != PortNone || exportMask {
		b.PutUint32(KeyAttrInPort, inPort)
	}

	encap := -1
	if f.BaseLayer == flow.LayerL3 {
		// No Ethernet header, so the payload type travels on its own
		// and there can be no VLAN tag.
		if exportMask {
			b.PutUint16(KeyAttrPktEthertype, 0xffff)
		} else {
			b.PutUint16(KeyAttrPktEthertype, f.EthType)
		}
	} else {
		eth := make([]byte, 12)
		copy(eth[0:6], data.EthSrc[:])
		copy(eth[6:12], data.EthDst[:])
		b.PutBytes(KeyAttrEthernet, eth)

		if f.VlanTCI != 0 || f.EthType == flow.EthTypeVLAN {
			if exportMask {
				b.PutUint16(KeyAttrEthertype, 0xffff)
			} else {
				b.PutUint16(KeyAttrEthertype, flow.EthTypeVLAN)
			}
			b.PutUint16(KeyAttrVlan, data.VlanTCI)
			encap = b.BeginNested(KeyAttrEncap)
			if f.VlanTCI == 0 {
				b.EndNested(encap)
				return
			}
		}

		if f.EthType == flow.EthTypeNone {
			// A frame with no Ethernet II type ends here. The mask
			// still pins the type so the pairing is unambiguous.
			if exportMask {
				b.PutUint16(KeyAttrEthertype, 0xffff)
			}
			if encap >= 0 {
				b.EndNested(encap)
			}
			return
		}

		b.PutUint16(KeyAttrEthertype, data.EthType)
	}

	putL3Onward(b, f, data, exportMask)

	if encap >= 0 {
		b.EndNested(encap)
	}
}

func putL3Onward(b *nlattr.Builder, f, data *flow.Flow, exportMask bool) {
	switch f.EthType {
	case flow.EthTypeIPv4:
		v := make([]byte, 12)
		copy(v[0:4], data.NwSrc[:])
		copy(v[4:8], data.NwDst[:])
		v[8] = data.NwProto
		v[9] = data.NwTOS
		v[10] = data.NwTTL
		v[11] = fragToWire(data.NwFrag, exportMask)
		b.PutBytes(KeyAttrIPv4, v)
		putL4(b, f, data, exportMask)

	case flow.EthTypeIPv6:
		v := make([]byte, 40)
		copy(v[0:16], data.IPv6Src[:])
		copy(v[16:32], data.IPv6Dst[:])
		putBE32(v[32:36], data.IPv6Lbl)
		v[36] = data.NwProto
		v[37] = data.NwTOS
		v[38] = data.NwTTL
		v[39] = fragToWire(data.NwFrag, exportMask)
		b.PutBytes(KeyAttrIPv6, v)
		putL4(b, f, data, exportMask)

	case flow.EthTypeARP:
		v := make([]byte, 24)
		copy(v[0:4], data.NwSrc[:])
		copy(v[4:8], data.NwDst[:])
		v[9] = data.NwProto
		if exportMask && data.NwProto != 0 {
			// The opcode is 16 bits on the wire but only the low byte
			// is tracked, so widen a nonzero mask to cover both.
			v[8] = 0xff
		}
		copy(v[10:16], data.ArpSHA[:])
		copy(v[16:22], data.ArpTHA[:])
		b.PutBytes(KeyAttrARP, v)

	case flow.EthTypeMPLS, flow.EthTypeMPLSMC:
		n := f.MPLSCount()
		if n == 0 {
			return
		}
		v := make([]byte, 4*n)
		for i := 0; i < n; i++ {
			putBE32(v[4*i:], data.MPLSLSE[i])
		}
		b.PutBytes(KeyAttrMPLS, v)
	}
}

func putL4(b *nlattr.Builder, f, data *flow.Flow, exportMask bool) {
	if f.NwFrag&flow.FragLater != 0 {
		return
	}
	switch f.NwProto {
	case flow.ProtoTCP:
		b.PutBytes(KeyAttrTCP, ports(data))
		b.PutUint16(KeyAttrTCPFlags, data.TCPFlags)
	case flow.ProtoUDP:
		b.PutBytes(KeyAttrUDP, ports(data))
	case flow.ProtoSCTP:
		b.PutBytes(KeyAttrSCTP, ports(data))
	case flow.ProtoICMP:
		if f.EthType == flow.EthTypeIPv4 {
			b.PutBytes(KeyAttrICMP, []byte{byte(data.TpSrc), byte(data.TpDst)})
		}
	case flow.ProtoICMPv6:
		if f.EthType != flow.EthTypeIPv6 {
			return
		}
		b.PutBytes(KeyAttrICMPv6, []byte{byte(data.TpSrc), byte(data.TpDst)})
		if f.TpDst == 0 &&
			(f.TpSrc == ndNeighborSolicit || f.TpSrc == ndNeighborAdvert) &&
			(!exportMask || (data.TpSrc == 0xffff && data.TpDst == 0xffff)) {
			v := make([]byte, 28)
			copy(v[0:16], data.NDTarget[:])
			copy(v[16:22], data.ArpSHA[:])
			copy(v[22:28], data.ArpTHA[:])
			b.PutBytes(KeyAttrND, v)
		}
	}
}

func ports(data *flow.Flow) []byte {
	return []byte{
		byte(data.TpSrc >> 8), byte(data.TpSrc),
		byte(data.TpDst >> 8), byte(data.TpDst),
	}
}

// fragToWire maps NwFrag bits to the wire fragment enum. A mask write
// reduces to all-or-nothing since the enum is not a bit field.
func fragToWire(nwFrag uint8, exportMask bool) uint8 {
	if exportMask {
		if nwFrag != 0 {
			return 0xff
		}
		return 0
	}
	switch {
	case nwFrag&flow.FragLater != 0:
		return FragTypeLater
	case nwFrag&flow.FragAny != 0:
		return FragTypeFirst
	default:
		return FragTypeNone
	}
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
