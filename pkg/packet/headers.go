package packet

import (
	"hash/crc32"

	"github.com/veesix-networks/odp/pkg/flow"
)

// Field rewrites work through explicit get and put pairs so a masked
// rewrite can read the current value, blend it with the mask and write
// the result back. Every put keeps the affected checksums valid.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EthAddrs reads the Ethernet source and destination addresses.
func (p *Packet) EthAddrs() (src, dst [6]byte, ok bool) {
	if p.Md.BaseLayer != flow.LayerL2 || len(p.Data) < ethHeaderLen {
		return src, dst, false
	}
	copy(dst[:], p.Data[0:6])
	copy(src[:], p.Data[6:12])
	return src, dst, true
}

// PutEthAddrs writes the Ethernet source and destination addresses.
func (p *Packet) PutEthAddrs(src, dst [6]byte) bool {
	if p.Md.BaseLayer != flow.LayerL2 || len(p.Data) < ethHeaderLen {
		return false
	}
	copy(p.Data[0:6], dst[:])
	copy(p.Data[6:12], src[:])
	return true
}

// IPv4Fields are the rewritable parts of an IPv4 header.
type IPv4Fields struct {
	Src, Dst [4]byte
	TOS, TTL uint8
}

func (p *Packet) ipv4Offset() (int, bool) {
	off, ethType := p.payloadOffset()
	if ethType != flow.EthTypeIPv4 || len(p.Data) < off+20 {
		return 0, false
	}
	return off, true
}

// IPv4 reads the rewritable IPv4 header fields.
func (p *Packet) IPv4() (IPv4Fields, bool) {
	off, ok := p.ipv4Offset()
	if !ok {
		return IPv4Fields{}, false
	}
	var f IPv4Fields
	f.TOS = p.Data[off+1]
	f.TTL = p.Data[off+8]
	copy(f.Src[:], p.Data[off+12:off+16])
	copy(f.Dst[:], p.Data[off+16:off+20])
	return f, true
}

// PutIPv4 writes the rewritable IPv4 header fields, updating the IP
// header checksum and any transport checksum that covers the
// pseudo-header.
func (p *Packet) PutIPv4(f IPv4Fields) bool {
	off, ok := p.ipv4Offset()
	if !ok {
		return false
	}
	hdr := p.Data[off:]
	proto := hdr[9]

	setAddr := func(fieldOff int, addr [4]byte) {
		old := be32(hdr[fieldOff:])
		new := be32(addr[:])
		if old == new {
			return
		}
		putBE16(hdr[10:], recalcCsum32(be16(hdr[10:]), old, new))
		p.updateL4CsumForAddr(off, proto, old, new)
		copy(hdr[fieldOff:fieldOff+4], addr[:])
	}
	setAddr(12, f.Src)
	setAddr(16, f.Dst)

	if hdr[1] != f.TOS {
		putBE16(hdr[10:], recalcCsum16(be16(hdr[10:]),
			uint16(hdr[1]), uint16(f.TOS)))
		hdr[1] = f.TOS
	}
	if hdr[8] != f.TTL {
		// TTL and protocol share a 16-bit checksum word.
		putBE16(hdr[10:], recalcCsum16(be16(hdr[10:]),
			uint16(hdr[8])<<8|uint16(proto), uint16(f.TTL)<<8|uint16(proto)))
		hdr[8] = f.TTL
	}
	return true
}

func (p *Packet) updateL4CsumForAddr(ipOff int, proto uint8, old, new uint32) {
	l4, ok := p.l4Offset(ipOff, proto)
	if !ok {
		return
	}
	switch proto {
	case flow.ProtoTCP:
		if len(p.Data) >= l4+18 {
			putBE16(p.Data[l4+16:], recalcCsum32(be16(p.Data[l4+16:]), old, new))
		}
	case flow.ProtoUDP:
		if len(p.Data) >= l4+8 && be16(p.Data[l4+6:]) != 0 {
			csum := recalcCsum32(be16(p.Data[l4+6:]), old, new)
			if csum == 0 {
				csum = 0xffff
			}
			putBE16(p.Data[l4+6:], csum)
		}
	}
}

func (p *Packet) l4Offset(ipOff int, proto uint8) (int, bool) {
	_, ethType := p.payloadOffset()
	switch ethType {
	case flow.EthTypeIPv4:
		if len(p.Data) < ipOff+20 {
			return 0, false
		}
		ihl := int(p.Data[ipOff]&0x0f) * 4
		if ihl < 20 || len(p.Data) < ipOff+ihl {
			return 0, false
		}
		return ipOff + ihl, true
	case flow.EthTypeIPv6:
		// Extension headers are not walked; a packet carrying them
		// keeps its transport header out of reach of rewrites.
		if len(p.Data) < ipOff+40 || p.Data[ipOff+6] != proto {
			return 0, false
		}
		return ipOff + 40, true
	}
	return 0, false
}

// IPv6Fields are the rewritable parts of an IPv6 header.
type IPv6Fields struct {
	Src, Dst [16]byte
	TC       uint8
	Label    uint32
	HLimit   uint8
}

func (p *Packet) ipv6Offset() (int, bool) {
	off, ethType := p.payloadOffset()
	if ethType != flow.EthTypeIPv6 || len(p.Data) < off+40 {
		return 0, false
	}
	return off, true
}

// IPv6 reads the rewritable IPv6 header fields.
func (p *Packet) IPv6() (IPv6Fields, bool) {
	off, ok := p.ipv6Offset()
	if !ok {
		return IPv6Fields{}, false
	}
	var f IPv6Fields
	w := be32(p.Data[off:])
	f.TC = uint8(w >> 20)
	f.Label = w & 0x000fffff
	f.HLimit = p.Data[off+7]
	copy(f.Src[:], p.Data[off+8:off+24])
	copy(f.Dst[:], p.Data[off+24:off+40])
	return f, true
}

// PutIPv6 writes the rewritable IPv6 header fields, updating any
// transport checksum that covers the pseudo-header.
func (p *Packet) PutIPv6(f IPv6Fields) bool {
	off, ok := p.ipv6Offset()
	if !ok {
		return false
	}
	hdr := p.Data[off:]
	proto := hdr[6]

	setAddr := func(fieldOff int, addr [16]byte) {
		for i := 0; i < 16; i += 4 {
			old := be32(hdr[fieldOff+i:])
			new := be32(addr[i : i+4])
			if old != new {
				p.updateL4CsumForAddrV6(off, proto, old, new)
			}
		}
		copy(hdr[fieldOff:fieldOff+16], addr[:])
	}
	setAddr(8, f.Src)
	setAddr(24, f.Dst)

	w := uint32(6)<<28 | uint32(f.TC)<<20 | f.Label&0x000fffff
	putBE32(hdr[0:4], w)
	hdr[7] = f.HLimit
	return true
}

func (p *Packet) updateL4CsumForAddrV6(ipOff int, proto uint8, old, new uint32) {
	l4, ok := p.l4Offset(ipOff, proto)
	if !ok {
		return
	}
	var csumOff int
	switch proto {
	case flow.ProtoTCP:
		csumOff = l4 + 16
	case flow.ProtoUDP:
		csumOff = l4 + 6
	case flow.ProtoICMPv6:
		csumOff = l4 + 2
	default:
		return
	}
	if len(p.Data) < csumOff+2 {
		return
	}
	putBE16(p.Data[csumOff:], recalcCsum32(be16(p.Data[csumOff:]), old, new))
}

// Ports reads the transport source and destination ports.
func (p *Packet) Ports() (src, dst uint16, ok bool) {
	off, ethType := p.payloadOffset()
	var proto uint8
	switch ethType {
	case flow.EthTypeIPv4:
		if len(p.Data) < off+20 {
			return 0, 0, false
		}
		proto = p.Data[off+9]
	case flow.EthTypeIPv6:
		if len(p.Data) < off+40 {
			return 0, 0, false
		}
		proto = p.Data[off+6]
	default:
		return 0, 0, false
	}
	l4, ok := p.l4Offset(off, proto)
	if !ok || len(p.Data) < l4+4 {
		return 0, 0, false
	}
	return be16(p.Data[l4:]), be16(p.Data[l4+2:]), true
}

// PutTCPPorts rewrites the TCP ports with an incremental checksum
// update.
func (p *Packet) PutTCPPorts(src, dst uint16) bool {
	l4, ok := p.transportOffset(flow.ProtoTCP)
	if !ok || len(p.Data) < l4+18 {
		return false
	}
	csum := be16(p.Data[l4+16:])
	csum = recalcCsum16(csum, be16(p.Data[l4:]), src)
	csum = recalcCsum16(csum, be16(p.Data[l4+2:]), dst)
	putBE16(p.Data[l4:], src)
	putBE16(p.Data[l4+2:], dst)
	putBE16(p.Data[l4+16:], csum)
	return true
}

// PutUDPPorts rewrites the UDP ports. A zero checksum stays zero.
func (p *Packet) PutUDPPorts(src, dst uint16) bool {
	l4, ok := p.transportOffset(flow.ProtoUDP)
	if !ok || len(p.Data) < l4+8 {
		return false
	}
	if csum := be16(p.Data[l4+6:]); csum != 0 {
		csum = recalcCsum16(csum, be16(p.Data[l4:]), src)
		csum = recalcCsum16(csum, be16(p.Data[l4+2:]), dst)
		if csum == 0 {
			csum = 0xffff
		}
		putBE16(p.Data[l4+6:], csum)
	}
	putBE16(p.Data[l4:], src)
	putBE16(p.Data[l4+2:], dst)
	return true
}

// PutSCTPPorts rewrites the SCTP ports and recomputes the CRC32c that
// covers the whole SCTP packet.
func (p *Packet) PutSCTPPorts(src, dst uint16) bool {
	l4, ok := p.transportOffset(flow.ProtoSCTP)
	if !ok || len(p.Data) < l4+12 {
		return false
	}
	putBE16(p.Data[l4:], src)
	putBE16(p.Data[l4+2:], dst)

	sctp := p.Data[l4:]
	sctp[8], sctp[9], sctp[10], sctp[11] = 0, 0, 0, 0
	sum := crc32.Checksum(sctp, castagnoli)
	// SCTP stores the CRC little-endian.
	sctp[8] = byte(sum)
	sctp[9] = byte(sum >> 8)
	sctp[10] = byte(sum >> 16)
	sctp[11] = byte(sum >> 24)
	return true
}

func (p *Packet) transportOffset(proto uint8) (int, bool) {
	off, ethType := p.payloadOffset()
	switch ethType {
	case flow.EthTypeIPv4:
		if len(p.Data) < off+20 || p.Data[off+9] != proto {
			return 0, false
		}
	case flow.EthTypeIPv6:
		if len(p.Data) < off+40 || p.Data[off+6] != proto {
			return 0, false
		}
	default:
		return 0, false
	}
	return p.l4Offset(off, proto)
}

// ICMP reads the ICMP or ICMPv6 type and code.
func (p *Packet) ICMP() (typ, code uint8, ok bool) {
	l4, ok := p.icmpOffset()
	if !ok {
		return 0, 0, false
	}
	return p.Data[l4], p.Data[l4+1], true
}

// PutICMP rewrites the ICMP or ICMPv6 type and code with a checksum
// update.
func (p *Packet) PutICMP(typ, code uint8) bool {
	l4, ok := p.icmpOffset()
	if !ok {
		return false
	}
	old := be16(p.Data[l4:])
	p.Data[l4] = typ
	p.Data[l4+1] = code
	putBE16(p.Data[l4+2:], recalcCsum16(be16(p.Data[l4+2:]), old, be16(p.Data[l4:])))
	return true
}

func (p *Packet) icmpOffset() (int, bool) {
	off, ethType := p.payloadOffset()
	var proto uint8
	switch ethType {
	case flow.EthTypeIPv4:
		proto = flow.ProtoICMP
	case flow.EthTypeIPv6:
		proto = flow.ProtoICMPv6
	default:
		return 0, false
	}
	l4, ok := p.l4Offset(off, proto)
	if !ok || len(p.Data) < l4+4 {
		return 0, false
	}
	switch ethType {
	case flow.EthTypeIPv4:
		if p.Data[off+9] != proto {
			return 0, false
		}
	case flow.EthTypeIPv6:
		if p.Data[off+6] != proto {
			return 0, false
		}
	}
	return l4, true
}

// ARPFields are the rewritable parts of an ARP payload.
type ARPFields struct {
	Op       uint16
	SPA, TPA [4]byte
	SHA, THA [6]byte
}

func (p *Packet) arpOffset() (int, bool) {
	off, ethType := p.payloadOffset()
	if ethType != flow.EthTypeARP || len(p.Data) < off+28 {
		return 0, false
	}
	return off, true
}

// ARP reads the rewritable ARP payload fields.
func (p *Packet) ARP() (ARPFields, bool) {
	off, ok := p.arpOffset()
	if !ok {
		return ARPFields{}, false
	}
	var f ARPFields
	f.Op = be16(p.Data[off+6:])
	copy(f.SHA[:], p.Data[off+8:off+14])
	copy(f.SPA[:], p.Data[off+14:off+18])
	copy(f.THA[:], p.Data[off+18:off+24])
	copy(f.TPA[:], p.Data[off+24:off+28])
	return f, true
}

// PutARP writes the rewritable ARP payload fields. ARP carries no
// checksum.
func (p *Packet) PutARP(f ARPFields) bool {
	off, ok := p.arpOffset()
	if !ok {
		return false
	}
	putBE16(p.Data[off+6:], f.Op)
	copy(p.Data[off+8:off+14], f.SHA[:])
	copy(p.Data[off+14:off+18], f.SPA[:])
	copy(p.Data[off+18:off+24], f.THA[:])
	copy(p.Data[off+24:off+28], f.TPA[:])
	return true
}

// PushVlan inserts an 802.1Q tag after the Ethernet addresses. The CFI
// bit is an in-memory marker and never reaches the wire.
func (p *Packet) PushVlan(tpid, tci uint16) bool {
	if p.Md.BaseLayer != flow.LayerL2 || len(p.Data) < ethHeaderLen {
		return false
	}
	data := make([]byte, len(p.Data)+vlanHeaderLen)
	copy(data, p.Data[:2*ethAddrLen])
	putBE16(data[12:], tpid)
	putBE16(data[14:], tci&^flow.VlanCFI)
	copy(data[16:], p.Data[2*ethAddrLen:])
	p.Data = data
	return true
}

// PopVlan removes the outer 802.1Q tag if one is present.
func (p *Packet) PopVlan() bool {
	if p.Md.BaseLayer != flow.LayerL2 || len(p.Data) < ethHeaderLen+vlanHeaderLen {
		return false
	}
	if be16(p.Data[12:]) != flow.EthTypeVLAN {
		return false
	}
	copy(p.Data[12:], p.Data[12+vlanHeaderLen:])
	p.Data = p.Data[:len(p.Data)-vlanHeaderLen]
	return true
}

// PushEth prepends an Ethernet header to a bare L3 packet, taking the
// payload type from the metadata.
func (p *Packet) PushEth(src, dst [6]byte) bool {
	if p.Md.BaseLayer != flow.LayerL3 {
		return false
	}
	data := make([]byte, len(p.Data)+ethHeaderLen)
	copy(data[0:6], dst[:])
	copy(data[6:12], src[:])
	putBE16(data[12:], p.Md.EthType)
	copy(data[ethHeaderLen:], p.Data)
	p.Data = data
	p.Md.BaseLayer = flow.LayerL2
	p.Md.EthType = 0
	return true
}

// PopEth strips the Ethernet header from an untagged L2 packet and
// remembers the payload type in the metadata.
func (p *Packet) PopEth() bool {
	if p.Md.BaseLayer != flow.LayerL2 || len(p.Data) < ethHeaderLen {
		return false
	}
	if be16(p.Data[12:]) == flow.EthTypeVLAN {
		return false
	}
	p.Md.EthType = be16(p.Data[12:])
	p.Data = p.Data[ethHeaderLen:]
	p.Md.BaseLayer = flow.LayerL3
	return true
}

func (p *Packet) mplsBase() (int, bool) {
	if p.Md.BaseLayer == flow.LayerL3 {
		return 0, p.Md.EthType == flow.EthTypeMPLS || p.Md.EthType == flow.EthTypeMPLSMC
	}
	off, ethType := p.payloadOffset()
	return off, ethType == flow.EthTypeMPLS || ethType == flow.EthTypeMPLSMC
}

func (p *Packet) setEthType(ethType uint16) {
	if p.Md.BaseLayer == flow.LayerL3 {
		p.Md.EthType = ethType
		return
	}
	off, _ := p.payloadOffset()
	putBE16(p.Data[off-2:], ethType)
}

// PushMPLS inserts a label stack entry at the top of the stack and
// rewrites the ethertype to the given MPLS type.
func (p *Packet) PushMPLS(ethType uint16, lse uint32) bool {
	if ethType != flow.EthTypeMPLS && ethType != flow.EthTypeMPLSMC {
		return false
	}
	off, _ := p.payloadOffset()
	data := make([]byte, len(p.Data)+mplsLSELen)
	copy(data, p.Data[:off])
	putBE32(data[off:], lse)
	copy(data[off+mplsLSELen:], p.Data[off:])
	p.Data = data
	p.setEthType(ethType)
	return true
}

// PopMPLS removes the top label stack entry and rewrites the ethertype
// to the type of what is underneath.
func (p *Packet) PopMPLS(ethType uint16) bool {
	off, isMPLS := p.mplsBase()
	if !isMPLS || len(p.Data) < off+mplsLSELen {
		return false
	}
	copy(p.Data[off:], p.Data[off+mplsLSELen:])
	p.Data = p.Data[:len(p.Data)-mplsLSELen]
	p.setEthType(ethType)
	return true
}

// MPLSLse reads the top label stack entry.
func (p *Packet) MPLSLse() (uint32, bool) {
	off, isMPLS := p.mplsBase()
	if !isMPLS || len(p.Data) < off+mplsLSELen {
		return 0, false
	}
	return be32(p.Data[off:]), true
}

// PutMPLSLse rewrites the top label stack entry.
func (p *Packet) PutMPLSLse(lse uint32) bool {
	off, isMPLS := p.mplsBase()
	if !isMPLS || len(p.Data) < off+mplsLSELen {
		return false
	}
	putBE32(p.Data[off:], lse)
	return true
}
