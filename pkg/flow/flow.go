// Package flow defines the extracted-header model a datapath flow key
// describes: packet metadata, Ethernet/VLAN, an MPLS label stack, one
// network layer and one transport layer. All fields are fixed-size so a
// Flow compares with == and doubles as a bit mask in Wildcards.
package flow

// BaseLayer says which header the packet starts with.
type BaseLayer uint8

const (
	// LayerL2 packets begin with an Ethernet header.
	LayerL2 BaseLayer = iota
	// LayerL3 packets begin directly with a network-layer header; the
	// payload type is carried out of band.
	LayerL3
)

func (l BaseLayer) String() string {
	if l == LayerL3 {
		return "L3"
	}
	return "L2"
}

const (
	// EthTypeMin is the smallest value that is a length/type field
	// rather than an 802.3 length.
	EthTypeMin = 0x0600
	// EthTypeNone marks a frame with no Ethernet II type at all. It is
	// below EthTypeMin so it can never collide with a real type.
	EthTypeNone = 0x05ff
)

const (
	EthTypeIPv4   = 0x0800
	EthTypeARP    = 0x0806
	EthTypeVLAN   = 0x8100
	EthTypeIPv6   = 0x86dd
	EthTypeMPLS   = 0x8847
	EthTypeMPLSMC = 0x8848
)

// VLAN TCI layout.
const (
	VlanCFI     uint16 = 0x1000
	VlanVIDMask uint16 = 0x0fff
	VlanPCPMask uint16 = 0xe000
	VlanPCPShift       = 13
)

func VlanVID(tci uint16) uint16 { return tci & VlanVIDMask }

func VlanPCP(tci uint16) uint8 { return uint8((tci & VlanPCPMask) >> VlanPCPShift) }

// MaxMPLSLabels bounds the label stack depth tracked per flow.
const MaxMPLSLabels = 3

// MPLS label stack entry layout.
const (
	MPLSLabelMask uint32 = 0xfffff000
	MPLSTCMask    uint32 = 0x00000e00
	MPLSBOSMask   uint32 = 0x00000100
	MPLSTTLMask   uint32 = 0x000000ff
)

func MPLSLabel(lse uint32) uint32 { return (lse & MPLSLabelMask) >> 12 }

func MPLSTC(lse uint32) uint8 { return uint8((lse & MPLSTCMask) >> 9) }

func MPLSBOS(lse uint32) bool { return lse&MPLSBOSMask != 0 }

func MPLSTTL(lse uint32) uint8 { return uint8(lse & MPLSTTLMask) }

func SetMPLSLabel(lse, label uint32) uint32 {
	return lse&^MPLSLabelMask | label<<12&MPLSLabelMask
}

func SetMPLSTC(lse uint32, tc uint8) uint32 {
	return lse&^MPLSTCMask | uint32(tc)<<9&MPLSTCMask
}

func SetMPLSBOS(lse uint32, bos bool) uint32 {
	if bos {
		return lse | MPLSBOSMask
	}
	return lse &^ MPLSBOSMask
}

func SetMPLSTTL(lse uint32, ttl uint8) uint32 {
	return lse&^MPLSTTLMask | uint32(ttl)
}

// IP fragment classification bits in NwFrag.
const (
	FragAny   uint8 = 1 << 0
	FragLater uint8 = 1 << 1
)

// TCPFlagsMask covers the 12 flag bits a TCP header can carry.
const TCPFlagsMask uint16 = 0x0fff

// Tunnel flag bits.
const (
	TunnelDF   uint16 = 1 << 0
	TunnelCSUM uint16 = 1 << 1
	TunnelOAM  uint16 = 1 << 2
	TunnelKeyF uint16 = 1 << 3

	TunnelFlagsMask = TunnelDF | TunnelCSUM | TunnelOAM | TunnelKeyF
)

// MaxTunnelOptsLen is the most option bytes a tunnel key carries.
const MaxTunnelOptsLen = 124

// TunnelKey holds the metadata of the tunnel a packet arrived over or
// will be sent over. A zero IPDst means no tunnel.
type TunnelKey struct {
	ID      uint64
	IPSrc   [4]byte
	IPDst   [4]byte
	Flags   uint16
	TOS     uint8
	TTL     uint8
	TpSrc   uint16
	TpDst   uint16
	OptsLen uint8
	Opts    [MaxTunnelOptsLen]byte
}

// IsSet reports whether any tunnel metadata is present.
func (t *TunnelKey) IsSet() bool {
	return t.IPDst != [4]byte{}
}

// Flow is the header extraction a flow key encodes. A Flow also serves
// as the mask half of a Wildcards, where each bit is 1 if the matching
// flow bit is significant.
type Flow struct {
	// Metadata.
	Tunnel   TunnelKey
	Priority uint32
	SkbMark  uint32
	DpHash   uint32
	RecircID uint32
	InPort   uint32

	// L2. For ARP, EthSrc/EthDst keep their Ethernet meaning and the
	// hardware addresses from the ARP payload live in ArpSHA/ArpTHA.
	BaseLayer BaseLayer
	EthSrc    [6]byte
	EthDst    [6]byte
	VlanTCI   uint16
	EthType   uint16

	MPLSLSE [MaxMPLSLabels]uint32

	// L3. NwSrc/NwDst double as the ARP SPA/TPA, and NwProto as the
	// low byte of the ARP opcode.
	NwSrc    [4]byte
	NwDst    [4]byte
	IPv6Src  [16]byte
	IPv6Dst  [16]byte
	IPv6Lbl  uint32
	NwProto  uint8
	NwTOS    uint8
	NwTTL    uint8
	NwFrag   uint8
	ArpSHA   [6]byte
	ArpTHA   [6]byte
	NDTarget [16]byte

	// L4.
	TpSrc    uint16
	TpDst    uint16
	TCPFlags uint16
}

// IP protocol numbers the key translator and interpreter care about.
const (
	ProtoICMP   = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
	ProtoSCTP   = 132
)

// MPLSCount returns the number of label stack entries present.
func (f *Flow) MPLSCount() int {
	n := 0
	for n < MaxMPLSLabels && f.MPLSLSE[n] != 0 {
		n++
	}
	return n
}

// Wildcards pairs with a Flow: a 1 bit in Masks means the matching flow
// bit is significant.
type Wildcards struct {
	Masks Flow
}

// ExactWildcards returns a mask that matches every field exactly.
func ExactWildcards() *Wildcards {
	wc := &Wildcards{}
	wc.Masks.Tunnel = TunnelKey{
		ID:    ^uint64(0),
		IPSrc: [4]byte{0xff, 0xff, 0xff, 0xff},
		IPDst: [4]byte{0xff, 0xff, 0xff, 0xff},
		Flags: ^uint16(0),
		TOS:   0xff, TTL: 0xff,
		TpSrc: ^uint16(0), TpDst: ^uint16(0),
	}
	for i := range wc.Masks.Tunnel.Opts {
		wc.Masks.Tunnel.Opts[i] = 0xff
	}
	wc.Masks.Tunnel.OptsLen = MaxTunnelOptsLen
	wc.Masks.Priority = ^uint32(0)
	wc.Masks.SkbMark = ^uint32(0)
	wc.Masks.DpHash = ^uint32(0)
	wc.Masks.RecircID = ^uint32(0)
	wc.Masks.InPort = ^uint32(0)
	wc.Masks.EthSrc = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	wc.Masks.EthDst = wc.Masks.EthSrc
	wc.Masks.VlanTCI = ^uint16(0)
	wc.Masks.EthType = ^uint16(0)
	for i := range wc.Masks.MPLSLSE {
		wc.Masks.MPLSLSE[i] = ^uint32(0)
	}
	wc.Masks.NwSrc = [4]byte{0xff, 0xff, 0xff, 0xff}
	wc.Masks.NwDst = wc.Masks.NwSrc
	for i := range wc.Masks.IPv6Src {
		wc.Masks.IPv6Src[i] = 0xff
		wc.Masks.IPv6Dst[i] = 0xff
		wc.Masks.NDTarget[i] = 0xff
	}
	wc.Masks.IPv6Lbl = 0x000fffff
	wc.Masks.NwProto = 0xff
	wc.Masks.NwTOS = 0xff
	wc.Masks.NwTTL = 0xff
	wc.Masks.NwFrag = 0xff
	wc.Masks.ArpSHA = wc.Masks.EthSrc
	wc.Masks.ArpTHA = wc.Masks.EthSrc
	wc.Masks.TpSrc = ^uint16(0)
	wc.Masks.TpDst = ^uint16(0)
	wc.Masks.TCPFlags = TCPFlagsMask
	return wc
}

func allOnes(b []byte) bool {
	for _, v := range b {
		if v != 0xff {
			return false
		}
	}
	return true
}

// IsExactAt reports whether the mask byte slice is all-ones.
func IsExactAt(mask []byte) bool { return allOnes(mask) }
