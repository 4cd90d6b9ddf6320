package odp

import (
	"errors"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/logger"
	"github.com/veesix-networks/odp/pkg/nlattr"
)

var log = logger.Get(logger.ComponentKey)

// ErrMalformed reports structurally invalid attribute bytes.
var ErrMalformed = errors.New("odp: malformed attributes")

// PortNone is the in_port value of a flow that has no input port.
const PortNone uint32 = 0xffffffff

// IP fragment classification on the wire.
const (
	FragTypeNone  uint8 = 0
	FragTypeFirst uint8 = 1
	FragTypeLater uint8 = 2
)

const (
	ndNeighborSolicit = 135
	ndNeighborAdvert  = 136
)

func attrBit(typ uint16) uint64 { return 1 << typ }

// parseFlowNlattrs indexes one attribute sequence by type. Unknown
// types are tolerated and reported through outOfRange; duplicates and
// wrong fixed lengths are structural errors.
func parseFlowNlattrs(buf []byte, attrs *[keyAttrMax + 1]nlattr.Attr) (present uint64, outOfRange bool, ok bool) {
	it := nlattr.NewIter(buf)
	for a, more := it.Next(); more; a, more = it.Next() {
		if a.Type == 0 || a.Type > keyAttrMax {
			outOfRange = true
			continue
		}
		if want := keyAttrLens[a.Type]; want != lenVariable && a.Len() != want {
			log.Warn("attribute has wrong length in flow key",
				"attr", KeyAttrName(a.Type), "len", a.Len(), "want", want)
			return 0, false, false
		}
		if present&attrBit(a.Type) != 0 {
			log.Warn("duplicate attribute in flow key", "attr", KeyAttrName(a.Type))
			return 0, false, false
		}
		present |= attrBit(a.Type)
		attrs[a.Type] = a
	}
	if it.Err() != nil {
		log.Warn("malformed flow key", "err", it.Err())
		return 0, false, false
	}
	return present, outOfRange, true
}

// checkExpectations grades a parsed attribute set: missing expected
// attributes degrade to FitTooLittle, unexpected or unknown ones to
// FitTooMuch.
func checkExpectations(present uint64, outOfRange bool, expected uint64) Fitness {
	if missing := expected &^ present; missing != 0 {
		return FitTooLittle
	}
	if extra := present &^ expected; extra != 0 || outOfRange {
		return FitTooMuch
	}
	return FitPerfect
}

// TunnelFromAttr decodes the nested tunnel attribute into tnl. Pass
// isMask when decoding the mask half of a key pair.
func TunnelFromAttr(a nlattr.Attr, tnl *flow.TunnelKey, isMask bool) Fitness {
	unknown := false
	ttl := false
	it := nlattr.NewIter(a.Value)
	for sub, more := it.Next(); more; sub, more = it.Next() {
		if sub.Type > tunnelAttrMax {
			unknown = true
			continue
		}
		if want := tunnelAttrLens[sub.Type]; want != lenVariable && sub.Len() != want {
			log.Warn("tunnel attribute has wrong length", "attr", sub.Type, "len", sub.Len())
			return FitError
		}
		switch sub.Type {
		case TunnelAttrID:
			tnl.ID = sub.Uint64()
			tnl.Flags |= flow.TunnelKeyF
		case TunnelAttrIPv4Src:
			copy(tnl.IPSrc[:], sub.Value)
		case TunnelAttrIPv4Dst:
			copy(tnl.IPDst[:], sub.Value)
		case TunnelAttrTOS:
			tnl.TOS = sub.Uint8()
		case TunnelAttrTTL:
			tnl.TTL = sub.Uint8()
			ttl = true
		case TunnelAttrDF:
			tnl.Flags |= flow.TunnelDF
		case TunnelAttrCSUM:
			tnl.Flags |= flow.TunnelCSUM
		case TunnelAttrOAM:
			tnl.Flags |= flow.TunnelOAM
		case TunnelAttrGeneveOpts:
			if sub.Len() > flow.MaxTunnelOptsLen {
				log.Warn("tunnel options too long", "len", sub.Len())
				return FitError
			}
			copy(tnl.Opts[:], sub.Value)
			tnl.OptsLen = uint8(sub.Len())
		case TunnelAttrTpSrc:
			tnl.TpSrc = sub.Uint16()
		case TunnelAttrTpDst:
			tnl.TpDst = sub.Uint16()
		}
	}
	if it.Err() != nil {
		log.Warn("malformed tunnel key", "err", it.Err())
		return FitError
	}
	if !ttl && !isMask {
		log.Warn("tunnel key is missing TTL")
		return FitError
	}
	if unknown {
		return FitTooMuch
	}
	return FitPerfect
}

// parseEthertype resolves the flow's dl_type. A key with no ethertype
// attribute describes a frame with no Ethernet II type; a mask may omit
// it only for Ethernet II frames, where omission wildcards the type.
func parseEthertype(attrs *[keyAttrMax + 1]nlattr.Attr, present uint64,
	expected *uint64, f, src *flow.Flow, isMask bool) bool {

	if present&attrBit(KeyAttrEthertype) != 0 {
		f.EthType = attrs[KeyAttrEthertype].Uint16()
		if !isMask && f.EthType < flow.EthTypeMin {
			log.Warn("invalid ethertype in flow key", "eth_type", f.EthType)
			return false
		}
		if isMask && src.EthType < flow.EthTypeMin && f.EthType != 0xffff {
			log.Warn("ethertype mask must be exact for non-Ethernet II frame")
			return false
		}
		*expected |= attrBit(KeyAttrEthertype)
	} else {
		if !isMask {
			f.EthType = flow.EthTypeNone
		} else if src.EthType < flow.EthTypeMin {
			log.Warn("mask expected for non-Ethernet II frame")
			return false
		}
	}
	return true
}

// parseL25Onward fills in the layer-2.5 and above fields, dispatching
// on the source flow's dl_type, and grades the whole attribute set.
func parseL25Onward(attrs *[keyAttrMax + 1]nlattr.Attr, present uint64,
	outOfRange bool, expected uint64, f, src *flow.Flow, isMask bool) Fitness {

	switch src.EthType {
	case flow.EthTypeMPLS, flow.EthTypeMPLSMC:
		if !isMask {
			expected |= attrBit(KeyAttrMPLS)
		}
		if present&attrBit(KeyAttrMPLS) != 0 {
			a := attrs[KeyAttrMPLS]
			size := a.Len()
			if size == 0 || size%4 != 0 {
				log.Warn("MPLS attribute has bad size", "len", size)
				return FitError
			}
			if isMask && f.EthType != 0xffff {
				log.Warn("MPLS mask requires an exact ethertype mask")
				return FitError
			}
			n := size / 4
			for i := 0; i < n && i < flow.MaxMPLSLabels; i++ {
				f.MPLSLSE[i] = attrs[KeyAttrMPLS].Uint32At(i)
			}
			if isMask {
				expected |= attrBit(KeyAttrMPLS)
			}
			if n > flow.MaxMPLSLabels {
				return FitTooMuch
			}
			if !isMask {
				for i := 0; i < n-1; i++ {
					if flow.MPLSBOS(f.MPLSLSE[i]) {
						log.Warn("MPLS bottom-of-stack set above the last label")
						return FitError
					}
				}
				if n < flow.MaxMPLSLabels && !flow.MPLSBOS(f.MPLSLSE[n-1]) {
					return FitTooLittle
				}
			}
		}

	case flow.EthTypeIPv4:
		if !isMask {
			expected |= attrBit(KeyAttrIPv4)
		}
		if present&attrBit(KeyAttrIPv4) != 0 {
			v := attrs[KeyAttrIPv4].Value
			copy(f.NwSrc[:], v[0:4])
			copy(f.NwDst[:], v[4:8])
			f.NwProto = v[8]
			f.NwTOS = v[9]
			f.NwTTL = v[10]
			if !fragFromWire(v[11], isMask, &f.NwFrag) {
				return FitError
			}
			if isMask {
				expected |= attrBit(KeyAttrIPv4)
			}
		}
		if fit := parseL4(attrs, present, &expected, f, src, isMask); fit != FitPerfect {
			return fit
		}

	case flow.EthTypeIPv6:
		if !isMask {
			expected |= attrBit(KeyAttrIPv6)
		}
		if present&attrBit(KeyAttrIPv6) != 0 {
			v := attrs[KeyAttrIPv6].Value
			copy(f.IPv6Src[:], v[0:16])
			copy(f.IPv6Dst[:], v[16:32])
			f.IPv6Lbl = be32(v[32:36])
			if !isMask && f.IPv6Lbl&^0x000fffff != 0 {
				log.Warn("invalid IPv6 flow label", "label", f.IPv6Lbl)
				return FitError
			}
			f.NwProto = v[36]
			f.NwTOS = v[37]
			f.NwTTL = v[38]
			if !fragFromWire(v[39], isMask, &f.NwFrag) {
				return FitError
			}
			if isMask {
				expected |= attrBit(KeyAttrIPv6)
			}
		}
		if fit := parseL4(attrs, present, &expected, f, src, isMask); fit != FitPerfect {
			return fit
		}

	case flow.EthTypeARP:
		if !isMask {
			expected |= attrBit(KeyAttrARP)
		}
		if present&attrBit(KeyAttrARP) != 0 {
			v := attrs[KeyAttrARP].Value
			op := uint16(v[8])<<8 | uint16(v[9])
			if !isMask && op > 0xff {
				log.Warn("unsupported ARP opcode in flow key", "op", op)
				return FitError
			}
			copy(f.NwSrc[:], v[0:4])
			copy(f.NwDst[:], v[4:8])
			f.NwProto = uint8(op)
			copy(f.ArpSHA[:], v[10:16])
			copy(f.ArpTHA[:], v[16:22])
			if isMask {
				expected |= attrBit(KeyAttrARP)
			}
		}
	}

	return checkExpectations(present, outOfRange, expected)
}

// parseL4 fills in the transport fields once the network protocol is
// known. Later fragments carry no transport header, so none is
// expected for them.
func parseL4(attrs *[keyAttrMax + 1]nlattr.Attr, present uint64,
	expected *uint64, f, src *flow.Flow, isMask bool) Fitness {

	if src.NwFrag&flow.FragLater != 0 {
		return FitPerfect
	}

	switch src.NwProto {
	case flow.ProtoTCP:
		if !isMask {
			*expected |= attrBit(KeyAttrTCP)
		}
		if present&attrBit(KeyAttrTCP) != 0 {
			v := attrs[KeyAttrTCP].Value
			f.TpSrc = uint16(v[0])<<8 | uint16(v[1])
			f.TpDst = uint16(v[2])<<8 | uint16(v[3])
			if isMask {
				*expected |= attrBit(KeyAttrTCP)
			}
		}
		// tcp_flags is optional in either direction.
		*expected |= attrBit(KeyAttrTCPFlags)
		if present&attrBit(KeyAttrTCPFlags) != 0 {
			f.TCPFlags = attrs[KeyAttrTCPFlags].Uint16() & flow.TCPFlagsMask
		}

	case flow.ProtoUDP:
		if !isMask {
			*expected |= attrBit(KeyAttrUDP)
		}
		if present&attrBit(KeyAttrUDP) != 0 {
			v := attrs[KeyAttrUDP].Value
			f.TpSrc = uint16(v[0])<<8 | uint16(v[1])
			f.TpDst = uint16(v[2])<<8 | uint16(v[3])
			if isMask {
				*expected |= attrBit(KeyAttrUDP)
			}
		}

	case flow.ProtoSCTP:
		if !isMask {
			*expected |= attrBit(KeyAttrSCTP)
		}
		if present&attrBit(KeyAttrSCTP) != 0 {
			v := attrs[KeyAttrSCTP].Value
			f.TpSrc = uint16(v[0])<<8 | uint16(v[1])
			f.TpDst = uint16(v[2])<<8 | uint16(v[3])
			if isMask {
				*expected |= attrBit(KeyAttrSCTP)
			}
		}

	case flow.ProtoICMP:
		if src.EthType != flow.EthTypeIPv4 {
			break
		}
		if !isMask {
			*expected |= attrBit(KeyAttrICMP)
		}
		if present&attrBit(KeyAttrICMP) != 0 {
			v := attrs[KeyAttrICMP].Value
			f.TpSrc = uint16(v[0])
			f.TpDst = uint16(v[1])
			if isMask {
				*expected |= attrBit(KeyAttrICMP)
			}
		}

	case flow.ProtoICMPv6:
		if src.EthType != flow.EthTypeIPv6 {
			break
		}
		if !isMask {
			*expected |= attrBit(KeyAttrICMPv6)
		}
		if present&attrBit(KeyAttrICMPv6) != 0 {
			v := attrs[KeyAttrICMPv6].Value
			f.TpSrc = uint16(v[0])
			f.TpDst = uint16(v[1])
			if isMask {
				*expected |= attrBit(KeyAttrICMPv6)
			}
		}
		if !isMask && src.TpDst == 0 &&
			(src.TpSrc == ndNeighborSolicit || src.TpSrc == ndNeighborAdvert) {
			*expected |= attrBit(KeyAttrND)
		}
		if present&attrBit(KeyAttrND) != 0 {
			v := attrs[KeyAttrND].Value
			copy(f.NDTarget[:], v[0:16])
			copy(f.ArpSHA[:], v[16:22])
			copy(f.ArpTHA[:], v[22:28])
			if isMask {
				*expected |= attrBit(KeyAttrND)
				// An ND mask is meaningful only when the ICMPv6 type
				// and code are matched exactly.
				if !flow.IsExactAt(v) && (f.TpSrc != 0xff || f.TpDst != 0xff) {
					log.Warn("ND mask requires exact ICMPv6 type and code masks",
						"tp_src", f.TpSrc, "tp_dst", f.TpDst)
					return FitError
				}
			}
		}
	}

	return FitPerfect
}

// parse8021qOnward handles a single-tagged frame: vlan and encap
// attributes at the outer level, then the real ethertype and everything
// above it inside the encap nest.
func parse8021qOnward(attrs *[keyAttrMax + 1]nlattr.Attr, present uint64,
	outOfRange bool, expected uint64, f, src *flow.Flow, isMask bool) Fitness {

	var encap nlattr.Attr
	haveEncap := present&attrBit(KeyAttrEncap) != 0
	if haveEncap {
		encap = attrs[KeyAttrEncap]
	}

	if !isMask {
		expected |= attrBit(KeyAttrVlan) | attrBit(KeyAttrEncap)
	} else {
		expected |= present & (attrBit(KeyAttrVlan) | attrBit(KeyAttrEncap))
	}
	fitness := checkExpectations(present, outOfRange, expected)

	if present&attrBit(KeyAttrVlan) != 0 {
		tci := attrs[KeyAttrVlan].Uint16()
		if !isMask {
			if tci == 0 {
				// A frame truncated right after the 802.1Q header has
				// a zero TCI and nothing inside the encap.
				if fitness == FitPerfect && haveEncap && encap.Len() != 0 {
					return FitTooMuch
				}
				return fitness
			}
			if tci&flow.VlanCFI == 0 {
				log.Warn("VLAN TCI does not have CFI set", "tci", tci)
				return FitError
			}
		}
		f.VlanTCI = tci
	}

	if isMask && !haveEncap {
		return fitness
	}
	if !haveEncap {
		return worst(fitness, FitTooLittle)
	}

	var inner [keyAttrMax + 1]nlattr.Attr
	present, outOfRange, ok := parseFlowNlattrs(encap.Value, &inner)
	if !ok {
		return FitError
	}
	expected = 0
	if !parseEthertype(&inner, present, &expected, f, src, isMask) {
		return FitError
	}
	encapFitness := parseL25Onward(&inner, present, outOfRange, expected, f, src, isMask)

	return worst(fitness, encapFitness)
}

func keyToFlow(key []byte, f, src *flow.Flow) Fitness {
	isMask := f != src
	*f = flow.Flow{}

	var attrs [keyAttrMax + 1]nlattr.Attr
	present, outOfRange, ok := parseFlowNlattrs(key, &attrs)
	if !ok {
		return FitError
	}

	var expected uint64

	if present&attrBit(KeyAttrRecircID) != 0 {
		f.RecircID = attrs[KeyAttrRecircID].Uint32()
		expected |= attrBit(KeyAttrRecircID)
	} else if isMask {
		// A mask that omits recirc_id matches it exactly.
		f.RecircID = ^uint32(0)
	}
	if present&attrBit(KeyAttrDpHash) != 0 {
		f.DpHash = attrs[KeyAttrDpHash].Uint32()
		expected |= attrBit(KeyAttrDpHash)
	}
	if present&attrBit(KeyAttrPriority) != 0 {
		f.Priority = attrs[KeyAttrPriority].Uint32()
		expected |= attrBit(KeyAttrPriority)
	}
	if present&attrBit(KeyAttrSkbMark) != 0 {
		f.SkbMark = attrs[KeyAttrSkbMark].Uint32()
		expected |= attrBit(KeyAttrSkbMark)
	}
	if present&attrBit(KeyAttrTunnel) != 0 {
		switch TunnelFromAttr(attrs[KeyAttrTunnel], &f.Tunnel, isMask) {
		case FitError:
			return FitError
		case FitPerfect:
			expected |= attrBit(KeyAttrTunnel)
		}
	}
	if present&attrBit(KeyAttrInPort) != 0 {
		f.InPort = attrs[KeyAttrInPort].Uint32()
		expected |= attrBit(KeyAttrInPort)
	} else if !isMask {
		f.InPort = PortNone
	}

	if present&attrBit(KeyAttrEthernet) != 0 {
		v := attrs[KeyAttrEthernet].Value
		copy(f.EthSrc[:], v[0:6])
		copy(f.EthDst[:], v[6:12])
		expected |= attrBit(KeyAttrEthernet)
		f.BaseLayer = flow.LayerL2
	} else {
		f.BaseLayer = flow.LayerL3
	}

	if (isMask && src.BaseLayer == flow.LayerL3) ||
		(!isMask && f.BaseLayer == flow.LayerL3) {
		// L3 frames carry their payload type out of band and can have
		// no VLAN tag.
		if present&attrBit(KeyAttrPktEthertype) != 0 {
			f.EthType = attrs[KeyAttrPktEthertype].Uint16()
			if !isMask && f.EthType < flow.EthTypeMin {
				log.Warn("invalid payload ethertype in flow key", "eth_type", f.EthType)
				return FitError
			}
			if isMask && f.EthType != 0xffff {
				log.Warn("payload ethertype mask must be exact")
				return FitError
			}
			expected |= attrBit(KeyAttrPktEthertype)
		} else if !isMask {
			return worst(checkExpectations(present, outOfRange, expected), FitTooLittle)
		}
		return parseL25Onward(&attrs, present, outOfRange, expected, f, src, isMask)
	}

	if !parseEthertype(&attrs, present, &expected, f, src, isMask) {
		return FitError
	}

	var vlan bool
	if isMask {
		vlan = src.VlanTCI&flow.VlanCFI != 0
	} else {
		vlan = f.EthType == flow.EthTypeVLAN
	}
	if vlan {
		return parse8021qOnward(&attrs, present, outOfRange, expected, f, src, isMask)
	}
	return parseL25Onward(&attrs, present, outOfRange, expected, f, src, isMask)
}

// FlowFromKey decodes a flow key into f and grades the result. On
// FitError f is left zeroed rather than half-filled.
func FlowFromKey(key []byte, f *flow.Flow) Fitness {
	fit := keyToFlow(key, f, f)
	if fit == FitError {
		*f = flow.Flow{}
	}
	return fit
}

// MaskFromKey decodes the mask half of a key pair into mask. The flow
// the mask applies to steers the decode, since a mask key borrows its
// structure from its flow. An empty mask key means exact match.
func MaskFromKey(maskKey []byte, f *flow.Flow, mask *flow.Flow) Fitness {
	if len(maskKey) == 0 {
		*mask = flow.ExactWildcards().Masks
		return FitPerfect
	}
	fit := keyToFlow(maskKey, mask, f)
	if fit == FitError {
		*mask = flow.Flow{}
	}
	return fit
}

// fragFromWire maps the wire fragment enum to NwFrag bits. A mask
// treats any nonzero byte as covering both bits.
func fragFromWire(w uint8, isMask bool, out *uint8) bool {
	if isMask {
		if w != 0 {
			*out = flow.FragAny | flow.FragLater
		}
		return true
	}
	switch w {
	case FragTypeNone:
		*out = 0
	case FragTypeFirst:
		*out = flow.FragAny
	case FragTypeLater:
		*out = flow.FragAny | flow.FragLater
	default:
		log.Warn("invalid fragment type in flow key", "frag", w)
		return false
	}
	return true
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
