// Package commit compiles the difference between a packet's current
// headers and the headers a flow wants into the action list that
// rewrites one into the other. The base flow is updated as actions are
// emitted, so committing twice emits nothing the second time.
package commit

import (
	"bytes"
	"fmt"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
)

// Actions appends the set/push/pop actions that transform base into f,
// advancing base along the way and widening wc to cover every field
// that was read or written. With useMasked set, partial rewrites use
// masked set actions instead of widening to a full set.
//
// The network protocol and fragment type of a flow are not rewritable;
// commits that ask for that panic.
func Actions(f, base *flow.Flow, wc *flow.Wildcards, useMasked bool, b *nlattr.Builder) {
	commitEth(f, base, wc, useMasked, b)
	commitNw(f, base, wc, useMasked, b)
	commitPorts(f, base, wc, useMasked, b)
	commitMPLS(f, base, wc, b)
	commitVlan(f.VlanTCI, base, wc, b)
	commitU32(odp.KeyAttrPriority, f.Priority, &base.Priority,
		&wc.Masks.Priority, useMasked, b)
	commitU32(odp.KeyAttrSkbMark, f.SkbMark, &base.SkbMark,
		&wc.Masks.SkbMark, useMasked, b)
}

// commitAttr is the shared skeleton: emit nothing when the value
// already matches, a masked set for a partial rewrite, and a plain set
// otherwise, widening the mask to all-ones when a plain set forces an
// exact match. base and mask are written back in place.
func commitAttr(b *nlattr.Builder, typ uint16, useMasked bool, key, base, mask []byte) bool {
	if bytes.Equal(key, base) {
		// Mask bits cover values read or set; an unchanged value will
		// be matched exactly already.
		return false
	}
	fullyMasked := flow.IsExactAt(mask)
	if useMasked && !fullyMasked {
		v := make([]byte, len(key))
		for i := range v {
			v[i] = key[i] & mask[i]
		}
		odp.PutSetMaskedAction(b, typ, v, mask)
	} else {
		if !fullyMasked {
			for i := range mask {
				mask[i] = 0xff
			}
		}
		odp.PutSetAction(b, typ, key)
	}
	copy(base, key)
	return true
}

func commitU32(typ uint16, key uint32, base, mask *uint32, useMasked bool, b *nlattr.Builder) {
	var kb, bb, mb [4]byte
	putBE32(kb[:], key)
	putBE32(bb[:], *base)
	putBE32(mb[:], *mask)
	if commitAttr(b, typ, useMasked, kb[:], bb[:], mb[:]) {
		*base = key
		*mask = be32(mb[:])
	}
}

func commitEth(f, base *flow.Flow, wc *flow.Wildcards, useMasked bool, b *nlattr.Builder) {
	switch {
	case base.BaseLayer == flow.LayerL3 && f.BaseLayer == flow.LayerL2:
		odp.PutPushEthAction(b, f.EthSrc, f.EthDst)
		base.BaseLayer = flow.LayerL2
		base.EthSrc = f.EthSrc
		base.EthDst = f.EthDst
		wc.Masks.EthSrc = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
		wc.Masks.EthDst = wc.Masks.EthSrc

	case base.BaseLayer == flow.LayerL2 && f.BaseLayer == flow.LayerL3:
		odp.PutPopEthAction(b)
		base.BaseLayer = flow.LayerL3
		base.EthSrc = [6]byte{}
		base.EthDst = [6]byte{}

	case base.BaseLayer == flow.LayerL2:
		key := make([]byte, 12)
		bb := make([]byte, 12)
		mask := make([]byte, 12)
		copy(key[0:6], f.EthSrc[:])
		copy(key[6:12], f.EthDst[:])
		copy(bb[0:6], base.EthSrc[:])
		copy(bb[6:12], base.EthDst[:])
		copy(mask[0:6], wc.Masks.EthSrc[:])
		copy(mask[6:12], wc.Masks.EthDst[:])
		if commitAttr(b, odp.KeyAttrEthernet, useMasked, key, bb, mask) {
			copy(base.EthSrc[:], bb[0:6])
			copy(base.EthDst[:], bb[6:12])
			copy(wc.Masks.EthSrc[:], mask[0:6])
			copy(wc.Masks.EthDst[:], mask[6:12])
		}
	}
}

func commitNw(f, base *flow.Flow, wc *flow.Wildcards, useMasked bool, b *nlattr.Builder) {
	// A flow with no L3 header has nothing to commit.
	if f.NwProto == 0 {
		return
	}

	switch base.EthType {
	case flow.EthTypeIPv4:
		assertImmutable(f, base)
		key := ipv4Bytes(f)
		bb := ipv4Bytes(base)
		mask := ipv4Bytes(&wc.Masks)
		// Protocol and fragment slots never diverge, so their mask
		// bytes are pinned exact.
		mask[8] = 0xff
		mask[11] = 0xff
		if commitAttr(b, odp.KeyAttrIPv4, useMasked, key, bb, mask) {
			ipv4FromBytes(base, bb)
			ipv4FromBytes(&wc.Masks, mask)
		}

	case flow.EthTypeIPv6:
		assertImmutable(f, base)
		key := ipv6Bytes(f)
		bb := ipv6Bytes(base)
		mask := ipv6Bytes(&wc.Masks)
		mask[36] = 0xff
		mask[39] = 0xff
		if commitAttr(b, odp.KeyAttrIPv6, useMasked, key, bb, mask) {
			ipv6FromBytes(base, bb)
			ipv6FromBytes(&wc.Masks, mask)
		}

	case flow.EthTypeARP:
		// ARP rewrites are always full sets.
		key := arpBytes(f)
		bb := arpBytes(base)
		if !bytes.Equal(key, bb) {
			odp.PutSetAction(b, odp.KeyAttrARP, key)
			arpFromBytes(base, key)
			arpFromBytes(&wc.Masks, exact(24))
		}
	}
}

func assertImmutable(f, base *flow.Flow) {
	if f.NwProto != base.NwProto {
		panic(fmt.Sprintf("commit: network protocol change %d to %d",
			base.NwProto, f.NwProto))
	}
	if f.NwFrag != base.NwFrag {
		panic(fmt.Sprintf("commit: fragment type change %#x to %#x",
			base.NwFrag, f.NwFrag))
	}
}

func commitPorts(f, base *flow.Flow, wc *flow.Wildcards, useMasked bool, b *nlattr.Builder) {
	if base.EthType != flow.EthTypeIPv4 && base.EthType != flow.EthTypeIPv6 {
		return
	}
	var typ uint16
	switch base.NwProto {
	case flow.ProtoTCP:
		typ = odp.KeyAttrTCP
	case flow.ProtoUDP:
		typ = odp.KeyAttrUDP
	case flow.ProtoSCTP:
		typ = odp.KeyAttrSCTP
	default:
		return
	}

	key := portBytes(f)
	bb := portBytes(base)
	mask := portBytes(&wc.Masks)
	if commitAttr(b, typ, useMasked, key, bb, mask) {
		portsFromBytes(base, bb)
		portsFromBytes(&wc.Masks, mask)
	}
}

// commitMPLS reshapes the label stack with pops, sets and pushes. A
// pop that still leaves labels underneath carries the MPLS ethertype;
// only the final pop reveals the flow's real type.
func commitMPLS(f, base *flow.Flow, wc *flow.Wildcards, b *nlattr.Builder) {
	baseN := base.MPLSCount()
	flowN := f.MPLSCount()
	commonN := commonMPLSLabels(f, flowN, base, baseN, wc)

	for baseN > commonN {
		if baseN-1 == commonN && flowN > commonN {
			// One excess label over a shared tail: rewrite it in
			// place instead of a pop and push pair.
			var lse [4]byte
			putBE32(lse[:], f.MPLSLSE[flowN-baseN])
			odp.PutSetAction(b, odp.KeyAttrMPLS, lse[:])
			base.MPLSLSE[0] = f.MPLSLSE[flowN-baseN]
			commonN++
			continue
		}
		ethType := f.EthType
		if !mplsType(f.EthType) && baseN > 1 {
			ethType = flow.EthTypeMPLS
		}
		odp.PutPopMPLSAction(b, ethType)
		popMPLS(base, ethType)
		baseN--
	}

	for baseN < flowN {
		lse := f.MPLSLSE[flowN-baseN-1]
		odp.PutPushMPLSAction(b, lse, f.EthType)
		pushMPLS(base, f.EthType, lse)
		baseN++
	}
}

func mplsType(ethType uint16) bool {
	return ethType == flow.EthTypeMPLS || ethType == flow.EthTypeMPLSMC
}

// commonMPLSLabels counts the label stack entries shared between the
// bottoms of both stacks, exact-matching every entry it compares.
func commonMPLSLabels(a *flow.Flow, an int, b *flow.Flow, bn int, wc *flow.Wildcards) int {
	minN := an
	if bn < minN {
		minN = bn
	}
	common := 0
	for i := 0; i < minN; i++ {
		wc.Masks.MPLSLSE[an-1-i] = ^uint32(0)
		wc.Masks.MPLSLSE[bn-1-i] = ^uint32(0)
		if a.MPLSLSE[an-1-i] != b.MPLSLSE[bn-1-i] {
			break
		}
		common++
	}
	return common
}

func popMPLS(base *flow.Flow, ethType uint16) {
	copy(base.MPLSLSE[:], base.MPLSLSE[1:])
	base.MPLSLSE[flow.MaxMPLSLabels-1] = 0
	base.EthType = ethType
}

func pushMPLS(base *flow.Flow, ethType uint16, lse uint32) {
	copy(base.MPLSLSE[1:], base.MPLSLSE[:flow.MaxMPLSLabels-1])
	base.MPLSLSE[0] = lse
	base.EthType = ethType
}

func commitVlan(tci uint16, base *flow.Flow, wc *flow.Wildcards, b *nlattr.Builder) {
	if base.VlanTCI == tci {
		return
	}
	wc.Masks.VlanTCI = ^uint16(0)

	if base.VlanTCI&flow.VlanCFI != 0 {
		odp.PutPopVlanAction(b)
	}
	if tci&flow.VlanCFI != 0 {
		odp.PutPushVlanAction(b, flow.EthTypeVLAN, tci)
	}
	base.VlanTCI = tci
}

func ipv4Bytes(f *flow.Flow) []byte {
	v := make([]byte, 12)
	copy(v[0:4], f.NwSrc[:])
	copy(v[4:8], f.NwDst[:])
	v[8] = f.NwProto
	v[9] = f.NwTOS
	v[10] = f.NwTTL
	v[11] = f.NwFrag
	return v
}

func ipv4FromBytes(f *flow.Flow, v []byte) {
	copy(f.NwSrc[:], v[0:4])
	copy(f.NwDst[:], v[4:8])
	f.NwProto = v[8]
	f.NwTOS = v[9]
	f.NwTTL = v[10]
	f.NwFrag = v[11]
}

func ipv6Bytes(f *flow.Flow) []byte {
	v := make([]byte, 40)
	copy(v[0:16], f.IPv6Src[:])
	copy(v[16:32], f.IPv6Dst[:])
	putBE32(v[32:36], f.IPv6Lbl)
	v[36] = f.NwProto
	v[37] = f.NwTOS
	v[38] = f.NwTTL
	v[39] = f.NwFrag
	return v
}

func ipv6FromBytes(f *flow.Flow, v []byte) {
	copy(f.IPv6Src[:], v[0:16])
	copy(f.IPv6Dst[:], v[16:32])
	f.IPv6Lbl = be32(v[32:36])
	f.NwProto = v[36]
	f.NwTOS = v[37]
	f.NwTTL = v[38]
	f.NwFrag = v[39]
}

func arpBytes(f *flow.Flow) []byte {
	v := make([]byte, 24)
	copy(v[0:4], f.NwSrc[:])
	copy(v[4:8], f.NwDst[:])
	v[9] = f.NwProto
	copy(v[10:16], f.ArpSHA[:])
	copy(v[16:22], f.ArpTHA[:])
	return v
}

func arpFromBytes(f *flow.Flow, v []byte) {
	copy(f.NwSrc[:], v[0:4])
	copy(f.NwDst[:], v[4:8])
	f.NwProto = v[9]
	copy(f.ArpSHA[:], v[10:16])
	copy(f.ArpTHA[:], v[16:22])
}

func portBytes(f *flow.Flow) []byte {
	return []byte{
		byte(f.TpSrc >> 8), byte(f.TpSrc),
		byte(f.TpDst >> 8), byte(f.TpDst),
	}
}

func portsFromBytes(f *flow.Flow, v []byte) {
	f.TpSrc = be16(v[0:2])
	f.TpDst = be16(v[2:4])
}

func exact(n int) []byte {
	v := make([]byte, n)
	for i := range v {
		v[i] = 0xff
	}
	return v
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
