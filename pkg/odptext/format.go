package odptext

import (
	"fmt"
	"strings"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
)

// FormatKey renders a flow key with no mask.
func FormatKey(key []byte, pm *PortMap) string {
	return formatAttrs(key, nil, pm, false)
}

// FormatKeyMask renders a flow key with its mask. Without verbose,
// fields masked fully out are dropped and exact fields lose their
// "/mask" suffix, which is the form fixtures use.
func FormatKeyMask(key, mask []byte, pm *PortMap, verbose bool) string {
	return formatAttrs(key, mask, pm, verbose)
}

func formatAttrs(key, mask []byte, pm *PortMap, verbose bool) string {
	var parts []string
	it := nlattr.NewIter(key)
	for {
		a, ok := it.Next()
		if !ok {
			break
		}
		var ma *nlattr.Attr
		if mask != nil {
			if m, found := nlattr.Find(mask, a.Type); found {
				ma = &m
			}
		}
		if !verbose && ma != nil && allZero(ma.Value) {
			continue
		}
		if !verbose && ma != nil && odp.MaskAttrIsExact(a.Type, *ma) {
			ma = nil
		}
		parts = append(parts, formatKeyAttr(a, ma, pm))
	}
	if err := it.Err(); err != nil {
		log.Warn("malformed flow key while formatting", "error", err)
		parts = append(parts, "(malformed)")
	}
	return strings.Join(parts, ",")
}

// fieldList collects name=value[/mask] subfields for one group.
type fieldList struct {
	parts []string
}

func (fl *fieldList) add(name, value string) {
	fl.parts = append(fl.parts, name+"="+value)
}

// addMasked appends value/mask, dropping the mask when it is exact.
func (fl *fieldList) addMasked(name, value, maskStr string, exact bool) {
	if maskStr == "" || exact {
		fl.add(name, value)
		return
	}
	fl.add(name, value+"/"+maskStr)
}

func (fl *fieldList) String() string { return strings.Join(fl.parts, ",") }

func formatKeyAttr(a nlattr.Attr, ma *nlattr.Attr, pm *PortMap) string {
	name := odp.KeyAttrName(a.Type)
	switch a.Type {
	case odp.KeyAttrPriority, odp.KeyAttrSkbMark, odp.KeyAttrDpHash:
		return name + "(" + hex32(a, ma) + ")"

	case odp.KeyAttrRecircID:
		if a.Len() != 4 {
			return malformed(name, a)
		}
		return fmt.Sprintf("%s(%d)", name, a.Uint32())

	case odp.KeyAttrInPort:
		if a.Len() != 4 {
			return malformed(name, a)
		}
		if ma == nil {
			if n, ok := pm.Name(a.Uint32()); ok {
				return name + "(" + n + ")"
			}
			return fmt.Sprintf("%s(%d)", name, a.Uint32())
		}
		return name + "(" + hex32(a, ma) + ")"

	case odp.KeyAttrEthernet:
		if a.Len() != 12 {
			return malformed(name, a)
		}
		var fl fieldList
		fl.addMasked("src", macString(a.Value[0:6]), maskMac(ma, 0), exactAt(ma, 0, 6))
		fl.addMasked("dst", macString(a.Value[6:12]), maskMac(ma, 6), exactAt(ma, 6, 12))
		return name + "(" + fl.String() + ")"

	case odp.KeyAttrEthertype, odp.KeyAttrPktEthertype:
		if a.Len() != 2 {
			return malformed(name, a)
		}
		if ma != nil && !allOnes(ma.Value) {
			return fmt.Sprintf("%s(0x%04x/0x%04x)", name, a.Uint16(), ma.Uint16())
		}
		return fmt.Sprintf("%s(0x%04x)", name, a.Uint16())

	case odp.KeyAttrVlan:
		if a.Len() != 2 {
			return malformed(name, a)
		}
		return name + "(" + formatVlan(a.Uint16(), maskU16(ma)) + ")"

	case odp.KeyAttrEncap:
		var inner []byte
		if ma != nil {
			inner = ma.Value
		}
		return name + "(" + formatAttrs(a.Value, inner, pm, ma != nil) + ")"

	case odp.KeyAttrIPv4:
		if a.Len() != 12 {
			return malformed(name, a)
		}
		var fl fieldList
		fl.addMasked("src", ip4String(a.Value[0:4]), maskIP4(ma, 0), exactAt(ma, 0, 4))
		fl.addMasked("dst", ip4String(a.Value[4:8]), maskIP4(ma, 4), exactAt(ma, 4, 8))
		addL3Tail(&fl, a.Value[8:12], ma, 8)
		return name + "(" + fl.String() + ")"

	case odp.KeyAttrIPv6:
		if a.Len() != 40 {
			return malformed(name, a)
		}
		var fl fieldList
		fl.addMasked("src", ip6String(a.Value[0:16]), maskIP6(ma, 0), exactAt(ma, 0, 16))
		fl.addMasked("dst", ip6String(a.Value[16:32]), maskIP6(ma, 16), exactAt(ma, 16, 32))
		fl.addMasked("label", fmt.Sprintf("0x%x", be32(a.Value[32:36])),
			maskHex32At(ma, 32), exactLabel(ma))
		addL3Tail(&fl, a.Value[36:40], ma, 36)
		return name + "(" + fl.String() + ")"

	case odp.KeyAttrTCP, odp.KeyAttrUDP, odp.KeyAttrSCTP:
		if a.Len() != 4 {
			return malformed(name, a)
		}
		var fl fieldList
		fl.addMasked("src", fmt.Sprintf("%d", be16(a.Value[0:2])),
			maskHex16At(ma, 0), exactAt(ma, 0, 2))
		fl.addMasked("dst", fmt.Sprintf("%d", be16(a.Value[2:4])),
			maskHex16At(ma, 2), exactAt(ma, 2, 4))
		return name + "(" + fl.String() + ")"

	case odp.KeyAttrTCPFlags:
		if a.Len() != 2 {
			return malformed(name, a)
		}
		v := a.Uint16()
		if ma != nil && ma.Uint16() != flow.TCPFlagsMask {
			return fmt.Sprintf("%s(0x%03x/0x%03x)", name, v, ma.Uint16())
		}
		return name + "(" + tcpFlagsString(v) + ")"

	case odp.KeyAttrICMP, odp.KeyAttrICMPv6:
		if a.Len() != 2 {
			return malformed(name, a)
		}
		var fl fieldList
		fl.addMasked("type", fmt.Sprintf("%d", a.Value[0]),
			maskHex8At(ma, 0), exactAt(ma, 0, 1))
		fl.addMasked("code", fmt.Sprintf("%d", a.Value[1]),
			maskHex8At(ma, 1), exactAt(ma, 1, 2))
		return name + "(" + fl.String() + ")"

	case odp.KeyAttrARP:
		if a.Len() != 24 {
			return malformed(name, a)
		}
		var fl fieldList
		fl.addMasked("sip", ip4String(a.Value[0:4]), maskIP4(ma, 0), exactAt(ma, 0, 4))
		fl.addMasked("tip", ip4String(a.Value[4:8]), maskIP4(ma, 4), exactAt(ma, 4, 8))
		fl.addMasked("op", fmt.Sprintf("%d", be16(a.Value[8:10])),
			maskHex16At(ma, 8), exactAt(ma, 8, 10))
		fl.addMasked("sha", macString(a.Value[10:16]), maskMac(ma, 10), exactAt(ma, 10, 16))
		fl.addMasked("tha", macString(a.Value[16:22]), maskMac(ma, 16), exactAt(ma, 16, 22))
		return name + "(" + fl.String() + ")"

	case odp.KeyAttrND:
		if a.Len() != 28 {
			return malformed(name, a)
		}
		var fl fieldList
		fl.addMasked("target", ip6String(a.Value[0:16]), maskIP6(ma, 0), exactAt(ma, 0, 16))
		fl.addMasked("sll", macString(a.Value[16:22]), maskMac(ma, 16), exactAt(ma, 16, 22))
		fl.addMasked("tll", macString(a.Value[22:28]), maskMac(ma, 22), exactAt(ma, 22, 28))
		return name + "(" + fl.String() + ")"

	case odp.KeyAttrMPLS:
		if a.Len() == 0 || a.Len()%4 != 0 {
			return malformed(name, a)
		}
		var fl fieldList
		for i := 0; i < a.Len()/4; i++ {
			lse := a.Uint32At(i)
			fl.add("label", fmt.Sprintf("%d", flow.MPLSLabel(lse)))
			fl.add("tc", fmt.Sprintf("%d", flow.MPLSTC(lse)))
			fl.add("ttl", fmt.Sprintf("%d", flow.MPLSTTL(lse)))
			fl.add("bos", fmt.Sprintf("%d", boolBit(flow.MPLSBOS(lse))))
		}
		return name + "(" + fl.String() + ")"

	case odp.KeyAttrTunnel:
		var inner []byte
		if ma != nil {
			inner = ma.Value
		}
		return name + "(" + formatTunnel(a.Value, inner) + ")"
	}
	return malformed(name, a)
}

// addL3Tail renders the proto/tos/ttl/frag bytes shared by the IPv4
// and IPv6 groups; off is the byte position of proto within the group.
func addL3Tail(fl *fieldList, v []byte, ma *nlattr.Attr, off int) {
	fl.addMasked("proto", fmt.Sprintf("%d", v[0]), maskHex8At(ma, off), exactAt(ma, off, off+1))
	tosName := "tos"
	ttlName := "ttl"
	if off == 36 {
		tosName = "tclass"
		ttlName = "hlimit"
	}
	fl.addMasked(tosName, fmt.Sprintf("%d", v[1]), maskHex8At(ma, off+1), exactAt(ma, off+1, off+2))
	fl.addMasked(ttlName, fmt.Sprintf("%d", v[2]), maskHex8At(ma, off+2), exactAt(ma, off+2, off+3))

	// frag is an enum; a partial mask has no sensible name.
	if ma != nil && ma.Value[off+3] != 0 && ma.Value[off+3] != 0xff {
		fl.add("frag", fmt.Sprintf("0x%02x/0x%02x", v[3], ma.Value[off+3]))
		return
	}
	fl.add("frag", fragName(v[3]))
}

func formatVlan(tci, mask uint16) string {
	var fl fieldList
	if mask == 0xffff {
		fl.add("vid", fmt.Sprintf("%d", tci&flow.VlanVIDMask))
		fl.add("pcp", fmt.Sprintf("%d", (tci&flow.VlanPCPMask)>>13))
		if tci&flow.VlanCFI == 0 {
			fl.add("cfi", "0")
		}
		return fl.String()
	}
	return fmt.Sprintf("tci=0x%04x/0x%04x", tci, mask)
}

func formatTunnel(key, mask []byte) string {
	var fl fieldList
	var flags []string
	it := nlattr.NewIter(key)
	for {
		a, ok := it.Next()
		if !ok {
			break
		}
		var ma *nlattr.Attr
		if mask != nil {
			if m, found := nlattr.Find(mask, a.Type); found {
				ma = &m
			}
		}
		switch a.Type {
		case odp.TunnelAttrID:
			fl.addMasked("tun_id", fmt.Sprintf("0x%x", a.Uint64()),
				maskHex64(ma), ma == nil || allOnes(ma.Value))
		case odp.TunnelAttrIPv4Src:
			fl.addMasked("src", ip4String(a.Value), maskIP4(ma, 0), exactAt(ma, 0, 4))
		case odp.TunnelAttrIPv4Dst:
			fl.addMasked("dst", ip4String(a.Value), maskIP4(ma, 0), exactAt(ma, 0, 4))
		case odp.TunnelAttrTOS:
			fl.addMasked("tos", fmt.Sprintf("0x%x", a.Uint8()),
				maskHex8At(ma, 0), exactAt(ma, 0, 1))
		case odp.TunnelAttrTTL:
			fl.addMasked("ttl", fmt.Sprintf("%d", a.Uint8()),
				maskHex8At(ma, 0), exactAt(ma, 0, 1))
		case odp.TunnelAttrDF:
			flags = append(flags, "df")
		case odp.TunnelAttrCSUM:
			flags = append(flags, "csum")
		case odp.TunnelAttrOAM:
			flags = append(flags, "oam")
		case odp.TunnelAttrTpSrc:
			fl.addMasked("tp_src", fmt.Sprintf("%d", a.Uint16()),
				maskHex16At(ma, 0), exactAt(ma, 0, 2))
		case odp.TunnelAttrTpDst:
			fl.addMasked("tp_dst", fmt.Sprintf("%d", a.Uint16()),
				maskHex16At(ma, 0), exactAt(ma, 0, 2))
		case odp.TunnelAttrGeneveOpts:
			fl.add("geneve", fmt.Sprintf("0x%x", a.Value))
		}
	}
	if len(flags) > 0 {
		fl.parts = append(fl.parts, "flags("+strings.Join(flags, "|")+")")
	}
	return fl.String()
}

var tcpFlagNames = []string{
	"fin", "syn", "rst", "psh", "ack", "urg", "ece", "cwr", "ns",
}

func tcpFlagsString(v uint16) string {
	if v == 0 {
		return "0"
	}
	var names []string
	for i, n := range tcpFlagNames {
		if v&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	if extra := v &^ ((1 << len(tcpFlagNames)) - 1); extra != 0 {
		names = append(names, fmt.Sprintf("0x%x", extra))
	}
	return strings.Join(names, "|")
}

func fragName(v uint8) string {
	switch v {
	case odp.FragTypeNone:
		return "no"
	case odp.FragTypeFirst:
		return "first"
	case odp.FragTypeLater:
		return "later"
	}
	return fmt.Sprintf("0x%02x", v)
}

func malformed(name string, a nlattr.Attr) string {
	return fmt.Sprintf("%s(bad length %d)", name, a.Len())
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func hex32(a nlattr.Attr, ma *nlattr.Attr) string {
	if a.Len() != 4 {
		return fmt.Sprintf("bad length %d", a.Len())
	}
	if ma != nil && !allOnes(ma.Value) {
		return fmt.Sprintf("0x%x/0x%x", a.Uint32(), ma.Uint32())
	}
	return fmt.Sprintf("0x%x", a.Uint32())
}

func maskU16(ma *nlattr.Attr) uint16 {
	if ma == nil {
		return 0xffff
	}
	return ma.Uint16()
}

func maskMac(ma *nlattr.Attr, off int) string {
	if ma == nil {
		return ""
	}
	return macString(ma.Value[off : off+6])
}

func maskIP4(ma *nlattr.Attr, off int) string {
	if ma == nil {
		return ""
	}
	return ip4String(ma.Value[off : off+4])
}

func maskIP6(ma *nlattr.Attr, off int) string {
	if ma == nil {
		return ""
	}
	return ip6String(ma.Value[off : off+16])
}

func maskHex8At(ma *nlattr.Attr, off int) string {
	if ma == nil {
		return ""
	}
	return fmt.Sprintf("0x%x", ma.Value[off])
}

func maskHex16At(ma *nlattr.Attr, off int) string {
	if ma == nil {
		return ""
	}
	return fmt.Sprintf("0x%x", be16(ma.Value[off:off+2]))
}

func maskHex32At(ma *nlattr.Attr, off int) string {
	if ma == nil {
		return ""
	}
	return fmt.Sprintf("0x%x", be32(ma.Value[off:off+4]))
}

func maskHex64(ma *nlattr.Attr) string {
	if ma == nil {
		return ""
	}
	return fmt.Sprintf("0x%x", ma.Uint64())
}

// exactAt reports whether the mask bytes in [from, to) are all ones.
// A nil mask counts as exact so the "/mask" suffix is dropped.
func exactAt(ma *nlattr.Attr, from, to int) bool {
	if ma == nil {
		return true
	}
	return allOnes(ma.Value[from:to])
}

// exactLabel treats the IPv6 flow label's 20 live bits as the field.
func exactLabel(ma *nlattr.Attr) bool {
	if ma == nil {
		return true
	}
	return be32(ma.Value[32:36])&0x000fffff == 0x000fffff
}

func allZero(v []byte) bool {
	for _, b := range v {
		if b != 0 {
			return false
		}
	}
	return true
}

func allOnes(v []byte) bool {
	for _, b := range v {
		if b != 0xff {
			return false
		}
	}
	return true
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
