package odptext

import (
	"strings"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
)

// ParseKey parses the text form of a flow key, appending the binary
// attributes to key and, when mask is non-nil, the mask attributes to
// mask. A leading "ufid:" token is returned separately. On error
// neither builder retains anything from this call.
func ParseKey(s string, pm *PortMap, key, mask *nlattr.Builder) (*odp.UFID, error) {
	sc := &scanner{s: strings.TrimSpace(s)}
	keyStart := key.Len()
	maskStart := 0
	if mask != nil {
		maskStart = mask.Len()
	}

	var ufid *odp.UFID
	if strings.HasPrefix(sc.s, "ufid:") {
		u, n, ok := odp.ParseUFID(sc.s)
		if !ok {
			return nil, sc.errf("bad ufid")
		}
		ufid = &u
		sc.off = n
		sc.eat(',')
		for sc.eat(' ') {
		}
	}

	err := parseKeyAttrs(sc, pm, key, mask, false)
	if err == nil && !sc.eof() {
		err = sc.errf("trailing garbage %q", sc.s[sc.off:])
	}
	if err != nil {
		key.Truncate(keyStart)
		if mask != nil {
			mask.Truncate(maskStart)
		}
		return nil, err
	}
	return ufid, nil
}

func parseKeyAttrs(sc *scanner, pm *PortMap, key, mask *nlattr.Builder, nested bool) error {
	for {
		if sc.eof() || (nested && sc.peek() == ')') {
			return nil
		}
		name := sc.ident()
		if name == "" {
			return sc.errf("expected a field name")
		}
		if err := parseKeyAttr(sc, pm, name, key, mask); err != nil {
			return err
		}
		if !sc.eat(',') {
			return nil
		}
	}
}

func parseKeyAttr(sc *scanner, pm *PortMap, name string, key, mask *nlattr.Builder) error {
	switch name {
	case "skb_priority":
		return parseU32Attr(sc, odp.KeyAttrPriority, key, mask)
	case "skb_mark":
		return parseU32Attr(sc, odp.KeyAttrSkbMark, key, mask)
	case "dp_hash":
		return parseU32Attr(sc, odp.KeyAttrDpHash, key, mask)
	case "recirc_id":
		return parseU32Attr(sc, odp.KeyAttrRecircID, key, mask)
	case "in_port":
		return parseInPort(sc, pm, key, mask)
	case "eth":
		return parseEth(sc, key, mask)
	case "eth_type":
		return parseEthertypeAttr(sc, odp.KeyAttrEthertype, key, mask)
	case "packet_eth_type":
		return parseEthertypeAttr(sc, odp.KeyAttrPktEthertype, key, mask)
	case "vlan":
		return parseVlanAttr(sc, key, mask)
	case "encap":
		return parseEncap(sc, pm, key, mask)
	case "ipv4":
		return parseIPv4Attr(sc, key, mask)
	case "ipv6":
		return parseIPv6Attr(sc, key, mask)
	case "tcp":
		return parsePortsAttr(sc, odp.KeyAttrTCP, key, mask)
	case "udp":
		return parsePortsAttr(sc, odp.KeyAttrUDP, key, mask)
	case "sctp":
		return parsePortsAttr(sc, odp.KeyAttrSCTP, key, mask)
	case "tcp_flags":
		return parseTCPFlagsAttr(sc, key, mask)
	case "icmp":
		return parseICMPAttr(sc, odp.KeyAttrICMP, key, mask)
	case "icmpv6":
		return parseICMPAttr(sc, odp.KeyAttrICMPv6, key, mask)
	case "arp":
		return parseARPAttr(sc, key, mask)
	case "nd":
		return parseNDAttr(sc, key, mask)
	case "mpls":
		return parseMPLSAttr(sc, key, mask)
	case "tunnel":
		return parseTunnelAttr(sc, key, mask)
	}
	return sc.errf("unknown field %q", name)
}

func parseU32Attr(sc *scanner, typ uint16, key, mask *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	v, err := sc.u32()
	if err != nil {
		return err
	}
	m := ^uint32(0)
	if sc.eat('/') {
		if m, err = sc.u32(); err != nil {
			return err
		}
	}
	if err := sc.expect(')'); err != nil {
		return err
	}
	key.PutUint32(typ, v)
	if mask != nil {
		mask.PutUint32(typ, m)
	}
	return nil
}

func parseInPort(sc *scanner, pm *PortMap, key, mask *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	var port uint32
	if c := sc.peek(); c >= '0' && c <= '9' {
		v, err := sc.u32()
		if err != nil {
			return err
		}
		port = v
	} else {
		name := sc.ident()
		p, ok := pm.Port(name)
		if !ok {
			return sc.errf("unknown port name %q", name)
		}
		port = p
	}
	m := ^uint32(0)
	if sc.eat('/') {
		v, err := sc.u32()
		if err != nil {
			return err
		}
		m = v
	}
	if err := sc.expect(')'); err != nil {
		return err
	}
	key.PutUint32(odp.KeyAttrInPort, port)
	if mask != nil {
		mask.PutUint32(odp.KeyAttrInPort, m)
	}
	return nil
}

func parseEthertypeAttr(sc *scanner, typ uint16, key, mask *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	v, err := sc.u16()
	if err != nil {
		return err
	}
	m := uint16(0xffff)
	if sc.eat('/') {
		if m, err = sc.u16(); err != nil {
			return err
		}
	}
	if err := sc.expect(')'); err != nil {
		return err
	}
	key.PutUint16(typ, v)
	if mask != nil {
		mask.PutUint16(typ, m)
	}
	return nil
}

// subfields drives a name=value loop within one parenthesised group.
func subfields(sc *scanner, fn func(name string) error) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	for sc.peek() != ')' {
		name := sc.ident()
		if name == "" {
			return sc.errf("expected a subfield name")
		}
		// Flag-style subfields like flags(...) have no '='.
		if sc.peek() == '=' {
			sc.off++
		}
		if err := fn(name); err != nil {
			return err
		}
		if !sc.eat(',') {
			break
		}
	}
	return sc.expect(')')
}

// macPair parses addr[/mask] into the value and mask slices.
func macPair(sc *scanner, v, m []byte) error {
	a, err := sc.mac()
	if err != nil {
		return err
	}
	copy(v, a[:])
	if sc.eat('/') {
		ma, err := sc.mac()
		if err != nil {
			return err
		}
		copy(m, ma[:])
		return nil
	}
	fill(m, 0xff)
	return nil
}

func ip4Pair(sc *scanner, v, m []byte) error {
	a, err := sc.ip4()
	if err != nil {
		return err
	}
	copy(v, a[:])
	if sc.eat('/') {
		ma, err := sc.ip4()
		if err != nil {
			return err
		}
		copy(m, ma[:])
		return nil
	}
	fill(m, 0xff)
	return nil
}

func ip6Pair(sc *scanner, v, m []byte) error {
	a, err := sc.ip6()
	if err != nil {
		return err
	}
	copy(v, a[:])
	if sc.eat('/') {
		ma, err := sc.ip6()
		if err != nil {
			return err
		}
		copy(m, ma[:])
		return nil
	}
	fill(m, 0xff)
	return nil
}

func u8Pair(sc *scanner, v, m *uint8) error {
	x, err := sc.u8()
	if err != nil {
		return err
	}
	*v = x
	*m = 0xff
	if sc.eat('/') {
		if *m, err = sc.u8(); err != nil {
			return err
		}
	}
	return nil
}

func u16Pair(sc *scanner, v, m *uint16) error {
	x, err := sc.u16()
	if err != nil {
		return err
	}
	*v = x
	*m = 0xffff
	if sc.eat('/') {
		if *m, err = sc.u16(); err != nil {
			return err
		}
	}
	return nil
}

func parseEth(sc *scanner, key, mask *nlattr.Builder) error {
	v := make([]byte, 12)
	m := make([]byte, 12)
	err := subfields(sc, func(name string) error {
		switch name {
		case "src":
			return macPair(sc, v[0:6], m[0:6])
		case "dst":
			return macPair(sc, v[6:12], m[6:12])
		}
		return sc.errf("unknown eth subfield %q", name)
	})
	if err != nil {
		return err
	}
	key.PutBytes(odp.KeyAttrEthernet, v)
	if mask != nil {
		mask.PutBytes(odp.KeyAttrEthernet, m)
	}
	return nil
}

func parseVlanAttr(sc *scanner, key, mask *nlattr.Builder) error {
	var tci, tciMask uint16
	cfi := true
	sawTCI := false
	err := subfields(sc, func(name string) error {
		switch name {
		case "tci":
			sawTCI = true
			return u16Pair(sc, &tci, &tciMask)
		case "vid":
			v, err := sc.u16()
			if err != nil {
				return err
			}
			tci |= v & flow.VlanVIDMask
			return nil
		case "pcp":
			v, err := sc.u8()
			if err != nil {
				return err
			}
			tci |= uint16(v) << flow.VlanPCPShift
			return nil
		case "cfi":
			v, err := sc.u8()
			if err != nil {
				return err
			}
			cfi = v != 0
			return nil
		}
		return sc.errf("unknown vlan subfield %q", name)
	})
	if err != nil {
		return err
	}
	if !sawTCI {
		if cfi {
			tci |= flow.VlanCFI
		}
		tciMask = 0xffff
	}
	key.PutUint16(odp.KeyAttrVlan, tci)
	if mask != nil {
		mask.PutUint16(odp.KeyAttrVlan, tciMask)
	}
	return nil
}

func parseEncap(sc *scanner, pm *PortMap, key, mask *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	keyOff := key.BeginNested(odp.KeyAttrEncap)
	maskOff := 0
	if mask != nil {
		maskOff = mask.BeginNested(odp.KeyAttrEncap)
	}
	if err := parseKeyAttrs(sc, pm, key, mask, true); err != nil {
		return err
	}
	key.EndNested(keyOff)
	if mask != nil {
		mask.EndNested(maskOff)
	}
	return sc.expect(')')
}

// parseFrag maps the fragment names to the wire enum. The enum takes
// no partial mask.
func parseFrag(sc *scanner, v, m *uint8) error {
	name := sc.ident()
	switch name {
	case "no":
		*v = odp.FragTypeNone
	case "first":
		*v = odp.FragTypeFirst
	case "later":
		*v = odp.FragTypeLater
	default:
		return sc.errf("unknown frag value %q", name)
	}
	*m = 0xff
	return nil
}

func parseIPv4Attr(sc *scanner, key, mask *nlattr.Builder) error {
	v := make([]byte, 12)
	m := make([]byte, 12)
	err := subfields(sc, func(name string) error {
		switch name {
		case "src":
			return ip4Pair(sc, v[0:4], m[0:4])
		case "dst":
			return ip4Pair(sc, v[4:8], m[4:8])
		case "proto":
			return u8Pair(sc, &v[8], &m[8])
		case "tos":
			return u8Pair(sc, &v[9], &m[9])
		case "ttl":
			return u8Pair(sc, &v[10], &m[10])
		case "frag":
			return parseFrag(sc, &v[11], &m[11])
		}
		return sc.errf("unknown ipv4 subfield %q", name)
	})
	if err != nil {
		return err
	}
	key.PutBytes(odp.KeyAttrIPv4, v)
	if mask != nil {
		mask.PutBytes(odp.KeyAttrIPv4, m)
	}
	return nil
}

func parseIPv6Attr(sc *scanner, key, mask *nlattr.Builder) error {
	v := make([]byte, 40)
	m := make([]byte, 40)
	err := subfields(sc, func(name string) error {
		switch name {
		case "src":
			return ip6Pair(sc, v[0:16], m[0:16])
		case "dst":
			return ip6Pair(sc, v[16:32], m[16:32])
		case "label":
			lbl, err := sc.u32()
			if err != nil {
				return err
			}
			lm := uint32(0x000fffff)
			if sc.eat('/') {
				if lm, err = sc.u32(); err != nil {
					return err
				}
			}
			putBE32(v[32:36], lbl)
			putBE32(m[32:36], lm)
			return nil
		case "proto":
			return u8Pair(sc, &v[36], &m[36])
		case "tclass":
			return u8Pair(sc, &v[37], &m[37])
		case "hlimit":
			return u8Pair(sc, &v[38], &m[38])
		case "frag":
			return parseFrag(sc, &v[39], &m[39])
		}
		return sc.errf("unknown ipv6 subfield %q", name)
	})
	if err != nil {
		return err
	}
	key.PutBytes(odp.KeyAttrIPv6, v)
	if mask != nil {
		mask.PutBytes(odp.KeyAttrIPv6, m)
	}
	return nil
}

func parsePortsAttr(sc *scanner, typ uint16, key, mask *nlattr.Builder) error {
	var src, dst, srcMask, dstMask uint16
	srcMask, dstMask = 0xffff, 0xffff
	err := subfields(sc, func(name string) error {
		switch name {
		case "src":
			return u16Pair(sc, &src, &srcMask)
		case "dst":
			return u16Pair(sc, &dst, &dstMask)
		}
		return sc.errf("unknown port subfield %q", name)
	})
	if err != nil {
		return err
	}
	key.PutBytes(typ, []byte{byte(src >> 8), byte(src), byte(dst >> 8), byte(dst)})
	if mask != nil {
		mask.PutBytes(typ, []byte{
			byte(srcMask >> 8), byte(srcMask), byte(dstMask >> 8), byte(dstMask)})
	}
	return nil
}

func parseTCPFlagsAttr(sc *scanner, key, mask *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	var v uint16
	m := flow.TCPFlagsMask
	if c := sc.peek(); c >= '0' && c <= '9' {
		x, err := sc.u16()
		if err != nil {
			return err
		}
		v = x
		if sc.eat('/') {
			if m, err = sc.u16(); err != nil {
				return err
			}
		}
	} else {
		for {
			name := sc.ident()
			bit := tcpFlagBit(name)
			if bit == 0 {
				return sc.errf("unknown tcp flag %q", name)
			}
			v |= bit
			if !sc.eat('|') {
				break
			}
		}
	}
	if err := sc.expect(')'); err != nil {
		return err
	}
	key.PutUint16(odp.KeyAttrTCPFlags, v)
	if mask != nil {
		mask.PutUint16(odp.KeyAttrTCPFlags, m)
	}
	return nil
}

func tcpFlagBit(name string) uint16 {
	for i, n := range tcpFlagNames {
		if n == name {
			return 1 << i
		}
	}
	return 0
}

func parseICMPAttr(sc *scanner, typ uint16, key, mask *nlattr.Builder) error {
	v := make([]byte, 2)
	m := make([]byte, 2)
	err := subfields(sc, func(name string) error {
		switch name {
		case "type":
			return u8Pair(sc, &v[0], &m[0])
		case "code":
			return u8Pair(sc, &v[1], &m[1])
		}
		return sc.errf("unknown icmp subfield %q", name)
	})
	if err != nil {
		return err
	}
	key.PutBytes(typ, v)
	if mask != nil {
		mask.PutBytes(typ, m)
	}
	return nil
}

func parseARPAttr(sc *scanner, key, mask *nlattr.Builder) error {
	v := make([]byte, 24)
	m := make([]byte, 24)
	err := subfields(sc, func(name string) error {
		switch name {
		case "sip":
			return ip4Pair(sc, v[0:4], m[0:4])
		case "tip":
			return ip4Pair(sc, v[4:8], m[4:8])
		case "op":
			var op, opMask uint16
			if err := u16Pair(sc, &op, &opMask); err != nil {
				return err
			}
			putBE16(v[8:10], op)
			putBE16(m[8:10], opMask)
			return nil
		case "sha":
			return macPair(sc, v[10:16], m[10:16])
		case "tha":
			return macPair(sc, v[16:22], m[16:22])
		}
		return sc.errf("unknown arp subfield %q", name)
	})
	if err != nil {
		return err
	}
	key.PutBytes(odp.KeyAttrARP, v)
	if mask != nil {
		mask.PutBytes(odp.KeyAttrARP, m)
	}
	return nil
}

func parseNDAttr(sc *scanner, key, mask *nlattr.Builder) error {
	v := make([]byte, 28)
	m := make([]byte, 28)
	err := subfields(sc, func(name string) error {
		switch name {
		case "target":
			return ip6Pair(sc, v[0:16], m[0:16])
		case "sll":
			return macPair(sc, v[16:22], m[16:22])
		case "tll":
			return macPair(sc, v[22:28], m[22:28])
		}
		return sc.errf("unknown nd subfield %q", name)
	})
	if err != nil {
		return err
	}
	key.PutBytes(odp.KeyAttrND, v)
	if mask != nil {
		mask.PutBytes(odp.KeyAttrND, m)
	}
	return nil
}

func parseMPLSAttr(sc *scanner, key, mask *nlattr.Builder) error {
	var lses []uint32
	var cur uint32
	started := false
	flush := func() {
		if started {
			lses = append(lses, cur)
			cur = 0
		}
	}
	err := subfields(sc, func(name string) error {
		switch name {
		case "label":
			// Each label starts a new stack entry.
			flush()
			started = true
			v, err := sc.u32()
			if err != nil {
				return err
			}
			cur = flow.SetMPLSLabel(cur, v)
			return nil
		case "tc":
			v, err := sc.u8()
			if err != nil {
				return err
			}
			cur = flow.SetMPLSTC(cur, v)
			return nil
		case "ttl":
			v, err := sc.u8()
			if err != nil {
				return err
			}
			cur = flow.SetMPLSTTL(cur, v)
			return nil
		case "bos":
			v, err := sc.u8()
			if err != nil {
				return err
			}
			cur = flow.SetMPLSBOS(cur, v != 0)
			return nil
		}
		return sc.errf("unknown mpls subfield %q", name)
	})
	if err != nil {
		return err
	}
	flush()
	if len(lses) == 0 {
		return sc.errf("mpls needs at least one label")
	}
	v := make([]byte, 4*len(lses))
	for i, lse := range lses {
		putBE32(v[4*i:], lse)
	}
	key.PutBytes(odp.KeyAttrMPLS, v)
	if mask != nil {
		m := make([]byte, len(v))
		fill(m, 0xff)
		mask.PutBytes(odp.KeyAttrMPLS, m)
	}
	return nil
}

func parseTunnelAttr(sc *scanner, key, mask *nlattr.Builder) error {
	var tnl, tnlMask flow.TunnelKey
	tnlMask.TTL = 0xff
	err := subfields(sc, func(name string) error {
		switch name {
		case "tun_id":
			v, err := sc.u64(64)
			if err != nil {
				return err
			}
			tnl.ID = v
			tnl.Flags |= flow.TunnelKeyF
			tnlMask.ID = ^uint64(0)
			if sc.eat('/') {
				if tnlMask.ID, err = sc.u64(64); err != nil {
					return err
				}
			}
			return nil
		case "src":
			return ip4Pair(sc, tnl.IPSrc[:], tnlMask.IPSrc[:])
		case "dst":
			return ip4Pair(sc, tnl.IPDst[:], tnlMask.IPDst[:])
		case "tos":
			return u8Pair(sc, &tnl.TOS, &tnlMask.TOS)
		case "ttl":
			return u8Pair(sc, &tnl.TTL, &tnlMask.TTL)
		case "tp_src":
			return u16Pair(sc, &tnl.TpSrc, &tnlMask.TpSrc)
		case "tp_dst":
			return u16Pair(sc, &tnl.TpDst, &tnlMask.TpDst)
		case "flags":
			if err := sc.expect('('); err != nil {
				return err
			}
			for {
				switch sc.ident() {
				case "df":
					tnl.Flags |= flow.TunnelDF
				case "csum":
					tnl.Flags |= flow.TunnelCSUM
				case "oam":
					tnl.Flags |= flow.TunnelOAM
				case "key":
					tnl.Flags |= flow.TunnelKeyF
				default:
					return sc.errf("unknown tunnel flag")
				}
				if !sc.eat('|') {
					break
				}
			}
			return sc.expect(')')
		case "geneve":
			if err := sc.expect('('); err != nil {
				return err
			}
			opts, err := sc.hexBytes()
			if err != nil {
				return err
			}
			if len(opts) > flow.MaxTunnelOptsLen {
				return sc.errf("geneve options too long")
			}
			tnl.OptsLen = uint8(len(opts))
			copy(tnl.Opts[:], opts)
			tnlMask.OptsLen = tnl.OptsLen
			fill(tnlMask.Opts[:tnl.OptsLen], 0xff)
			return sc.expect(')')
		}
		return sc.errf("unknown tunnel subfield %q", name)
	})
	if err != nil {
		return err
	}
	tnlMask.Flags = tnl.Flags
	odp.PutTunnel(key, &tnl)
	if mask != nil {
		putTunnelMask(mask, &tnl, &tnlMask)
	}
	return nil
}

// putTunnelMask writes the mask counterpart of a tunnel key, mirroring
// exactly the attributes the value emitted.
func putTunnelMask(b *nlattr.Builder, tnl, m *flow.TunnelKey) {
	off := b.BeginNested(odp.KeyAttrTunnel)
	if tnl.Flags&flow.TunnelKeyF != 0 {
		b.PutUint64(odp.TunnelAttrID, m.ID)
	}
	if tnl.IPSrc != [4]byte{} {
		b.PutBytes(odp.TunnelAttrIPv4Src, m.IPSrc[:])
	}
	if tnl.IPDst != [4]byte{} {
		b.PutBytes(odp.TunnelAttrIPv4Dst, m.IPDst[:])
	}
	if tnl.TOS != 0 {
		b.PutUint8(odp.TunnelAttrTOS, m.TOS)
	}
	b.PutUint8(odp.TunnelAttrTTL, m.TTL)
	if tnl.Flags&flow.TunnelDF != 0 {
		b.PutFlag(odp.TunnelAttrDF)
	}
	if tnl.Flags&flow.TunnelCSUM != 0 {
		b.PutFlag(odp.TunnelAttrCSUM)
	}
	if tnl.Flags&flow.TunnelOAM != 0 {
		b.PutFlag(odp.TunnelAttrOAM)
	}
	if tnl.OptsLen > 0 {
		b.PutBytes(odp.TunnelAttrGeneveOpts, m.Opts[:tnl.OptsLen])
	}
	if tnl.TpSrc != 0 {
		b.PutUint16(odp.TunnelAttrTpSrc, m.TpSrc)
	}
	if tnl.TpDst != 0 {
		b.PutUint16(odp.TunnelAttrTpDst, m.TpDst)
	}
	b.EndNested(off)
}

func fill(v []byte, b byte) {
	for i := range v {
		v[i] = b
	}
}

func putBE16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
