package odptext

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
)

// FormatActions renders an action list. An empty list is "drop".
func FormatActions(actions []byte, pm *PortMap) string {
	if len(actions) == 0 {
		return "drop"
	}
	var parts []string
	it := nlattr.NewIter(actions)
	for {
		a, ok := it.Next()
		if !ok {
			break
		}
		parts = append(parts, formatAction(a, pm))
	}
	if err := it.Err(); err != nil {
		parts = append(parts, "(malformed)")
	}
	return strings.Join(parts, ",")
}

func formatAction(a nlattr.Attr, pm *PortMap) string {
	switch a.Type {
	case odp.ActionOutput:
		if a.Len() != 4 {
			return malformed("output", a)
		}
		if name, ok := pm.Name(a.Uint32()); ok {
			return name
		}
		return fmt.Sprintf("%d", a.Uint32())

	case odp.ActionRecirc:
		if a.Len() != 4 {
			return malformed("recirc", a)
		}
		return fmt.Sprintf("recirc(%d)", a.Uint32())

	case odp.ActionHash:
		alg, basis, ok := odp.HashAction(a)
		if !ok {
			return malformed("hash", a)
		}
		if alg == odp.HashAlgL4 {
			return fmt.Sprintf("hash(hash_l4(%d))", basis)
		}
		return fmt.Sprintf("hash(alg=%d,basis=%d)", alg, basis)

	case odp.ActionUserspace:
		return formatUserspace(a)

	case odp.ActionSet:
		inner, ok := odp.SetActionAttr(a)
		if !ok {
			return malformed("set", a)
		}
		return "set(" + formatKeyAttr(inner, nil, nil) + ")"

	case odp.ActionSetMasked:
		inner, value, mask, ok := odp.SetMaskedParts(a)
		if !ok {
			return malformed("set", a)
		}
		va := nlattr.Attr{Type: inner.Type, Value: value}
		ma := nlattr.Attr{Type: inner.Type, Value: mask}
		return "set(" + formatKeyAttr(va, &ma, nil) + ")"

	case odp.ActionPushVlan:
		tpid, tci, ok := odp.PushVlanAction(a)
		if !ok {
			return malformed("push_vlan", a)
		}
		var fl fieldList
		if tpid != flow.EthTypeVLAN {
			fl.add("tpid", fmt.Sprintf("0x%04x", tpid))
		}
		fl.add("vid", fmt.Sprintf("%d", flow.VlanVID(tci)))
		fl.add("pcp", fmt.Sprintf("%d", flow.VlanPCP(tci)))
		if tci&flow.VlanCFI == 0 {
			fl.add("cfi", "0")
		}
		return "push_vlan(" + fl.String() + ")"

	case odp.ActionPopVlan:
		return "pop_vlan"

	case odp.ActionPushEth:
		src, dst, ok := odp.PushEthAction(a)
		if !ok {
			return malformed("push_eth", a)
		}
		return fmt.Sprintf("push_eth(src=%s,dst=%s)", macString(src[:]), macString(dst[:]))

	case odp.ActionPopEth:
		return "pop_eth"

	case odp.ActionPushMPLS:
		lse, ethType, ok := odp.PushMPLSAction(a)
		if !ok {
			return malformed("push_mpls", a)
		}
		return fmt.Sprintf("push_mpls(label=%d,tc=%d,ttl=%d,bos=%d,eth_type=0x%04x)",
			flow.MPLSLabel(lse), flow.MPLSTC(lse), flow.MPLSTTL(lse),
			boolBit(flow.MPLSBOS(lse)), ethType)

	case odp.ActionPopMPLS:
		if a.Len() != 2 {
			return malformed("pop_mpls", a)
		}
		return fmt.Sprintf("pop_mpls(eth_type=0x%04x)", a.Uint16())

	case odp.ActionSample:
		prob, inner, ok := odp.SampleAction(a)
		if !ok {
			return malformed("sample", a)
		}
		pct := float64(prob) * 100 / math.MaxUint32
		return fmt.Sprintf("sample(sample=%s%%,actions(%s))",
			strconv.FormatFloat(pct, 'g', 4, 64), FormatActions(inner, pm))

	case odp.ActionTunnelPop:
		if a.Len() != 4 {
			return malformed("tnl_pop", a)
		}
		return fmt.Sprintf("tnl_pop(%d)", a.Uint32())

	case odp.ActionTunnelPush:
		tp, ok := odp.TnlPushAction(a)
		if !ok {
			return malformed("tnl_push", a)
		}
		return fmt.Sprintf("tnl_push(tnl_port(%d),header(%s),out_port(%d))",
			tp.TnlPort, formatTnlHeader(tp.Header), tp.OutPort)
	}
	return fmt.Sprintf("action%d(0x%x)", a.Type, a.Value)
}

func formatUserspace(a nlattr.Attr) string {
	pid, userdata, tunnelOutPort, ok := odp.UserspaceAction(a)
	if !ok {
		return malformed("userspace", a)
	}
	var fl fieldList
	fl.add("pid", fmt.Sprintf("%d", pid))
	if userdata != nil {
		fl.parts = append(fl.parts, formatCookie(userdata))
	}
	if tunnelOutPort != 0 {
		fl.add("tunnel_out_port", fmt.Sprintf("%d", tunnelOutPort))
	}
	return "userspace(" + fl.String() + ")"
}

func formatCookie(userdata []byte) string {
	if c, ok := odp.ParseSflowCookie(userdata); ok {
		return fmt.Sprintf("sFlow(vid=%d,pcp=%d,output=%d)",
			flow.VlanVID(c.VlanTCI), flow.VlanPCP(c.VlanTCI), c.OutputPort)
	}
	if c, ok := odp.ParseSlowPathCookie(userdata); ok {
		return fmt.Sprintf("slow_path(%d)", c.Reason)
	}
	if c, ok := odp.ParseFlowSampleCookie(userdata); ok {
		return fmt.Sprintf("flow_sample(probability=%d,collector_set_id=%d,obs_domain_id=%d,obs_point_id=%d)",
			c.Probability, c.CollectorSetID, c.ObsDomainID, c.ObsPointID)
	}
	if c, ok := odp.ParseIPFIXCookie(userdata); ok {
		return fmt.Sprintf("ipfix(output_port=%d)", c.OutputPort)
	}
	return fmt.Sprintf("userdata(0x%x)", userdata)
}

// ParseActions parses the text form of an action list, appending the
// binary attributes to b. On error b retains nothing from this call.
func ParseActions(s string, pm *PortMap, b *nlattr.Builder) error {
	sc := &scanner{s: strings.TrimSpace(s)}
	start := b.Len()
	err := parseActionList(sc, pm, b, false)
	if err == nil && !sc.eof() {
		err = sc.errf("trailing garbage %q", sc.s[sc.off:])
	}
	if err != nil {
		b.Truncate(start)
		return err
	}
	return nil
}

func parseActionList(sc *scanner, pm *PortMap, b *nlattr.Builder, nested bool) error {
	if strings.HasPrefix(sc.s[sc.off:], "drop") {
		sc.off += len("drop")
		return nil
	}
	for {
		if sc.eof() || (nested && sc.peek() == ')') {
			return nil
		}
		if err := parseAction(sc, pm, b); err != nil {
			return err
		}
		if !sc.eat(',') {
			return nil
		}
	}
}

func parseAction(sc *scanner, pm *PortMap, b *nlattr.Builder) error {
	if c := sc.peek(); c >= '0' && c <= '9' {
		port, err := sc.u32()
		if err != nil {
			return err
		}
		odp.PutOutputAction(b, port)
		return nil
	}

	name := sc.ident()
	switch name {
	case "recirc":
		v, err := parenU32(sc)
		if err != nil {
			return err
		}
		odp.PutRecircAction(b, v)
		return nil

	case "hash":
		return parseHash(sc, b)

	case "userspace":
		return parseUserspace(sc, b)

	case "set":
		return parseSet(sc, b)

	case "push_vlan":
		return parsePushVlan(sc, b)

	case "pop_vlan":
		odp.PutPopVlanAction(b)
		return nil

	case "push_eth":
		return parsePushEth(sc, b)

	case "pop_eth":
		odp.PutPopEthAction(b)
		return nil

	case "push_mpls":
		return parsePushMPLS(sc, b)

	case "pop_mpls":
		var ethType uint16
		err := subfields(sc, func(sub string) error {
			if sub != "eth_type" {
				return sc.errf("unknown pop_mpls subfield %q", sub)
			}
			v, err := sc.u16()
			ethType = v
			return err
		})
		if err != nil {
			return err
		}
		odp.PutPopMPLSAction(b, ethType)
		return nil

	case "sample":
		return parseSample(sc, pm, b)

	case "tnl_pop":
		v, err := parenU32(sc)
		if err != nil {
			return err
		}
		odp.PutTunnelPopAction(b, v)
		return nil

	case "tnl_push":
		return parseTnlPush(sc, b)
	}

	// Anything else must be a known port name.
	if port, ok := pm.Port(name); ok {
		odp.PutOutputAction(b, port)
		return nil
	}
	return sc.errf("unknown action %q", name)
}

func parenU32(sc *scanner) (uint32, error) {
	if err := sc.expect('('); err != nil {
		return 0, err
	}
	v, err := sc.u32()
	if err != nil {
		return 0, err
	}
	return v, sc.expect(')')
}

func parseHash(sc *scanner, b *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	alg := odp.HashAlgL4
	var basis uint32
	switch sc.ident() {
	case "hash_l4":
		v, err := parenU32(sc)
		if err != nil {
			return err
		}
		basis = v
	case "alg":
		if err := sc.expect('='); err != nil {
			return err
		}
		v, err := sc.u32()
		if err != nil {
			return err
		}
		alg = v
		if err := sc.expect(','); err != nil {
			return err
		}
		if sc.ident() != "basis" {
			return sc.errf("expected basis")
		}
		if err := sc.expect('='); err != nil {
			return err
		}
		if basis, err = sc.u32(); err != nil {
			return err
		}
	default:
		return sc.errf("unknown hash algorithm")
	}
	if err := sc.expect(')'); err != nil {
		return err
	}
	odp.PutHashAction(b, alg, basis)
	return nil
}

func parseUserspace(sc *scanner, b *nlattr.Builder) error {
	var pid, tunnelOutPort uint32
	var userdata []byte
	err := subfields(sc, func(sub string) error {
		switch sub {
		case "pid":
			v, err := sc.u32()
			pid = v
			return err
		case "tunnel_out_port":
			v, err := sc.u32()
			tunnelOutPort = v
			return err
		case "sFlow":
			var c odp.SflowCookie
			err := subfields(sc, func(s string) error {
				switch s {
				case "vid":
					v, err := sc.u16()
					c.VlanTCI |= v & flow.VlanVIDMask
					return err
				case "pcp":
					v, err := sc.u8()
					c.VlanTCI |= uint16(v) << flow.VlanPCPShift
					return err
				case "output":
					v, err := sc.u32()
					c.OutputPort = v
					return err
				}
				return sc.errf("unknown sFlow subfield %q", s)
			})
			userdata = c.Marshal()
			return err
		case "slow_path":
			v, err := parenU32(sc)
			if err != nil {
				return err
			}
			userdata = odp.SlowPathCookie{Reason: uint8(v)}.Marshal()
			return nil
		case "flow_sample":
			var c odp.FlowSampleCookie
			err := subfields(sc, func(s string) error {
				switch s {
				case "probability":
					v, err := sc.u16()
					c.Probability = v
					return err
				case "collector_set_id":
					v, err := sc.u32()
					c.CollectorSetID = v
					return err
				case "obs_domain_id":
					v, err := sc.u32()
					c.ObsDomainID = v
					return err
				case "obs_point_id":
					v, err := sc.u32()
					c.ObsPointID = v
					return err
				}
				return sc.errf("unknown flow_sample subfield %q", s)
			})
			userdata = c.Marshal()
			return err
		case "ipfix":
			var c odp.IPFIXCookie
			err := subfields(sc, func(s string) error {
				if s != "output_port" {
					return sc.errf("unknown ipfix subfield %q", s)
				}
				v, err := sc.u32()
				c.OutputPort = v
				return err
			})
			userdata = c.Marshal()
			return err
		case "userdata":
			if err := sc.expect('('); err != nil {
				return err
			}
			v, err := sc.hexBytes()
			if err != nil {
				return err
			}
			userdata = v
			return sc.expect(')')
		}
		return sc.errf("unknown userspace subfield %q", sub)
	})
	if err != nil {
		return err
	}
	odp.PutUserspaceAction(b, pid, userdata, tunnelOutPort)
	return nil
}

// parseSet parses set(field(...)). When any subfield carries a /mask
// the action becomes a masked set.
func parseSet(sc *scanner, b *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	name := sc.ident()
	if name == "" {
		return sc.errf("expected a field name")
	}

	// Parse the field through the key grammar into scratch builders,
	// then decide between set and masked set from the mask it built.
	var key, mask nlattr.Builder
	if err := parseKeyAttr(sc, nil, name, &key, &mask); err != nil {
		return err
	}
	if err := sc.expect(')'); err != nil {
		return err
	}

	ka, ok := firstAttr(key.Bytes())
	if !ok {
		return sc.errf("empty set")
	}
	ma, _ := firstAttr(mask.Bytes())
	if ka.Type == odp.KeyAttrTunnel || allOnes(ma.Value) {
		odp.PutSetAction(b, ka.Type, ka.Value)
		return nil
	}
	// The datapath expects masked values pre-masked.
	v := make([]byte, len(ka.Value))
	for i := range v {
		v[i] = ka.Value[i] & ma.Value[i]
	}
	odp.PutSetMaskedAction(b, ka.Type, v, ma.Value)
	return nil
}

func firstAttr(buf []byte) (nlattr.Attr, bool) {
	it := nlattr.NewIter(buf)
	return it.Next()
}

func parsePushVlan(sc *scanner, b *nlattr.Builder) error {
	var tpid uint16 = flow.EthTypeVLAN
	var tci uint16
	cfi := true
	err := subfields(sc, func(sub string) error {
		switch sub {
		case "tpid":
			v, err := sc.u16()
			tpid = v
			return err
		case "vid":
			v, err := sc.u16()
			tci |= v & flow.VlanVIDMask
			return err
		case "pcp":
			v, err := sc.u8()
			tci |= uint16(v) << flow.VlanPCPShift
			return err
		case "cfi":
			v, err := sc.u8()
			cfi = v != 0
			return err
		}
		return sc.errf("unknown push_vlan subfield %q", sub)
	})
	if err != nil {
		return err
	}
	if cfi {
		tci |= flow.VlanCFI
	}
	odp.PutPushVlanAction(b, tpid, tci)
	return nil
}

func parsePushEth(sc *scanner, b *nlattr.Builder) error {
	var src, dst [6]byte
	err := subfields(sc, func(sub string) error {
		switch sub {
		case "src":
			v, err := sc.mac()
			src = v
			return err
		case "dst":
			v, err := sc.mac()
			dst = v
			return err
		}
		return sc.errf("unknown push_eth subfield %q", sub)
	})
	if err != nil {
		return err
	}
	odp.PutPushEthAction(b, src, dst)
	return nil
}

func parsePushMPLS(sc *scanner, b *nlattr.Builder) error {
	var lse uint32
	var ethType uint16
	err := subfields(sc, func(sub string) error {
		switch sub {
		case "label":
			v, err := sc.u32()
			lse = flow.SetMPLSLabel(lse, v)
			return err
		case "tc":
			v, err := sc.u8()
			lse = flow.SetMPLSTC(lse, v)
			return err
		case "ttl":
			v, err := sc.u8()
			lse = flow.SetMPLSTTL(lse, v)
			return err
		case "bos":
			v, err := sc.u8()
			lse = flow.SetMPLSBOS(lse, v != 0)
			return err
		case "eth_type":
			v, err := sc.u16()
			ethType = v
			return err
		}
		return sc.errf("unknown push_mpls subfield %q", sub)
	})
	if err != nil {
		return err
	}
	odp.PutPushMPLSAction(b, lse, ethType)
	return nil
}

func parseSample(sc *scanner, pm *PortMap, b *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	if sc.ident() != "sample" {
		return sc.errf("expected sample=")
	}
	if err := sc.expect('='); err != nil {
		return err
	}
	pct, err := sc.f64()
	if err != nil {
		return err
	}
	if err := sc.expect('%'); err != nil {
		return err
	}
	if err := sc.expect(','); err != nil {
		return err
	}
	if sc.ident() != "actions" {
		return sc.errf("expected actions(...)")
	}
	if err := sc.expect('('); err != nil {
		return err
	}
	var inner nlattr.Builder
	if err := parseActionList(sc, pm, &inner, true); err != nil {
		return err
	}
	if err := sc.expect(')'); err != nil {
		return err
	}
	if err := sc.expect(')'); err != nil {
		return err
	}
	prob := uint32(pct/100*math.MaxUint32 + 0.5)
	odp.PutSampleAction(b, prob, inner.Bytes())
	return nil
}
