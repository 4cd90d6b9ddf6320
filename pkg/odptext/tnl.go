package odptext

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
)

// Tunnel header field offsets for the prebuilt tnl_push header. The
// header is a template: total length and checksums are left for the
// datapath to fill when it prepends it.
const (
	tnlEthLen  = 14
	tnlIPv4Len = 20
	tnlUDPLen  = 8
	vxlanLen   = 8

	greCsumFlag uint16 = 0x8000
	greKeyFlag  uint16 = 0x2000

	ipProtoUDP = 17
	ipProtoGRE = 47
)

func formatTnlHeader(h []byte) string {
	if len(h) < tnlEthLen+tnlIPv4Len {
		return fmt.Sprintf("size=%d,bad(0x%x)", len(h), h)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "size=%d", len(h))

	dlType := be16(h[12:14])
	fmt.Fprintf(&sb, ",eth(dst=%s,src=%s,dl_type=0x%04x)",
		macString(h[0:6]), macString(h[6:12]), dlType)

	ip := h[tnlEthLen:]
	fmt.Fprintf(&sb, ",ipv4(src=%s,dst=%s,proto=%d,tos=%d,ttl=%d,frag=0x%04x)",
		ip4String(ip[12:16]), ip4String(ip[16:20]), ip[9], ip[1], ip[8],
		be16(ip[6:8]))

	rest := h[tnlEthLen+tnlIPv4Len:]
	switch ip[9] {
	case ipProtoUDP:
		if len(rest) < tnlUDPLen+vxlanLen {
			return sb.String() + fmt.Sprintf(",bad(0x%x)", rest)
		}
		fmt.Fprintf(&sb, ",udp(src=%d,dst=%d,csum=0x%x)",
			be16(rest[0:2]), be16(rest[2:4]), be16(rest[6:8]))
		vx := rest[tnlUDPLen:]
		fmt.Fprintf(&sb, ",vxlan(flags=0x%x,vni=0x%x)",
			be32(vx[0:4]), be32(vx[4:8])>>8)
	case ipProtoGRE:
		if len(rest) < 4 {
			return sb.String() + fmt.Sprintf(",bad(0x%x)", rest)
		}
		flags := be16(rest[0:2])
		fmt.Fprintf(&sb, ",gre(flags=0x%x,proto=0x%04x", flags, be16(rest[2:4]))
		off := 4
		if flags&greCsumFlag != 0 && len(rest) >= off+4 {
			fmt.Fprintf(&sb, ",csum=0x%x", be16(rest[off:off+2]))
			off += 4
		}
		if flags&greKeyFlag != 0 && len(rest) >= off+4 {
			fmt.Fprintf(&sb, ",key=0x%x", be32(rest[off:off+4]))
		}
		sb.WriteByte(')')
	default:
		fmt.Fprintf(&sb, ",bad(0x%x)", rest)
	}
	return sb.String()
}

func parseTnlPush(sc *scanner, b *nlattr.Builder) error {
	if err := sc.expect('('); err != nil {
		return err
	}
	var tp odp.TnlPush
	if sc.ident() != "tnl_port" {
		return sc.errf("expected tnl_port(...)")
	}
	v, err := parenU32(sc)
	if err != nil {
		return err
	}
	tp.TnlPort = v
	if err := sc.expect(','); err != nil {
		return err
	}

	if sc.ident() != "header" {
		return sc.errf("expected header(...)")
	}
	if err := sc.expect('('); err != nil {
		return err
	}
	header, err := parseTnlHeader(sc)
	if err != nil {
		return err
	}
	tp.Header = header
	if err := sc.expect(')'); err != nil {
		return err
	}
	if err := sc.expect(','); err != nil {
		return err
	}

	if sc.ident() != "out_port" {
		return sc.errf("expected out_port(...)")
	}
	if v, err = parenU32(sc); err != nil {
		return err
	}
	tp.OutPort = v
	if err := sc.expect(')'); err != nil {
		return err
	}
	odp.PutTunnelPushAction(b, &tp)
	return nil
}

// parseTnlHeader consumes the contents of header(...) and rebuilds the
// prebuilt outer header bytes.
func parseTnlHeader(sc *scanner) ([]byte, error) {
	var declared uint32
	eth := make([]byte, tnlEthLen)
	ip := make([]byte, tnlIPv4Len)
	ip[0] = 0x45
	var tail []byte

	for {
		name := sc.ident()
		switch name {
		case "size":
			if err := sc.expect('='); err != nil {
				return nil, err
			}
			v, err := sc.u32()
			if err != nil {
				return nil, err
			}
			declared = v

		case "eth":
			err := subfields(sc, func(sub string) error {
				switch sub {
				case "dst":
					v, err := sc.mac()
					copy(eth[0:6], v[:])
					return err
				case "src":
					v, err := sc.mac()
					copy(eth[6:12], v[:])
					return err
				case "dl_type":
					v, err := sc.u16()
					putBE16(eth[12:14], v)
					return err
				}
				return sc.errf("unknown eth subfield %q", sub)
			})
			if err != nil {
				return nil, err
			}

		case "ipv4":
			err := subfields(sc, func(sub string) error {
				switch sub {
				case "src":
					v, err := sc.ip4()
					copy(ip[12:16], v[:])
					return err
				case "dst":
					v, err := sc.ip4()
					copy(ip[16:20], v[:])
					return err
				case "proto":
					v, err := sc.u8()
					ip[9] = v
					return err
				case "tos":
					v, err := sc.u8()
					ip[1] = v
					return err
				case "ttl":
					v, err := sc.u8()
					ip[8] = v
					return err
				case "frag":
					v, err := sc.u16()
					putBE16(ip[6:8], v)
					return err
				}
				return sc.errf("unknown ipv4 subfield %q", sub)
			})
			if err != nil {
				return nil, err
			}

		case "udp":
			udp := make([]byte, tnlUDPLen)
			err := subfields(sc, func(sub string) error {
				switch sub {
				case "src":
					v, err := sc.u16()
					putBE16(udp[0:2], v)
					return err
				case "dst":
					v, err := sc.u16()
					putBE16(udp[2:4], v)
					return err
				case "csum":
					v, err := sc.u16()
					putBE16(udp[6:8], v)
					return err
				}
				return sc.errf("unknown udp subfield %q", sub)
			})
			if err != nil {
				return nil, err
			}
			tail = append(tail, udp...)

		case "vxlan":
			vx := make([]byte, vxlanLen)
			err := subfields(sc, func(sub string) error {
				switch sub {
				case "flags":
					v, err := sc.u32()
					putBE32(vx[0:4], v)
					return err
				case "vni":
					v, err := sc.u32()
					putBE32(vx[4:8], v<<8)
					return err
				}
				return sc.errf("unknown vxlan subfield %q", sub)
			})
			if err != nil {
				return nil, err
			}
			tail = append(tail, vx...)

		case "gre":
			gre := make([]byte, 4)
			var csum, key []byte
			err := subfields(sc, func(sub string) error {
				switch sub {
				case "flags":
					v, err := sc.u16()
					putBE16(gre[0:2], v)
					return err
				case "proto":
					v, err := sc.u16()
					putBE16(gre[2:4], v)
					return err
				case "csum":
					v, err := sc.u16()
					csum = make([]byte, 4)
					putBE16(csum[0:2], v)
					return err
				case "key":
					v, err := sc.u32()
					key = make([]byte, 4)
					putBE32(key, v)
					return err
				}
				return sc.errf("unknown gre subfield %q", sub)
			})
			if err != nil {
				return nil, err
			}
			tail = append(tail, gre...)
			tail = append(tail, csum...)
			tail = append(tail, key...)

		default:
			return nil, sc.errf("unknown header part %q", name)
		}
		if !sc.eat(',') {
			break
		}
	}

	header := append(append(eth, ip...), tail...)
	if declared != 0 && int(declared) != len(header) {
		return nil, sc.errf("header size %d does not match contents (%d)",
			declared, len(header))
	}
	return header, nil
}

// f64 parses a nonnegative decimal number with an optional fraction.
func (sc *scanner) f64() (float64, error) {
	start := sc.off
	for !sc.eof() {
		c := sc.s[sc.off]
		if c >= '0' && c <= '9' || c == '.' {
			sc.off++
			continue
		}
		break
	}
	if sc.off == start {
		return 0, sc.errf("expected a number")
	}
	v, err := strconv.ParseFloat(sc.s[start:sc.off], 64)
	if err != nil {
		sc.off = start
		return 0, sc.errf("bad number")
	}
	return v, nil
}
