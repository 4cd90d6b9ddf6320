// Package exec interprets encoded action lists over packet batches.
// Actions that touch only the packets run here; actions that need
// datapath state (sending, tunneling, upcalls, recirculation) are
// delegated to a callback, which may take over the batch when it is
// the final consumer.
package exec

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/logger"
	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
	"github.com/veesix-networks/odp/pkg/packet"
)

var log = logger.Get(logger.ComponentExec)

// ErrProtocol reports a structurally invalid action list. Action lists
// come from a trusted control path, so payload validation failures
// beyond framing panic instead.
var ErrProtocol = errors.New("exec: malformed action list")

// Delegate runs the actions the interpreter cannot: output, tunnel
// push/pop, userspace and recirculation. When mayConsume is true the
// delegate is the batch's last user and should take the packets with
// Batch.Consume; otherwise it must leave the batch intact.
type Delegate interface {
	ExecuteAction(batch *packet.Batch, action nlattr.Attr, mayConsume bool)
}

// randUint32 is the sample action's random source, replaceable in
// tests.
var randUint32 = rand.Uint32

func delegated(typ uint16) bool {
	switch typ {
	case odp.ActionOutput, odp.ActionTunnelPush, odp.ActionTunnelPop,
		odp.ActionUserspace, odp.ActionRecirc:
		return true
	}
	return false
}

// Run executes actions over the batch. With steal set the batch is
// fully consumed by the time Run returns: handed to the delegate on a
// final delegated action, or dropped otherwise.
func Run(dp Delegate, batch *packet.Batch, actions []byte, steal bool) error {
	it := nlattr.NewIter(actions)
	a, more := it.Next()
	for more {
		next, nextMore := it.Next()
		if it.Err() != nil {
			return ErrProtocol
		}
		lastAction := !nextMore

		if delegated(a.Type) {
			if dp != nil {
				mayConsume := steal && lastAction
				dp.ExecuteAction(batch, a, mayConsume)
				if lastAction {
					return nil
				}
			}
			a, more = next, nextMore
			continue
		}

		switch a.Type {
		case odp.ActionHash:
			alg, basis, ok := odp.HashAction(a)
			if !ok {
				return ErrProtocol
			}
			if alg != odp.HashAlgL4 {
				panic(fmt.Sprintf("exec: unknown hash algorithm %d", alg))
			}
			for _, p := range batch.Packets() {
				f := packet.Extract(p)
				hash := packet.HashL4(f, basis)
				if hash == 0 {
					hash = 1
				}
				p.Md.DpHash = hash
			}

		case odp.ActionPushVlan:
			tpid, tci, ok := odp.PushVlanAction(a)
			if !ok {
				return ErrProtocol
			}
			forEach(batch, func(p *packet.Packet) bool {
				return p.PushVlan(tpid, tci)
			})

		case odp.ActionPopVlan:
			forEach(batch, (*packet.Packet).PopVlan)

		case odp.ActionPushEth:
			src, dst, ok := odp.PushEthAction(a)
			if !ok {
				return ErrProtocol
			}
			forEach(batch, func(p *packet.Packet) bool {
				return p.PushEth(src, dst)
			})

		case odp.ActionPopEth:
			forEach(batch, (*packet.Packet).PopEth)

		case odp.ActionPushMPLS:
			lse, ethType, ok := odp.PushMPLSAction(a)
			if !ok {
				return ErrProtocol
			}
			forEach(batch, func(p *packet.Packet) bool {
				return p.PushMPLS(ethType, lse)
			})

		case odp.ActionPopMPLS:
			if a.Len() != 2 {
				return ErrProtocol
			}
			ethType := a.Uint16()
			forEach(batch, func(p *packet.Packet) bool {
				return p.PopMPLS(ethType)
			})

		case odp.ActionSet:
			inner, ok := odp.SetActionAttr(a)
			if !ok {
				return ErrProtocol
			}
			for _, p := range batch.Packets() {
				executeSet(p, inner)
			}

		case odp.ActionSetMasked:
			inner, value, mask, ok := odp.SetMaskedParts(a)
			if !ok {
				return ErrProtocol
			}
			for _, p := range batch.Packets() {
				executeMaskedSet(p, inner.Type, value, mask)
			}

		case odp.ActionSample:
			prob, innerActions, ok := odp.SampleAction(a)
			if !ok {
				return ErrProtocol
			}
			// One draw decides for the whole batch invocation.
			if randUint32() >= prob {
				if steal && lastAction {
					batch.Drop()
					return nil
				}
			} else {
				innerSteal := steal && lastAction
				if err := Run(dp, batch, innerActions, innerSteal); err != nil {
					return err
				}
				if innerSteal {
					return nil
				}
			}

		default:
			panic(fmt.Sprintf("exec: unknown action type %d", a.Type))
		}

		a, more = next, nextMore
	}
	if it.Err() != nil {
		return ErrProtocol
	}

	if steal {
		batch.Drop()
	}
	return nil
}

func forEach(batch *packet.Batch, op func(*packet.Packet) bool) {
	for _, p := range batch.Packets() {
		if !op(p) {
			log.Warn("action not applicable to packet", "len", len(p.Data))
		}
	}
}

// executeSet applies a plain set action: the key attribute's value
// overwrites the matching packet field outright.
func executeSet(p *packet.Packet, a nlattr.Attr) {
	v := a.Value
	switch a.Type {
	case odp.KeyAttrPriority:
		p.Md.Priority = a.Uint32()
	case odp.KeyAttrSkbMark:
		p.Md.PktMark = a.Uint32()
	case odp.KeyAttrDpHash:
		p.Md.DpHash = a.Uint32()
	case odp.KeyAttrRecircID:
		p.Md.RecircID = a.Uint32()

	case odp.KeyAttrTunnel:
		// Sets the tunnel the packet will be sent over.
		var tnl flow.TunnelKey
		if odp.TunnelFromAttr(a, &tnl, false) != odp.FitError {
			p.Md.Tunnel = tnl
		}

	case odp.KeyAttrEthernet:
		var src, dst [6]byte
		copy(src[:], v[0:6])
		copy(dst[:], v[6:12])
		p.PutEthAddrs(src, dst)

	case odp.KeyAttrIPv4:
		var f packet.IPv4Fields
		copy(f.Src[:], v[0:4])
		copy(f.Dst[:], v[4:8])
		f.TOS = v[9]
		f.TTL = v[10]
		p.PutIPv4(f)

	case odp.KeyAttrIPv6:
		var f packet.IPv6Fields
		copy(f.Src[:], v[0:16])
		copy(f.Dst[:], v[16:32])
		lbl := be32(v[32:36])
		f.Label = lbl & 0x000fffff
		f.TC = v[37]
		f.HLimit = v[38]
		p.PutIPv6(f)

	case odp.KeyAttrTCP:
		p.PutTCPPorts(be16(v[0:2]), be16(v[2:4]))
	case odp.KeyAttrUDP:
		p.PutUDPPorts(be16(v[0:2]), be16(v[2:4]))
	case odp.KeyAttrSCTP:
		p.PutSCTPPorts(be16(v[0:2]), be16(v[2:4]))

	case odp.KeyAttrICMP, odp.KeyAttrICMPv6:
		p.PutICMP(v[0], v[1])

	case odp.KeyAttrMPLS:
		p.PutMPLSLse(be32(v[0:4]))

	case odp.KeyAttrARP:
		var f packet.ARPFields
		copy(f.SPA[:], v[0:4])
		copy(f.TPA[:], v[4:8])
		f.Op = be16(v[8:10])
		copy(f.SHA[:], v[10:16])
		copy(f.THA[:], v[16:22])
		p.PutARP(f)

	default:
		panic(fmt.Sprintf("exec: unsupported set key %s", odp.KeyAttrName(a.Type)))
	}
}

// masked blends a rewrite with the packet's current bytes: masked bits
// come from the value, the rest stay as they are.
func masked(old, value, mask []byte) []byte {
	out := make([]byte, len(old))
	for i := range out {
		out[i] = value[i]&mask[i] | old[i]&^mask[i]
	}
	return out
}

func maskedU32(old uint32, value, mask []byte) uint32 {
	v := be32(value)
	m := be32(mask)
	return v&m | old&^m
}

// executeMaskedSet applies a masked set action by reading the current
// field, blending, and writing back through the same put used by the
// plain set.
func executeMaskedSet(p *packet.Packet, typ uint16, value, mask []byte) {
	switch typ {
	case odp.KeyAttrPriority:
		p.Md.Priority = maskedU32(p.Md.Priority, value, mask)
	case odp.KeyAttrSkbMark:
		p.Md.PktMark = maskedU32(p.Md.PktMark, value, mask)
	case odp.KeyAttrDpHash:
		p.Md.DpHash = maskedU32(p.Md.DpHash, value, mask)
	case odp.KeyAttrRecircID:
		p.Md.RecircID = maskedU32(p.Md.RecircID, value, mask)

	case odp.KeyAttrEthernet:
		src, dst, ok := p.EthAddrs()
		if !ok {
			return
		}
		old := make([]byte, 12)
		copy(old[0:6], src[:])
		copy(old[6:12], dst[:])
		v := masked(old, value, mask)
		copy(src[:], v[0:6])
		copy(dst[:], v[6:12])
		p.PutEthAddrs(src, dst)

	case odp.KeyAttrIPv4:
		f, ok := p.IPv4()
		if !ok {
			return
		}
		old := make([]byte, 12)
		copy(old[0:4], f.Src[:])
		copy(old[4:8], f.Dst[:])
		old[9] = f.TOS
		old[10] = f.TTL
		v := masked(old, value, mask)
		copy(f.Src[:], v[0:4])
		copy(f.Dst[:], v[4:8])
		f.TOS = v[9]
		f.TTL = v[10]
		p.PutIPv4(f)

	case odp.KeyAttrIPv6:
		f, ok := p.IPv6()
		if !ok {
			return
		}
		old := make([]byte, 40)
		copy(old[0:16], f.Src[:])
		copy(old[16:32], f.Dst[:])
		putBE32(old[32:36], f.Label)
		old[37] = f.TC
		old[38] = f.HLimit
		v := masked(old, value, mask)
		copy(f.Src[:], v[0:16])
		copy(f.Dst[:], v[16:32])
		f.Label = be32(v[32:36]) & 0x000fffff
		f.TC = v[37]
		f.HLimit = v[38]
		p.PutIPv6(f)

	case odp.KeyAttrTCP:
		src, dst, ok := p.Ports()
		if !ok {
			return
		}
		old := []byte{byte(src >> 8), byte(src), byte(dst >> 8), byte(dst)}
		v := masked(old, value, mask)
		p.PutTCPPorts(be16(v[0:2]), be16(v[2:4]))

	case odp.KeyAttrUDP:
		src, dst, ok := p.Ports()
		if !ok {
			return
		}
		old := []byte{byte(src >> 8), byte(src), byte(dst >> 8), byte(dst)}
		v := masked(old, value, mask)
		p.PutUDPPorts(be16(v[0:2]), be16(v[2:4]))

	case odp.KeyAttrSCTP:
		src, dst, ok := p.Ports()
		if !ok {
			return
		}
		old := []byte{byte(src >> 8), byte(src), byte(dst >> 8), byte(dst)}
		v := masked(old, value, mask)
		p.PutSCTPPorts(be16(v[0:2]), be16(v[2:4]))

	case odp.KeyAttrICMP, odp.KeyAttrICMPv6:
		typ8, code, ok := p.ICMP()
		if !ok {
			return
		}
		v := masked([]byte{typ8, code}, value, mask)
		p.PutICMP(v[0], v[1])

	case odp.KeyAttrMPLS:
		lse, ok := p.MPLSLse()
		if !ok {
			return
		}
		p.PutMPLSLse(maskedU32(lse, value, mask))

	case odp.KeyAttrARP:
		f, ok := p.ARP()
		if !ok {
			return
		}
		old := make([]byte, 22)
		copy(old[0:4], f.SPA[:])
		copy(old[4:8], f.TPA[:])
		putBE16(old[8:10], f.Op)
		copy(old[10:16], f.SHA[:])
		copy(old[16:22], f.THA[:])
		v := masked(old, value[:22], mask[:22])
		copy(f.SPA[:], v[0:4])
		copy(f.TPA[:], v[4:8])
		f.Op = be16(v[8:10])
		copy(f.SHA[:], v[10:16])
		copy(f.THA[:], v[16:22])
		p.PutARP(f)

	default:
		panic(fmt.Sprintf("exec: unsupported masked set key %s", odp.KeyAttrName(typ)))
	}
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
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
