package odp

import (
	"encoding/binary"

	"github.com/veesix-networks/odp/pkg/nlattr"
)

// PutOutputAction appends an action that sends the packet to a port.
func PutOutputAction(b *nlattr.Builder, port uint32) {
	b.PutUint32(ActionOutput, port)
}

// PutRecircAction appends an action that restarts flow lookup with the
// given recirculation id.
func PutRecircAction(b *nlattr.Builder, id uint32) {
	b.PutUint32(ActionRecirc, id)
}

// PutHashAction appends an action that computes a packet hash and
// stores it in the flow metadata.
func PutHashAction(b *nlattr.Builder, alg, basis uint32) {
	var v [8]byte
	binary.BigEndian.PutUint32(v[0:4], alg)
	binary.BigEndian.PutUint32(v[4:8], basis)
	b.PutBytes(ActionHash, v[:])
}

// HashAction decodes the hash action payload.
func HashAction(a nlattr.Attr) (alg, basis uint32, ok bool) {
	if a.Len() != 8 {
		return 0, 0, false
	}
	return a.Uint32At(0), a.Uint32At(1), true
}

// PutUserspaceAction appends an upcall action. userdata may be nil.
// tunnelOutPort of PortNone omits the egress tunnel port attribute.
func PutUserspaceAction(b *nlattr.Builder, pid uint32, userdata []byte, tunnelOutPort uint32) {
	off := b.BeginNested(ActionUserspace)
	b.PutUint32(UserspaceAttrPID, pid)
	if userdata != nil {
		b.PutBytes(UserspaceAttrUserdata, userdata)
	}
	if tunnelOutPort != PortNone {
		b.PutUint32(UserspaceAttrEgressTunPort, tunnelOutPort)
	}
	b.EndNested(off)
}

// UserspaceAction decodes an upcall action. userdata is nil when the
// attribute is absent and tunnelOutPort is PortNone when it is.
func UserspaceAction(a nlattr.Attr) (pid uint32, userdata []byte, tunnelOutPort uint32, ok bool) {
	tunnelOutPort = PortNone
	it := nlattr.NewIter(a.Value)
	for sub, more := it.Next(); more; sub, more = it.Next() {
		switch sub.Type {
		case UserspaceAttrPID:
			if sub.Len() != 4 {
				return 0, nil, 0, false
			}
			pid = sub.Uint32()
		case UserspaceAttrUserdata:
			userdata = sub.Value
		case UserspaceAttrEgressTunPort:
			if sub.Len() != 4 {
				return 0, nil, 0, false
			}
			tunnelOutPort = sub.Uint32()
		}
	}
	return pid, userdata, tunnelOutPort, it.Err() == nil
}

// PutSetAction appends a set action carrying one key attribute.
func PutSetAction(b *nlattr.Builder, keyType uint16, value []byte) {
	off := b.BeginNested(ActionSet)
	b.PutBytes(keyType, value)
	b.EndNested(off)
}

// PutSetMaskedAction appends a masked set action; the nested attribute
// holds the value followed by its mask.
func PutSetMaskedAction(b *nlattr.Builder, keyType uint16, value, mask []byte) {
	off := b.BeginNested(ActionSetMasked)
	v := make([]byte, 0, len(value)+len(mask))
	v = append(v, value...)
	v = append(v, mask...)
	b.PutBytes(keyType, v)
	b.EndNested(off)
}

// SetActionAttr returns the single key attribute inside a set action.
func SetActionAttr(a nlattr.Attr) (nlattr.Attr, bool) {
	it := nlattr.NewIter(a.Value)
	inner, ok := it.Next()
	if !ok || it.Err() != nil {
		return nlattr.Attr{}, false
	}
	return inner, true
}

// SetMaskedParts splits the attribute inside a masked set action into
// its value and mask halves.
func SetMaskedParts(a nlattr.Attr) (inner nlattr.Attr, value, mask []byte, ok bool) {
	inner, ok = SetActionAttr(a)
	if !ok || inner.Len()%2 != 0 {
		return nlattr.Attr{}, nil, nil, false
	}
	half := inner.Len() / 2
	return inner, inner.Value[:half], inner.Value[half:], true
}

// PutPushVlanAction appends a push_vlan action. tci must have the CFI
// bit set for the tag to be valid on the wire.
func PutPushVlanAction(b *nlattr.Builder, tpid, tci uint16) {
	var v [4]byte
	binary.BigEndian.PutUint16(v[0:2], tpid)
	binary.BigEndian.PutUint16(v[2:4], tci)
	b.PutBytes(ActionPushVlan, v[:])
}

// PushVlanAction decodes a push_vlan action payload.
func PushVlanAction(a nlattr.Attr) (tpid, tci uint16, ok bool) {
	if a.Len() != 4 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(a.Value[0:2]), binary.BigEndian.Uint16(a.Value[2:4]), true
}

func PutPopVlanAction(b *nlattr.Builder) {
	b.PutFlag(ActionPopVlan)
}

// PutPushEthAction appends an action that adds an Ethernet header to a
// bare L3 packet.
func PutPushEthAction(b *nlattr.Builder, src, dst [6]byte) {
	var v [12]byte
	copy(v[0:6], src[:])
	copy(v[6:12], dst[:])
	b.PutBytes(ActionPushEth, v[:])
}

// PushEthAction decodes a push_eth action payload.
func PushEthAction(a nlattr.Attr) (src, dst [6]byte, ok bool) {
	if a.Len() != 12 {
		return src, dst, false
	}
	copy(src[:], a.Value[0:6])
	copy(dst[:], a.Value[6:12])
	return src, dst, true
}

func PutPopEthAction(b *nlattr.Builder) {
	b.PutFlag(ActionPopEth)
}

// PutPushMPLSAction appends an action that pushes one label stack
// entry and rewrites the ethertype.
func PutPushMPLSAction(b *nlattr.Builder, lse uint32, ethType uint16) {
	var v [6]byte
	binary.BigEndian.PutUint32(v[0:4], lse)
	binary.BigEndian.PutUint16(v[4:6], ethType)
	b.PutBytes(ActionPushMPLS, v[:])
}

// PushMPLSAction decodes a push_mpls action payload.
func PushMPLSAction(a nlattr.Attr) (lse uint32, ethType uint16, ok bool) {
	if a.Len() != 6 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(a.Value[0:4]), binary.BigEndian.Uint16(a.Value[4:6]), true
}

// PutPopMPLSAction appends an action that pops the outer label and
// rewrites the ethertype to the type below it.
func PutPopMPLSAction(b *nlattr.Builder, ethType uint16) {
	b.PutUint16(ActionPopMPLS, ethType)
}

// PutSampleAction appends a sample action wrapping already-encoded
// inner actions. probability is out of 2^32-1.
func PutSampleAction(b *nlattr.Builder, probability uint32, actions []byte) {
	off := b.BeginNested(ActionSample)
	b.PutUint32(SampleAttrProbability, probability)
	aoff := b.BeginNested(SampleAttrActions)
	b.AppendRaw(actions)
	b.EndNested(aoff)
	b.EndNested(off)
}

// SampleAction decodes a sample action into its probability and the
// raw inner action bytes.
func SampleAction(a nlattr.Attr) (probability uint32, actions []byte, ok bool) {
	var haveProb bool
	it := nlattr.NewIter(a.Value)
	for sub, more := it.Next(); more; sub, more = it.Next() {
		switch sub.Type {
		case SampleAttrProbability:
			if sub.Len() != 4 {
				return 0, nil, false
			}
			probability = sub.Uint32()
			haveProb = true
		case SampleAttrActions:
			actions = sub.Value
		}
	}
	return probability, actions, haveProb && it.Err() == nil
}

// PutTunnelPopAction appends an action that decapsulates through a
// tunnel port.
func PutTunnelPopAction(b *nlattr.Builder, port uint32) {
	b.PutUint32(ActionTunnelPop, port)
}

// TnlPush describes a tunnel encapsulation: the prebuilt outer header
// to prepend and the ports involved.
type TnlPush struct {
	TnlPort uint32
	OutPort uint32
	Header  []byte
}

// PutTunnelPushAction appends a tunnel encapsulation action.
func PutTunnelPushAction(b *nlattr.Builder, tp *TnlPush) {
	v := make([]byte, 10+len(tp.Header))
	binary.BigEndian.PutUint32(v[0:4], tp.TnlPort)
	binary.BigEndian.PutUint32(v[4:8], tp.OutPort)
	binary.BigEndian.PutUint16(v[8:10], uint16(len(tp.Header)))
	copy(v[10:], tp.Header)
	b.PutBytes(ActionTunnelPush, v)
}

// TnlPushAction decodes a tunnel encapsulation action payload.
func TnlPushAction(a nlattr.Attr) (TnlPush, bool) {
	if a.Len() < 10 {
		return TnlPush{}, false
	}
	hlen := int(binary.BigEndian.Uint16(a.Value[8:10]))
	if a.Len() != 10+hlen {
		return TnlPush{}, false
	}
	return TnlPush{
		TnlPort: binary.BigEndian.Uint32(a.Value[0:4]),
		OutPort: binary.BigEndian.Uint32(a.Value[4:8]),
		Header:  a.Value[10:],
	}, true
}

// Userspace cookie kinds, carried in the userdata of an upcall action
// so the receiver can tell why the packet came up.
const (
	CookieSflow      uint8 = 1
	CookieSlowPath   uint8 = 2
	CookieFlowSample uint8 = 3
	CookieIPFIX      uint8 = 4
)

// SflowCookie identifies a packet sampled for sFlow export.
type SflowCookie struct {
	VlanTCI    uint16
	OutputPort uint32
}

func (c SflowCookie) Marshal() []byte {
	v := make([]byte, 7)
	v[0] = CookieSflow
	binary.BigEndian.PutUint16(v[1:3], c.VlanTCI)
	binary.BigEndian.PutUint32(v[3:7], c.OutputPort)
	return v
}

func ParseSflowCookie(v []byte) (SflowCookie, bool) {
	if len(v) != 7 || v[0] != CookieSflow {
		return SflowCookie{}, false
	}
	return SflowCookie{
		VlanTCI:    binary.BigEndian.Uint16(v[1:3]),
		OutputPort: binary.BigEndian.Uint32(v[3:7]),
	}, true
}

// SlowPathCookie identifies a packet punted because the datapath
// cannot handle its flow directly.
type SlowPathCookie struct {
	Reason uint8
}

func (c SlowPathCookie) Marshal() []byte {
	return []byte{CookieSlowPath, c.Reason}
}

func ParseSlowPathCookie(v []byte) (SlowPathCookie, bool) {
	if len(v) != 2 || v[0] != CookieSlowPath {
		return SlowPathCookie{}, false
	}
	return SlowPathCookie{Reason: v[1]}, true
}

// FlowSampleCookie identifies a packet sampled by a flow-level sample.
type FlowSampleCookie struct {
	Probability    uint16
	CollectorSetID uint32
	ObsDomainID    uint32
	ObsPointID     uint32
}

func (c FlowSampleCookie) Marshal() []byte {
	v := make([]byte, 15)
	v[0] = CookieFlowSample
	binary.BigEndian.PutUint16(v[1:3], c.Probability)
	binary.BigEndian.PutUint32(v[3:7], c.CollectorSetID)
	binary.BigEndian.PutUint32(v[7:11], c.ObsDomainID)
	binary.BigEndian.PutUint32(v[11:15], c.ObsPointID)
	return v
}

func ParseFlowSampleCookie(v []byte) (FlowSampleCookie, bool) {
	if len(v) != 15 || v[0] != CookieFlowSample {
		return FlowSampleCookie{}, false
	}
	return FlowSampleCookie{
		Probability:    binary.BigEndian.Uint16(v[1:3]),
		CollectorSetID: binary.BigEndian.Uint32(v[3:7]),
		ObsDomainID:    binary.BigEndian.Uint32(v[7:11]),
		ObsPointID:     binary.BigEndian.Uint32(v[11:15]),
	}, true
}

// IPFIXCookie identifies a packet sampled for per-bridge IPFIX export.
type IPFIXCookie struct {
	OutputPort uint32
}

func (c IPFIXCookie) Marshal() []byte {
	v := make([]byte, 5)
	v[0] = CookieIPFIX
	binary.BigEndian.PutUint32(v[1:5], c.OutputPort)
	return v
}

func ParseIPFIXCookie(v []byte) (IPFIXCookie, bool) {
	if len(v) != 5 || v[0] != CookieIPFIX {
		return IPFIXCookie{}, false
	}
	return IPFIXCookie{OutputPort: binary.BigEndian.Uint32(v[1:5])}, true
}
