// Package packet holds the mutable packet model the action interpreter
// operates on: raw frame bytes plus datapath metadata, grouped into
// batches whose ownership can be handed off to a callback.
package packet

import (
	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/odp"
)

// Packet is one frame and its datapath metadata. Data always starts at
// the packet's outermost header: Ethernet for L2 packets, the network
// header for L3 ones.
type Packet struct {
	Data []byte
	Md   odp.Metadata
}

// New returns an L2 packet over a private copy of data.
func New(data []byte) *Packet {
	p := &Packet{Data: make([]byte, len(data))}
	copy(p.Data, data)
	return p
}

// Clone deep-copies the packet.
func (p *Packet) Clone() *Packet {
	c := &Packet{Data: make([]byte, len(p.Data)), Md: p.Md}
	copy(c.Data, p.Data)
	return c
}

// Batch is an ordered group of packets processed together. A batch
// owns its packets until Consume transfers them out.
type Batch struct {
	pkts []*Packet
}

// NewBatch returns a batch owning the given packets.
func NewBatch(pkts ...*Packet) *Batch {
	return &Batch{pkts: pkts}
}

func (b *Batch) Len() int { return len(b.pkts) }

// Packets returns the batch's packets without transferring ownership.
func (b *Batch) Packets() []*Packet { return b.pkts }

func (b *Batch) Add(p *Packet) {
	b.pkts = append(b.pkts, p)
}

// Consume moves the packets out of the batch, leaving it empty. The
// caller becomes responsible for them; the batch can no longer reach
// them afterwards.
func (b *Batch) Consume() []*Packet {
	pkts := b.pkts
	b.pkts = nil
	return pkts
}

// Drop discards the batch's packets.
func (b *Batch) Drop() {
	b.pkts = nil
}

// Clone deep-copies the batch and everything in it.
func (b *Batch) Clone() *Batch {
	c := &Batch{pkts: make([]*Packet, len(b.pkts))}
	for i, p := range b.pkts {
		c.pkts[i] = p.Clone()
	}
	return c
}

const (
	ethHeaderLen  = 14
	ethAddrLen    = 6
	vlanHeaderLen = 4
	mplsLSELen    = 4
)

// payloadOffset returns the byte offset just past the Ethernet header
// and any VLAN tags, and the ethertype in force there. For L3 packets
// the offset is zero and the type comes from the metadata.
func (p *Packet) payloadOffset() (off int, ethType uint16) {
	if p.Md.BaseLayer == flow.LayerL3 {
		return 0, p.Md.EthType
	}
	if len(p.Data) < ethHeaderLen {
		return len(p.Data), 0
	}
	off = 2 * ethAddrLen
	ethType = be16(p.Data[off:])
	off += 2
	for ethType == flow.EthTypeVLAN && len(p.Data) >= off+vlanHeaderLen {
		ethType = be16(p.Data[off+2:])
		off += vlanHeaderLen
	}
	return off, ethType
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
