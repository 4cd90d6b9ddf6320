package odp

import (
	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
)

// Metadata is the per-packet state that travels with a packet through
// the datapath without living in its headers.
type Metadata struct {
	Tunnel    flow.TunnelKey
	Priority  uint32
	PktMark   uint32
	InPort    uint32
	RecircID  uint32
	DpHash    uint32
	BaseLayer flow.BaseLayer
	// EthType is the payload type of packets with no Ethernet header.
	EthType uint16
}

// PutMetadata appends the key attributes for md. Zero-valued optional
// metadata is omitted; the input port is always written.
func PutMetadata(b *nlattr.Builder, md *Metadata) {
	if md.Tunnel.IsSet() {
		PutTunnel(b, &md.Tunnel)
	}
	if md.Priority != 0 {
		b.PutUint32(KeyAttrPriority, md.Priority)
	}
	if md.PktMark != 0 {
		b.PutUint32(KeyAttrSkbMark, md.PktMark)
	}
	if md.DpHash != 0 {
		b.PutUint32(KeyAttrDpHash, md.DpHash)
	}
	if md.RecircID != 0 {
		b.PutUint32(KeyAttrRecircID, md.RecircID)
	}
	b.PutUint32(KeyAttrInPort, md.InPort)
	if md.BaseLayer == flow.LayerL3 {
		b.PutUint16(KeyAttrPktEthertype, md.EthType)
	}
}

// MetadataFromKey extracts packet metadata from a flow key, ignoring
// the header attributes. The walk stops early once every metadata
// attribute has been seen.
func MetadataFromKey(key []byte, md *Metadata) error {
	*md = Metadata{InPort: PortNone, BaseLayer: flow.LayerL2}

	wanted := attrBit(KeyAttrPriority) | attrBit(KeyAttrSkbMark) |
		attrBit(KeyAttrDpHash) | attrBit(KeyAttrRecircID) |
		attrBit(KeyAttrTunnel) | attrBit(KeyAttrInPort) |
		attrBit(KeyAttrPktEthertype)

	it := nlattr.NewIter(key)
	for a, more := it.Next(); more; a, more = it.Next() {
		switch a.Type {
		case KeyAttrPriority:
			md.Priority = a.Uint32()
		case KeyAttrSkbMark:
			md.PktMark = a.Uint32()
		case KeyAttrDpHash:
			md.DpHash = a.Uint32()
		case KeyAttrRecircID:
			md.RecircID = a.Uint32()
		case KeyAttrTunnel:
			if TunnelFromAttr(a, &md.Tunnel, false) == FitError {
				return ErrMalformed
			}
		case KeyAttrInPort:
			md.InPort = a.Uint32()
		case KeyAttrPktEthertype:
			md.BaseLayer = flow.LayerL3
			md.EthType = a.Uint16()
		default:
			continue
		}
		wanted &^= attrBit(a.Type)
		if wanted == 0 {
			break
		}
	}
	if it.Err() != nil {
		return it.Err()
	}
	return nil
}
