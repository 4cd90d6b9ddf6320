package packet

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/veesix-networks/odp/pkg/flow"
)

// HashL4 computes a 5-tuple hash over the flow's network addresses,
// protocol and transport ports. Flows with no network layer hash on
// whatever of the tuple is zero-valued, which is still deterministic.
func HashL4(f *flow.Flow, basis uint32) uint32 {
	var buf [44]byte
	n := 0
	if f.EthType == flow.EthTypeIPv6 {
		n += copy(buf[n:], f.IPv6Src[:])
		n += copy(buf[n:], f.IPv6Dst[:])
	} else {
		n += copy(buf[n:], f.NwSrc[:])
		n += copy(buf[n:], f.NwDst[:])
	}
	buf[n] = f.NwProto
	n++
	binary.BigEndian.PutUint16(buf[n:], f.TpSrc)
	n += 2
	binary.BigEndian.PutUint16(buf[n:], f.TpDst)
	n += 2

	var seed [4]byte
	binary.BigEndian.PutUint32(seed[:], basis)
	d := xxhash.New()
	d.Write(seed[:])
	d.Write(buf[:n])
	sum := d.Sum64()
	return uint32(sum) ^ uint32(sum>>32)
}
