package packet

// Internet checksum arithmetic. Checksums are kept in wire byte order;
// the incremental update identities from RFC 1624 avoid walking the
// whole payload on a field rewrite.

func csumAdd16(csum, addend uint16) uint16 {
	sum := uint32(csum) + uint32(addend)
	return uint16(sum + sum>>16)
}

func csumAdd32(csum uint16, addend uint32) uint16 {
	return csumAdd16(csumAdd16(csum, uint16(addend)), uint16(addend>>16))
}

// recalcCsum16 updates a checksum for a 16-bit field changing from old
// to new.
func recalcCsum16(csum, old, new uint16) uint16 {
	return csumAdd16(csumAdd16(csum, ^old), new)
}

// recalcCsum32 updates a checksum for a 32-bit field changing from old
// to new.
func recalcCsum32(csum uint16, old, new uint32) uint16 {
	return csumAdd32(csumAdd32(csum, ^old), new)
}

// checksum computes the ones-complement sum of b folded to 16 bits,
// with an odd trailing byte padded as its own high-order half.
func checksum(b []byte) uint16 {
	var sum uint32
	for len(b) >= 2 {
		sum += uint32(be16(b))
		b = b[2:]
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}
