package odp

import (
	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
)

// MaskAttrIsExact reports whether a mask attribute matches its field
// exactly. Fields narrower than their wire slot are judged on their
// meaningful bits only.
func MaskAttrIsExact(typ uint16, a nlattr.Attr) bool {
	switch typ {
	case KeyAttrTCPFlags:
		return a.Len() == 2 && a.Uint16()&flow.TCPFlagsMask == flow.TCPFlagsMask

	case KeyAttrIPv6:
		if a.Len() != 40 {
			return false
		}
		// The flow label occupies 20 bits of its 32-bit slot.
		return flow.IsExactAt(a.Value[0:32]) &&
			be32(a.Value[32:36])&0x000fffff == 0x000fffff &&
			flow.IsExactAt(a.Value[36:40])

	case KeyAttrARP:
		// The last two bytes are padding.
		return a.Len() == 24 && flow.IsExactAt(a.Value[0:22])

	case KeyAttrTunnel:
		it := nlattr.NewIter(a.Value)
		for sub, more := it.Next(); more; sub, more = it.Next() {
			// Flag attributes are exact by presence.
			if sub.Len() > 0 && !flow.IsExactAt(sub.Value) {
				return false
			}
		}
		return it.Err() == nil

	default:
		return flow.IsExactAt(a.Value)
	}
}

// AllWildcardMask builds a mask key with the same attribute structure
// as key but every value zeroed, so nothing is matched.
func AllWildcardMask(key []byte) ([]byte, error) {
	b := nlattr.NewBuilder()
	if err := wildcardInto(b, key); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func wildcardInto(b *nlattr.Builder, key []byte) error {
	it := nlattr.NewIter(key)
	for a, more := it.Next(); more; a, more = it.Next() {
		switch a.Type {
		case KeyAttrEncap, KeyAttrTunnel:
			off := b.BeginNested(a.Type)
			if err := wildcardInto(b, a.Value); err != nil {
				return err
			}
			b.EndNested(off)
		default:
			b.PutBytes(a.Type, make([]byte, a.Len()))
		}
	}
	return it.Err()
}
