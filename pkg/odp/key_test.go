package odp

import (
	"testing"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
)

func tcpFlow() *flow.Flow {
	f := &flow.Flow{
		Priority: 7,
		SkbMark:  0x11,
		InPort:   3,
		EthSrc:   [6]byte{0x00, 0x16, 0x3e, 0x01, 0x02, 0x03},
		EthDst:   [6]byte{0x00, 0x16, 0x3e, 0x0a, 0x0b, 0x0c},
		EthType:  flow.EthTypeIPv4,
		NwSrc:    [4]byte{192, 168, 10, 1},
		NwDst:    [4]byte{192, 168, 10, 2},
		NwProto:  flow.ProtoTCP,
		NwTOS:    0x10,
		NwTTL:    64,
		TpSrc:    49152,
		TpDst:    443,
		TCPFlags: 0x012,
	}
	return f
}

func encodeKey(t *testing.T, f *flow.Flow, recirc bool) []byte {
	t.Helper()
	b := nlattr.NewBuilder()
	KeyFromFlow(b, f, f.InPort, recirc)
	return b.Bytes()
}

func TestKeyRoundTripTCP(t *testing.T) {
	f := tcpFlow()
	key := encodeKey(t, f, false)

	var got flow.Flow
	if fit := FlowFromKey(key, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got != *f {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, *f)
	}
}

func TestKeyRoundTripRecirc(t *testing.T) {
	f := tcpFlow()
	f.RecircID = 42
	f.DpHash = 0xfeedface
	key := encodeKey(t, f, true)

	var got flow.Flow
	if fit := FlowFromKey(key, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got.RecircID != 42 || got.DpHash != 0xfeedface {
		t.Fatalf("recirc metadata lost: %+v", got)
	}
}

func TestKeyRoundTripVlan(t *testing.T) {
	f := tcpFlow()
	f.VlanTCI = flow.VlanCFI | 5<<flow.VlanPCPShift | 100

	key := encodeKey(t, f, false)
	var got flow.Flow
	if fit := FlowFromKey(key, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got != *f {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, *f)
	}
}

func TestKeyRoundTripL3(t *testing.T) {
	f := &flow.Flow{
		InPort:    9,
		BaseLayer: flow.LayerL3,
		EthType:   flow.EthTypeIPv6,
		IPv6Src:   [16]byte{0x20, 0x01, 0x0d, 0xb8, 15: 0x01},
		IPv6Dst:   [16]byte{0x20, 0x01, 0x0d, 0xb8, 15: 0x02},
		IPv6Lbl:   0x12345,
		NwProto:   flow.ProtoUDP,
		NwTTL:     255,
		TpSrc:     5353,
		TpDst:     5353,
	}
	key := encodeKey(t, f, false)
	var got flow.Flow
	if fit := FlowFromKey(key, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got != *f {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, *f)
	}
}

func TestKeyRoundTripTunnel(t *testing.T) {
	f := tcpFlow()
	f.Tunnel = flow.TunnelKey{
		ID:    100,
		IPSrc: [4]byte{10, 0, 0, 1},
		IPDst: [4]byte{10, 0, 0, 2},
		TTL:   64,
		Flags: flow.TunnelKeyF | flow.TunnelDF,
		TpDst: 4789,
	}
	key := encodeKey(t, f, false)
	var got flow.Flow
	if fit := FlowFromKey(key, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got.Tunnel != f.Tunnel {
		t.Fatalf("tunnel mismatch:\n got %+v\nwant %+v", got.Tunnel, f.Tunnel)
	}
}

func TestKeyRoundTripARP(t *testing.T) {
	f := &flow.Flow{
		InPort:  1,
		EthSrc:  [6]byte{2, 0, 0, 0, 0, 1},
		EthDst:  [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthType: flow.EthTypeARP,
		NwSrc:   [4]byte{10, 1, 1, 1},
		NwDst:   [4]byte{10, 1, 1, 2},
		NwProto: 1,
		ArpSHA:  [6]byte{2, 0, 0, 0, 0, 1},
	}
	key := encodeKey(t, f, false)
	var got flow.Flow
	if fit := FlowFromKey(key, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got != *f {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, *f)
	}
}

func TestKeyRoundTripICMPv6ND(t *testing.T) {
	f := &flow.Flow{
		InPort:   2,
		EthSrc:   [6]byte{2, 0, 0, 0, 0, 1},
		EthDst:   [6]byte{0x33, 0x33, 0, 0, 0, 1},
		EthType:  flow.EthTypeIPv6,
		IPv6Src:  [16]byte{0xfe, 0x80, 15: 0x01},
		IPv6Dst:  [16]byte{0xff, 0x02, 15: 0x01},
		NwProto:  flow.ProtoICMPv6,
		NwTTL:    255,
		TpSrc:    ndNeighborSolicit,
		NDTarget: [16]byte{0xfe, 0x80, 15: 0x02},
		ArpSHA:   [6]byte{2, 0, 0, 0, 0, 1},
	}
	key := encodeKey(t, f, false)
	var got flow.Flow
	if fit := FlowFromKey(key, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got != *f {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, *f)
	}
}

func TestKeyRoundTripMPLS(t *testing.T) {
	f := &flow.Flow{
		InPort:  4,
		EthSrc:  [6]byte{2, 0, 0, 0, 0, 1},
		EthDst:  [6]byte{2, 0, 0, 0, 0, 2},
		EthType: flow.EthTypeMPLS,
	}
	f.MPLSLSE[0] = flow.SetMPLSTTL(flow.SetMPLSLabel(0, 100), 64)
	f.MPLSLSE[1] = flow.SetMPLSBOS(flow.SetMPLSTTL(flow.SetMPLSLabel(0, 200), 64), true)

	key := encodeKey(t, f, false)
	var got flow.Flow
	if fit := FlowFromKey(key, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got != *f {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, *f)
	}
}

func TestKeyFitnessTooLittle(t *testing.T) {
	// IPv4 ethertype with no ipv4 attribute.
	b := nlattr.NewBuilder()
	b.PutBytes(KeyAttrEthernet, make([]byte, 12))
	b.PutUint16(KeyAttrEthertype, flow.EthTypeIPv4)

	var got flow.Flow
	if fit := FlowFromKey(b.Bytes(), &got); fit != FitTooLittle {
		t.Fatalf("fitness=%v, want too little", fit)
	}
}

func TestKeyFitnessTooMuch(t *testing.T) {
	f := tcpFlow()
	key := encodeKey(t, f, false)

	// An attribute type beyond anything the translator knows.
	b := nlattr.NewBuilder()
	b.AppendRaw(key)
	b.PutUint32(60, 1)

	var got flow.Flow
	if fit := FlowFromKey(b.Bytes(), &got); fit != FitTooMuch {
		t.Fatalf("unknown attr: fitness=%v, want too much", fit)
	}

	// A known attribute the flow's shape does not call for.
	b = nlattr.NewBuilder()
	b.AppendRaw(key)
	b.PutBytes(KeyAttrUDP, make([]byte, 4))
	if fit := FlowFromKey(b.Bytes(), &got); fit != FitTooMuch {
		t.Fatalf("unexpected attr: fitness=%v, want too much", fit)
	}
}

func TestKeyDecodeTruncatedPrefixes(t *testing.T) {
	key := encodeKey(t, tcpFlow(), false)

	// Prefixes ending on an attribute boundary, or inside the final
	// attribute's alignment padding, are shorter but well-formed keys;
	// every other cut must grade as an error with the output flow left
	// zeroed.
	boundaries := map[int]bool{0: true}
	off := 0
	it := nlattr.NewIter(key)
	for a, more := it.Next(); more; a, more = it.Next() {
		end := off + 4 + len(a.Value)
		off += 4 + (len(a.Value)+3)&^3
		for n := end; n <= off; n++ {
			boundaries[n] = true
		}
	}
	if it.Err() != nil {
		t.Fatalf("walk full key: %v", it.Err())
	}

	for n := 0; n < len(key); n++ {
		var got flow.Flow
		fit := FlowFromKey(key[:n], &got)
		if boundaries[n] {
			continue
		}
		if fit != FitError {
			t.Fatalf("prefix %d: fitness=%v, want error", n, fit)
		}
		if got != (flow.Flow{}) {
			t.Fatalf("prefix %d: flow not zeroed: %+v", n, got)
		}
	}
}

func TestKeyFitnessErrors(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		b := nlattr.NewBuilder()
		b.PutUint32(KeyAttrPriority, 1)
		b.PutUint32(KeyAttrPriority, 2)
		var got flow.Flow
		if fit := FlowFromKey(b.Bytes(), &got); fit != FitError {
			t.Fatalf("fitness=%v, want error", fit)
		}
	})

	t.Run("bad length", func(t *testing.T) {
		b := nlattr.NewBuilder()
		b.PutBytes(KeyAttrEthernet, make([]byte, 11))
		var got flow.Flow
		if fit := FlowFromKey(b.Bytes(), &got); fit != FitError {
			t.Fatalf("fitness=%v, want error", fit)
		}
	})

	t.Run("short ethertype", func(t *testing.T) {
		b := nlattr.NewBuilder()
		b.PutBytes(KeyAttrEthernet, make([]byte, 12))
		b.PutUint16(KeyAttrEthertype, 0x05dc)
		var got flow.Flow
		if fit := FlowFromKey(b.Bytes(), &got); fit != FitError {
			t.Fatalf("fitness=%v, want error", fit)
		}
	})

	t.Run("vlan without cfi", func(t *testing.T) {
		b := nlattr.NewBuilder()
		b.PutBytes(KeyAttrEthernet, make([]byte, 12))
		b.PutUint16(KeyAttrEthertype, flow.EthTypeVLAN)
		b.PutUint16(KeyAttrVlan, 100)
		off := b.BeginNested(KeyAttrEncap)
		b.EndNested(off)
		var got flow.Flow
		if fit := FlowFromKey(b.Bytes(), &got); fit != FitError {
			t.Fatalf("fitness=%v, want error", fit)
		}
	})

	t.Run("invalid frag", func(t *testing.T) {
		b := nlattr.NewBuilder()
		b.PutBytes(KeyAttrEthernet, make([]byte, 12))
		b.PutUint16(KeyAttrEthertype, flow.EthTypeIPv4)
		v := make([]byte, 12)
		v[11] = 9
		b.PutBytes(KeyAttrIPv4, v)
		var got flow.Flow
		if fit := FlowFromKey(b.Bytes(), &got); fit != FitError {
			t.Fatalf("fitness=%v, want error", fit)
		}
	})
}

func TestVlanZeroTCICornerCase(t *testing.T) {
	b := nlattr.NewBuilder()
	b.PutBytes(KeyAttrEthernet, make([]byte, 12))
	b.PutUint16(KeyAttrEthertype, flow.EthTypeVLAN)
	b.PutUint16(KeyAttrVlan, 0)
	off := b.BeginNested(KeyAttrEncap)
	b.EndNested(off)

	var got flow.Flow
	if fit := FlowFromKey(b.Bytes(), &got); fit != FitPerfect {
		t.Fatalf("empty encap: fitness=%v, want perfect", fit)
	}

	// A nonempty encap behind a zero TCI claims to know more than a
	// truncated tag can.
	b = nlattr.NewBuilder()
	b.PutBytes(KeyAttrEthernet, make([]byte, 12))
	b.PutUint16(KeyAttrEthertype, flow.EthTypeVLAN)
	b.PutUint16(KeyAttrVlan, 0)
	off = b.BeginNested(KeyAttrEncap)
	b.PutUint16(KeyAttrEthertype, flow.EthTypeIPv4)
	b.EndNested(off)
	if fit := FlowFromKey(b.Bytes(), &got); fit != FitTooMuch {
		t.Fatalf("nonempty encap: fitness=%v, want too much", fit)
	}
}

func TestTunnelMissingTTL(t *testing.T) {
	b := nlattr.NewBuilder()
	off := b.BeginNested(KeyAttrTunnel)
	b.PutUint64(TunnelAttrID, 1)
	b.EndNested(off)

	var got flow.Flow
	if fit := FlowFromKey(b.Bytes(), &got); fit != FitError {
		t.Fatalf("fitness=%v, want error", fit)
	}
}

func TestTunnelUnknownAttr(t *testing.T) {
	b := nlattr.NewBuilder()
	off := b.BeginNested(KeyAttrTunnel)
	b.PutUint8(TunnelAttrTTL, 64)
	b.PutUint32(30, 7)
	b.EndNested(off)
	b.PutUint32(KeyAttrInPort, 1)

	var got flow.Flow
	if fit := FlowFromKey(b.Bytes(), &got); fit != FitTooMuch {
		t.Fatalf("fitness=%v, want too much", fit)
	}
}

func TestMPLSBottomOfStackRules(t *testing.T) {
	put := func(lses ...uint32) []byte {
		b := nlattr.NewBuilder()
		b.PutBytes(KeyAttrEthernet, make([]byte, 12))
		b.PutUint16(KeyAttrEthertype, flow.EthTypeMPLS)
		v := make([]byte, 4*len(lses))
		for i, lse := range lses {
			putBE32(v[4*i:], lse)
		}
		b.PutBytes(KeyAttrMPLS, v)
		return b.Bytes()
	}
	bos := flow.SetMPLSBOS(flow.SetMPLSTTL(0, 64), true)
	mid := flow.SetMPLSTTL(flow.SetMPLSLabel(0, 1), 64)

	var got flow.Flow
	if fit := FlowFromKey(put(bos, mid), &got); fit != FitError {
		t.Errorf("bos above last label: fitness=%v, want error", fit)
	}
	if fit := FlowFromKey(put(mid, mid), &got); fit != FitTooLittle {
		t.Errorf("no bos with room left: fitness=%v, want too little", fit)
	}
	if fit := FlowFromKey(put(mid, mid, mid, bos), &got); fit != FitTooMuch {
		t.Errorf("stack too deep: fitness=%v, want too much", fit)
	}
	if fit := FlowFromKey(put(mid, mid, mid), &got); fit != FitPerfect {
		t.Errorf("full stack without bos: fitness=%v, want perfect", fit)
	}
}

func TestMaskRoundTrip(t *testing.T) {
	f := tcpFlow()
	mask := flow.ExactWildcards().Masks
	mask.NwSrc = [4]byte{255, 255, 255, 0}
	mask.TpSrc = 0

	b := nlattr.NewBuilder()
	KeyFromMask(b, f, &mask, ^uint32(0), false)

	var got flow.Flow
	if fit := MaskFromKey(b.Bytes(), f, &got); fit == FitError {
		t.Fatalf("fitness=%v", fit)
	}
	if got.NwSrc != mask.NwSrc {
		t.Errorf("nw_src mask: got %v, want %v", got.NwSrc, mask.NwSrc)
	}
	if got.TpSrc != 0 || got.TpDst != ^uint16(0) {
		t.Errorf("port masks: got src=%#x dst=%#x", got.TpSrc, got.TpDst)
	}
}

func TestEmptyMaskMeansExact(t *testing.T) {
	f := tcpFlow()
	var got flow.Flow
	if fit := MaskFromKey(nil, f, &got); fit != FitPerfect {
		t.Fatalf("fitness=%v, want perfect", fit)
	}
	if got != flow.ExactWildcards().Masks {
		t.Fatal("empty mask did not decode as exact match")
	}
}

func TestMaskOmittedRecircIsExact(t *testing.T) {
	f := tcpFlow()
	b := nlattr.NewBuilder()
	b.PutUint32(KeyAttrInPort, ^uint32(0))

	var got flow.Flow
	if fit := MaskFromKey(b.Bytes(), f, &got); fit == FitError {
		t.Fatalf("fitness=%v", fit)
	}
	if got.RecircID != ^uint32(0) {
		t.Fatalf("recirc_id mask=%#x, want all ones", got.RecircID)
	}
}

func TestAllWildcardMask(t *testing.T) {
	f := tcpFlow()
	key := encodeKey(t, f, false)
	mask, err := AllWildcardMask(key)
	if err != nil {
		t.Fatal(err)
	}

	it := nlattr.NewIter(mask)
	n := 0
	for a, more := it.Next(); more; a, more = it.Next() {
		n++
		if a.Type == KeyAttrEncap || a.Type == KeyAttrTunnel {
			continue
		}
		for _, v := range a.Value {
			if v != 0 {
				t.Fatalf("attr %s not zeroed: %x", KeyAttrName(a.Type), a.Value)
			}
		}
	}
	if it.Err() != nil || n == 0 {
		t.Fatalf("bad wildcard mask: n=%d err=%v", n, it.Err())
	}
}

func TestMaskAttrIsExact(t *testing.T) {
	b := nlattr.NewBuilder()
	b.PutUint16(KeyAttrTCPFlags, flow.TCPFlagsMask)
	a, _ := nlattr.Find(b.Bytes(), KeyAttrTCPFlags)
	if !MaskAttrIsExact(KeyAttrTCPFlags, a) {
		t.Error("12-bit tcp_flags mask should be exact")
	}

	arp := make([]byte, 24)
	for i := 0; i < 22; i++ {
		arp[i] = 0xff
	}
	b = nlattr.NewBuilder()
	b.PutBytes(KeyAttrARP, arp)
	a, _ = nlattr.Find(b.Bytes(), KeyAttrARP)
	if !MaskAttrIsExact(KeyAttrARP, a) {
		t.Error("arp mask with zero padding should be exact")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	md := &Metadata{
		Priority: 3,
		PktMark:  9,
		InPort:   12,
		RecircID: 5,
		DpHash:   0xabc,
	}
	md.Tunnel.IPDst = [4]byte{172, 16, 0, 1}
	md.Tunnel.TTL = 64

	b := nlattr.NewBuilder()
	PutMetadata(b, md)

	var got Metadata
	if err := MetadataFromKey(b.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got != *md {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, *md)
	}
}

func TestMetadataFromFullKey(t *testing.T) {
	f := tcpFlow()
	key := encodeKey(t, f, false)

	var md Metadata
	if err := MetadataFromKey(key, &md); err != nil {
		t.Fatal(err)
	}
	if md.InPort != f.InPort || md.Priority != f.Priority || md.PktMark != f.SkbMark {
		t.Fatalf("metadata mismatch: %+v", md)
	}
}

func TestUFID(t *testing.T) {
	key := encodeKey(t, tcpFlow(), false)
	u := FlowUFID(key)
	if u == (UFID{}) {
		t.Fatal("zero ufid")
	}
	if FlowUFID(key) != u {
		t.Fatal("ufid not stable")
	}

	s := FormatUFID(u)
	got, n, ok := ParseUFID(s)
	if !ok || got != u || n != len(s) {
		t.Fatalf("parse %q: got=%v n=%d ok=%v", s, got, n, ok)
	}
	if _, _, ok := ParseUFID("ufid:not-a-uuid"); ok {
		t.Fatal("accepted malformed ufid")
	}
}

func TestKeyHashBasis(t *testing.T) {
	key := encodeKey(t, tcpFlow(), false)
	if KeyHash(key, 0) == KeyHash(key, 1) {
		t.Fatal("different bases should hash differently")
	}
}
