package exec

import (
	"testing"

	"github.com/veesix-networks/odp/pkg/flow"
	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
	"github.com/veesix-networks/odp/pkg/packet"
)

// testFrame is an Ethernet/IPv4/UDP packet with a zero UDP checksum so
// header rewrites are easy to assert on.
func testFrame() *packet.Packet {
	data := []byte{
		0x00, 0x16, 0x3e, 0x0a, 0x0b, 0x0c,
		0x00, 0x16, 0x3e, 0x01, 0x02, 0x03,
		0x08, 0x00,
		0x45, 0x00, 0x00, 0x24, // ihl 5, len 36
		0x00, 0x00, 0x00, 0x00,
		0x40, 0x11, 0x00, 0x00, // ttl 64, udp
		10, 0, 0, 1,
		10, 0, 0, 2,
		0x13, 0x88, 0x00, 0x35, // 5000 -> 53
		0x00, 0x10, 0x00, 0x00, // len 16, csum 0
		0xde, 0xad, 0xbe, 0xef,
		0xca, 0xfe, 0xba, 0xbe,
	}
	p := packet.New(data)
	p.Md.InPort = 1
	return p
}

type fakeDelegate struct {
	calls    []uint16
	consumed []bool
	taken    []*packet.Packet
}

func (d *fakeDelegate) ExecuteAction(b *packet.Batch, a nlattr.Attr, mayConsume bool) {
	d.calls = append(d.calls, a.Type)
	d.consumed = append(d.consumed, mayConsume)
	if mayConsume {
		d.taken = append(d.taken, b.Consume()...)
	}
}

func TestRunOutputStealTransfersBatch(t *testing.T) {
	b := nlattr.NewBuilder()
	odp.PutOutputAction(b, 3)

	dp := &fakeDelegate{}
	batch := packet.NewBatch(testFrame())
	if err := Run(dp, batch, b.Bytes(), true); err != nil {
		t.Fatal(err)
	}
	if len(dp.calls) != 1 || dp.calls[0] != odp.ActionOutput {
		t.Fatalf("calls=%v", dp.calls)
	}
	if !dp.consumed[0] || len(dp.taken) != 1 {
		t.Fatalf("delegate should have consumed the batch: %v %d", dp.consumed, len(dp.taken))
	}
	if batch.Len() != 0 {
		t.Fatalf("batch still holds %d packets", batch.Len())
	}
}

func TestRunOutputMidListKeepsBatch(t *testing.T) {
	b := nlattr.NewBuilder()
	odp.PutOutputAction(b, 3)
	odp.PutOutputAction(b, 4)

	dp := &fakeDelegate{}
	batch := packet.NewBatch(testFrame())
	if err := Run(dp, batch, b.Bytes(), true); err != nil {
		t.Fatal(err)
	}
	if len(dp.calls) != 2 {
		t.Fatalf("calls=%v", dp.calls)
	}
	if dp.consumed[0] {
		t.Fatal("first output must not consume")
	}
	if !dp.consumed[1] {
		t.Fatal("final output should consume")
	}
}

func TestRunStealDropsWhenNotDelivered(t *testing.T) {
	b := nlattr.NewBuilder()
	odp.PutSetAction(b, odp.KeyAttrSkbMark, []byte{0, 0, 0, 9})

	batch := packet.NewBatch(testFrame())
	if err := Run(nil, batch, b.Bytes(), true); err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 0 {
		t.Fatal("steal run should leave the batch empty")
	}
}

func TestRunNoStealKeepsBatch(t *testing.T) {
	b := nlattr.NewBuilder()
	odp.PutSetAction(b, odp.KeyAttrSkbMark, []byte{0, 0, 0, 9})

	batch := packet.NewBatch(testFrame())
	if err := Run(nil, batch, b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 1 {
		t.Fatal("no-steal run must keep the batch")
	}
	if batch.Packets()[0].Md.PktMark != 9 {
		t.Fatalf("mark=%d", batch.Packets()[0].Md.PktMark)
	}
}

func TestSetIPv4Action(t *testing.T) {
	v := make([]byte, 12)
	copy(v[0:4], []byte{172, 16, 0, 1})
	copy(v[4:8], []byte{172, 16, 0, 2})
	v[9] = 0x20
	v[10] = 33

	b := nlattr.NewBuilder()
	odp.PutSetAction(b, odp.KeyAttrIPv4, v)

	p := testFrame()
	batch := packet.NewBatch(p)
	if err := Run(nil, batch, b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	f, ok := p.IPv4()
	if !ok {
		t.Fatal("no ipv4 header")
	}
	if f.Src != [4]byte{172, 16, 0, 1} || f.Dst != [4]byte{172, 16, 0, 2} ||
		f.TOS != 0x20 || f.TTL != 33 {
		t.Fatalf("fields=%+v", f)
	}
}

func TestMaskedSetBlendsOldBits(t *testing.T) {
	p := testFrame()
	p.Md.PktMark = 0xff00ff00

	b := nlattr.NewBuilder()
	odp.PutSetMaskedAction(b, odp.KeyAttrSkbMark,
		[]byte{0x12, 0x34, 0x56, 0x78}, []byte{0x00, 0xff, 0x00, 0xff})

	batch := packet.NewBatch(p)
	if err := Run(nil, batch, b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	if p.Md.PktMark != 0xff34ff78 {
		t.Fatalf("mark=%#x, want 0xff34ff78", p.Md.PktMark)
	}
}

func TestMaskedSetEthernet(t *testing.T) {
	p := testFrame()

	value := make([]byte, 12)
	mask := make([]byte, 12)
	// Rewrite only the source address.
	copy(value[0:6], []byte{2, 0, 0, 0, 0, 0x99})
	for i := 0; i < 6; i++ {
		mask[i] = 0xff
	}

	b := nlattr.NewBuilder()
	odp.PutSetMaskedAction(b, odp.KeyAttrEthernet, value, mask)

	batch := packet.NewBatch(p)
	if err := Run(nil, batch, b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	src, dst, _ := p.EthAddrs()
	if src != [6]byte{2, 0, 0, 0, 0, 0x99} {
		t.Fatalf("src=%x", src)
	}
	if dst != [6]byte{0, 0x16, 0x3e, 0xa, 0xb, 0xc} {
		t.Fatalf("dst=%x changed", dst)
	}
}

func TestHashAction(t *testing.T) {
	b := nlattr.NewBuilder()
	odp.PutHashAction(b, odp.HashAlgL4, 42)

	p := testFrame()
	batch := packet.NewBatch(p)
	if err := Run(nil, batch, b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	if p.Md.DpHash == 0 {
		t.Fatal("dp_hash not set")
	}

	q := testFrame()
	if err := Run(nil, packet.NewBatch(q), b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	if q.Md.DpHash != p.Md.DpHash {
		t.Fatal("hash not deterministic across identical packets")
	}
}

func TestPushVlanAction(t *testing.T) {
	b := nlattr.NewBuilder()
	odp.PutPushVlanAction(b, flow.EthTypeVLAN, flow.VlanCFI|55)

	p := testFrame()
	if err := Run(nil, packet.NewBatch(p), b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	f := packet.Extract(p)
	if flow.VlanVID(f.VlanTCI) != 55 {
		t.Fatalf("tci=%#x", f.VlanTCI)
	}
}

func TestSampleAction(t *testing.T) {
	inner := nlattr.NewBuilder()
	odp.PutSetAction(inner, odp.KeyAttrSkbMark, []byte{0, 0, 0, 5})

	b := nlattr.NewBuilder()
	odp.PutSampleAction(b, 0x80000000, inner.Bytes())

	defer func() { randUint32 = restoreRand }()

	randUint32 = func() uint32 { return 0 } // always under the probability
	p := testFrame()
	if err := Run(nil, packet.NewBatch(p), b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	if p.Md.PktMark != 5 {
		t.Fatalf("sampled run skipped inner actions: mark=%d", p.Md.PktMark)
	}

	randUint32 = func() uint32 { return ^uint32(0) } // always over
	q := testFrame()
	if err := Run(nil, packet.NewBatch(q), b.Bytes(), false); err != nil {
		t.Fatal(err)
	}
	if q.Md.PktMark != 0 {
		t.Fatalf("unsampled run applied inner actions: mark=%d", q.Md.PktMark)
	}
}

func TestSampleStealDropsOnMiss(t *testing.T) {
	inner := nlattr.NewBuilder()
	odp.PutOutputAction(inner, 2)

	b := nlattr.NewBuilder()
	odp.PutSampleAction(b, 1, inner.Bytes())

	defer func() { randUint32 = restoreRand }()
	randUint32 = func() uint32 { return ^uint32(0) }

	batch := packet.NewBatch(testFrame())
	if err := Run(&fakeDelegate{}, batch, b.Bytes(), true); err != nil {
		t.Fatal(err)
	}
	if batch.Len() != 0 {
		t.Fatal("missed sample with steal should drop the batch")
	}
}

func TestUnknownActionPanics(t *testing.T) {
	b := nlattr.NewBuilder()
	b.PutUint32(77, 1)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unknown action type")
		}
	}()
	Run(nil, packet.NewBatch(testFrame()), b.Bytes(), false)
}

func TestTruncatedActionsError(t *testing.T) {
	b := nlattr.NewBuilder()
	odp.PutOutputAction(b, 1)
	raw := b.Bytes()[:6]

	if err := Run(nil, packet.NewBatch(testFrame()), raw, false); err != ErrProtocol {
		t.Fatalf("err=%v, want ErrProtocol", err)
	}
}

var restoreRand = randUint32
