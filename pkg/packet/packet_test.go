package packet

import (
	"bytes"
	"testing"

	"github.com/veesix-networks/odp/pkg/flow"
)

// tcpFrame builds an Ethernet/IPv4/TCP frame with valid checksums.
func tcpFrame(t *testing.T) *Packet {
	t.Helper()
	eth := []byte{
		0x00, 0x16, 0x3e, 0x0a, 0x0b, 0x0c, // dst
		0x00, 0x16, 0x3e, 0x01, 0x02, 0x03, // src
		0x08, 0x00,
	}
	ip := []byte{
		0x45, 0x10, 0x00, 0x28, // ver/ihl, tos, total len 40
		0x00, 0x00, 0x40, 0x00, // id, flags DF
		0x40, 0x06, 0x00, 0x00, // ttl 64, proto tcp, csum (fill)
		192, 168, 10, 1,
		192, 168, 10, 2,
	}
	putBE16(ip[10:], checksum(ip))
	tcp := []byte{
		0xc0, 0x00, 0x01, 0xbb, // ports 49152 -> 443
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00,
		0x50, 0x12, 0x20, 0x00, // doff 5, SYN|ACK
		0x00, 0x00, 0x00, 0x00, // csum (fill), urg
	}
	putBE16(tcp[16:], tcpChecksum(ip, tcp))

	data := append(append(eth, ip...), tcp...)
	p := New(data)
	p.Md.InPort = 1
	return p
}

func tcpChecksum(ip, tcp []byte) uint16 {
	pseudo := make([]byte, 12)
	copy(pseudo[0:4], ip[12:16])
	copy(pseudo[4:8], ip[16:20])
	pseudo[9] = ip[9]
	putBE16(pseudo[10:], uint16(len(tcp)))
	return checksum(append(pseudo, tcp...))
}

func ipHeader(p *Packet) []byte {
	off, _ := p.payloadOffset()
	return p.Data[off : off+20]
}

func tcpSegment(p *Packet) []byte {
	off, _ := p.payloadOffset()
	return p.Data[off+20:]
}

func checkChecksums(t *testing.T, p *Packet) {
	t.Helper()
	ip := ipHeader(p)
	if checksum(ip) != 0 {
		t.Fatalf("ip checksum invalid: %x", ip)
	}
	tcp := tcpSegment(p)
	seg := make([]byte, len(tcp))
	copy(seg, tcp)
	want := be16(seg[16:])
	putBE16(seg[16:], 0)
	if got := tcpChecksum(ip, seg); got != want {
		t.Fatalf("tcp checksum invalid: got %#x want %#x", want, got)
	}
}

func TestPutIPv4UpdatesChecksums(t *testing.T) {
	p := tcpFrame(t)
	checkChecksums(t, p)

	f, ok := p.IPv4()
	if !ok {
		t.Fatal("no ipv4 header")
	}
	f.Src = [4]byte{10, 0, 0, 99}
	f.TOS = 0x20
	f.TTL = 63
	if !p.PutIPv4(f) {
		t.Fatal("PutIPv4 failed")
	}

	got, _ := p.IPv4()
	if got != f {
		t.Fatalf("fields: got %+v want %+v", got, f)
	}
	checkChecksums(t, p)
}

func TestPutTCPPortsUpdatesChecksum(t *testing.T) {
	p := tcpFrame(t)
	if !p.PutTCPPorts(1234, 80) {
		t.Fatal("PutTCPPorts failed")
	}
	src, dst, ok := p.Ports()
	if !ok || src != 1234 || dst != 80 {
		t.Fatalf("ports: src=%d dst=%d ok=%v", src, dst, ok)
	}
	checkChecksums(t, p)
}

func TestEthAddrs(t *testing.T) {
	p := tcpFrame(t)
	newSrc := [6]byte{2, 0, 0, 0, 0, 1}
	newDst := [6]byte{2, 0, 0, 0, 0, 2}
	if !p.PutEthAddrs(newSrc, newDst) {
		t.Fatal("PutEthAddrs failed")
	}
	src, dst, ok := p.EthAddrs()
	if !ok || src != newSrc || dst != newDst {
		t.Fatalf("addrs: src=%x dst=%x ok=%v", src, dst, ok)
	}
}

func TestVlanPushPop(t *testing.T) {
	p := tcpFrame(t)
	orig := append([]byte(nil), p.Data...)

	if !p.PushVlan(flow.EthTypeVLAN, flow.VlanCFI|100) {
		t.Fatal("PushVlan failed")
	}
	if be16(p.Data[12:]) != flow.EthTypeVLAN || be16(p.Data[14:]) != 100 {
		t.Fatalf("tag not inserted: %x", p.Data[12:18])
	}
	// The CFI marker must not appear on the wire.
	if be16(p.Data[14:])&flow.VlanCFI != 0 {
		t.Fatal("CFI bit leaked to the wire")
	}
	checkChecksums(t, p)

	if !p.PopVlan() {
		t.Fatal("PopVlan failed")
	}
	if !bytes.Equal(p.Data, orig) {
		t.Fatal("pop did not restore the original frame")
	}
	if p.PopVlan() {
		t.Fatal("PopVlan succeeded with no tag")
	}
}

func TestEthPushPop(t *testing.T) {
	p := tcpFrame(t)
	orig := append([]byte(nil), p.Data...)

	if !p.PopEth() {
		t.Fatal("PopEth failed")
	}
	if p.Md.BaseLayer != flow.LayerL3 || p.Md.EthType != flow.EthTypeIPv4 {
		t.Fatalf("metadata after pop: %+v", p.Md)
	}
	if _, ok := p.IPv4(); !ok {
		t.Fatal("ipv4 header unreachable after pop")
	}

	if !p.PushEth([6]byte{0, 0x16, 0x3e, 1, 2, 3}, [6]byte{0, 0x16, 0x3e, 0xa, 0xb, 0xc}) {
		t.Fatal("PushEth failed")
	}
	if p.Md.BaseLayer != flow.LayerL2 {
		t.Fatalf("base layer after push: %v", p.Md.BaseLayer)
	}
	if !bytes.Equal(p.Data, orig) {
		t.Fatal("push did not rebuild the original frame")
	}
}

func TestMPLSPushPop(t *testing.T) {
	p := tcpFrame(t)
	lse := flow.SetMPLSTTL(flow.SetMPLSBOS(flow.SetMPLSLabel(0, 100), true), 64)

	if !p.PushMPLS(flow.EthTypeMPLS, lse) {
		t.Fatal("PushMPLS failed")
	}
	if be16(p.Data[12:]) != flow.EthTypeMPLS {
		t.Fatalf("ethertype=%#x", be16(p.Data[12:]))
	}
	got, ok := p.MPLSLse()
	if !ok || got != lse {
		t.Fatalf("lse=%#x ok=%v", got, ok)
	}

	lse2 := flow.SetMPLSLabel(lse, 200)
	if !p.PutMPLSLse(lse2) {
		t.Fatal("PutMPLSLse failed")
	}
	if got, _ := p.MPLSLse(); got != lse2 {
		t.Fatalf("lse=%#x after rewrite", got)
	}

	if !p.PopMPLS(flow.EthTypeIPv4) {
		t.Fatal("PopMPLS failed")
	}
	if be16(p.Data[12:]) != flow.EthTypeIPv4 {
		t.Fatalf("ethertype=%#x after pop", be16(p.Data[12:]))
	}
	checkChecksums(t, p)
}

func TestExtractTCP(t *testing.T) {
	p := tcpFrame(t)
	p.Md.PktMark = 7

	f := Extract(p)
	if f.EthType != flow.EthTypeIPv4 || f.NwProto != flow.ProtoTCP {
		t.Fatalf("types: eth=%#x proto=%d", f.EthType, f.NwProto)
	}
	if f.NwSrc != [4]byte{192, 168, 10, 1} || f.NwDst != [4]byte{192, 168, 10, 2} {
		t.Fatalf("addrs: %v %v", f.NwSrc, f.NwDst)
	}
	if f.TpSrc != 49152 || f.TpDst != 443 {
		t.Fatalf("ports: %d %d", f.TpSrc, f.TpDst)
	}
	if f.TCPFlags != TCPSyn|TCPAck {
		t.Fatalf("tcp flags: %#x", f.TCPFlags)
	}
	if f.SkbMark != 7 || f.InPort != 1 {
		t.Fatalf("metadata: %+v", f)
	}
}

func TestExtractVlan(t *testing.T) {
	p := tcpFrame(t)
	p.PushVlan(flow.EthTypeVLAN, flow.VlanCFI|3<<flow.VlanPCPShift|100)

	f := Extract(p)
	if flow.VlanVID(f.VlanTCI) != 100 || flow.VlanPCP(f.VlanTCI) != 3 {
		t.Fatalf("vlan tci: %#x", f.VlanTCI)
	}
	if f.VlanTCI&flow.VlanCFI == 0 {
		t.Fatal("extracted tci missing CFI marker")
	}
	if f.EthType != flow.EthTypeIPv4 {
		t.Fatalf("inner ethertype: %#x", f.EthType)
	}
}

func TestHashL4(t *testing.T) {
	p := tcpFrame(t)
	f := Extract(p)

	h1 := HashL4(f, 0)
	if h1 != HashL4(f, 0) {
		t.Fatal("hash not deterministic")
	}
	if h1 == HashL4(f, 1) {
		t.Fatal("basis should change the hash")
	}

	g := *f
	g.TpDst = 8443
	if HashL4(&g, 0) == h1 {
		t.Fatal("port change should change the hash")
	}
}

func TestBatchConsume(t *testing.T) {
	b := NewBatch(tcpFrame(t), tcpFrame(t))
	if b.Len() != 2 {
		t.Fatalf("len=%d", b.Len())
	}
	pkts := b.Consume()
	if len(pkts) != 2 || b.Len() != 0 {
		t.Fatalf("consume: got %d, batch %d", len(pkts), b.Len())
	}
	if b.Consume() != nil {
		t.Fatal("second consume should return nothing")
	}
}
