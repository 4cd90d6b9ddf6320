package odptext

import (
	"bytes"
	"strings"
	"testing"

	"github.com/veesix-networks/odp/pkg/nlattr"
	"github.com/veesix-networks/odp/pkg/odp"
)

const tcpKeyText = "eth(src=aa:bb:cc:dd:ee:ff,dst=11:22:33:44:55:66)," +
	"eth_type(0x0800)," +
	"ipv4(src=10.0.0.1,dst=10.0.0.2,proto=6,tos=0,ttl=64,frag=no)," +
	"tcp(src=1000,dst=80)"

func TestKeyTextRoundTrip(t *testing.T) {
	var key nlattr.Builder
	if _, err := ParseKey(tcpKeyText, nil, &key, nil); err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	got := FormatKey(key.Bytes(), nil)
	if got != tcpKeyText {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, tcpKeyText)
	}
}

func TestKeyMaskTextRoundTrip(t *testing.T) {
	in := "eth(src=aa:bb:cc:dd:ee:ff,dst=11:22:33:44:55:66)," +
		"eth_type(0x0800)," +
		"ipv4(src=10.0.0.0/255.0.0.0,dst=10.0.0.2,proto=6,tos=0,ttl=64,frag=no)," +
		"tcp(src=1000,dst=80)"

	var key, mask nlattr.Builder
	if _, err := ParseKey(in, nil, &key, &mask); err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	got := FormatKeyMask(key.Bytes(), mask.Bytes(), nil, false)
	if got != in {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, in)
	}
}

func TestKeyMaskSkipsWildcardedFields(t *testing.T) {
	in := "skb_mark(0x0/0x0),in_port(1)"
	var key, mask nlattr.Builder
	if _, err := ParseKey(in, nil, &key, &mask); err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	got := FormatKeyMask(key.Bytes(), mask.Bytes(), nil, false)
	if got != "in_port(1)" {
		t.Fatalf("wildcarded field not dropped: %s", got)
	}
	verbose := FormatKeyMask(key.Bytes(), mask.Bytes(), nil, true)
	if !strings.Contains(verbose, "skb_mark(0x0/0x0)") {
		t.Fatalf("verbose form lost the wildcarded field: %s", verbose)
	}
}

func TestKeyTextUFID(t *testing.T) {
	in := "ufid:2c09somethingbogus"
	var key nlattr.Builder
	if _, err := ParseKey(in, nil, &key, nil); err == nil {
		t.Fatalf("bad ufid accepted")
	}

	good := "ufid:550e8400-e29b-41d4-a716-446655440000,in_port(3)"
	u, err := ParseKey(good, nil, &key, nil)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if u == nil {
		t.Fatalf("ufid not returned")
	}
	if got := odp.FormatUFID(*u); got != "ufid:550e8400-e29b-41d4-a716-446655440000" {
		t.Fatalf("ufid = %s", got)
	}
}

func TestKeyTextTunnel(t *testing.T) {
	in := "tunnel(tun_id=0x7,src=1.1.1.1,dst=2.2.2.2,ttl=64,flags(df))," +
		"in_port(1)"
	var key nlattr.Builder
	if _, err := ParseKey(in, nil, &key, nil); err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	got := FormatKey(key.Bytes(), nil)
	if got != in {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, in)
	}
}

func TestKeyTextVlan(t *testing.T) {
	in := "eth(src=aa:bb:cc:dd:ee:ff,dst=11:22:33:44:55:66)," +
		"eth_type(0x8100)," +
		"vlan(vid=100,pcp=3)," +
		"encap(eth_type(0x0806)," +
		"arp(sip=10.0.0.1,tip=10.0.0.2,op=1,sha=aa:bb:cc:dd:ee:ff,tha=00:00:00:00:00:00))"
	var key nlattr.Builder
	if _, err := ParseKey(in, nil, &key, nil); err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	got := FormatKey(key.Bytes(), nil)
	if got != in {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, in)
	}
}

func TestKeyTextMPLS(t *testing.T) {
	in := "eth_type(0x8847),mpls(label=20,tc=0,ttl=64,bos=1)"
	var key nlattr.Builder
	if _, err := ParseKey(in, nil, &key, nil); err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	got := FormatKey(key.Bytes(), nil)
	if got != in {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, in)
	}
}

func TestKeyTextPortNames(t *testing.T) {
	pm := NewPortMap()
	pm.Add("eth0", 3)

	var key nlattr.Builder
	if _, err := ParseKey("in_port(eth0)", pm, &key, nil); err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	a, ok := nlattr.Find(key.Bytes(), odp.KeyAttrInPort)
	if !ok || a.Uint32() != 3 {
		t.Fatalf("in_port not resolved: %+v", a)
	}
	if got := FormatKey(key.Bytes(), pm); got != "in_port(eth0)" {
		t.Fatalf("name not used when formatting: %s", got)
	}

	if _, err := ParseKey("in_port(nosuch)", pm, &key, nil); err == nil {
		t.Fatalf("unknown port name accepted")
	}
}

func TestParseKeyAtomicOnError(t *testing.T) {
	var key nlattr.Builder
	key.PutUint32(odp.KeyAttrInPort, 9)
	before := append([]byte(nil), key.Bytes()...)

	_, err := ParseKey("eth(src=aa:bb:cc:dd:ee:ff),bogus(1)", nil, &key, nil)
	if err == nil {
		t.Fatalf("bad input accepted")
	}
	var pe *ParseError
	if !errorAs(err, &pe) || pe.Offset == 0 {
		t.Fatalf("expected an offset-carrying error, got %v", err)
	}
	if !bytes.Equal(key.Bytes(), before) {
		t.Fatalf("builder modified by failed parse")
	}
}

func TestActionsTextRoundTrip(t *testing.T) {
	for _, in := range []string{
		"drop",
		"2",
		"recirc(5)",
		"hash(hash_l4(0))",
		"pop_vlan,push_vlan(vid=100,pcp=3)",
		"push_eth(src=aa:bb:cc:dd:ee:ff,dst=11:22:33:44:55:66),pop_eth",
		"push_mpls(label=20,tc=0,ttl=64,bos=1,eth_type=0x8847)",
		"pop_mpls(eth_type=0x0800)",
		"tnl_pop(4)",
		"userspace(pid=1000)",
		"userspace(pid=1000,sFlow(vid=100,pcp=7,output=10))",
		"userspace(pid=1000,slow_path(2),tunnel_out_port=10)",
		"userspace(pid=1000,flow_sample(probability=100,collector_set_id=1,obs_domain_id=2,obs_point_id=3))",
		"userspace(pid=1000,ipfix(output_port=5))",
		"userspace(pid=1000,userdata(0xdeadbeef))",
		"sample(sample=50%,actions(1,2))",
		"set(ipv4(src=10.0.0.1,dst=10.0.0.2,proto=6,tos=0,ttl=64,frag=no))",
	} {
		var b nlattr.Builder
		if err := ParseActions(in, nil, &b); err != nil {
			t.Errorf("ParseActions(%q): %v", in, err)
			continue
		}
		if got := FormatActions(b.Bytes(), nil); got != in {
			t.Errorf("round trip mismatch:\n got %s\nwant %s", got, in)
		}
	}
}

func TestActionsTextPartialSetBecomesMasked(t *testing.T) {
	var b nlattr.Builder
	if err := ParseActions("set(ipv4(dst=10.0.0.9)),2", nil, &b); err != nil {
		t.Fatalf("ParseActions: %v", err)
	}
	it := nlattr.NewIter(b.Bytes())
	a, ok := it.Next()
	if !ok || a.Type != odp.ActionSetMasked {
		t.Fatalf("expected masked set, got %+v", a)
	}
	inner, value, mask, ok := odp.SetMaskedParts(a)
	if !ok || inner.Type != odp.KeyAttrIPv4 {
		t.Fatalf("masked set inner = %+v", inner)
	}
	if !bytes.Equal(value[4:8], []byte{10, 0, 0, 9}) {
		t.Errorf("value dst = %v", value[4:8])
	}
	if !bytes.Equal(mask[4:8], []byte{0xff, 0xff, 0xff, 0xff}) || mask[0] != 0 {
		t.Errorf("mask = %x", mask)
	}
	out, ok := it.Next()
	if !ok || out.Type != odp.ActionOutput || out.Uint32() != 2 {
		t.Fatalf("expected output 2, got %+v", out)
	}
}

func TestActionsTextTnlPush(t *testing.T) {
	in := "tnl_push(tnl_port(4)," +
		"header(size=50," +
		"eth(dst=f8:bc:12:44:34:b6,src=f8:bc:12:46:58:e0,dl_type=0x0800)," +
		"ipv4(src=1.1.2.88,dst=1.1.2.92,proto=17,tos=0,ttl=64,frag=0x4000)," +
		"udp(src=0,dst=4789,csum=0x0)," +
		"vxlan(flags=0x8000000,vni=0x1c7))," +
		"out_port(10))"
	var b nlattr.Builder
	if err := ParseActions(in, nil, &b); err != nil {
		t.Fatalf("ParseActions: %v", err)
	}
	a, ok := nlattr.Find(b.Bytes(), odp.ActionTunnelPush)
	if !ok {
		t.Fatalf("no tnl_push emitted")
	}
	tp, ok := odp.TnlPushAction(a)
	if !ok {
		t.Fatalf("malformed tnl_push")
	}
	if tp.TnlPort != 4 || tp.OutPort != 10 || len(tp.Header) != 50 {
		t.Fatalf("tnl_push = %+v", tp)
	}
	if got := FormatActions(b.Bytes(), nil); got != in {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, in)
	}
}

func TestActionsTextGREHeader(t *testing.T) {
	in := "tnl_push(tnl_port(3)," +
		"header(size=42," +
		"eth(dst=f8:bc:12:44:34:b6,src=f8:bc:12:46:58:e0,dl_type=0x0800)," +
		"ipv4(src=1.1.2.88,dst=1.1.2.92,proto=47,tos=0,ttl=64,frag=0x4000)," +
		"gre(flags=0x2000,proto=0x6558,key=0x1e241))," +
		"out_port(1))"
	var b nlattr.Builder
	if err := ParseActions(in, nil, &b); err != nil {
		t.Fatalf("ParseActions: %v", err)
	}
	if got := FormatActions(b.Bytes(), nil); got != in {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, in)
	}
}

func TestActionsTextPortNames(t *testing.T) {
	pm := NewPortMap()
	pm.Add("vxlan0", 7)

	var b nlattr.Builder
	if err := ParseActions("vxlan0", pm, &b); err != nil {
		t.Fatalf("ParseActions: %v", err)
	}
	a, ok := nlattr.Find(b.Bytes(), odp.ActionOutput)
	if !ok || a.Uint32() != 7 {
		t.Fatalf("port name not resolved")
	}
	if got := FormatActions(b.Bytes(), pm); got != "vxlan0" {
		t.Fatalf("format = %s", got)
	}
}

func TestParseActionsAtomicOnError(t *testing.T) {
	var b nlattr.Builder
	odp.PutOutputAction(&b, 1)
	before := append([]byte(nil), b.Bytes()...)

	if err := ParseActions("recirc(5),wat(1)", nil, &b); err == nil {
		t.Fatalf("bad input accepted")
	}
	if !bytes.Equal(b.Bytes(), before) {
		t.Fatalf("builder modified by failed parse")
	}
}

// errorAs is errors.As without pulling the package into every test.
func errorAs(err error, target **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*target = pe
	}
	return ok
}
