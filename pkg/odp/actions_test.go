package odp

import (
	"bytes"
	"testing"

	"github.com/veesix-networks/odp/pkg/nlattr"
)

func TestUserspaceActionRoundTrip(t *testing.T) {
	b := nlattr.NewBuilder()
	cookie := SflowCookie{VlanTCI: 100, OutputPort: 5}.Marshal()
	PutUserspaceAction(b, 4242, cookie, 7)

	a, ok := nlattr.Find(b.Bytes(), ActionUserspace)
	if !ok {
		t.Fatal("userspace action not found")
	}
	pid, userdata, tunPort, ok := UserspaceAction(a)
	if !ok || pid != 4242 || tunPort != 7 {
		t.Fatalf("pid=%d tunPort=%d ok=%v", pid, tunPort, ok)
	}
	c, ok := ParseSflowCookie(userdata)
	if !ok || c.VlanTCI != 100 || c.OutputPort != 5 {
		t.Fatalf("cookie=%+v ok=%v", c, ok)
	}
}

func TestUserspaceActionNoOptional(t *testing.T) {
	b := nlattr.NewBuilder()
	PutUserspaceAction(b, 1, nil, PortNone)

	a, _ := nlattr.Find(b.Bytes(), ActionUserspace)
	pid, userdata, tunPort, ok := UserspaceAction(a)
	if !ok || pid != 1 || userdata != nil || tunPort != PortNone {
		t.Fatalf("pid=%d userdata=%v tunPort=%d ok=%v", pid, userdata, tunPort, ok)
	}
}

func TestSetMaskedParts(t *testing.T) {
	b := nlattr.NewBuilder()
	PutSetMaskedAction(b, KeyAttrSkbMark,
		[]byte{0, 0, 0, 0x0a}, []byte{0, 0, 0, 0xff})

	a, _ := nlattr.Find(b.Bytes(), ActionSetMasked)
	inner, value, mask, ok := SetMaskedParts(a)
	if !ok || inner.Type != KeyAttrSkbMark {
		t.Fatalf("inner=%+v ok=%v", inner, ok)
	}
	if !bytes.Equal(value, []byte{0, 0, 0, 0x0a}) || !bytes.Equal(mask, []byte{0, 0, 0, 0xff}) {
		t.Fatalf("value=%x mask=%x", value, mask)
	}
}

func TestSampleActionRoundTrip(t *testing.T) {
	inner := nlattr.NewBuilder()
	PutOutputAction(inner, 3)

	b := nlattr.NewBuilder()
	PutSampleAction(b, 0x80000000, inner.Bytes())

	a, _ := nlattr.Find(b.Bytes(), ActionSample)
	prob, actions, ok := SampleAction(a)
	if !ok || prob != 0x80000000 {
		t.Fatalf("prob=%#x ok=%v", prob, ok)
	}
	out, ok := nlattr.Find(actions, ActionOutput)
	if !ok || out.Uint32() != 3 {
		t.Fatalf("inner output missing: %x", actions)
	}
}

func TestVlanEthMPLSActions(t *testing.T) {
	b := nlattr.NewBuilder()
	PutPushVlanAction(b, 0x8100, 0x1064)
	PutPushEthAction(b, [6]byte{1, 2, 3, 4, 5, 6}, [6]byte{6, 5, 4, 3, 2, 1})
	PutPushMPLSAction(b, 0x64140, 0x8847)

	a, _ := nlattr.Find(b.Bytes(), ActionPushVlan)
	tpid, tci, ok := PushVlanAction(a)
	if !ok || tpid != 0x8100 || tci != 0x1064 {
		t.Fatalf("push_vlan: tpid=%#x tci=%#x ok=%v", tpid, tci, ok)
	}

	a, _ = nlattr.Find(b.Bytes(), ActionPushEth)
	src, dst, ok := PushEthAction(a)
	if !ok || src != [6]byte{1, 2, 3, 4, 5, 6} || dst != [6]byte{6, 5, 4, 3, 2, 1} {
		t.Fatalf("push_eth: src=%x dst=%x ok=%v", src, dst, ok)
	}

	a, _ = nlattr.Find(b.Bytes(), ActionPushMPLS)
	lse, ethType, ok := PushMPLSAction(a)
	if !ok || lse != 0x64140 || ethType != 0x8847 {
		t.Fatalf("push_mpls: lse=%#x eth_type=%#x ok=%v", lse, ethType, ok)
	}
}

func TestTnlPushRoundTrip(t *testing.T) {
	hdr := bytes.Repeat([]byte{0xab}, 50)
	b := nlattr.NewBuilder()
	PutTunnelPushAction(b, &TnlPush{TnlPort: 4, OutPort: 2, Header: hdr})

	a, _ := nlattr.Find(b.Bytes(), ActionTunnelPush)
	tp, ok := TnlPushAction(a)
	if !ok || tp.TnlPort != 4 || tp.OutPort != 2 || !bytes.Equal(tp.Header, hdr) {
		t.Fatalf("tnl_push=%+v ok=%v", tp, ok)
	}
}

func TestCookieRoundTrips(t *testing.T) {
	if c, ok := ParseSlowPathCookie(SlowPathCookie{Reason: 3}.Marshal()); !ok || c.Reason != 3 {
		t.Errorf("slow path cookie: %+v ok=%v", c, ok)
	}
	fs := FlowSampleCookie{Probability: 500, CollectorSetID: 1, ObsDomainID: 2, ObsPointID: 3}
	if c, ok := ParseFlowSampleCookie(fs.Marshal()); !ok || c != fs {
		t.Errorf("flow sample cookie: %+v ok=%v", c, ok)
	}
	if c, ok := ParseIPFIXCookie(IPFIXCookie{OutputPort: 9}.Marshal()); !ok || c.OutputPort != 9 {
		t.Errorf("ipfix cookie: %+v ok=%v", c, ok)
	}
	if _, ok := ParseSflowCookie([]byte{9, 9}); ok {
		t.Error("accepted bad sflow cookie")
	}
}
