// Package odp translates between the datapath's attribute-encoded flow
// keys, masks and action lists and the in-memory flow model. Decoding
// grades every key against the fields the translator understands, so a
// caller can tell a key it can faithfully round-trip from one carrying
// more, or less, than it knows about.
package odp

// Flow key attribute types.
const (
	KeyAttrEncap        uint16 = 1
	KeyAttrPriority     uint16 = 2
	KeyAttrInPort       uint16 = 3
	KeyAttrEthernet     uint16 = 4
	KeyAttrVlan         uint16 = 5
	KeyAttrEthertype    uint16 = 6
	KeyAttrIPv4         uint16 = 7
	KeyAttrIPv6         uint16 = 8
	KeyAttrTCP          uint16 = 9
	KeyAttrUDP          uint16 = 10
	KeyAttrICMP         uint16 = 11
	KeyAttrICMPv6       uint16 = 12
	KeyAttrARP          uint16 = 13
	KeyAttrND           uint16 = 14
	KeyAttrSkbMark      uint16 = 15
	KeyAttrTunnel       uint16 = 16
	KeyAttrSCTP         uint16 = 17
	KeyAttrTCPFlags     uint16 = 18
	KeyAttrDpHash       uint16 = 19
	KeyAttrRecircID     uint16 = 20
	KeyAttrMPLS         uint16 = 21
	KeyAttrPktEthertype uint16 = 22

	keyAttrMax = KeyAttrPktEthertype
)

// lenVariable marks attributes whose payload size is not fixed.
const lenVariable = -1

// keyAttrLens gives the expected payload length per attribute type.
var keyAttrLens = [keyAttrMax + 1]int{
	KeyAttrEncap:        lenVariable,
	KeyAttrPriority:     4,
	KeyAttrInPort:       4,
	KeyAttrEthernet:     12,
	KeyAttrVlan:         2,
	KeyAttrEthertype:    2,
	KeyAttrIPv4:         12,
	KeyAttrIPv6:         40,
	KeyAttrTCP:          4,
	KeyAttrUDP:          4,
	KeyAttrICMP:         2,
	KeyAttrICMPv6:       2,
	KeyAttrARP:          24,
	KeyAttrND:           28,
	KeyAttrSkbMark:      4,
	KeyAttrTunnel:       lenVariable,
	KeyAttrSCTP:         4,
	KeyAttrTCPFlags:     2,
	KeyAttrDpHash:       4,
	KeyAttrRecircID:     4,
	KeyAttrMPLS:         lenVariable,
	KeyAttrPktEthertype: 2,
}

var keyAttrNames = [keyAttrMax + 1]string{
	KeyAttrEncap:        "encap",
	KeyAttrPriority:     "skb_priority",
	KeyAttrInPort:       "in_port",
	KeyAttrEthernet:     "eth",
	KeyAttrVlan:         "vlan",
	KeyAttrEthertype:    "eth_type",
	KeyAttrIPv4:         "ipv4",
	KeyAttrIPv6:         "ipv6",
	KeyAttrTCP:          "tcp",
	KeyAttrUDP:          "udp",
	KeyAttrICMP:         "icmp",
	KeyAttrICMPv6:       "icmpv6",
	KeyAttrARP:          "arp",
	KeyAttrND:           "nd",
	KeyAttrSkbMark:      "skb_mark",
	KeyAttrTunnel:       "tunnel",
	KeyAttrSCTP:         "sctp",
	KeyAttrTCPFlags:     "tcp_flags",
	KeyAttrDpHash:       "dp_hash",
	KeyAttrRecircID:     "recirc_id",
	KeyAttrMPLS:         "mpls",
	KeyAttrPktEthertype: "packet_eth_type",
}

// KeyAttrName returns the text-codec name of a key attribute type.
func KeyAttrName(typ uint16) string {
	if int(typ) < len(keyAttrNames) && keyAttrNames[typ] != "" {
		return keyAttrNames[typ]
	}
	return "unknown"
}

// Tunnel key attribute types, nested under KeyAttrTunnel.
const (
	TunnelAttrID         uint16 = 0
	TunnelAttrIPv4Src    uint16 = 1
	TunnelAttrIPv4Dst    uint16 = 2
	TunnelAttrTOS        uint16 = 3
	TunnelAttrTTL        uint16 = 4
	TunnelAttrDF         uint16 = 5
	TunnelAttrCSUM       uint16 = 6
	TunnelAttrOAM        uint16 = 7
	TunnelAttrGeneveOpts uint16 = 8
	TunnelAttrTpSrc      uint16 = 9
	TunnelAttrTpDst      uint16 = 10

	tunnelAttrMax = TunnelAttrTpDst
)

var tunnelAttrLens = [tunnelAttrMax + 1]int{
	TunnelAttrID:         8,
	TunnelAttrIPv4Src:    4,
	TunnelAttrIPv4Dst:    4,
	TunnelAttrTOS:        1,
	TunnelAttrTTL:        1,
	TunnelAttrDF:         0,
	TunnelAttrCSUM:       0,
	TunnelAttrOAM:        0,
	TunnelAttrGeneveOpts: lenVariable,
	TunnelAttrTpSrc:      2,
	TunnelAttrTpDst:      2,
}

// Action attribute types.
const (
	ActionOutput     uint16 = 1
	ActionUserspace  uint16 = 2
	ActionSet        uint16 = 3
	ActionPushVlan   uint16 = 4
	ActionPopVlan    uint16 = 5
	ActionSample     uint16 = 6
	ActionRecirc     uint16 = 7
	ActionHash       uint16 = 8
	ActionPushMPLS   uint16 = 9
	ActionPopMPLS    uint16 = 10
	ActionSetMasked  uint16 = 11
	ActionPushEth    uint16 = 12
	ActionPopEth     uint16 = 13
	ActionTunnelPush uint16 = 14
	ActionTunnelPop  uint16 = 15

	actionMax = ActionTunnelPop
)

var actionNames = [actionMax + 1]string{
	ActionOutput:     "output",
	ActionUserspace:  "userspace",
	ActionSet:        "set",
	ActionPushVlan:   "push_vlan",
	ActionPopVlan:    "pop_vlan",
	ActionSample:     "sample",
	ActionRecirc:     "recirc",
	ActionHash:       "hash",
	ActionPushMPLS:   "push_mpls",
	ActionPopMPLS:    "pop_mpls",
	ActionSetMasked:  "set_masked",
	ActionPushEth:    "push_eth",
	ActionPopEth:     "pop_eth",
	ActionTunnelPush: "tnl_push",
	ActionTunnelPop:  "tnl_pop",
}

// ActionName returns the text-codec name of an action attribute type.
func ActionName(typ uint16) string {
	if int(typ) < len(actionNames) && actionNames[typ] != "" {
		return actionNames[typ]
	}
	return "unknown"
}

// Userspace action attribute types, nested under ActionUserspace.
const (
	UserspaceAttrPID           uint16 = 1
	UserspaceAttrUserdata      uint16 = 2
	UserspaceAttrEgressTunPort uint16 = 3
)

// Sample action attribute types, nested under ActionSample.
const (
	SampleAttrProbability uint16 = 1
	SampleAttrActions     uint16 = 2
)

// Hash algorithms for ActionHash.
const HashAlgL4 uint32 = 0
