package model

import (
	"fmt"
	"net"
	"strings"
)

type Protocol string // "arp", "icmp", "tcp", "udp", "any", "ip"

const (
	ARP  Protocol = "arp"
	ICMP Protocol = "icmp"
	TCP  Protocol = "tcp"
	UDP  Protocol = "udp"
	// Any is a rule wildcard covering every IP protocol. It never covers ARP.
	Any Protocol = "any"
	// IP is an IPv4 packet whose transport is none of ICMP/TCP/UDP.
	IP Protocol = "ip"
)

func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ARP, ICMP, TCP, UDP, Any, IP:
		return p, nil
	case "":
		return Any, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", s)
	}
}

type SwitchID uint64

// NoBuffer marks a packet-in whose payload was not buffered on the switch.
const NoBuffer uint32 = 0xffffffff

// SubnetID is either an exact address (single-host externals) or a /24
// prefix written as "a.b.c.0".
type SubnetID string

const UnknownSubnet SubnetID = "unknown"

type Verdict string // "accept", "drop"

const (
	Accept Verdict = "accept"
	Drop   Verdict = "drop"
)

// Stage groups rules; stages are evaluated in declaration order below.
type Stage string

const (
	StageOverride Stage = "override"
	StageDeny     Stage = "deny"
	StageAllow    Stage = "allow"
)

var StageOrder = []Stage{StageOverride, StageDeny, StageAllow}

type SwitchKind string

const (
	// CoreSwitch forwards on destination subnet identity and has no default.
	CoreSwitch SwitchKind = "core"
	// AccessSwitch forwards on exact destination address, else its uplink.
	AccessSwitch SwitchKind = "access"
	// UplinkSwitch always forwards to its single uplink port.
	UplinkSwitch SwitchKind = "uplink"
)

type HostObject struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
}

type SubnetObject struct {
	Name   string `yaml:"name" json:"name"`
	Prefix string `yaml:"prefix" json:"prefix"`
}

type GroupObject struct {
	Name    string   `yaml:"name" json:"name"`
	Members []string `yaml:"members" json:"members"`
}

type ForwardingEntry struct {
	Destination string `yaml:"destination" json:"destination"` // subnet/host name or literal address
	Port        uint32 `yaml:"port" json:"port"`
}

type SwitchSpec struct {
	ID          SwitchID          `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Kind        SwitchKind        `yaml:"kind" json:"kind"`
	DefaultPort uint32            `yaml:"defaultPort" json:"defaultPort"`
	Entries     []ForwardingEntry `yaml:"entries" json:"entries"`
}

type RuleSpec struct {
	ID            string   `yaml:"id" json:"id"`
	Priority      int      `yaml:"priority" json:"priority"`
	Description   string   `yaml:"description" json:"description"`
	Stage         Stage    `yaml:"stage" json:"stage"`
	Protocol      Protocol `yaml:"protocol" json:"protocol"`
	SrcAddrs      []string `yaml:"srcAddrs" json:"srcAddrs"`
	DstAddrs      []string `yaml:"dstAddrs" json:"dstAddrs"`
	SrcSubnets    []string `yaml:"srcSubnets" json:"srcSubnets"`
	DstSubnets    []string `yaml:"dstSubnets" json:"dstSubnets"`
	SameSubnet    bool     `yaml:"sameSubnet" json:"sameSubnet"`
	Bidirectional bool     `yaml:"bidirectional" json:"bidirectional"`
	Services      []string `yaml:"services" json:"services"`
	Action        Verdict  `yaml:"action" json:"action"`
	Disabled      bool     `yaml:"disabled" json:"disabled"`
}

// NetworkSpec is the raw deployment description as loaded by a provider.
// Names are resolved by netspec.Resolve.
type NetworkSpec struct {
	ExactHosts []string       `yaml:"exactHosts" json:"exactHosts"`
	Hosts      []HostObject   `yaml:"hosts" json:"hosts"`
	Subnets    []SubnetObject `yaml:"subnets" json:"subnets"`
	Groups     []GroupObject  `yaml:"groups" json:"groups"`
	Switches   []SwitchSpec   `yaml:"switches" json:"switches"`
	Rules      []RuleSpec     `yaml:"rules" json:"rules"`
}

type Service struct {
	Protocol  Protocol
	StartPort int
	EndPort   int
}

// Rule is a resolved RuleSpec: every name replaced by concrete addresses
// and subnet identities.
type Rule struct {
	ID            string
	Priority      int
	Description   string
	Stage         Stage
	Protocol      Protocol
	SrcAddrs      []string
	DstAddrs      []string
	SrcSubnets    []SubnetID
	DstSubnets    []SubnetID
	SameSubnet    bool
	Bidirectional bool
	Services      []Service
	Action        Verdict
}

type Headers struct {
	EthType  uint16
	ARP      bool
	IPv4     bool
	Protocol Protocol
	IPProto  uint8
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	ICMPType uint8
	ICMPCode uint8
}

type BufferedPacket struct {
	BufferID uint32
	Data     []byte
}

// Observation is one packet-in event handed over by the switch connection.
type Observation struct {
	SwitchID SwitchID
	InPort   uint32
	Headers  Headers
	Packet   BufferedPacket
	// Complete is false when the frame could not be fully parsed.
	Complete bool
}

type FlowMatch struct {
	InPort   uint32 // 0 = wildcard
	EthType  uint16
	IPProto  uint8
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	ICMPType uint8
	ICMPCode uint8
}

type FlowRule struct {
	Match       FlowMatch
	OutputPort  uint32 // ignored for drop rules
	IdleTimeout uint16 // seconds
	HardTimeout uint16 // seconds
	Priority    uint16
}

type Action string

const (
	ActionFlood  Action = "FLOOD"
	ActionAccept Action = "ACCEPT"
	ActionDrop   Action = "DROP"
)

// Decision reasons.
const (
	ReasonARPFlood           = "ARP_FLOOD"
	ReasonUnknownDestination = "UNKNOWN_DESTINATION"
	ReasonOverride           = "MATCH_OVERRIDE"
	ReasonDeny               = "MATCH_DENY"
	ReasonAllow              = "MATCH_ALLOW"
	ReasonImplicitDeny       = "IMPLICIT_DENY"
	ReasonNonIP              = "NON_IP"
)

type Decision struct {
	Action Action
	Port   uint32
	RuleID string
	Reason string
}

func (d Decision) String() string {
	if d.Action == ActionAccept {
		return fmt.Sprintf("%s(%d)", d.Action, d.Port)
	}
	return string(d.Action)
}

type DecisionResult struct {
	SwitchID  SwitchID
	InPort    uint32
	Protocol  string
	SrcIP     string
	DstIP     string
	SrcSubnet SubnetID
	DstSubnet SubnetID
	SrcPort   uint16
	DstPort   uint16
	Service   string
	Decision  Decision
	EffectErr string
}
