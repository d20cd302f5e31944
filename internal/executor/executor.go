// Package executor turns decisions into effects on a switch.
package executor

import (
	"context"
	"fmt"
	"net"

	"campus-sdn-controller/internal/logging"
	"campus-sdn-controller/internal/metrics"
	"campus-sdn-controller/internal/model"
)

const (
	EthTypeIPv4 uint16 = 0x0800
	EthTypeARP  uint16 = 0x0806
)

// SwitchChannel is the outbound side of a switch connection. Implementations
// hand the effect to the transport and return without waiting for the
// switch to acknowledge it.
type SwitchChannel interface {
	// Flood sends the packet out of every port except inPort.
	Flood(ctx context.Context, sw model.SwitchID, inPort uint32, pkt model.BufferedPacket) error
	// InstallAndForward installs rule and releases the buffered packet
	// through it in the same operation.
	InstallAndForward(ctx context.Context, sw model.SwitchID, rule model.FlowRule, pkt model.BufferedPacket) error
	// InstallDrop installs rule with no output action and discards the
	// buffered packet.
	InstallDrop(ctx context.Context, sw model.SwitchID, rule model.FlowRule, pkt model.BufferedPacket) error
}

// Options holds the timeouts and priorities stamped on installed rules.
type Options struct {
	IdleTimeout    uint16
	HardTimeout    uint16
	AcceptPriority uint16
	DropPriority   uint16
}

func DefaultOptions() Options {
	return Options{IdleTimeout: 60, HardTimeout: 300, AcceptPriority: 100, DropPriority: 100}
}

// Executor is stateless apart from its options and safe for concurrent use.
type Executor struct {
	channel SwitchChannel
	opts    Options
	log     *logging.Logger
}

func New(channel SwitchChannel, opts Options, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.LoggerForComponent("executor")
	}
	return &Executor{channel: channel, opts: opts, log: logger}
}

// Execute issues the effect for d. Effects are never retried: a failure is
// logged and counted, and the decision stands. The error is returned so the
// caller can record it. A logger carried by ctx takes precedence over the
// executor's own.
func (e *Executor) Execute(ctx context.Context, d model.Decision, obs *model.Observation) error {
	var (
		effect string
		err    error
	)

	switch d.Action {
	case model.ActionFlood:
		effect = metrics.EffectFlood
		err = e.channel.Flood(ctx, obs.SwitchID, obs.InPort, obs.Packet)
	case model.ActionAccept:
		effect = metrics.EffectInstallForward
		err = e.channel.InstallAndForward(ctx, obs.SwitchID, e.AcceptRule(obs, d.Port), obs.Packet)
	case model.ActionDrop:
		effect = metrics.EffectInstallDrop
		err = e.channel.InstallDrop(ctx, obs.SwitchID, e.DropRule(obs), obs.Packet)
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}

	metrics.RecordEffect(effect, err)
	if err != nil {
		log := logging.LoggerForSwitch(logging.FromContext(ctx, e.log), uint64(obs.SwitchID))
		log.Error(err, "Switch effect failed", "effect", effect, "decision", d.String())
		return fmt.Errorf("%s on switch %d: %w", effect, obs.SwitchID, err)
	}
	return nil
}

// AcceptRule builds the forwarding rule for the observation's flow.
func (e *Executor) AcceptRule(obs *model.Observation, port uint32) model.FlowRule {
	return model.FlowRule{
		Match:       BuildMatch(obs),
		OutputPort:  port,
		IdleTimeout: e.opts.IdleTimeout,
		HardTimeout: e.opts.HardTimeout,
		Priority:    e.opts.AcceptPriority,
	}
}

// DropRule builds a discard rule scoped to the ingress port and the flow.
func (e *Executor) DropRule(obs *model.Observation) model.FlowRule {
	return model.FlowRule{
		Match:       BuildMatch(obs),
		IdleTimeout: e.opts.IdleTimeout,
		HardTimeout: e.opts.HardTimeout,
		Priority:    e.opts.DropPriority,
	}
}

// BuildMatch extracts the flow-identifying fields of an observation: the
// ingress port, ethernet type, IP protocol, addresses, and the transport
// ports (TCP/UDP) or type and code (ICMP).
func BuildMatch(obs *model.Observation) model.FlowMatch {
	h := obs.Headers
	m := model.FlowMatch{InPort: obs.InPort, EthType: h.EthType}
	if !h.IPv4 {
		return m
	}
	if m.EthType == 0 {
		m.EthType = EthTypeIPv4
	}
	m.IPProto = h.IPProto
	m.SrcIP = copyIP(h.SrcIP)
	m.DstIP = copyIP(h.DstIP)

	switch h.Protocol {
	case model.TCP, model.UDP:
		m.SrcPort = h.SrcPort
		m.DstPort = h.DstPort
	case model.ICMP:
		m.ICMPType = h.ICMPType
		m.ICMPCode = h.ICMPCode
	}
	return m
}

func copyIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}
