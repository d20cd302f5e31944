package executor

import (
	"context"
	"fmt"
	"sync"

	"campus-sdn-controller/internal/model"
)

type EffectKind string

const (
	KindFlood             EffectKind = "flood"
	KindInstallAndForward EffectKind = "install_forward"
	KindInstallDrop       EffectKind = "install_drop"
)

// Effect is one call recorded by a Recorder.
type Effect struct {
	Kind     EffectKind
	SwitchID model.SwitchID
	InPort   uint32
	Rule     model.FlowRule // zero for floods
	BufferID uint32
}

func (e Effect) String() string {
	switch e.Kind {
	case KindFlood:
		return fmt.Sprintf("flood switch=%d in_port=%d buffer=%d", e.SwitchID, e.InPort, e.BufferID)
	case KindInstallAndForward:
		return fmt.Sprintf("install switch=%d match=%s output=%d idle=%d hard=%d buffer=%d",
			e.SwitchID, FormatMatch(e.Rule.Match), e.Rule.OutputPort, e.Rule.IdleTimeout, e.Rule.HardTimeout, e.BufferID)
	default:
		return fmt.Sprintf("drop switch=%d match=%s idle=%d hard=%d buffer=%d",
			e.SwitchID, FormatMatch(e.Rule.Match), e.Rule.IdleTimeout, e.Rule.HardTimeout, e.BufferID)
	}
}

// FormatMatch renders the non-wildcard fields of m.
func FormatMatch(m model.FlowMatch) string {
	s := fmt.Sprintf("in_port=%d,eth_type=0x%04x", m.InPort, m.EthType)
	if m.SrcIP != nil || m.DstIP != nil {
		s += fmt.Sprintf(",ip_proto=%d,nw_src=%s,nw_dst=%s", m.IPProto, m.SrcIP, m.DstIP)
	}
	if m.SrcPort != 0 || m.DstPort != 0 {
		s += fmt.Sprintf(",tp_src=%d,tp_dst=%d", m.SrcPort, m.DstPort)
	}
	if m.ICMPType != 0 || m.ICMPCode != 0 {
		s += fmt.Sprintf(",icmp_type=%d,icmp_code=%d", m.ICMPType, m.ICMPCode)
	}
	return s
}

// Recorder is an in-memory SwitchChannel. It keeps every effect it is
// handed and optionally fails calls for selected switches.
type Recorder struct {
	mu      sync.Mutex
	effects []Effect
	failFor map[model.SwitchID]error
}

func NewRecorder() *Recorder {
	return &Recorder{failFor: make(map[model.SwitchID]error)}
}

// FailSwitch makes every later effect on sw return err. A nil err clears it.
func (r *Recorder) FailSwitch(sw model.SwitchID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failFor, sw)
		return
	}
	r.failFor[sw] = err
}

func (r *Recorder) record(e Effect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failFor[e.SwitchID]; ok {
		return err
	}
	r.effects = append(r.effects, e)
	return nil
}

func (r *Recorder) Flood(_ context.Context, sw model.SwitchID, inPort uint32, pkt model.BufferedPacket) error {
	return r.record(Effect{Kind: KindFlood, SwitchID: sw, InPort: inPort, BufferID: pkt.BufferID})
}

func (r *Recorder) InstallAndForward(_ context.Context, sw model.SwitchID, rule model.FlowRule, pkt model.BufferedPacket) error {
	return r.record(Effect{Kind: KindInstallAndForward, SwitchID: sw, InPort: rule.Match.InPort, Rule: rule, BufferID: pkt.BufferID})
}

func (r *Recorder) InstallDrop(_ context.Context, sw model.SwitchID, rule model.FlowRule, pkt model.BufferedPacket) error {
	return r.record(Effect{Kind: KindInstallDrop, SwitchID: sw, InPort: rule.Match.InPort, Rule: rule, BufferID: pkt.BufferID})
}

// Effects returns a copy of the recorded effects in call order.
func (r *Recorder) Effects() []Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Effect, len(r.effects))
	copy(out, r.effects)
	return out
}

// Last returns the most recent effect.
func (r *Recorder) Last() (Effect, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.effects) == 0 {
		return Effect{}, false
	}
	return r.effects[len(r.effects)-1], true
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.effects = nil
}
