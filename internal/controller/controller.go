// Package controller wires the classifier, forwarding tables, policy engine
// and executor into the packet-in pipeline.
//
// The resolved configuration is held as one immutable Snapshot behind an
// atomic pointer. Every packet loads the pointer once, so a Reload is never
// observed half-applied, and HandlePacketIn takes no locks.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"campus-sdn-controller/internal/classifier"
	"campus-sdn-controller/internal/engine"
	"campus-sdn-controller/internal/executor"
	"campus-sdn-controller/internal/forwarding"
	"campus-sdn-controller/internal/logging"
	"campus-sdn-controller/internal/metrics"
	"campus-sdn-controller/internal/model"
	"campus-sdn-controller/internal/netspec"
	"campus-sdn-controller/pkg/wellknown"
)

// ErrIncompletePacket is returned for observations the switch connection
// could not fully parse. They never reach the decision core.
var ErrIncompletePacket = errors.New("incomplete packet")

// Snapshot is one resolved configuration.
type Snapshot struct {
	Classifier *classifier.Classifier
	Tables     *forwarding.Tables
	Engine     *engine.Evaluator
	LoadedAt   time.Time
}

// NewSnapshot resolves spec and builds every lookup structure from it.
func NewSnapshot(spec *model.NetworkSpec) (*Snapshot, error) {
	resolved, err := netspec.Resolve(spec)
	if err != nil {
		return nil, err
	}
	c := classifier.New(resolved.ExactHosts)
	return &Snapshot{
		Classifier: c,
		Tables:     forwarding.New(c, resolved.Switches),
		Engine:     engine.NewEvaluator(resolved.Rules),
		LoadedAt:   time.Now(),
	}, nil
}

type Controller struct {
	snapshot atomic.Pointer[Snapshot]
	exec     *executor.Executor
	log      *logging.Logger
}

func New(snap *Snapshot, exec *executor.Executor, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.LoggerForComponent("controller")
	}
	c := &Controller{exec: exec, log: logger}
	c.snapshot.Store(snap)
	return c
}

// Snapshot returns the configuration currently used for new decisions.
func (c *Controller) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// Reload resolves spec and swaps it in. On error the running configuration
// is left untouched.
func (c *Controller) Reload(spec *model.NetworkSpec) error {
	snap, err := NewSnapshot(spec)
	metrics.RecordReload(err)
	if err != nil {
		c.log.Error(err, "Reload rejected, keeping current configuration")
		return fmt.Errorf("reload: %w", err)
	}
	c.snapshot.Store(snap)
	c.log.Info("Configuration reloaded", "switches", snap.Tables.Len(), "rules", len(snap.Engine.Rules))
	return nil
}

// HandlePacketIn decides obs and hands the effect to the executor. Effect
// failures are reported in the result's EffectErr; only boundary rejection
// returns an error.
func (c *Controller) HandlePacketIn(ctx context.Context, obs *model.Observation) (model.DecisionResult, error) {
	result, err := c.Decide(obs)
	if err != nil {
		return result, err
	}
	if c.exec != nil {
		if err := c.exec.Execute(ctx, result.Decision, obs); err != nil {
			result.EffectErr = err.Error()
		}
	}
	return result, nil
}

// Decide runs the decision pipeline without issuing any effect.
func (c *Controller) Decide(obs *model.Observation) (model.DecisionResult, error) {
	if obs == nil || !obs.Complete || !headersComplete(&obs.Headers) {
		metrics.RecordRejected(metrics.RejectIncomplete)
		c.log.Warn("Ignoring incomplete packet", "switch", switchOf(obs), "in_port", portOf(obs))
		return model.DecisionResult{}, ErrIncompletePacket
	}

	start := time.Now()
	snap := c.snapshot.Load()
	h := &obs.Headers
	proto := protocolOf(h)

	result := model.DecisionResult{
		SwitchID: obs.SwitchID,
		InPort:   obs.InPort,
		Protocol: string(proto),
	}

	switch {
	case proto == model.ARP:
		result.Decision = snap.Engine.Decide(&engine.Query{Protocol: model.ARP})
	case !h.IPv4:
		metrics.RecordRejected(metrics.RejectNonIP)
		result.Protocol = fmt.Sprintf("0x%04x", h.EthType)
		result.Decision = model.Decision{Action: model.ActionDrop, Reason: model.ReasonNonIP}
	default:
		src, dst := h.SrcIP.To4().String(), h.DstIP.To4().String()
		port, ok := snap.Tables.ResolveIP(obs.SwitchID, h.DstIP)
		q := &engine.Query{
			Protocol:  proto,
			SrcAddr:   src,
			DstAddr:   dst,
			SrcSubnet: snap.Classifier.ClassifyIP(h.SrcIP),
			DstSubnet: snap.Classifier.ClassifyIP(h.DstIP),
			SrcPort:   h.SrcPort,
			DstPort:   h.DstPort,
			Candidate: port,
			Resolved:  ok,
		}
		result.SrcIP, result.DstIP = src, dst
		result.SrcSubnet, result.DstSubnet = q.SrcSubnet, q.DstSubnet
		result.SrcPort, result.DstPort = h.SrcPort, h.DstPort
		result.Service = wellknown.Label(proto, int(h.DstPort))
		result.Decision = snap.Engine.Decide(q)
	}

	metrics.RecordDecision(string(result.Decision.Action), result.Decision.Reason, time.Since(start))
	c.logDecision(&result)
	return result, nil
}

func (c *Controller) logDecision(r *model.DecisionResult) {
	log := logging.LoggerForSwitch(c.log, uint64(r.SwitchID))
	switch r.Decision.Reason {
	case model.ReasonUnknownDestination:
		log.Info("Unknown destination, dropping packet", "dst", r.DstIP)
	case model.ReasonNonIP:
		log.Debug("Non-IP packet, dropping", "eth_type", r.Protocol)
	default:
		log.Debug("Decision",
			"in_port", r.InPort,
			"protocol", r.Protocol,
			"src", r.SrcIP,
			"dst", r.DstIP,
			"decision", r.Decision.String(),
			"rule", r.Decision.RuleID,
			"reason", r.Decision.Reason,
		)
	}
}

// headersComplete reports whether the fields the pipeline reads are present.
func headersComplete(h *model.Headers) bool {
	if h.ARP {
		return true
	}
	if h.IPv4 {
		return h.SrcIP.To4() != nil && h.DstIP.To4() != nil
	}
	return h.EthType != 0
}

func protocolOf(h *model.Headers) model.Protocol {
	if h.ARP {
		return model.ARP
	}
	switch h.Protocol {
	case model.ICMP, model.TCP, model.UDP:
		return h.Protocol
	}
	return model.IP
}

func switchOf(obs *model.Observation) uint64 {
	if obs == nil {
		return 0
	}
	return uint64(obs.SwitchID)
}

func portOf(obs *model.Observation) uint32 {
	if obs == nil {
		return 0
	}
	return obs.InPort
}
