package engine

import (
	"sort"

	"campus-sdn-controller/internal/model"
)

// Query is everything the policy needs to know about one packet.
type Query struct {
	Protocol  model.Protocol
	SrcAddr   string
	DstAddr   string
	SrcSubnet model.SubnetID
	DstSubnet model.SubnetID
	SrcPort   uint16
	DstPort   uint16
	// Candidate is the port proposed by the forwarding table. It is only
	// meaningful when Resolved is true.
	Candidate uint32
	Resolved  bool
}

// Evaluator is immutable after NewEvaluator and safe for concurrent use.
type Evaluator struct {
	Rules []model.Rule
	// buckets[stage][protocol] holds, in configured order, the rules of that
	// stage whose protocol is either the given one or Any.
	buckets map[model.Stage]map[model.Protocol][]*model.Rule
}

var ipProtocols = []model.Protocol{model.ICMP, model.TCP, model.UDP, model.IP}

func NewEvaluator(rules []model.Rule) *Evaluator {
	sorted := make([]model.Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	evaluator := &Evaluator{
		Rules:   sorted,
		buckets: make(map[model.Stage]map[model.Protocol][]*model.Rule),
	}
	evaluator.buildBuckets()
	return evaluator
}

func (e *Evaluator) buildBuckets() {
	for _, stage := range model.StageOrder {
		e.buckets[stage] = make(map[model.Protocol][]*model.Rule)
	}
	for i := range e.Rules {
		rule := &e.Rules[i]
		byProto, ok := e.buckets[rule.Stage]
		if !ok {
			continue
		}
		for _, proto := range ipProtocols {
			if rule.Protocol == model.Any || rule.Protocol == proto {
				byProto[proto] = append(byProto[proto], rule)
			}
		}
	}
}

// Decide evaluates q. ARP always floods; an unresolved candidate always
// drops; otherwise stages run override, deny, allow and the first matching
// rule wins. Nothing matching is an implicit deny.
func (e *Evaluator) Decide(q *Query) model.Decision {
	if q.Protocol == model.ARP {
		return model.Decision{Action: model.ActionFlood, Reason: model.ReasonARPFlood}
	}
	if !q.Resolved {
		return model.Decision{Action: model.ActionDrop, Reason: model.ReasonUnknownDestination}
	}

	for _, stage := range model.StageOrder {
		for _, rule := range e.buckets[stage][q.Protocol] {
			if !matches(rule, q) {
				continue
			}
			if rule.Action == model.Accept {
				return model.Decision{
					Action: model.ActionAccept,
					Port:   q.Candidate,
					RuleID: rule.ID,
					Reason: stageReason(stage),
				}
			}
			return model.Decision{
				Action: model.ActionDrop,
				RuleID: rule.ID,
				Reason: stageReason(stage),
			}
		}
	}

	return model.Decision{Action: model.ActionDrop, Reason: model.ReasonImplicitDeny}
}

func stageReason(stage model.Stage) string {
	switch stage {
	case model.StageOverride:
		return model.ReasonOverride
	case model.StageDeny:
		return model.ReasonDeny
	default:
		return model.ReasonAllow
	}
}

func matches(rule *model.Rule, q *Query) bool {
	if matchDirected(rule, q.Protocol, q.SrcAddr, q.DstAddr, q.SrcSubnet, q.DstSubnet, q.DstPort) {
		return true
	}
	return rule.Bidirectional &&
		matchDirected(rule, q.Protocol, q.DstAddr, q.SrcAddr, q.DstSubnet, q.SrcSubnet, q.SrcPort)
}

// matchDirected requires every non-empty predicate of rule to hold.
func matchDirected(rule *model.Rule, proto model.Protocol, src, dst string, srcNet, dstNet model.SubnetID, dport uint16) bool {
	return matchAddr(rule.SrcAddrs, src) &&
		matchAddr(rule.DstAddrs, dst) &&
		matchSubnet(rule.SrcSubnets, srcNet) &&
		matchSubnet(rule.DstSubnets, dstNet) &&
		(!rule.SameSubnet || (srcNet == dstNet && srcNet != model.UnknownSubnet)) &&
		matchSvc(rule.Services, proto, dport)
}

func matchAddr(addrs []string, addr string) bool {
	if len(addrs) == 0 {
		return true
	}
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func matchSubnet(subnets []model.SubnetID, id model.SubnetID) bool {
	if len(subnets) == 0 {
		return true
	}
	if id == model.UnknownSubnet {
		return false
	}
	for _, s := range subnets {
		if s == id {
			return true
		}
	}
	return false
}

func matchSvc(svcs []model.Service, proto model.Protocol, port uint16) bool {
	if len(svcs) == 0 {
		return true
	}
	for _, svc := range svcs {
		if svc.Protocol == proto && int(port) >= svc.StartPort && int(port) <= svc.EndPort {
			return true
		}
	}
	return false
}
