package engine

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"campus-sdn-controller/internal/model"
)

func addr(a, b int) string {
	return fmt.Sprintf("169.233.%d.%d", a, b)
}

func subnetOf(a int) model.SubnetID {
	return model.SubnetID(fmt.Sprintf("169.233.%d.0", a))
}

var genProto = gen.OneConstOf(model.ICMP, model.TCP, model.UDP)

// TestProperty_ARPAlwaysFloods: for any ARP query, on any rule set, the
// decision is Flood.
func TestProperty_ARPAlwaysFloods(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	evaluator := NewEvaluator(campusRules())

	properties.Property("arp floods", prop.ForAll(
		func(srcNet, srcHost, dstNet, dstHost, candidate int) bool {
			q := query(model.ARP, addr(srcNet, srcHost), addr(dstNet, dstHost), subnetOf(srcNet), subnetOf(dstNet), uint32(candidate))
			d := evaluator.Decide(q)
			return d.Action == model.ActionFlood && d.Reason == model.ReasonARPFlood
		},
		gen.IntRange(0, 255),
		gen.IntRange(0, 255),
		gen.IntRange(0, 255),
		gen.IntRange(0, 255),
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}

// TestProperty_UnresolvedAlwaysDrops: policy can only restrict, never
// manufacture a destination.
func TestProperty_UnresolvedAlwaysDrops(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	evaluator := NewEvaluator(campusRules())

	properties.Property("no candidate means drop", prop.ForAll(
		func(proto model.Protocol, srcNet, dstNet, host int) bool {
			q := query(proto, addr(srcNet, host), addr(dstNet, host), subnetOf(srcNet), subnetOf(dstNet), 0)
			d := evaluator.Decide(q)
			return d.Action == model.ActionDrop && d.Reason == model.ReasonUnknownDestination
		},
		genProto,
		gen.IntRange(1, 4),
		gen.IntRange(1, 4),
		gen.IntRange(1, 254),
	))

	properties.TestingRun(t)
}

// TestProperty_DecideIsIdempotent: identical inputs give identical decisions.
func TestProperty_DecideIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	evaluator := NewEvaluator(campusRules())

	properties.Property("decide twice", prop.ForAll(
		func(proto model.Protocol, srcNet, srcHost, dstNet, dstHost, candidate int) bool {
			q := query(proto, addr(srcNet, srcHost), addr(dstNet, dstHost), subnetOf(srcNet), subnetOf(dstNet), uint32(candidate))
			return evaluator.Decide(q) == evaluator.Decide(q)
		},
		genProto,
		gen.IntRange(0, 6),
		gen.IntRange(0, 255),
		gen.IntRange(0, 6),
		gen.IntRange(0, 255),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}

// TestProperty_DefaultDeny: subnets outside every allow list are dropped.
func TestProperty_DefaultDeny(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	evaluator := NewEvaluator(campusRules())

	properties.Property("unlisted pairs drop", prop.ForAll(
		func(proto model.Protocol, srcNet, dstNet, host int, candidate int) bool {
			if srcNet == dstNet {
				dstNet++
			}
			q := query(proto, addr(srcNet, host), addr(dstNet, host), subnetOf(srcNet), subnetOf(dstNet), uint32(candidate))
			d := evaluator.Decide(q)
			return d.Action == model.ActionDrop && d.Reason == model.ReasonImplicitDeny
		},
		genProto,
		gen.IntRange(10, 100),
		gen.IntRange(10, 100),
		gen.IntRange(1, 254),
		gen.IntRange(1, 48),
	))

	properties.TestingRun(t)
}

// TestProperty_SameSubnetAccepted: with only the same-subnet rules
// configured, same-subnet traffic is accepted on the candidate port.
func TestProperty_SameSubnetAccepted(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	var rules []model.Rule
	for i, p := range []model.Protocol{model.ICMP, model.TCP, model.UDP} {
		rules = append(rules, model.Rule{
			ID: string(p) + "-same", Priority: i, Stage: model.StageAllow,
			Protocol: p, Action: model.Accept, SameSubnet: true,
		})
	}
	evaluator := NewEvaluator(rules)

	properties.Property("same subnet accepted", prop.ForAll(
		func(proto model.Protocol, net, srcHost, dstHost, candidate int) bool {
			q := query(proto, addr(net, srcHost), addr(net, dstHost), subnetOf(net), subnetOf(net), uint32(candidate))
			d := evaluator.Decide(q)
			return d.Action == model.ActionAccept && d.Port == uint32(candidate)
		},
		genProto,
		gen.IntRange(0, 255),
		gen.IntRange(0, 255),
		gen.IntRange(0, 255),
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}
