package controller

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"campus-sdn-controller/internal/model"
)

// TestProperty_ARPFloodsOnEverySwitch: ARP floods on any switch, known or
// not, whatever port it arrives on.
func TestProperty_ARPFloodsOnEverySwitch(t *testing.T) {
	h := newHarness(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("arp floods", prop.ForAll(
		func(sw, inPort int) bool {
			result, err := h.ctrl.HandlePacketIn(context.Background(), observation(model.SwitchID(sw), uint32(inPort), model.ARP, "", ""))
			return err == nil && result.Decision.Action == model.ActionFlood
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestProperty_UnknownCoreDestinationDrops: destinations outside every
// configured subnet are dropped by the core switch for any protocol.
func TestProperty_UnknownCoreDestinationDrops(t *testing.T) {
	h := newHarness(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unknown destination drops", prop.ForAll(
		func(proto model.Protocol, a, b, c int, srcHost int) bool {
			dst := fmt.Sprintf("%d.%d.%d.1", a, b, c)
			src := fmt.Sprintf("169.233.4.%d", srcHost)
			result, err := h.ctrl.HandlePacketIn(context.Background(), observation(1, 3, proto, src, dst))
			return err == nil &&
				result.Decision.Action == model.ActionDrop &&
				result.Decision.Reason == model.ReasonUnknownDestination
		},
		gen.OneConstOf(model.ICMP, model.TCP, model.UDP),
		// 1-99 never reaches 169.233.x, 212.x, 200.x; 10.100.198.x is
		// excluded by b < 100.
		gen.IntRange(1, 99),
		gen.IntRange(0, 99),
		gen.IntRange(0, 255),
		gen.IntRange(1, 254),
	))

	properties.TestingRun(t)
}

// TestProperty_SameSubnetAcceptedOnAccessSwitch: same-subnet traffic is
// accepted whenever the table resolves, except ICMP to the printer.
func TestProperty_SameSubnetAcceptedOnAccessSwitch(t *testing.T) {
	h := newHarness(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// access switch id -> third octet of its subnet
	access := map[int]int{2: 3, 3: 4, 4: 1, 5: 2}

	properties.Property("same subnet accepted", prop.ForAll(
		func(proto model.Protocol, sw, srcHost, dstHost int) bool {
			octet := access[sw]
			src := fmt.Sprintf("169.233.%d.%d", octet, srcHost)
			dst := fmt.Sprintf("169.233.%d.%d", octet, dstHost)
			result, err := h.ctrl.Decide(observation(model.SwitchID(sw), 1, proto, src, dst))
			if err != nil {
				return false
			}
			if proto == model.ICMP && dst == "169.233.3.20" {
				return result.Decision.Action == model.ActionDrop
			}
			return result.Decision.Action == model.ActionAccept
		},
		gen.OneConstOf(model.ICMP, model.TCP, model.UDP),
		gen.IntRange(2, 5),
		gen.IntRange(1, 254),
		gen.IntRange(1, 254),
	))

	properties.TestingRun(t)
}

// TestProperty_DecisionIsIdempotent: the same observation always gets the
// same decision.
func TestProperty_DecisionIsIdempotent(t *testing.T) {
	h := newHarness(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("decide twice", prop.ForAll(
		func(proto model.Protocol, sw, srcNet, srcHost, dstNet, dstHost int) bool {
			obs := observation(model.SwitchID(sw), 1, proto,
				fmt.Sprintf("169.233.%d.%d", srcNet, srcHost),
				fmt.Sprintf("169.233.%d.%d", dstNet, dstHost))
			first, err1 := h.ctrl.Decide(obs)
			second, err2 := h.ctrl.Decide(obs)
			return err1 == nil && err2 == nil && first == second
		},
		gen.OneConstOf(model.ICMP, model.TCP, model.UDP),
		gen.IntRange(1, 9),
		gen.IntRange(0, 6),
		gen.IntRange(0, 255),
		gen.IntRange(0, 6),
		gen.IntRange(0, 255),
	))

	properties.TestingRun(t)
}
