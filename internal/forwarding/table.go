// Package forwarding holds the static per-switch forwarding tables.
//
// Core switches forward on the destination's subnet identity and have no
// default entry. Access switches forward on the exact destination address
// and send everything else to their uplink. Uplink switches attach external
// hosts and always forward toward the core.
package forwarding

import (
	"net"

	"campus-sdn-controller/internal/classifier"
	"campus-sdn-controller/internal/model"
	"campus-sdn-controller/internal/netspec"
)

// NoMatch is returned as the port when a destination cannot be resolved.
const NoMatch uint32 = 0

type table struct {
	name        string
	kind        model.SwitchKind
	defaultPort uint32
	entries     map[string]uint32
}

// Tables is immutable after New and safe for concurrent use.
type Tables struct {
	classifier *classifier.Classifier
	switches   map[model.SwitchID]*table
}

// New builds the tables from resolved switches. The classifier supplies the
// subnet identity used by core switches.
func New(c *classifier.Classifier, switches []netspec.ResolvedSwitch) *Tables {
	t := &Tables{
		classifier: c,
		switches:   make(map[model.SwitchID]*table, len(switches)),
	}
	for _, sw := range switches {
		entries := make(map[string]uint32, len(sw.Entries))
		for k, v := range sw.Entries {
			entries[k] = v
		}
		t.switches[sw.ID] = &table{
			name:        sw.Name,
			kind:        sw.Kind,
			defaultPort: sw.DefaultPort,
			entries:     entries,
		}
	}
	return t
}

// Resolve returns the output port for dst on the given switch. ok is false
// (and port is NoMatch) for unknown switches and unmatched core destinations.
func (t *Tables) Resolve(id model.SwitchID, dst string) (uint32, bool) {
	sw, found := t.switches[id]
	if !found {
		return NoMatch, false
	}

	switch sw.kind {
	case model.UplinkSwitch:
		return sw.defaultPort, true
	case model.AccessSwitch:
		if port, ok := sw.entries[dst]; ok {
			return port, true
		}
		return sw.defaultPort, true
	case model.CoreSwitch:
		id := t.classifier.Classify(dst)
		if id == model.UnknownSubnet {
			return NoMatch, false
		}
		if port, ok := sw.entries[string(id)]; ok {
			return port, true
		}
	}
	return NoMatch, false
}

// ResolveIP is Resolve for decoded header addresses.
func (t *Tables) ResolveIP(id model.SwitchID, dst net.IP) (uint32, bool) {
	v4 := dst.To4()
	if v4 == nil {
		return NoMatch, false
	}
	return t.Resolve(id, v4.String())
}

// Name returns the configured switch name, or "" when the switch is unknown.
func (t *Tables) Name(id model.SwitchID) string {
	if sw, ok := t.switches[id]; ok {
		return sw.name
	}
	return ""
}

// Len returns the number of configured switches.
func (t *Tables) Len() int {
	return len(t.switches)
}
