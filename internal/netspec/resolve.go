package netspec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"campus-sdn-controller/internal/classifier"
	"campus-sdn-controller/internal/model"
	"campus-sdn-controller/internal/utils"
	"campus-sdn-controller/pkg/wellknown"
)

// ResolvedSwitch is a switch whose forwarding entries are keyed by subnet
// identity (core) or exact address (access).
type ResolvedSwitch struct {
	ID          model.SwitchID
	Name        string
	Kind        model.SwitchKind
	DefaultPort uint32
	Entries     map[string]uint32
}

// Resolved is the immutable, name-free form of a NetworkSpec.
type Resolved struct {
	ExactHosts []string
	Switches   []ResolvedSwitch
	Rules      []model.Rule
}

type resolver struct {
	spec       *model.NetworkSpec
	classifier *classifier.Classifier
	hosts      map[string]string
	subnets    map[string]model.SubnetID
	groups     map[string][]string
	errs       []error
}

// Resolve validates spec and replaces every name with concrete addresses and
// subnet identities. All problems are reported together in a *SpecError.
func Resolve(spec *model.NetworkSpec) (*Resolved, error) {
	if spec == nil {
		return nil, &SpecError{Errs: []error{NewValidationError("network", "spec", nil, "spec is required")}}
	}
	r := &resolver{
		spec:    spec,
		hosts:   make(map[string]string),
		subnets: make(map[string]model.SubnetID),
		groups:  make(map[string][]string),
	}

	exact := r.loadExactHosts()
	r.classifier = classifier.New(exact)
	r.loadObjects()

	out := &Resolved{ExactHosts: exact}
	out.Switches = r.resolveSwitches()
	out.Rules = r.resolveRules()

	if len(r.errs) > 0 {
		return nil, &SpecError{Errs: r.errs}
	}
	return out, nil
}

func (r *resolver) fail(err error) {
	r.errs = append(r.errs, err)
}

func (r *resolver) loadExactHosts() []string {
	var exact []string
	seen := make(map[string]bool)
	for _, h := range r.spec.ExactHosts {
		ip, ok := utils.ParseIPv4(h)
		if !ok {
			// Exact hosts may be listed by host name.
			if addr, found := r.hostAddress(h); found {
				ip, ok = utils.ParseIPv4(addr)
			}
		}
		if !ok {
			r.fail(NewValidationError("exactHosts", "address", h, "must be an IPv4 address or host name"))
			continue
		}
		if !seen[ip.String()] {
			seen[ip.String()] = true
			exact = append(exact, ip.String())
		}
	}
	return exact
}

func (r *resolver) hostAddress(name string) (string, bool) {
	for _, h := range r.spec.Hosts {
		if h.Name == name {
			return h.Address, true
		}
	}
	return "", false
}

func (r *resolver) loadObjects() {
	names := make(map[string]string)
	claim := func(kind, name string) bool {
		if name == "" {
			r.fail(NewValidationError(kind, "name", name, "name is required"))
			return false
		}
		if prev, ok := names[name]; ok {
			r.fail(NewValidationError(kind+" "+name, "name", name, "already defined as "+prev))
			return false
		}
		names[name] = kind
		return true
	}

	for _, h := range r.spec.Hosts {
		if !claim("host", h.Name) {
			continue
		}
		ip, ok := utils.ParseIPv4(h.Address)
		if !ok {
			r.fail(NewValidationError("host "+h.Name, "address", h.Address, "must be an IPv4 address"))
			continue
		}
		r.hosts[h.Name] = ip.String()
	}

	for _, s := range r.spec.Subnets {
		if !claim("subnet", s.Name) {
			continue
		}
		id, err := parsePrefix(s.Prefix)
		if err != nil {
			r.fail(NewValidationError("subnet "+s.Name, "prefix", s.Prefix, err.Error()))
			continue
		}
		r.subnets[s.Name] = id
	}

	for _, g := range r.spec.Groups {
		if !claim("group", g.Name) {
			continue
		}
		r.groups[g.Name] = g.Members
	}
}

// parsePrefix accepts "a.b.c.0" or "a.b.c.0/24".
func parsePrefix(prefix string) (model.SubnetID, error) {
	addr := strings.TrimSpace(prefix)
	if i := strings.Index(addr, "/"); i >= 0 {
		if addr[i+1:] != "24" {
			return "", fmt.Errorf("only /24 prefixes are supported")
		}
		addr = addr[:i]
	}
	ip, ok := utils.ParseIPv4(addr)
	if !ok {
		return "", fmt.Errorf("must be an IPv4 network address")
	}
	if ip[3] != 0 {
		return "", fmt.Errorf("host bits must be zero")
	}
	return model.SubnetID(ip.String()), nil
}

// flatten expands group names into leaf names.
func (r *resolver) flatten(name string, visited map[string]bool) ([]string, error) {
	members, isGroup := r.groups[name]
	if !isGroup {
		return []string{name}, nil
	}
	if visited[name] {
		return nil, &CircularGroupError{Group: name}
	}
	visited[name] = true
	defer func() {
		delete(visited, name)
	}()

	var results []string
	for _, m := range members {
		leaves, err := r.flatten(m, visited)
		if err != nil {
			return nil, err
		}
		results = append(results, leaves...)
	}
	return results, nil
}

// addresses resolves names to exact IPv4 addresses.
func (r *resolver) addresses(object string, names []string) []string {
	var out []string
	for _, name := range names {
		leaves, err := r.flatten(name, make(map[string]bool))
		if err != nil {
			r.fail(err)
			continue
		}
		for _, leaf := range leaves {
			if addr, ok := r.hosts[leaf]; ok {
				out = append(out, addr)
				continue
			}
			if ip, ok := utils.ParseIPv4(leaf); ok {
				out = append(out, ip.String())
				continue
			}
			if _, ok := r.subnets[leaf]; ok {
				r.fail(NewValidationError(object, "address", leaf, "subnet used where an exact address is required"))
				continue
			}
			r.fail(&UnresolvedNameError{Object: object, Name: leaf})
		}
	}
	return dedupe(out)
}

// identities resolves names to subnet identities. Hosts and literal
// addresses are classified, so exact externals keep their own identity.
func (r *resolver) identities(object string, names []string) []model.SubnetID {
	var out []model.SubnetID
	for _, name := range names {
		leaves, err := r.flatten(name, make(map[string]bool))
		if err != nil {
			r.fail(err)
			continue
		}
		for _, leaf := range leaves {
			if id, ok := r.subnets[leaf]; ok {
				out = append(out, id)
				continue
			}
			if addr, ok := r.hosts[leaf]; ok {
				out = append(out, r.classifier.Classify(addr))
				continue
			}
			if id := r.classifier.Classify(leaf); id != model.UnknownSubnet {
				out = append(out, id)
				continue
			}
			r.fail(&UnresolvedNameError{Object: object, Name: leaf})
		}
	}
	return dedupeIDs(out)
}

func (r *resolver) resolveSwitches() []ResolvedSwitch {
	seen := make(map[model.SwitchID]bool)
	var out []ResolvedSwitch
	for _, sw := range r.spec.Switches {
		object := fmt.Sprintf("switch %d", sw.ID)
		if seen[sw.ID] {
			r.fail(NewValidationError(object, "id", sw.ID, "duplicate switch id"))
			continue
		}
		seen[sw.ID] = true

		rs := ResolvedSwitch{
			ID:          sw.ID,
			Name:        sw.Name,
			Kind:        sw.Kind,
			DefaultPort: sw.DefaultPort,
			Entries:     make(map[string]uint32),
		}

		switch sw.Kind {
		case model.CoreSwitch:
			if sw.DefaultPort != 0 {
				r.fail(NewValidationError(object, "defaultPort", sw.DefaultPort, "core switches have no default port"))
			}
			for _, e := range sw.Entries {
				for _, id := range r.identities(object, []string{e.Destination}) {
					r.addEntry(&rs, object, string(id), e.Port)
				}
			}
		case model.AccessSwitch:
			if sw.DefaultPort == 0 {
				r.fail(NewValidationError(object, "defaultPort", sw.DefaultPort, "access switches need an uplink default port"))
			}
			for _, e := range sw.Entries {
				for _, addr := range r.addresses(object, []string{e.Destination}) {
					r.addEntry(&rs, object, addr, e.Port)
				}
			}
		case model.UplinkSwitch:
			if sw.DefaultPort == 0 {
				r.fail(NewValidationError(object, "defaultPort", sw.DefaultPort, "uplink switches need an uplink port"))
			}
			if len(sw.Entries) > 0 {
				r.fail(NewValidationError(object, "entries", len(sw.Entries), "uplink switches take no forwarding entries"))
			}
		default:
			r.fail(NewValidationError(object, "kind", sw.Kind, "must be 'core', 'access' or 'uplink'"))
			continue
		}
		out = append(out, rs)
	}
	return out
}

func (r *resolver) addEntry(rs *ResolvedSwitch, object, key string, port uint32) {
	if port == 0 {
		r.fail(NewValidationError(object, "port", port, "port must be positive"))
		return
	}
	if prev, ok := rs.Entries[key]; ok {
		r.fail(NewValidationError(object, "destination", key, fmt.Sprintf("already mapped to port %d", prev)))
		return
	}
	rs.Entries[key] = port
}

func (r *resolver) resolveRules() []model.Rule {
	seen := make(map[string]bool)
	var out []model.Rule
	for _, spec := range r.spec.Rules {
		if spec.Disabled {
			continue
		}
		object := "rule " + spec.ID
		if spec.ID == "" {
			r.fail(NewValidationError("rule", "id", spec.ID, "id is required"))
			continue
		}
		if seen[spec.ID] {
			r.fail(NewValidationError(object, "id", spec.ID, "duplicate rule id"))
			continue
		}
		seen[spec.ID] = true

		rule := model.Rule{
			ID:            spec.ID,
			Priority:      spec.Priority,
			Description:   spec.Description,
			Stage:         spec.Stage,
			SameSubnet:    spec.SameSubnet,
			Bidirectional: spec.Bidirectional,
			Action:        spec.Action,
		}

		proto, err := model.ParseProtocol(string(spec.Protocol))
		if err != nil {
			r.fail(NewValidationError(object, "protocol", spec.Protocol, err.Error()))
			continue
		}
		if proto == model.ARP {
			r.fail(NewValidationError(object, "protocol", spec.Protocol, "ARP is always flooded and cannot be filtered"))
			continue
		}
		rule.Protocol = proto

		if !r.checkStageAction(object, &rule) {
			continue
		}

		rule.SrcAddrs = r.addresses(object, spec.SrcAddrs)
		rule.DstAddrs = r.addresses(object, spec.DstAddrs)
		rule.SrcSubnets = r.identities(object, spec.SrcSubnets)
		rule.DstSubnets = r.identities(object, spec.DstSubnets)
		rule.Services = r.services(object, proto, spec.Services)

		out = append(out, rule)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// checkStageAction fills in the action implied by the stage and rejects
// combinations the engine cannot honor.
func (r *resolver) checkStageAction(object string, rule *model.Rule) bool {
	var want model.Verdict
	switch rule.Stage {
	case model.StageOverride, model.StageAllow:
		want = model.Accept
	case model.StageDeny:
		want = model.Drop
	default:
		r.fail(NewValidationError(object, "stage", rule.Stage, "must be 'override', 'deny' or 'allow'"))
		return false
	}
	if rule.Action == "" {
		rule.Action = want
	}
	if rule.Action != want {
		r.fail(NewValidationError(object, "action", rule.Action, fmt.Sprintf("stage %s requires action %s", rule.Stage, want)))
		return false
	}
	return true
}

func (r *resolver) services(object string, proto model.Protocol, names []string) []model.Service {
	var out []model.Service
	for _, name := range names {
		svcs, ok := parseService(name)
		if !ok {
			r.fail(&UnresolvedNameError{Object: object, Name: name})
			continue
		}
		for _, svc := range svcs {
			if proto != model.Any && proto != svc.Protocol {
				r.fail(NewValidationError(object, "services", name, fmt.Sprintf("service protocol %s conflicts with rule protocol %s", svc.Protocol, proto)))
				continue
			}
			out = append(out, svc)
		}
	}
	return out
}

// parseService resolves a well-known name ("HTTP", "DNS") or an ad-hoc
// "tcp_8001-8004" / "udp_53" form.
func parseService(name string) ([]model.Service, bool) {
	if entries, ok := wellknown.GetService(name); ok {
		out := make([]model.Service, 0, len(entries))
		for _, e := range entries {
			out = append(out, model.Service{Protocol: e.Protocol, StartPort: e.Port, EndPort: e.Port})
		}
		return out, true
	}

	parts := strings.Split(name, "_")
	if len(parts) != 2 {
		return nil, false
	}
	protocol := model.Protocol(strings.ToLower(parts[0]))
	if protocol != model.TCP && protocol != model.UDP {
		return nil, false
	}
	portParts := strings.Split(parts[1], "-")
	start, err := strconv.Atoi(portParts[0])
	if err != nil {
		return nil, false
	}
	end := start
	if len(portParts) == 2 {
		end, err = strconv.Atoi(portParts[1])
		if err != nil {
			return nil, false
		}
	}
	if start < 0 || end > 65535 || start > end {
		return nil, false
	}
	return []model.Service{{Protocol: protocol, StartPort: start, EndPort: end}}, true
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func dedupeIDs(in []model.SubnetID) []model.SubnetID {
	seen := make(map[model.SubnetID]bool, len(in))
	out := in[:0]
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
