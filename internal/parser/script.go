package parser

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"campus-sdn-controller/internal/model"
)

// ScriptParser reads the block-syntax network file:
//
//	config system exact-host
//	    set member "trustedPC1" "guest"
//	end
//	config firewall address
//	    edit "printer"
//	        set ip 169.233.3.20
//	    next
//	end
//	config firewall subnet / addrgrp, config switch, config firewall policy
//
// Names are left unresolved; netspec.Resolve validates the result.
type ScriptParser struct {
	scanner *bufio.Scanner
	line    int

	Spec *model.NetworkSpec
}

func NewScriptParser(reader io.Reader) *ScriptParser {
	return &ScriptParser{
		scanner: bufio.NewScanner(reader),
		Spec:    &model.NetworkSpec{},
	}
}

func (p *ScriptParser) next() (string, bool) {
	if !p.scanner.Scan() {
		return "", false
	}
	p.line++
	return strings.TrimSpace(p.scanner.Text()), true
}

func (p *ScriptParser) Parse() error {
	for {
		line, ok := p.next()
		if !ok {
			break
		}
		var err error
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "config system exact-host"):
			err = p.parseExactHosts()
		case strings.HasPrefix(line, "config firewall address"):
			err = p.parseAddressConfig()
		case strings.HasPrefix(line, "config firewall subnet"):
			err = p.parseSubnetConfig()
		case strings.HasPrefix(line, "config firewall addrgrp"):
			err = p.parseAddrGrpConfig()
		case strings.HasPrefix(line, "config switch"):
			err = p.parseSwitchConfig()
		case strings.HasPrefix(line, "config firewall policy"):
			err = p.parsePolicyConfig()
		default:
			err = fmt.Errorf("unexpected statement %q", line)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", p.line, err)
		}
	}
	if err := p.scanner.Err(); err != nil {
		return fmt.Errorf("error reading network file: %w", err)
	}
	return nil
}

// block drives one config ... end section, calling edit for every "edit",
// set for every "set" inside an edit, and done for every "next".
func (p *ScriptParser) block(edit func(name string) error, set func(key string, args []string) error, done func()) error {
	inEdit := false
	for {
		line, ok := p.next()
		if !ok {
			return io.ErrUnexpectedEOF
		}
		if line == "end" {
			if inEdit {
				done()
			}
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 || strings.HasPrefix(parts[0], "#") {
			continue
		}
		switch parts[0] {
		case "edit":
			if len(parts) < 2 {
				return fmt.Errorf("edit without a name")
			}
			if inEdit {
				done()
			}
			if err := edit(unquote(strings.Join(parts[1:], " "))); err != nil {
				return err
			}
			inEdit = true
		case "set":
			if !inEdit || len(parts) < 3 {
				return fmt.Errorf("malformed set %q", line)
			}
			if err := set(parts[1], splitArgs(parts[2:])); err != nil {
				return fmt.Errorf("set %s: %w", parts[1], err)
			}
		case "next":
			if inEdit {
				done()
			}
			inEdit = false
		default:
			return fmt.Errorf("unexpected statement %q", line)
		}
	}
}

func (p *ScriptParser) parseExactHosts() error {
	for {
		line, ok := p.next()
		if !ok {
			return io.ErrUnexpectedEOF
		}
		if line == "end" {
			return nil
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if parts[0] != "set" || len(parts) < 3 || parts[1] != "member" {
			return fmt.Errorf("expected 'set member', got %q", line)
		}
		p.Spec.ExactHosts = append(p.Spec.ExactHosts, splitArgs(parts[2:])...)
	}
}

func (p *ScriptParser) parseAddressConfig() error {
	var current model.HostObject
	return p.block(
		func(name string) error {
			current = model.HostObject{Name: name}
			return nil
		},
		func(key string, args []string) error {
			if key == "ip" {
				current.Address = args[0]
			}
			return nil
		},
		func() { p.Spec.Hosts = append(p.Spec.Hosts, current) },
	)
}

func (p *ScriptParser) parseSubnetConfig() error {
	var current model.SubnetObject
	return p.block(
		func(name string) error {
			current = model.SubnetObject{Name: name}
			return nil
		},
		func(key string, args []string) error {
			if key != "subnet" {
				return nil
			}
			// "set subnet 169.233.3.0 255.255.255.0" or "set subnet 169.233.3.0/24"
			if len(args) == 2 {
				mask := net.IPMask(net.ParseIP(args[1]).To4())
				prefixLen, _ := mask.Size()
				current.Prefix = fmt.Sprintf("%s/%d", args[0], prefixLen)
				return nil
			}
			current.Prefix = args[0]
			return nil
		},
		func() { p.Spec.Subnets = append(p.Spec.Subnets, current) },
	)
}

func (p *ScriptParser) parseAddrGrpConfig() error {
	var current model.GroupObject
	return p.block(
		func(name string) error {
			current = model.GroupObject{Name: name}
			return nil
		},
		func(key string, args []string) error {
			if key == "member" {
				current.Members = append(current.Members, args...)
			}
			return nil
		},
		func() { p.Spec.Groups = append(p.Spec.Groups, current) },
	)
}

func (p *ScriptParser) parseSwitchConfig() error {
	var current model.SwitchSpec
	return p.block(
		func(name string) error {
			id, err := strconv.ParseUint(name, 10, 64)
			if err != nil {
				return fmt.Errorf("switch id %q is not a number", name)
			}
			current = model.SwitchSpec{ID: model.SwitchID(id)}
			return nil
		},
		func(key string, args []string) error {
			switch key {
			case "name":
				current.Name = args[0]
			case "kind":
				current.Kind = model.SwitchKind(args[0])
			case "default-port":
				port, err := parsePort(args[0])
				if err != nil {
					return err
				}
				current.DefaultPort = port
			case "route":
				// set route "faculty" 2
				if len(args) != 2 {
					return fmt.Errorf("expected destination and port")
				}
				port, err := parsePort(args[1])
				if err != nil {
					return err
				}
				current.Entries = append(current.Entries, model.ForwardingEntry{Destination: args[0], Port: port})
			}
			return nil
		},
		func() { p.Spec.Switches = append(p.Spec.Switches, current) },
	)
}

func (p *ScriptParser) parsePolicyConfig() error {
	var current model.RuleSpec
	prioritySet := false
	return p.block(
		func(name string) error {
			current = model.RuleSpec{ID: name}
			prioritySet = false
			return nil
		},
		func(key string, args []string) error {
			switch key {
			case "comments", "description":
				current.Description = strings.Join(args, " ")
			case "priority":
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return err
				}
				current.Priority = n
				prioritySet = true
			case "stage":
				current.Stage = model.Stage(args[0])
			case "protocol":
				current.Protocol = model.Protocol(args[0])
			case "srcaddr":
				current.SrcAddrs = append(current.SrcAddrs, args...)
			case "dstaddr":
				current.DstAddrs = append(current.DstAddrs, args...)
			case "srcsubnet":
				current.SrcSubnets = append(current.SrcSubnets, args...)
			case "dstsubnet":
				current.DstSubnets = append(current.DstSubnets, args...)
			case "service":
				current.Services = append(current.Services, args...)
			case "same-subnet":
				current.SameSubnet = args[0] == "enable"
			case "bidirectional":
				current.Bidirectional = args[0] == "enable"
			case "action":
				current.Action = model.Verdict(args[0])
			case "status":
				current.Disabled = args[0] == "disable"
			}
			return nil
		},
		func() {
			if !prioritySet {
				// Unnumbered rules keep file order.
				current.Priority = (len(p.Spec.Rules) + 1) * 10
			}
			p.Spec.Rules = append(p.Spec.Rules, current)
		},
	)
}

func parsePort(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint32(n), nil
}

// splitArgs rejoins the fields after "set <key>" and splits them on quoted
// boundaries, so `"My Host" "other"` gives two arguments.
func splitArgs(parts []string) []string {
	raw := strings.TrimSpace(strings.Join(parts, " "))
	if !strings.HasPrefix(raw, `"`) {
		return parts
	}
	args := strings.Split(raw, `" "`)
	for i, arg := range args {
		args[i] = unquote(arg)
	}
	return args
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}
