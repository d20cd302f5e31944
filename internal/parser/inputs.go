package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"campus-sdn-controller/internal/model"
	"campus-sdn-controller/internal/utils"
)

// Trace columns. switch, protocol, src and dst are required.
const (
	colSwitch   = "switch"
	colInPort   = "in_port"
	colProtocol = "protocol"
	colSrc      = "src"
	colDst      = "dst"
	colSrcPort  = "src_port"
	colDstPort  = "dst_port"
	colBufferID = "buffer_id"
)

var ipProtocols = map[model.Protocol]uint8{
	model.ICMP: 1,
	model.TCP:  6,
	model.UDP:  17,
}

// TraceEntry is one row of an observation trace. Src and Dst may be whole
// networks; Observations expands them.
type TraceEntry struct {
	Line     int
	SwitchID model.SwitchID
	InPort   uint32
	Protocol model.Protocol
	Src      *net.IPNet
	Dst      *net.IPNet
	SrcPort  uint16
	DstPort  uint16
	BufferID uint32
	Metadata map[string]string
}

// ParseTrace reads a CSV observation trace. Columns are matched by header
// name, case-insensitively; unknown columns are kept as metadata.
func ParseTrace(r io.Reader) ([]TraceEntry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("could not read header: %w", err)
	}

	colMap := make(map[string]int)
	for i, colName := range header {
		colMap[strings.ToLower(strings.TrimSpace(colName))] = i
	}
	for _, required := range []string{colSwitch, colProtocol, colSrc, colDst} {
		if _, ok := colMap[required]; !ok {
			return nil, fmt.Errorf("could not find '%s' column in trace file", required)
		}
	}

	var entries []TraceEntry
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)

		entry, err := parseTraceRecord(record, colMap)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entry.Line = line
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseTraceRecord(record []string, colMap map[string]int) (TraceEntry, error) {
	field := func(name string) string {
		if i, ok := colMap[name]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	entry := TraceEntry{BufferID: model.NoBuffer}

	sw, err := strconv.ParseUint(field(colSwitch), 10, 64)
	if err != nil {
		return entry, fmt.Errorf("invalid switch %q", field(colSwitch))
	}
	entry.SwitchID = model.SwitchID(sw)

	if v := field(colInPort); v != "" {
		port, err := parsePort(v)
		if err != nil {
			return entry, err
		}
		entry.InPort = port
	}

	entry.Protocol, err = model.ParseProtocol(field(colProtocol))
	if err != nil {
		return entry, err
	}
	if entry.Protocol == model.Any {
		return entry, fmt.Errorf("trace protocol must be concrete, got %q", field(colProtocol))
	}

	if entry.Protocol != model.ARP {
		if entry.Src, err = parseNetwork(field(colSrc)); err != nil {
			return entry, err
		}
		if entry.Dst, err = parseNetwork(field(colDst)); err != nil {
			return entry, err
		}
	}

	if entry.SrcPort, err = parseL4Port(field(colSrcPort)); err != nil {
		return entry, err
	}
	if entry.DstPort, err = parseL4Port(field(colDstPort)); err != nil {
		return entry, err
	}

	if v := field(colBufferID); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return entry, fmt.Errorf("invalid buffer id %q", v)
		}
		entry.BufferID = uint32(id)
	}

	for colName, index := range colMap {
		switch colName {
		case colSwitch, colInPort, colProtocol, colSrc, colDst, colSrcPort, colDstPort, colBufferID:
			continue
		}
		if index < len(record) {
			if entry.Metadata == nil {
				entry.Metadata = make(map[string]string)
			}
			entry.Metadata[colName] = record[index]
		}
	}
	return entry, nil
}

// parseNetwork accepts an IPv4 CIDR or a single address (as /32).
func parseNetwork(s string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(s)
	if err == nil {
		if ipnet.IP.To4() == nil {
			return nil, fmt.Errorf("only IPv4 is supported, got %q", s)
		}
		return ipnet, nil
	}
	ip, ok := utils.ParseIPv4(s)
	if !ok {
		return nil, fmt.Errorf("invalid address %q", s)
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}, nil
}

func parseL4Port(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(n), nil
}

// Count is the number of observations Observations yields for the same
// arguments.
func (e *TraceEntry) Count(expand bool, maxHosts uint64) uint64 {
	if e.Protocol == model.ARP || !expand {
		return 1
	}
	return hostCount(e.Src, maxHosts) * hostCount(e.Dst, maxHosts)
}

// Observations calls emit for every observation the entry describes. With
// expand set, every host pair is produced for networks of at most maxHosts
// addresses (DefaultMaxHosts when 0); larger networks, and every network in
// sample mode, contribute only their first host. emit returns false to stop
// early.
func (e *TraceEntry) Observations(expand bool, maxHosts uint64, emit func(*model.Observation) bool) {
	if e.Protocol == model.ARP {
		emit(e.observation(nil, nil))
		return
	}
	if !expand {
		emit(e.observation(firstHost(e.Src), firstHost(e.Dst)))
		return
	}

	srcs := hosts(e.Src, maxHosts)
	dsts := hosts(e.Dst, maxHosts)
	for _, src := range srcs {
		for _, dst := range dsts {
			if !emit(e.observation(src, dst)) {
				return
			}
		}
	}
}

func (e *TraceEntry) observation(src, dst net.IP) *model.Observation {
	return BuildObservation(e.SwitchID, e.InPort, e.Protocol, src, dst, e.SrcPort, e.DstPort, e.BufferID)
}

// BuildObservation assembles a complete observation from already-decoded
// header fields.
func BuildObservation(sw model.SwitchID, inPort uint32, proto model.Protocol, src, dst net.IP, sport, dport uint16, bufferID uint32) *model.Observation {
	h := model.Headers{Protocol: proto}
	if proto == model.ARP {
		h.ARP = true
		h.EthType = 0x0806
	} else {
		h.IPv4 = true
		h.EthType = 0x0800
		h.IPProto = ipProtocols[proto]
		h.SrcIP = src
		h.DstIP = dst
		if proto == model.TCP || proto == model.UDP {
			h.SrcPort, h.DstPort = sport, dport
		}
	}
	return &model.Observation{
		SwitchID: sw,
		InPort:   inPort,
		Headers:  h,
		Packet:   model.BufferedPacket{BufferID: bufferID},
		Complete: true,
	}
}

// DefaultMaxHosts bounds expansion when no max-hosts limit is given.
const DefaultMaxHosts = 65536

// firstHost skips the network address of anything wider than a /31.
func firstHost(n *net.IPNet) net.IP {
	ip := make(net.IP, 4)
	copy(ip, n.IP.To4())
	if utils.CIDRSize(n) > 2 {
		utils.Inc(ip)
	}
	return ip
}

// hostCount is the number of addresses hosts yields. Networks wider than a
// /31 lose their network and broadcast addresses; networks of more than max
// addresses count as their first host only.
func hostCount(n *net.IPNet, max uint64) uint64 {
	if max == 0 {
		max = DefaultMaxHosts
	}
	size := utils.CIDRSize(n)
	switch {
	case size > max:
		return 1
	case size > 2:
		return size - 2
	default:
		return size
	}
}

func hosts(n *net.IPNet, max uint64) []net.IP {
	size := hostCount(n, max)
	if size == 1 {
		return []net.IP{firstHost(n)}
	}
	out := make([]net.IP, 0, size)
	ip := firstHost(n)
	for i := uint64(0); i < size; i++ {
		ipCopy := make(net.IP, 4)
		copy(ipCopy, ip)
		out = append(out, ipCopy)
		utils.Inc(ip)
	}
	return out
}
