// Package wellknown maps service names to transport ports and back, from an
// embedded registry of well-known ports.
package wellknown

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	_ "embed"

	"campus-sdn-controller/internal/model"
)

//go:embed well_known_ports.csv
var wellKnownPortsData string

type ServiceEntry struct {
	Protocol model.Protocol
	Port     int
}

// Registry indexes services by upper-cased name and by transport port.
type Registry struct {
	services map[string][]ServiceEntry
	labels   map[ServiceEntry]string
}

// aliases are extra names registered alongside a service.
var aliases = map[string]string{"domain": "DNS"}

var defaultRegistry = mustParse(wellKnownPortsData)

func mustParse(data string) *Registry {
	r, err := ParseRegistry(strings.NewReader(data))
	if err != nil {
		panic(fmt.Sprintf("embedded well_known_ports.csv: %v", err))
	}
	return r
}

// ParseRegistry reads "port,tcp,udp" rows. An empty or N/A name means the
// port is not registered for that transport; rows with a non-numeric port
// are skipped.
func ParseRegistry(r io.Reader) (*Registry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	reg := &Registry{
		services: make(map[string][]ServiceEntry),
		labels:   make(map[ServiceEntry]string),
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return reg, nil
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 3 {
			continue
		}
		port, err := strconv.Atoi(record[0])
		if err != nil {
			continue
		}
		reg.add(strings.TrimSpace(record[1]), model.TCP, port)
		reg.add(strings.TrimSpace(record[2]), model.UDP, port)
	}
}

func (r *Registry) add(name string, proto model.Protocol, port int) {
	if name == "" || name == "N/A" {
		return
	}
	entry := ServiceEntry{Protocol: proto, Port: port}
	for _, key := range []string{strings.ToUpper(name), aliases[name]} {
		if key != "" {
			r.services[key] = append(r.services[key], entry)
		}
	}
	if _, ok := r.labels[entry]; !ok {
		r.labels[entry] = name
	}
}

// Lookup returns the transport entries registered under name, ignoring case.
func (r *Registry) Lookup(name string) ([]ServiceEntry, bool) {
	entries, ok := r.services[strings.ToUpper(name)]
	return entries, ok
}

// Label returns the registered service name for a transport port, or
// "<port>/<proto>" when the port is not well known. Other protocols are
// labelled by their own name.
func (r *Registry) Label(proto model.Protocol, port int) string {
	if proto != model.TCP && proto != model.UDP {
		return string(proto)
	}
	if name, ok := r.labels[ServiceEntry{Protocol: proto, Port: port}]; ok {
		return name
	}
	return strconv.Itoa(port) + "/" + string(proto)
}

// GetService looks name up in the embedded registry.
func GetService(name string) ([]ServiceEntry, bool) {
	return defaultRegistry.Lookup(name)
}

// Label labels a transport port from the embedded registry.
func Label(proto model.Protocol, port int) string {
	return defaultRegistry.Label(proto, port)
}
