package wellknown

import (
	"strings"
	"testing"

	"campus-sdn-controller/internal/model"
)

func TestGetServiceReturnsDNSAliases(t *testing.T) {
	entries, ok := GetService("dns")
	if !ok {
		t.Fatalf("expected dns to be present in well-known service registry")
	}
	if !containsPort(entries, 53, model.TCP) || !containsPort(entries, 53, model.UDP) {
		t.Fatalf("expected DNS to include port 53 over tcp and udp, got %#v", entries)
	}
}

func TestGetServiceIsCaseInsensitive(t *testing.T) {
	entries, ok := GetService("HTTP")
	if !ok || !containsPort(entries, 80, model.TCP) {
		t.Fatalf("expected HTTP to resolve to 80/tcp, got %#v", entries)
	}
}

func TestGetServiceReturnsFalseForUnknown(t *testing.T) {
	_, ok := GetService("definitely-not-a-service")
	if ok {
		t.Fatalf("expected unknown service to return ok=false")
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		proto model.Protocol
		port  int
		want  string
	}{
		{model.TCP, 22, "ssh"},
		{model.UDP, 53, "domain"},
		{model.TCP, 12345, "12345/tcp"},
		{model.UDP, 80, "80/udp"},
		{model.ICMP, 0, "icmp"},
	}
	for _, tt := range tests {
		if got := Label(tt.proto, tt.port); got != tt.want {
			t.Errorf("Label(%s, %d) = %q, want %q", tt.proto, tt.port, got, tt.want)
		}
	}
}

func TestParseRegistry(t *testing.T) {
	reg, err := ParseRegistry(strings.NewReader("port,tcp,udp\n53,domain,domain\nx,bad,bad\n8080,N/A,\n9000,alt\n"))
	if err != nil {
		t.Fatalf("expected registry to parse, got %v", err)
	}
	if entries, ok := reg.Lookup("dns"); !ok || len(entries) != 2 {
		t.Errorf("expected DNS alias for both transports, got %#v", entries)
	}
	if got := reg.Label(model.TCP, 8080); got != "8080/tcp" {
		t.Errorf("expected N/A to stay unregistered, got %q", got)
	}
	if _, ok := reg.Lookup("bad"); ok {
		t.Errorf("expected rows with a non-numeric port to be skipped")
	}
	if _, ok := reg.Lookup("alt"); ok {
		t.Errorf("expected short rows to be skipped")
	}

	if _, err := ParseRegistry(strings.NewReader("")); err == nil {
		t.Errorf("expected error for missing header")
	}
}

func containsPort(entries []ServiceEntry, port int, protocol model.Protocol) bool {
	for _, entry := range entries {
		if entry.Port == port && entry.Protocol == protocol {
			return true
		}
	}
	return false
}
