package utils

import (
	"net"
	"strconv"
	"strings"
)

// ParseIPv4 parses a dotted-quad address. Anything that is not exactly
// four decimal octets is rejected.
func ParseIPv4(s string) (net.IP, bool) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 4 {
		return nil, false
	}
	ip := make(net.IP, 4)
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return nil, false
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return nil, false
		}
		ip[i] = byte(v)
	}
	return ip, true
}

// Prefix24 returns the first three octets of ip followed by ".0".
func Prefix24(ip net.IP) string {
	v4 := ip.To4()
	if v4 == nil {
		return ""
	}
	return net.IPv4(v4[0], v4[1], v4[2], 0).String()
}

// Inc increments an IP address.
func Inc(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

// CIDRSize returns the number of addresses in a CIDR network.
func CIDRSize(cidr *net.IPNet) uint64 {
	ones, bits := cidr.Mask.Size()
	return 1 << (bits - ones)
}
