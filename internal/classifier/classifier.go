// Package classifier maps IPv4 addresses to subnet identities.
package classifier

import (
	"net"

	"campus-sdn-controller/internal/model"
	"campus-sdn-controller/internal/utils"
)

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	exact map[string]struct{}
}

// New builds a classifier whose exact set contains the given single-host
// externals. Entries that are not IPv4 addresses are ignored.
func New(exactHosts []string) *Classifier {
	c := &Classifier{exact: make(map[string]struct{}, len(exactHosts))}
	for _, h := range exactHosts {
		if ip, ok := utils.ParseIPv4(h); ok {
			c.exact[ip.String()] = struct{}{}
		}
	}
	return c
}

// Classify returns addr itself for exact-set members, the /24 prefix for
// every other IPv4 address, and UnknownSubnet when addr is not four octets.
func (c *Classifier) Classify(addr string) model.SubnetID {
	ip, ok := utils.ParseIPv4(addr)
	if !ok {
		return model.UnknownSubnet
	}
	return c.classify(ip)
}

// ClassifyIP is Classify for decoded header addresses.
func (c *Classifier) ClassifyIP(ip net.IP) model.SubnetID {
	v4 := ip.To4()
	if v4 == nil {
		return model.UnknownSubnet
	}
	return c.classify(v4)
}

func (c *Classifier) classify(ip net.IP) model.SubnetID {
	s := ip.String()
	if _, ok := c.exact[s]; ok {
		return model.SubnetID(s)
	}
	return model.SubnetID(utils.Prefix24(ip))
}

// ExactHosts returns the number of exact-set entries.
func (c *Classifier) ExactHosts() int {
	return len(c.exact)
}
