package parser

import (
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"campus-sdn-controller/internal/model"
)

var decodeOptions = gopacket.DecodeOptions{Lazy: false, NoCopy: true}

// DecodeFrame turns a raw Ethernet frame from a packet-in into an
// observation. Frames that fail to decode, or whose transport header is cut
// short, come back with Complete unset.
func DecodeFrame(data []byte, sw model.SwitchID, inPort, bufferID uint32) *model.Observation {
	obs := &model.Observation{
		SwitchID: sw,
		InPort:   inPort,
		Packet:   model.BufferedPacket{BufferID: bufferID, Data: data},
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, decodeOptions)
	eth, ok := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return obs
	}
	h := &obs.Headers
	h.EthType = uint16(eth.EthernetType)
	if vlan, ok := packet.Layer(layers.LayerTypeDot1Q).(*layers.Dot1Q); ok {
		h.EthType = uint16(vlan.Type)
	}

	switch layers.EthernetType(h.EthType) {
	case layers.EthernetTypeARP, layers.EthernetTypeIPv4, layers.EthernetTypeDot1Q:
	default:
		// Payloads gopacket has no decoder for still make a usable non-IP
		// observation.
		obs.Complete = true
		return obs
	}

	if _, ok := packet.Layer(layers.LayerTypeARP).(*layers.ARP); ok {
		h.ARP = true
		h.Protocol = model.ARP
		obs.Complete = true
		return obs
	}

	ip, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return obs
	}
	h.IPv4 = true
	h.IPProto = uint8(ip.Protocol)
	h.SrcIP = append(net.IP(nil), ip.SrcIP.To4()...)
	h.DstIP = append(net.IP(nil), ip.DstIP.To4()...)

	switch ip.Protocol {
	case layers.IPProtocolTCP:
		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok {
			return obs
		}
		h.Protocol = model.TCP
		h.SrcPort, h.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
	case layers.IPProtocolUDP:
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			return obs
		}
		h.Protocol = model.UDP
		h.SrcPort, h.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
	case layers.IPProtocolICMPv4:
		icmp, ok := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
		if !ok {
			return obs
		}
		h.Protocol = model.ICMP
		h.ICMPType, h.ICMPCode = icmp.TypeCode.Type(), icmp.TypeCode.Code()
	default:
		h.Protocol = model.IP
	}

	obs.Complete = true
	return obs
}

// ReadPcap decodes every frame of an Ethernet pcap capture as if it arrived
// on sw/inPort, calling emit until the file ends or emit returns false.
func ReadPcap(r io.Reader, sw model.SwitchID, inPort uint32, emit func(*model.Observation) bool) error {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("open pcap: %w", err)
	}
	if reader.LinkType() != layers.LinkTypeEthernet {
		return fmt.Errorf("unsupported pcap link type %s", reader.LinkType())
	}

	for n := 1; ; n++ {
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read packet %d: %w", n, err)
		}
		obs := DecodeFrame(data, sw, inPort, model.NoBuffer)
		if !emit(obs) {
			return nil
		}
	}
}
