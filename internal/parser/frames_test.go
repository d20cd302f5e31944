package parser

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"campus-sdn-controller/internal/model"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x04, 0x01}
	dstMAC = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x03, 0x14}
)

func serialize(t *testing.T, l ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, l...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func ipv4Frame(t *testing.T, proto layers.IPProtocol, transport ...gopacket.SerializableLayer) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.IP{169, 233, 4, 1},
		DstIP:    net.IP{169, 233, 3, 20},
	}
	for _, l := range transport {
		switch tl := l.(type) {
		case *layers.TCP:
			tl.SetNetworkLayerForChecksum(ip)
		case *layers.UDP:
			tl.SetNetworkLayerForChecksum(ip)
		}
	}
	return serialize(t, append([]gopacket.SerializableLayer{eth, ip}, transport...)...)
}

func TestDecodeFrameTCP(t *testing.T) {
	frame := ipv4Frame(t, layers.IPProtocolTCP,
		&layers.TCP{SrcPort: 40000, DstPort: 631, SYN: true, Window: 1024},
		gopacket.Payload([]byte("job")))

	obs := DecodeFrame(frame, 2, 5, 11)
	if !obs.Complete {
		t.Fatalf("expected complete observation")
	}
	h := obs.Headers
	if !h.IPv4 || h.Protocol != model.TCP || h.IPProto != 6 || h.EthType != 0x0800 {
		t.Errorf("unexpected headers %+v", h)
	}
	if h.SrcIP.String() != "169.233.4.1" || h.DstIP.String() != "169.233.3.20" {
		t.Errorf("unexpected addresses %s -> %s", h.SrcIP, h.DstIP)
	}
	if len(h.SrcIP) != 4 {
		t.Errorf("expected 4-byte addresses, got %d bytes", len(h.SrcIP))
	}
	if h.SrcPort != 40000 || h.DstPort != 631 {
		t.Errorf("unexpected ports %d -> %d", h.SrcPort, h.DstPort)
	}
	if obs.SwitchID != 2 || obs.InPort != 5 || obs.Packet.BufferID != 11 || !bytes.Equal(obs.Packet.Data, frame) {
		t.Errorf("unexpected packet-in fields %+v", obs)
	}
}

func TestDecodeFrameUDPAndICMP(t *testing.T) {
	udp := DecodeFrame(ipv4Frame(t, layers.IPProtocolUDP, &layers.UDP{SrcPort: 5353, DstPort: 53}), 1, 1, model.NoBuffer)
	if !udp.Complete || udp.Headers.Protocol != model.UDP || udp.Headers.DstPort != 53 {
		t.Errorf("unexpected UDP observation %+v", udp.Headers)
	}

	icmp := DecodeFrame(ipv4Frame(t, layers.IPProtocolICMPv4,
		&layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}), 1, 1, model.NoBuffer)
	if !icmp.Complete || icmp.Headers.Protocol != model.ICMP {
		t.Fatalf("unexpected ICMP observation %+v", icmp.Headers)
	}
	if icmp.Headers.ICMPType != 8 || icmp.Headers.ICMPCode != 0 {
		t.Errorf("expected echo request type/code, got %d/%d", icmp.Headers.ICMPType, icmp.Headers.ICMPCode)
	}
	if icmp.Headers.SrcPort != 0 || icmp.Headers.DstPort != 0 {
		t.Errorf("ICMP should carry no ports, got %+v", icmp.Headers)
	}
}

func TestDecodeFrameOtherIPProtocol(t *testing.T) {
	frame := ipv4Frame(t, layers.IPProtocol(89), gopacket.Payload([]byte{1, 2, 3, 4}))

	obs := DecodeFrame(frame, 1, 1, model.NoBuffer)
	if !obs.Complete || obs.Headers.Protocol != model.IP || obs.Headers.IPProto != 89 {
		t.Errorf("expected complete generic IP observation, got %+v", obs.Headers)
	}
}

func TestDecodeFrameARP(t *testing.T) {
	frame := serialize(t,
		&layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   srcMAC,
			SourceProtAddress: []byte{169, 233, 4, 1},
			DstHwAddress:      make([]byte, 6),
			DstProtAddress:    []byte{169, 233, 4, 2},
		})

	obs := DecodeFrame(frame, 3, 5, 1)
	if !obs.Complete || !obs.Headers.ARP || obs.Headers.Protocol != model.ARP || obs.Headers.EthType != 0x0806 {
		t.Errorf("unexpected ARP observation %+v", obs.Headers)
	}
}

func TestDecodeFrameNonIP(t *testing.T) {
	frame := serialize(t,
		&layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetType(0x88b5)},
		gopacket.Payload(make([]byte, 46)))

	obs := DecodeFrame(frame, 1, 1, model.NoBuffer)
	if !obs.Complete || obs.Headers.IPv4 || obs.Headers.ARP || obs.Headers.EthType != 0x88b5 {
		t.Errorf("expected complete non-IP observation, got %+v", obs.Headers)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	frame := ipv4Frame(t, layers.IPProtocolTCP, &layers.TCP{SrcPort: 1, DstPort: 2, Window: 1})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short ethernet", frame[:10]},
		{"ip header cut", frame[:14+12]},
		{"tcp header cut", frame[:14+20+8]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if obs := DecodeFrame(tt.data, 1, 1, model.NoBuffer); obs.Complete {
				t.Errorf("expected incomplete observation, got %+v", obs.Headers)
			}
		})
	}
}

func TestReadPcap(t *testing.T) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("write header: %v", err)
	}
	frames := [][]byte{
		ipv4Frame(t, layers.IPProtocolTCP, &layers.TCP{SrcPort: 40000, DstPort: 80, Window: 1}),
		ipv4Frame(t, layers.IPProtocolUDP, &layers.UDP{SrcPort: 40000, DstPort: 53}),
		ipv4Frame(t, layers.IPProtocolICMPv4, &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}),
	}
	for _, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0), CaptureLength: len(f), Length: len(f)}
		if err := w.WritePacket(ci, f); err != nil {
			t.Fatalf("write packet: %v", err)
		}
	}

	var got []model.Protocol
	err := ReadPcap(bytes.NewReader(buf.Bytes()), 3, 5, func(obs *model.Observation) bool {
		if obs.SwitchID != 3 || obs.InPort != 5 || obs.Packet.BufferID != model.NoBuffer {
			t.Errorf("unexpected packet-in fields %+v", obs)
		}
		got = append(got, obs.Headers.Protocol)
		return true
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []model.Protocol{model.TCP, model.UDP, model.ICMP}
	if len(got) != len(want) {
		t.Fatalf("expected %d observations, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observation %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	count := 0
	if err := ReadPcap(bytes.NewReader(buf.Bytes()), 3, 5, func(*model.Observation) bool {
		count++
		return false
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected emit to stop after the first frame, got %d", count)
	}
}

func TestReadPcapRejectsGarbage(t *testing.T) {
	if err := ReadPcap(bytes.NewReader([]byte("not a pcap file")), 1, 1, func(*model.Observation) bool { return true }); err == nil {
		t.Fatalf("expected error for invalid pcap header")
	}
}
