package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/ipv4"

	"bmcdhcp/dhcp"
)

// Listener is the socket the server reads requests from.
type Listener interface {
	// ReadPacket reads one datagram. ifIndex is the receiving interface,
	// or 0 when unknown.
	ReadPacket(b []byte) (n int, ifIndex int, src net.Addr, err error)
	WriteTo(b []byte, dst net.Addr) (int, error)
	Close() error
}

// Sender delivers a built reply to the client.
type Sender interface {
	Send(resp *dhcp.ResponseMessage, payload []byte) error
	Close() error
}

type udpListener struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
}

// Listen binds a broadcast capable udp socket on addr:port and asks the
// kernel for the receiving interface of every datagram.
func Listen(ctx context.Context, addr string, port int) (Listener, error) {
	lc := net.ListenConfig{Control: setSocketOptions}
	pc, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to create server udp listener on %s:%d: %w", addr, port, err)
	}

	conn := pc.(*net.UDPConn)
	p := ipv4.NewPacketConn(conn)
	if err := p.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		slog.Warn("Interface control messages unavailable, accepting packets from every interface", "error", err)
	}

	return &udpListener{conn: conn, pc: p}, nil
}

func (l *udpListener) ReadPacket(b []byte) (int, int, net.Addr, error) {
	n, cm, src, err := l.pc.ReadFrom(b)
	ifIndex := 0
	if cm != nil {
		ifIndex = cm.IfIndex
	}
	return n, ifIndex, src, err
}

func (l *udpListener) WriteTo(b []byte, dst net.Addr) (int, error) {
	return l.conn.WriteTo(b, dst)
}

func (l *udpListener) Close() error {
	return l.pc.Close()
}

type packetListener struct {
	net.PacketConn
}

// NewPacketListener adapts a plain net.PacketConn. It never reports the
// receiving interface.
func NewPacketListener(conn net.PacketConn) Listener {
	return packetListener{conn}
}

func (l packetListener) ReadPacket(b []byte) (int, int, net.Addr, error) {
	n, src, err := l.ReadFrom(b)
	return n, 0, src, err
}

type udpSender struct {
	conn Listener
	dst  *net.UDPAddr
}

// NewUDPSender broadcasts replies to clientPort through the listening socket.
func NewUDPSender(conn Listener, clientPort int) Sender {
	return &udpSender{
		conn: conn,
		dst:  &net.UDPAddr{IP: net.IPv4bcast, Port: clientPort},
	}
}

func (u *udpSender) Send(_ *dhcp.ResponseMessage, payload []byte) error {
	if _, err := u.conn.WriteTo(payload, u.dst); err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}
	return nil
}

// Close is a no-op: the socket belongs to the server.
func (u *udpSender) Close() error {
	return nil
}

// frameWriter is the part of *pcap.Handle the raw sender needs.
type frameWriter interface {
	WritePacketData(data []byte) error
	Close()
}

type pcapSender struct {
	handle    frameWriter
	serverIP  net.IP
	serverMAC net.HardwareAddr
	port      int
}

// OpenPcapSender writes replies as raw Ethernet frames on ifaceName.
func OpenPcapSender(ifaceName string, serverIP net.IP, serverMAC net.HardwareAddr, clientPort int) (Sender, error) {
	if len(serverMAC) == 0 {
		return nil, fmt.Errorf("interface %s has no hardware address for pcap frames", ifaceName)
	}
	handle, err := pcap.OpenLive(ifaceName, 1500, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("could not open pcap device: %w", err)
	}
	return newPcapSender(handle, serverIP, serverMAC, clientPort), nil
}

func newPcapSender(handle frameWriter, serverIP net.IP, serverMAC net.HardwareAddr, clientPort int) *pcapSender {
	return &pcapSender{
		handle:    handle,
		serverIP:  serverIP,
		serverMAC: serverMAC,
		port:      clientPort,
	}
}

func (p *pcapSender) Send(_ *dhcp.ResponseMessage, payload []byte) error {
	frame, err := p.buildStdPacket(net.IPv4bcast, layers.EthernetBroadcast, payload)
	if err != nil {
		return err
	}
	if err := p.handle.WritePacketData(frame); err != nil {
		return fmt.Errorf("failed to send packet: %w", err)
	}
	return nil
}

func (p *pcapSender) Close() error {
	p.handle.Close()
	return nil
}

func (p *pcapSender) buildStdPacket(dstIP net.IP, dstMAC net.HardwareAddr, payload []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()

	ethernetLayer := &layers.Ethernet{
		SrcMAC:       p.serverMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ipLayer := &layers.IPv4{
		Version:  4,
		TTL:      64,
		SrcIP:    p.serverIP,
		DstIP:    dstIP,
		Protocol: layers.IPProtocolUDP,
	}
	udpLayer := &layers.UDP{
		SrcPort: layers.UDPPort(dhcp.ServerPort),
		DstPort: layers.UDPPort(p.port),
	}
	udpLayer.SetNetworkLayerForChecksum(ipLayer)

	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ethernetLayer, ipLayer, udpLayer, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("error serializing packet: %w", err)
	}
	return buf.Bytes(), nil
}
