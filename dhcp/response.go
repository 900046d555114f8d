package dhcp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"bmcdhcp/options"
)

// ResponseMessage is a reply under construction. Options holds every option
// except the message type, which Build derives from Type.
type ResponseMessage struct {
	Type         MessageType
	Xid          uint32
	Flags        uint16
	OfferedIP    net.IP
	ServerIP     net.IP
	HardwareAddr net.HardwareAddr
	Options      *options.Set
}

// NewResponse starts a reply to req.
func NewResponse(req *RequestMessage, msgType MessageType, offeredIP, serverIP net.IP) *ResponseMessage {
	return &ResponseMessage{
		Type:         msgType,
		Xid:          req.Xid,
		Flags:        req.Flags | broadcastFlag,
		OfferedIP:    offeredIP,
		ServerIP:     serverIP,
		HardwareAddr: append(net.HardwareAddr(nil), req.HardwareAddr...),
		Options:      options.NewSet(),
	}
}

func (r *ResponseMessage) Clone() *ResponseMessage {
	c := *r
	c.OfferedIP = append(net.IP(nil), r.OfferedIP...)
	c.ServerIP = append(net.IP(nil), r.ServerIP...)
	c.HardwareAddr = append(net.HardwareAddr(nil), r.HardwareAddr...)
	if r.Options != nil {
		c.Options = r.Options.Clone()
	}
	return &c
}

// AsAck returns a copy of the reply retyped as a DHCPACK.
func (r *ResponseMessage) AsAck() *ResponseMessage {
	ack := r.Clone()
	ack.Type = MessageAck
	return ack
}

func (r *ResponseMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", r.Type.String()),
		slog.String("xid", fmt.Sprintf("%#08x", r.Xid)),
		slog.String("mac", r.HardwareAddr.String()),
		slog.String("yiaddr", r.OfferedIP.String()),
	)
}

// Build serializes resp as a BOOTREPLY. An option that cannot be encoded
// fails the whole build with an *options.EncodingError naming it.
func (c *Codec) Build(resp *ResponseMessage) ([]byte, error) {
	switch resp.Type {
	case MessageOffer, MessageAck, MessageNak:
	default:
		return nil, fmt.Errorf("cannot build a dhcp %s reply", resp.Type)
	}
	if len(resp.HardwareAddr) == 0 || len(resp.HardwareAddr) > 16 {
		return nil, fmt.Errorf("invalid hardware address length %d", len(resp.HardwareAddr))
	}
	offered := resp.OfferedIP.To4()
	if offered == nil {
		return nil, fmt.Errorf("offered address %v is not ipv4", resp.OfferedIP)
	}
	server := net.IPv4zero.To4()
	if resp.ServerIP != nil {
		if server = resp.ServerIP.To4(); server == nil {
			return nil, fmt.Errorf("server address %v is not ipv4", resp.ServerIP)
		}
	}

	dhcpOptions, err := c.encodeOptions(resp)
	if err != nil {
		return nil, err
	}

	layer := &layers.DHCPv4{
		Operation:    layers.DHCPOpReply,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  uint8(len(resp.HardwareAddr)),
		Xid:          resp.Xid,
		Flags:        resp.Flags,
		ClientIP:     net.IPv4zero.To4(),
		YourClientIP: offered,
		NextServerIP: server,
		RelayAgentIP: net.IPv4zero.To4(),
		ClientHWAddr: resp.HardwareAddr,
		Options:      dhcpOptions,
	}

	buf := gopacket.NewSerializeBuffer()
	if err := layer.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}); err != nil {
		return nil, fmt.Errorf("failed to serialize dhcp reply: %w", err)
	}

	out := buf.Bytes()
	if len(out) < minReplyLen {
		out = append(out, make([]byte, minReplyLen-len(out))...)
	}
	return out, nil
}

func (c *Codec) encodeOptions(resp *ResponseMessage) (layers.DHCPOptions, error) {
	dhcpOptions := layers.DHCPOptions{
		layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(resp.Type)}),
	}

	var failed error
	resp.Options.Each(func(name string, v options.Value) {
		if failed != nil || name == options.MessageType {
			return
		}
		code, data, err := c.registry.Encode(name, v)
		if err != nil {
			failed = asEncodingError(name, err)
			return
		}
		dhcpOptions = append(dhcpOptions, layers.NewDHCPOption(code, data))
	})
	if failed != nil {
		return nil, failed
	}

	return dhcpOptions, nil
}

func asEncodingError(name string, err error) error {
	var encErr *options.EncodingError
	if errors.As(err, &encErr) {
		return encErr
	}
	return &options.EncodingError{Option: name, Err: err}
}
