package dhcp

import (
	"bytes"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"bmcdhcp/options"
)

// RequestMessage is a parsed client datagram. It is read-only once Parse
// returns it.
type RequestMessage struct {
	Type         MessageType
	Xid          uint32
	Secs         uint16
	Flags        uint16
	HardwareType layers.LinkType
	HardwareAddr net.HardwareAddr
	ClientIP     net.IP
	GatewayIP    net.IP
	Options      *Options
}

func (r *RequestMessage) IsBroadcast() bool {
	return r.Flags&broadcastFlag != 0
}

// Value decodes the option called name with reg.
func (r *RequestMessage) Value(reg *options.Registry, name string) (options.Value, bool) {
	def, ok := reg.LookupName(name)
	if !ok {
		return options.Value{}, false
	}
	raw, ok := r.Options.Get(def.Code)
	if !ok {
		return options.Value{}, false
	}
	return reg.DecodeLenient(def.Code, raw), true
}

func (r *RequestMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", r.Type.String()),
		slog.String("xid", fmt.Sprintf("%#08x", r.Xid)),
		slog.String("mac", r.HardwareAddr.String()),
	)
}

// Codec parses requests and builds replies, using a registry for the
// option area.
type Codec struct {
	registry *options.Registry
}

func NewCodec(registry *options.Registry) *Codec {
	return &Codec{registry: registry}
}

func (c *Codec) Registry() *options.Registry {
	return c.registry
}

// Parse decodes a BOOTREQUEST datagram. Damaged options are skipped; only a
// short packet, a bad cookie or a bad fixed header fails the parse.
func (c *Codec) Parse(data []byte) (*RequestMessage, error) {
	if len(data) < headerLen+len(magicCookie) {
		return nil, &MalformedPacketError{Reason: fmt.Sprintf("length %d is shorter than the %d byte header", len(data), headerLen+len(magicCookie))}
	}
	if !bytes.Equal(data[headerLen:headerLen+len(magicCookie)], magicCookie) {
		return nil, &MalformedPacketError{Reason: fmt.Sprintf("bad magic cookie %x", data[headerLen:headerLen+len(magicCookie)])}
	}
	if hlen := data[2]; hlen > 16 {
		return nil, &MalformedPacketError{Reason: fmt.Sprintf("hardware address length %d exceeds 16", hlen)}
	}

	// gopacket decodes the fixed header from a private copy terminated by
	// an end option, so the option area below is walked on our terms.
	header := make([]byte, headerLen+len(magicCookie)+1)
	copy(header, data[:headerLen+len(magicCookie)])
	header[len(header)-1] = byte(layers.DHCPOptEnd)

	var layer layers.DHCPv4
	if err := layer.DecodeFromBytes(header, gopacket.NilDecodeFeedback); err != nil {
		return nil, &MalformedPacketError{Reason: "fixed header", Err: err}
	}
	if layer.Operation != layers.DHCPOpRequest {
		return nil, &MalformedPacketError{Reason: fmt.Sprintf("unexpected op %d", layer.Operation)}
	}

	req := &RequestMessage{
		Xid:          layer.Xid,
		Secs:         layer.Secs,
		Flags:        layer.Flags,
		HardwareType: layer.HardwareType,
		HardwareAddr: layer.ClientHWAddr,
		ClientIP:     layer.ClientIP.To4(),
		GatewayIP:    layer.RelayAgentIP.To4(),
		Options:      c.parseOptions(data[headerLen+len(magicCookie):]),
	}
	req.Type = c.messageType(req.Options)

	return req, nil
}

func (c *Codec) parseOptions(area []byte) *Options {
	opts := newOptions()

	for i := 0; i < len(area); {
		code := layers.DHCPOpt(area[i])
		switch code {
		case layers.DHCPOptPad:
			i++
			continue
		case layers.DHCPOptEnd:
			return opts
		}

		if i+1 >= len(area) {
			slog.Debug("Dropping dhcp option without length", "code", uint8(code))
			return opts
		}
		n := int(area[i+1])
		if i+2+n > len(area) {
			slog.Debug("Dropping truncated dhcp option", "code", uint8(code), "length", n, "available", len(area)-i-2)
			return opts
		}
		value := append([]byte(nil), area[i+2:i+2+n]...)
		i += 2 + n

		// Registered options must decode; unknown ones are kept raw.
		// An invalid repeat still replaces what came before it.
		if _, ok := c.registry.Lookup(code); ok {
			if _, err := c.registry.Decode(code, value); err != nil {
				slog.Debug("Dropping invalid dhcp option", "error", err)
				opts.remove(code)
				continue
			}
		}
		opts.set(code, value)
	}

	return opts
}

func (c *Codec) messageType(opts *Options) MessageType {
	raw, ok := opts.Get(layers.DHCPOptMessageType)
	if !ok {
		return MessageUnknown
	}
	v, err := c.registry.Decode(layers.DHCPOptMessageType, raw)
	if err != nil {
		return MessageUnknown
	}
	n, _ := v.AsInt()
	switch t := MessageType(n); t {
	case MessageDiscover, MessageOffer, MessageRequest, MessageDecline,
		MessageAck, MessageNak, MessageRelease, MessageInform:
		return t
	}
	return MessageUnknown
}
