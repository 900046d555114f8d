package dhcp

import (
	"bytes"
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket/layers"
)

const (
	ServerPort = 67
	ClientPort = 68

	// Fixed BOOTP header, without the magic cookie.
	headerLen = 236
	// Smallest reply accepted by BOOTP relays and clients.
	minReplyLen = 300

	broadcastFlag uint16 = 0x8000
)

var magicCookie = []byte{0x63, 0x82, 0x53, 0x63}

type MessageType = layers.DHCPMsgType

const (
	MessageUnknown  = layers.DHCPMsgTypeUnspecified
	MessageDiscover = layers.DHCPMsgTypeDiscover
	MessageOffer    = layers.DHCPMsgTypeOffer
	MessageRequest  = layers.DHCPMsgTypeRequest
	MessageDecline  = layers.DHCPMsgTypeDecline
	MessageAck      = layers.DHCPMsgTypeAck
	MessageNak      = layers.DHCPMsgTypeNak
	MessageRelease  = layers.DHCPMsgTypeRelease
	MessageInform   = layers.DHCPMsgTypeInform
)

// MalformedPacketError is returned by Parse when a datagram is not a
// BOOTP request carrying the DHCP magic cookie.
type MalformedPacketError struct {
	Reason string
	Err    error
}

func (e *MalformedPacketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed dhcp packet: %s: %v", e.Reason, e.Err)
	}
	return "malformed dhcp packet: " + e.Reason
}

func (e *MalformedPacketError) Unwrap() error {
	return e.Err
}

// InvalidClientError rejects a DISCOVER or REQUEST without a usable
// hardware address.
type InvalidClientError struct {
	Type MessageType
	Xid  uint32
}

func (e *InvalidClientError) Error() string {
	return fmt.Sprintf("dhcp %s (xid %#08x) has an empty hardware address", e.Type, e.Xid)
}

// IsMalformed reports whether err is a MalformedPacketError.
func IsMalformed(err error) bool {
	var m *MalformedPacketError
	return errors.As(err, &m)
}

// Classify returns the message type of req after validating the fields the
// type depends on.
func Classify(req *RequestMessage) (MessageType, error) {
	switch req.Type {
	case MessageDiscover, MessageRequest:
		if isEmptyHardwareAddr(req.HardwareAddr) {
			return req.Type, &InvalidClientError{Type: req.Type, Xid: req.Xid}
		}
	}
	return req.Type, nil
}

func isEmptyHardwareAddr(mac net.HardwareAddr) bool {
	return len(mac) == 0 || bytes.Count(mac, []byte{0}) == len(mac)
}

// Options is the option area of a request in first-appearance order. A
// repeated code keeps its first position and its last value.
type Options struct {
	order []layers.DHCPOpt
	data  map[layers.DHCPOpt][]byte
}

func newOptions() *Options {
	return &Options{data: make(map[layers.DHCPOpt][]byte)}
}

func (o *Options) set(code layers.DHCPOpt, data []byte) {
	if _, ok := o.data[code]; !ok {
		o.order = append(o.order, code)
	}
	o.data[code] = data
}

func (o *Options) remove(code layers.DHCPOpt) {
	if _, ok := o.data[code]; !ok {
		return
	}
	delete(o.data, code)
	for i, c := range o.order {
		if c == code {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *Options) Get(code layers.DHCPOpt) ([]byte, bool) {
	data, ok := o.data[code]
	return data, ok
}

func (o *Options) Has(code layers.DHCPOpt) bool {
	_, ok := o.data[code]
	return ok
}

func (o *Options) Codes() []layers.DHCPOpt {
	return append([]layers.DHCPOpt(nil), o.order...)
}

func (o *Options) Len() int {
	return len(o.order)
}
