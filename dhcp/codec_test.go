package dhcp

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bmcdhcp/options"
)

var testMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}

// rawRequest serializes a BOOTREQUEST with gopacket and returns it without
// its trailing end option so tests can append their own option bytes.
func rawRequest(t *testing.T, mac net.HardwareAddr, xid uint32, extra ...byte) []byte {
	t.Helper()

	layer := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  uint8(len(mac)),
		Xid:          xid,
		ClientHWAddr: mac,
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptPad, nil),
		},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, layer.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}))

	data := append([]byte(nil), buf.Bytes()[:240]...)
	return append(data, extra...)
}

func newTestCodec() *Codec {
	return NewCodec(options.NewRegistry())
}

func TestParseDiscover(t *testing.T) {
	c := newTestCodec()
	data := rawRequest(t, testMAC, 0x12345678,
		53, 1, 1,
		61, 7, 1, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01,
		12, 6, 'n', 'o', 'd', 'e', '0', '1',
		250, 3, 9, 8, 7,
		255,
	)

	req, err := c.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, MessageDiscover, req.Type)
	assert.Equal(t, uint32(0x12345678), req.Xid)
	assert.Equal(t, testMAC, req.HardwareAddr)
	assert.True(t, req.ClientIP.Equal(net.IPv4zero))
	assert.Equal(t, []layers.DHCPOpt{53, 61, 12, 250}, req.Options.Codes())

	raw, ok := req.Options.Get(250)
	require.True(t, ok)
	assert.Equal(t, []byte{9, 8, 7}, raw)

	host, ok := req.Value(c.Registry(), options.Hostname)
	require.True(t, ok)
	assert.Equal(t, "node01", host.String())
}

func TestParseTooShort(t *testing.T) {
	c := newTestCodec()

	for _, n := range []int{0, 100, 235, 239} {
		req, err := c.Parse(make([]byte, n))
		assert.Nil(t, req)

		var malformed *MalformedPacketError
		assert.True(t, errors.As(err, &malformed), "length %d", n)
	}
}

func TestParseBadCookie(t *testing.T) {
	c := newTestCodec()
	data := rawRequest(t, testMAC, 1, 53, 1, 1, 255)
	data[239] = 0x64

	req, err := c.Parse(data)
	assert.Nil(t, req)
	assert.True(t, IsMalformed(err))
}

func TestParseRejectsReplies(t *testing.T) {
	c := newTestCodec()
	data := rawRequest(t, testMAC, 1, 53, 1, 2, 255)
	data[0] = byte(layers.DHCPOpReply)

	_, err := c.Parse(data)
	assert.True(t, IsMalformed(err))
}

func TestParseBadHardwareLength(t *testing.T) {
	c := newTestCodec()
	data := rawRequest(t, testMAC, 1, 53, 1, 1, 255)
	data[2] = 17

	_, err := c.Parse(data)
	assert.True(t, IsMalformed(err))
}

func TestParseTruncatedTrailingOption(t *testing.T) {
	c := newTestCodec()
	data := rawRequest(t, testMAC, 7, 53, 1, 3, 12, 10, 'a', 'b')

	req, err := c.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, MessageRequest, req.Type)
	assert.False(t, req.Options.Has(layers.DHCPOptHostname))

	// A tag with no room for its length byte.
	data = rawRequest(t, testMAC, 7, 53, 1, 3, 12)
	req, err = c.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 1, req.Options.Len())
}

func TestParsePadsAndDuplicates(t *testing.T) {
	c := newTestCodec()
	data := rawRequest(t, testMAC, 7,
		0, 0,
		12, 1, 'a',
		53, 1, 1,
		0,
		12, 1, 'b',
		255,
		12, 1, 'c', // after end, ignored
	)

	req, err := c.Parse(data)
	require.NoError(t, err)

	raw, ok := req.Options.Get(layers.DHCPOptHostname)
	require.True(t, ok)
	assert.Equal(t, []byte("b"), raw)
	assert.Equal(t, []layers.DHCPOpt{12, 53}, req.Options.Codes())

	// An invalid last occurrence wins over a valid earlier one.
	req, err = c.Parse(rawRequest(t, testMAC, 7,
		53, 1, 3,
		50, 4, 10, 0, 0, 9,
		50, 2, 10, 0,
		255,
	))
	require.NoError(t, err)
	assert.False(t, req.Options.Has(layers.DHCPOptRequestIP))
	assert.Equal(t, []layers.DHCPOpt{53}, req.Options.Codes())
	assert.Equal(t, MessageRequest, req.Type)
}

func TestParseMissingMessageType(t *testing.T) {
	c := newTestCodec()

	req, err := c.Parse(rawRequest(t, testMAC, 7, 255))
	require.NoError(t, err)
	assert.Equal(t, MessageUnknown, req.Type)

	req, err = c.Parse(rawRequest(t, testMAC, 7, 53, 1, 42, 255))
	require.NoError(t, err)
	assert.Equal(t, MessageUnknown, req.Type)
}

func TestParseDropsInvalidKnownOption(t *testing.T) {
	c := newTestCodec()

	req, err := c.Parse(rawRequest(t, testMAC, 7, 53, 1, 1, 50, 2, 10, 0, 255))
	require.NoError(t, err)
	assert.False(t, req.Options.Has(layers.DHCPOptRequestIP))
	assert.Equal(t, MessageDiscover, req.Type)
}

func TestClassify(t *testing.T) {
	c := newTestCodec()

	req, err := c.Parse(rawRequest(t, net.HardwareAddr{}, 9, 53, 1, 1, 255))
	require.NoError(t, err)
	_, err = Classify(req)
	var invalid *InvalidClientError
	assert.True(t, errors.As(err, &invalid))

	req, err = c.Parse(rawRequest(t, net.HardwareAddr{0, 0, 0, 0, 0, 0}, 9, 53, 1, 3, 255))
	require.NoError(t, err)
	_, err = Classify(req)
	assert.True(t, errors.As(err, &invalid))

	// Types that never touch client state pass through.
	req, err = c.Parse(rawRequest(t, net.HardwareAddr{}, 9, 53, 1, 8, 255))
	require.NoError(t, err)
	msgType, err := Classify(req)
	assert.NoError(t, err)
	assert.Equal(t, MessageInform, msgType)

	req, err = c.Parse(rawRequest(t, testMAC, 9, 53, 1, 1, 255))
	require.NoError(t, err)
	msgType, err = Classify(req)
	assert.NoError(t, err)
	assert.Equal(t, MessageDiscover, msgType)
}

func testOffer(t *testing.T, c *Codec) *ResponseMessage {
	t.Helper()

	req, err := c.Parse(rawRequest(t, testMAC, 0x12345678, 53, 1, 1, 255))
	require.NoError(t, err)

	resp := NewResponse(req, MessageOffer, net.IPv4(10, 0, 0, 50), net.IPv4(10, 0, 0, 1))
	resp.Options.Set(options.ServerIdentifier, options.IP(net.IPv4(10, 0, 0, 1)))
	resp.Options.Set(options.LeaseTime, options.Duration(time.Hour))
	resp.Options.Set(options.SubnetMask, options.IP(net.IPv4(255, 255, 255, 0)))
	resp.Options.Set(options.Router, options.IPs(net.IPv4(10, 0, 0, 1)))
	resp.Options.Set(options.Hostname, options.String("bmc-01"))
	return resp
}

func TestBuildDecodesWithGopacket(t *testing.T) {
	c := newTestCodec()
	data, err := c.Build(testOffer(t, c))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(data), minReplyLen)

	packet := gopacket.NewPacket(data, layers.LayerTypeDHCPv4, gopacket.Default)
	layer, ok := packet.Layer(layers.LayerTypeDHCPv4).(*layers.DHCPv4)
	require.True(t, ok)

	assert.Equal(t, layers.DHCPOpReply, layer.Operation)
	assert.Equal(t, uint32(0x12345678), layer.Xid)
	assert.Equal(t, testMAC, layer.ClientHWAddr)
	assert.True(t, layer.YourClientIP.Equal(net.IPv4(10, 0, 0, 50)))
	assert.True(t, layer.NextServerIP.Equal(net.IPv4(10, 0, 0, 1)))
	assert.True(t, layer.ClientIP.Equal(net.IPv4zero))
	assert.NotZero(t, layer.Flags&broadcastFlag)

	require.NotEmpty(t, layer.Options)
	assert.Equal(t, layers.DHCPOptMessageType, layer.Options[0].Type)
	assert.Equal(t, []byte{byte(MessageOffer)}, layer.Options[0].Data)

	var lease []byte
	for _, o := range layer.Options {
		if o.Type == layers.DHCPOptLeaseTime {
			lease = o.Data
		}
	}
	assert.Equal(t, []byte{0, 0, 0x0e, 0x10}, lease)
}

func TestBuildParseRoundTrip(t *testing.T) {
	c := newTestCodec()
	resp := testOffer(t, c)

	data, err := c.Build(resp)
	require.NoError(t, err)

	// Present the reply as a request so Parse accepts it.
	data[0] = byte(layers.DHCPOpRequest)
	parsed, err := c.Parse(data)
	require.NoError(t, err)

	assert.Equal(t, MessageOffer, parsed.Type)
	assert.Equal(t, resp.Xid, parsed.Xid)
	assert.Equal(t, resp.HardwareAddr, parsed.HardwareAddr)

	resp.Options.Each(func(name string, want options.Value) {
		got, ok := parsed.Value(c.Registry(), name)
		require.True(t, ok, name)
		assert.True(t, want.Equal(got), "%s: got %v want %v", name, got, want)
	})
}

func TestBuildEncodingError(t *testing.T) {
	c := newTestCodec()
	resp := testOffer(t, c)
	resp.Options.Set(options.MaxMessageSize, options.Int(70000))

	data, err := c.Build(resp)
	assert.Nil(t, data)

	var encErr *options.EncodingError
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, options.MaxMessageSize, encErr.Option)

	resp.Options.Delete(options.MaxMessageSize)
	resp.Options.Set("not-registered", options.Int(1))
	_, err = c.Build(resp)
	require.True(t, errors.As(err, &encErr))
	assert.Equal(t, "not-registered", encErr.Option)

	var unknown *options.UnknownOptionError
	assert.True(t, errors.As(err, &unknown))
}

func TestBuildRejects(t *testing.T) {
	c := newTestCodec()

	resp := testOffer(t, c)
	resp.Type = MessageDiscover
	_, err := c.Build(resp)
	assert.Error(t, err)

	resp = testOffer(t, c)
	resp.OfferedIP = nil
	_, err = c.Build(resp)
	assert.Error(t, err)
}

func TestAsAckKeepsPayload(t *testing.T) {
	c := newTestCodec()
	offer := testOffer(t, c)

	ack := offer.AsAck()
	ack.Options.Set(options.Hostname, options.String("changed"))

	assert.Equal(t, MessageAck, ack.Type)
	assert.Equal(t, MessageOffer, offer.Type)
	assert.True(t, ack.OfferedIP.Equal(offer.OfferedIP))

	host, _ := offer.Options.Get(options.Hostname)
	assert.Equal(t, "bmc-01", host.String())
}
