package options

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strings"
	"time"
)

// Codec selects how an option value travels on the wire.
type Codec uint8

const (
	CodecRaw Codec = iota
	CodecIPv4
	CodecIPv4List
	CodecUint32
	CodecUint16
	CodecUint8
	CodecString
	// CodecSeconds is a uint32 number of seconds decoded as a time.Duration.
	CodecSeconds
)

var codecNames = map[Codec]string{
	CodecRaw:      "raw",
	CodecIPv4:     "ipv4",
	CodecIPv4List: "ipv4list",
	CodecUint32:   "uint32",
	CodecUint16:   "uint16",
	CodecUint8:    "uint8",
	CodecString:   "string",
	CodecSeconds:  "seconds",
}

var codecAliases = map[string]Codec{
	"raw":         CodecRaw,
	"rawbytes":    CodecRaw,
	"bytes":       CodecRaw,
	"hex":         CodecRaw,
	"ipv4":        CodecIPv4,
	"ip":          CodecIPv4,
	"ipv4list":    CodecIPv4List,
	"iplist":      CodecIPv4List,
	"uint32":      CodecUint32,
	"u32":         CodecUint32,
	"uint16":      CodecUint16,
	"u16":         CodecUint16,
	"uint8":       CodecUint8,
	"u8":          CodecUint8,
	"string":      CodecString,
	"asciistring": CodecString,
	"text":        CodecString,
	"seconds":     CodecSeconds,
	"duration":    CodecSeconds,
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

// ParseCodec resolves a codec name as written in configuration files.
func ParseCodec(name string) (Codec, error) {
	c, ok := codecAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown option codec %q", name)
	}
	return c, nil
}

func (c Codec) encode(v Value) ([]byte, error) {
	switch c {
	case CodecIPv4:
		ip, ok := v.AsIP()
		if !ok {
			return nil, kindError(c, v)
		}
		v4 := ip.To4()
		if v4 == nil {
			return nil, fmt.Errorf("%s is not an ipv4 address", ip)
		}
		return append([]byte(nil), v4...), nil

	case CodecIPv4List:
		ips, ok := v.AsIPs()
		if !ok {
			return nil, kindError(c, v)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("empty address list")
		}
		buf := make([]byte, 0, 4*len(ips))
		for _, ip := range ips {
			v4 := ip.To4()
			if v4 == nil {
				return nil, fmt.Errorf("%s is not an ipv4 address", ip)
			}
			buf = append(buf, v4...)
		}
		return buf, nil

	case CodecUint32, CodecSeconds:
		n, err := intOrSeconds(c, v)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > math.MaxUint32 {
			return nil, fmt.Errorf("%d does not fit in uint32", n)
		}
		return binary.BigEndian.AppendUint32(nil, uint32(n)), nil

	case CodecUint16:
		n, ok := v.AsInt()
		if !ok {
			return nil, kindError(c, v)
		}
		if n < 0 || n > math.MaxUint16 {
			return nil, fmt.Errorf("%d does not fit in uint16", n)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(n)), nil

	case CodecUint8:
		n, ok := v.AsInt()
		if !ok {
			return nil, kindError(c, v)
		}
		if n < 0 || n > math.MaxUint8 {
			return nil, fmt.Errorf("%d does not fit in uint8", n)
		}
		return []byte{byte(n)}, nil

	case CodecString, CodecRaw:
		if s, ok := v.AsString(); ok {
			return []byte(s), nil
		}
		if b, ok := v.AsBytes(); ok {
			return append([]byte(nil), b...), nil
		}
		return nil, kindError(c, v)
	}
	return nil, fmt.Errorf("unsupported codec %s", c)
}

func intOrSeconds(c Codec, v Value) (int64, error) {
	if n, ok := v.AsInt(); ok {
		return n, nil
	}
	if d, ok := v.AsDuration(); ok {
		return int64(d / time.Second), nil
	}
	return 0, kindError(c, v)
}

func (c Codec) decode(raw []byte) (Value, error) {
	switch c {
	case CodecIPv4:
		if len(raw) != 4 {
			return Value{}, lengthError(c, len(raw))
		}
		return IP(net.IP(raw)), nil

	case CodecIPv4List:
		if len(raw) == 0 || len(raw)%4 != 0 {
			return Value{}, lengthError(c, len(raw))
		}
		ips := make([]net.IP, 0, len(raw)/4)
		for i := 0; i < len(raw); i += 4 {
			ips = append(ips, net.IP(raw[i:i+4]))
		}
		return IPs(ips...), nil

	case CodecUint32:
		if len(raw) != 4 {
			return Value{}, lengthError(c, len(raw))
		}
		return Int(int64(binary.BigEndian.Uint32(raw))), nil

	case CodecSeconds:
		if len(raw) != 4 {
			return Value{}, lengthError(c, len(raw))
		}
		return Duration(time.Duration(binary.BigEndian.Uint32(raw)) * time.Second), nil

	case CodecUint16:
		if len(raw) != 2 {
			return Value{}, lengthError(c, len(raw))
		}
		return Int(int64(binary.BigEndian.Uint16(raw))), nil

	case CodecUint8:
		if len(raw) != 1 {
			return Value{}, lengthError(c, len(raw))
		}
		return Int(int64(raw[0])), nil

	case CodecString:
		// Some clients NUL-terminate their host names.
		return String(strings.TrimRight(string(raw), "\x00")), nil

	case CodecRaw:
		return Bytes(raw), nil
	}
	return Value{}, fmt.Errorf("unsupported codec %s", c)
}

func kindError(c Codec, v Value) error {
	return fmt.Errorf("%s value cannot be encoded as %s", v.Kind(), c)
}

func lengthError(c Codec, n int) error {
	return fmt.Errorf("invalid length %d for %s", n, c)
}
