package options

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
)

var ErrRegistryFrozen = errors.New("option registry is frozen")

// UnknownOptionError reports a code or name missing from the registry.
type UnknownOptionError struct {
	Code layers.DHCPOpt
	Name string
}

func (e *UnknownOptionError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown dhcp option %q", e.Name)
	}
	return fmt.Sprintf("unknown dhcp option code %d", uint8(e.Code))
}

// EncodingError names the option that failed to serialize or decode.
type EncodingError struct {
	Option string
	Code   layers.DHCPOpt
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("option %s (%d): %v", e.Option, uint8(e.Code), e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

type Definition struct {
	Code  layers.DHCPOpt
	Name  string
	Codec Codec
}

// Registry maps option codes to names and codecs. It is filled at startup
// and frozen before the server starts handling packets, after which it is
// only read.
type Registry struct {
	byCode map[layers.DHCPOpt]Definition
	byName map[string]Definition
	frozen bool
}

// NewRegistry returns a registry holding the built-in definitions.
func NewRegistry() *Registry {
	r := &Registry{
		byCode: make(map[layers.DHCPOpt]Definition),
		byName: make(map[string]Definition),
	}
	for _, def := range builtins {
		r.put(def)
	}
	return r
}

// Register inserts or overwrites the definition for code. An older
// definition sharing either the code or the name is replaced.
func (r *Registry) Register(code layers.DHCPOpt, name string, codec Codec) error {
	if r.frozen {
		return ErrRegistryFrozen
	}
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("option %d: empty name", uint8(code))
	}
	if reserved(code) {
		return fmt.Errorf("option %d is reserved", uint8(code))
	}
	if old, ok := r.byName[name]; ok && reserved(old.Code) {
		return fmt.Errorf("option name %s is reserved", name)
	}
	if _, ok := codecNames[codec]; !ok {
		return fmt.Errorf("option %s: unsupported codec %d", name, uint8(codec))
	}
	if old, ok := r.byCode[code]; ok {
		delete(r.byName, old.Name)
	}
	if old, ok := r.byName[name]; ok {
		delete(r.byCode, old.Code)
	}
	r.put(Definition{Code: code, Name: name, Codec: codec})
	return nil
}

// reserved reports whether code is framing or carries the message type.
func reserved(code layers.DHCPOpt) bool {
	switch code {
	case layers.DHCPOptPad, layers.DHCPOptEnd, layers.DHCPOptMessageType:
		return true
	}
	return false
}

func (r *Registry) put(def Definition) {
	r.byCode[def.Code] = def
	r.byName[def.Name] = def
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.frozen = true
}

func (r *Registry) Lookup(code layers.DHCPOpt) (Definition, bool) {
	def, ok := r.byCode[code]
	return def, ok
}

func (r *Registry) LookupName(name string) (Definition, bool) {
	def, ok := r.byName[normalizeName(name)]
	return def, ok
}

// Definitions returns every definition ordered by code.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.byCode))
	for _, def := range r.byCode {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Code < defs[j].Code })
	return defs
}

// Encode serializes v as the option called name.
func (r *Registry) Encode(name string, v Value) (layers.DHCPOpt, []byte, error) {
	def, ok := r.LookupName(name)
	if !ok {
		return 0, nil, &UnknownOptionError{Name: name}
	}
	if def.Code == layers.DHCPOptPad || def.Code == layers.DHCPOptEnd {
		return 0, nil, &EncodingError{Option: def.Name, Code: def.Code, Err: errors.New("reserved option carries no value")}
	}
	data, err := def.Codec.encode(v)
	if err != nil {
		return 0, nil, &EncodingError{Option: def.Name, Code: def.Code, Err: err}
	}
	if len(data) > 255 {
		return 0, nil, &EncodingError{Option: def.Name, Code: def.Code, Err: fmt.Errorf("value length %d exceeds 255", len(data))}
	}
	return def.Code, data, nil
}

// Decode converts raw option data into a typed value.
func (r *Registry) Decode(code layers.DHCPOpt, raw []byte) (Value, error) {
	def, ok := r.byCode[code]
	if !ok {
		return Value{}, &UnknownOptionError{Code: code}
	}
	v, err := def.Codec.decode(raw)
	if err != nil {
		return Value{}, &EncodingError{Option: def.Name, Code: code, Err: err}
	}
	return v, nil
}

// DecodeLenient never fails: unknown or malformed options come back as raw
// bytes.
func (r *Registry) DecodeLenient(code layers.DHCPOpt, raw []byte) Value {
	v, err := r.Decode(code, raw)
	if err != nil {
		return Bytes(raw)
	}
	return v
}

// Name returns the registered name for code, or "option-<code>".
func (r *Registry) Name(code layers.DHCPOpt) string {
	if def, ok := r.byCode[code]; ok {
		return def.Name
	}
	return "option-" + strconv.Itoa(int(code))
}

// ParseValue turns configuration text into a value suited to the option's
// codec.
func (r *Registry) ParseValue(name, text string) (Value, error) {
	def, ok := r.LookupName(name)
	if !ok {
		return Value{}, &UnknownOptionError{Name: name}
	}
	text = strings.TrimSpace(text)

	switch def.Codec {
	case CodecIPv4:
		ip := net.ParseIP(text).To4()
		if ip == nil {
			return Value{}, fmt.Errorf("option %s: invalid ipv4 address %q", def.Name, text)
		}
		return IP(ip), nil

	case CodecIPv4List:
		var ips []net.IP
		for _, part := range strings.Split(text, ",") {
			ip := net.ParseIP(strings.TrimSpace(part)).To4()
			if ip == nil {
				return Value{}, fmt.Errorf("option %s: invalid ipv4 address %q", def.Name, part)
			}
			ips = append(ips, ip)
		}
		return IPs(ips...), nil

	case CodecUint32, CodecUint16, CodecUint8:
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("option %s: %w", def.Name, err)
		}
		return Int(n), nil

	case CodecSeconds:
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Duration(time.Duration(n) * time.Second), nil
		}
		d, err := time.ParseDuration(text)
		if err != nil {
			return Value{}, fmt.Errorf("option %s: %w", def.Name, err)
		}
		return Duration(d), nil

	case CodecString:
		return String(text), nil

	case CodecRaw:
		if strings.HasPrefix(text, "0x") {
			b, err := hex.DecodeString(strings.TrimPrefix(text, "0x"))
			if err != nil {
				return Value{}, fmt.Errorf("option %s: %w", def.Name, err)
			}
			return Bytes(b), nil
		}
		return Bytes([]byte(text)), nil
	}
	return Value{}, fmt.Errorf("option %s: unsupported codec %s", def.Name, def.Codec)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
