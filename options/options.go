package options

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"
)

type Kind uint8

const (
	KindBytes Kind = iota
	KindInt
	KindIP
	KindIPList
	KindString
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindInt:
		return "int"
	case KindIP:
		return "ip"
	case KindIPList:
		return "iplist"
	case KindString:
		return "string"
	case KindDuration:
		return "duration"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a typed DHCP option value. Only the field matching kind is set.
type Value struct {
	kind Kind
	num  int64
	dur  time.Duration
	str  string
	ips  []net.IP
	raw  []byte
}

func Int(n int64) Value {
	return Value{kind: KindInt, num: n}
}

func IP(ip net.IP) Value {
	return Value{kind: KindIP, ips: []net.IP{copyIP(ip)}}
}

func IPs(ips ...net.IP) Value {
	list := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		list = append(list, copyIP(ip))
	}
	return Value{kind: KindIPList, ips: list}
}

func String(s string) Value {
	return Value{kind: KindString, str: s}
}

func Duration(d time.Duration) Value {
	return Value{kind: KindDuration, dur: d}
}

func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: bytes.Clone(b)}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) AsInt() (int64, bool) {
	return v.num, v.kind == KindInt
}

func (v Value) AsIP() (net.IP, bool) {
	if v.kind != KindIP || len(v.ips) != 1 {
		return nil, false
	}
	return v.ips[0], true
}

func (v Value) AsIPs() ([]net.IP, bool) {
	if v.kind != KindIPList && v.kind != KindIP {
		return nil, false
	}
	return v.ips, true
}

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsDuration() (time.Duration, bool) {
	return v.dur, v.kind == KindDuration
}

func (v Value) AsBytes() ([]byte, bool) {
	return v.raw, v.kind == KindBytes
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInt:
		return v.num == o.num
	case KindDuration:
		return v.dur == o.dur
	case KindString:
		return v.str == o.str
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindIP, KindIPList:
		if len(v.ips) != len(o.ips) {
			return false
		}
		for i := range v.ips {
			if !v.ips[i].Equal(o.ips[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return fmt.Sprintf("%d", v.num)
	case KindDuration:
		return v.dur.String()
	case KindString:
		return v.str
	case KindIP, KindIPList:
		parts := make([]string, 0, len(v.ips))
		for _, ip := range v.ips {
			parts = append(parts, ip.String())
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf("%x", v.raw)
}

func copyIP(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return append(net.IP(nil), ip...)
}

// Set is an insertion ordered mapping of option name to value.
type Set struct {
	names  []string
	values map[string]Value
}

func NewSet() *Set {
	return &Set{values: make(map[string]Value)}
}

// Set stores v under name, keeping the position of an existing entry.
func (s *Set) Set(name string, v Value) {
	name = normalizeName(name)
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = v
}

func (s *Set) Get(name string) (Value, bool) {
	if s == nil {
		return Value{}, false
	}
	v, ok := s.values[normalizeName(name)]
	return v, ok
}

func (s *Set) Delete(name string) {
	name = normalizeName(name)
	if _, ok := s.values[name]; !ok {
		return
	}
	delete(s.values, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i:i], s.names[i+1:]...)
			break
		}
	}
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Names returns the option names in insertion order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

func (s *Set) Each(fn func(name string, v Value)) {
	if s == nil {
		return
	}
	for _, name := range s.names {
		fn(name, s.values[name])
	}
}

func (s *Set) Clone() *Set {
	c := NewSet()
	s.Each(c.Set)
	return c
}
