// File: api/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed channel and server options. Values are validated against the
// option table before they ever reach a transport.

package api

import (
	"strings"
	"time"
)

// ChannelOption identifies a typed socket-level setting.
type ChannelOption uint8

const (
	OptKeepAlive ChannelOption = iota + 1
	OptNoDelay
	OptOOBInline
	OptSoTimeout
	OptLinger
	OptReceiveBufferSize
	OptSendBufferSize
	OptReuseAddress
	OptTrafficClass
	OptBroadcast
)

// OptionType is the Go type an option value must have.
type OptionType uint8

const (
	BoolOption OptionType = iota
	IntOption
)

type optionSpec struct {
	name  string
	typ   OptionType
	kinds []TransportKind
}

var optionTable = map[ChannelOption]optionSpec{
	OptKeepAlive:         {"keep_alive", BoolOption, []TransportKind{Reliable}},
	OptNoDelay:           {"no_delay", BoolOption, []TransportKind{Reliable}},
	OptOOBInline:         {"oob_inline", BoolOption, []TransportKind{Reliable}},
	OptSoTimeout:         {"so_timeout", IntOption, []TransportKind{Reliable, Unreliable}},
	OptLinger:            {"linger", IntOption, []TransportKind{Reliable}},
	OptReceiveBufferSize: {"receive_buffer_size", IntOption, []TransportKind{Reliable, Unreliable}},
	OptSendBufferSize:    {"send_buffer_size", IntOption, []TransportKind{Reliable, Unreliable}},
	OptReuseAddress:      {"reuse_address", BoolOption, []TransportKind{Reliable, Unreliable}},
	OptTrafficClass:      {"traffic_class", IntOption, []TransportKind{Reliable, Unreliable}},
	OptBroadcast:         {"broadcast", BoolOption, []TransportKind{Unreliable}},
}

func (o ChannelOption) String() string {
	if s, ok := optionTable[o]; ok {
		return s.name
	}
	return "unknown"
}

// Type returns the value type accepted by the option.
func (o ChannelOption) Type() OptionType {
	return optionTable[o].typ
}

// SupportedBy reports whether the option applies to the given sub-channel.
func (o ChannelOption) SupportedBy(kind TransportKind) bool {
	s, ok := optionTable[o]
	if !ok {
		return false
	}
	for _, k := range s.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Validate checks that value has the right type for the option and that the
// option is meaningful on kind. Integer options also accept time.Duration
// for so_timeout, which is normalised to milliseconds.
func (o ChannelOption) Validate(kind TransportKind, value any) (any, error) {
	s, ok := optionTable[o]
	if !ok {
		return nil, NewError(ErrCodeNotSupported, "unknown channel option").
			Wrap(ErrUnsupportedOption).WithContext("option", int(o))
	}
	if !o.SupportedBy(kind) {
		return nil, NewError(ErrCodeNotSupported, "option not supported by transport").
			Wrap(ErrUnsupportedOption).
			WithContext("option", s.name).
			WithContext("kind", kind.String())
	}
	switch s.typ {
	case BoolOption:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case IntOption:
		switch v := value.(type) {
		case int:
			if v >= 0 {
				return v, nil
			}
		case int32:
			if v >= 0 {
				return int(v), nil
			}
		case int64:
			if v >= 0 {
				return int(v), nil
			}
		case time.Duration:
			if o == OptSoTimeout && v >= 0 {
				return int(v / time.Millisecond), nil
			}
		}
	}
	return nil, NewError(ErrCodeInvalidArgument, "invalid option value").
		Wrap(ErrInvalidOptionValue).
		WithContext("option", s.name).
		WithContext("value", value)
}

// ParseChannelOption resolves an option from its configuration name.
func ParseChannelOption(name string) (ChannelOption, bool) {
	name = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for opt, s := range optionTable {
		if s.name == name {
			return opt, true
		}
	}
	return 0, false
}

// DefaultUDPReceiveBufferSize fits a full IPv4 datagram.
const DefaultUDPReceiveBufferSize = 64 * 1024
