// File: transport/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"net"
	"sync"
	"syscall"

	"github.com/momentics/hioload-pkt/api"
)

const (
	// DefaultReadBufferSize sizes TCP read buffers.
	DefaultReadBufferSize = 32 * 1024

	// udpBacklog bounds peers discovered but not yet accepted.
	udpBacklog = 64

	// udpPeerInbox bounds datagrams queued for one peer.
	udpPeerInbox = 256
)

// Transport states.
const (
	stateIdle int32 = iota
	stateOpen
	stateClosed
)

// optionSet records validated option values for read-back.
type optionSet struct {
	mu   sync.Mutex
	vals map[api.ChannelOption]any
}

func (s *optionSet) store(opt api.ChannelOption, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.vals == nil {
		s.vals = make(map[api.ChannelOption]any)
	}
	s.vals[opt] = v
}

func (s *optionSet) load(kind api.TransportKind, opt api.ChannelOption) (any, error) {
	if !opt.SupportedBy(kind) {
		return nil, api.NewError(api.ErrCodeNotSupported, "option not supported by transport").
			Wrap(api.ErrUnsupportedOption).
			WithContext("option", opt.String())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[opt]
	if !ok {
		return nil, api.NewError(api.ErrCodeNotFound, "option not set").WithContext("option", opt.String())
	}
	return v, nil
}

// rawConn is the subset of net conns that expose the socket descriptor.
type rawConn interface {
	SyscallConn() (syscall.RawConn, error)
	LocalAddr() net.Addr
}

// setRawOption applies options the net package has no setter for.
func setRawOption(c rawConn, opt api.ChannelOption, v any) error {
	rc, err := c.SyscallConn()
	if err != nil {
		return err
	}
	ipv6 := false
	switch a := c.LocalAddr().(type) {
	case *net.TCPAddr:
		ipv6 = a.IP.To4() == nil && a.IP != nil
	case *net.UDPAddr:
		ipv6 = a.IP.To4() == nil && a.IP != nil
	}
	return setSockopt(rc, opt, v, ipv6)
}

func boolInt(v any) int {
	if b, _ := v.(bool); b {
		return 1
	}
	return 0
}
