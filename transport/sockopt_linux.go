// File: transport/sockopt_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-pkt/api"
)

func setSockopt(rc syscall.RawConn, opt api.ChannelOption, v any, ipv6 bool) error {
	var level, name int
	val := boolInt(v)
	switch opt {
	case api.OptOOBInline:
		level, name = unix.SOL_SOCKET, unix.SO_OOBINLINE
	case api.OptReuseAddress:
		level, name = unix.SOL_SOCKET, unix.SO_REUSEADDR
	case api.OptBroadcast:
		level, name = unix.SOL_SOCKET, unix.SO_BROADCAST
	case api.OptTrafficClass:
		level, name = unix.IPPROTO_IP, unix.IP_TOS
		if ipv6 {
			level, name = unix.IPPROTO_IPV6, unix.IPV6_TCLASS
		}
		val, _ = v.(int)
	default:
		return api.NewError(api.ErrCodeNotSupported, "no raw socket option").
			Wrap(api.ErrUnsupportedOption).
			WithContext("option", opt.String())
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), level, name, val)
	}); err != nil {
		return err
	}
	return serr
}

// listenControl enables address reuse on listening sockets.
func listenControl(_, _ string, rc syscall.RawConn) error {
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
