// File: transport/sockopt_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build !linux

package transport

import (
	"syscall"

	"github.com/momentics/hioload-pkt/api"
)

func setSockopt(_ syscall.RawConn, opt api.ChannelOption, _ any, _ bool) error {
	return api.NewError(api.ErrCodeNotSupported, "raw socket options unavailable on this platform").
		Wrap(api.ErrUnsupportedOption).
		WithContext("option", opt.String())
}

func listenControl(_, _ string, _ syscall.RawConn) error { return nil }
