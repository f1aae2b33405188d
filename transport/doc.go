// File: transport/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package transport provides the reference socket transports: TCP for the
// reliable sub-channel and UDP for the unreliable one. Both implement
// api.Transport and push inbound bytes to the channel layer through an
// api.TransportSink from a per-connection reader goroutine.
//
// Options are validated against api.ChannelOption and applied to the
// socket immediately. so_timeout is an idle read timeout: a peer that
// stays silent for longer is disconnected with os.ErrDeadlineExceeded.
package transport
