// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Packet model and wire framing.
//
// Packets embed Base for their correlation ids and implement their own
// payload layout. A Holder binds a packet type to a constructor and a
// handler; a Registry maps numeric ids to holders; a Container groups
// registries, either one (SingleContainer) or many (MultiContainer).
//
// The Codec writes one frame per packet into a pool.Buffer and decodes
// frames atomically: Decode consumes nothing until a complete frame is
// buffered. Correlation ids travel only in the frame header.
package protocol
