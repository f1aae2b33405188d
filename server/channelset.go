// File: server/channelset.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ChannelSet is the server's membership table. One mutex covers
// membership changes and broadcast iteration, so a broadcast sees a
// stable set and Add/Remove wait for it to finish.

package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/channel"
	"github.com/momentics/hioload-pkt/protocol"
)

// ErrSetFull is wrapped by the error Add returns at capacity.
var ErrSetFull = errors.New("server: channel set full")

// ChannelSet is a bounded, thread-safe set of channels keyed by id.
type ChannelSet struct {
	mu      sync.Mutex
	maxSize int
	members map[string]*channel.Channel
	order   []string
}

// NewChannelSet creates a set holding at most maxSize channels; zero or
// less means unbounded.
func NewChannelSet(maxSize int) *ChannelSet {
	return &ChannelSet{maxSize: maxSize, members: make(map[string]*channel.Channel)}
}

// Add inserts ch. It fails at once, without waiting or evicting, when the
// set is full or ch is already a member.
func (s *ChannelSet) Add(ch *channel.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[ch.ID()]; ok {
		return api.NewError(api.ErrCodeAlreadyExists, "channel already in set").WithContext("channel", ch.ID())
	}
	if s.maxSize > 0 && len(s.members) >= s.maxSize {
		return api.NewError(api.ErrCodeResourceExhausted, "channel set at capacity").
			Wrap(ErrSetFull).
			WithContext("max_size", s.maxSize)
	}
	s.members[ch.ID()] = ch
	s.order = append(s.order, ch.ID())
	return nil
}

// Remove deletes ch and reports whether it was a member.
func (s *ChannelSet) Remove(ch *channel.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[ch.ID()]; !ok {
		return false
	}
	delete(s.members, ch.ID())
	for i, id := range s.order {
		if id == ch.ID() {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get looks a member up by channel id.
func (s *ChannelSet) Get(id string) (*channel.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.members[id]
	return ch, ok
}

// Len returns the member count.
func (s *ChannelSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// MaxSize returns the configured bound.
func (s *ChannelSet) MaxSize() int { return s.maxSize }

// Channels returns a snapshot in insertion order.
func (s *ChannelSet) Channels() []*channel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*channel.Channel, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.members[id])
	}
	return out
}

// Broadcast encodes p once and writes the frame to every member whose kind
// sub-channel is open, holding the lock for the whole pass. It returns the
// number of channels written and the joined write errors.
func (s *ChannelSet) Broadcast(codec *protocol.Codec, kind api.TransportKind, p protocol.Packet, reg *protocol.Registry) (int, error) {
	frame, err := codec.EncodeToBuffer(p, reg)
	if err != nil {
		return 0, err
	}
	defer frame.Release()

	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		sent int
		errs []error
	)
	for _, id := range s.order {
		ch := s.members[id]
		if ch.State(kind) != api.StateOpen {
			continue
		}
		if err := ch.SendFrame(kind, frame.Bytes()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
