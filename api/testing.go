// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mock/testing utilities for core contracts.

package api

import "context"

// MockTransport is a function-table implementation of Transport. Nil
// functions behave as successful no-ops.
type MockTransport struct {
	KindValue     TransportKind
	OpenFunc      func(ctx context.Context, sink TransportSink) error
	SendFunc      func(p []byte) error
	FlushFunc     func() error
	CloseFunc     func() error
	SetOptionFunc func(opt ChannelOption, value any) error
	OptionFunc    func(opt ChannelOption) (any, error)
}

func (m *MockTransport) Kind() TransportKind { return m.KindValue }

func (m *MockTransport) Open(ctx context.Context, sink TransportSink) error {
	if m.OpenFunc == nil {
		return nil
	}
	return m.OpenFunc(ctx, sink)
}

func (m *MockTransport) Send(p []byte) error {
	if m.SendFunc == nil {
		return nil
	}
	return m.SendFunc(p)
}

func (m *MockTransport) Flush() error {
	if m.FlushFunc == nil {
		return nil
	}
	return m.FlushFunc()
}

func (m *MockTransport) Close() error {
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

func (m *MockTransport) SetOption(opt ChannelOption, value any) error {
	if m.SetOptionFunc == nil {
		return nil
	}
	return m.SetOptionFunc(opt, value)
}

func (m *MockTransport) Option(opt ChannelOption) (any, error) {
	if m.OptionFunc == nil {
		return nil, ErrUnsupportedOption
	}
	return m.OptionFunc(opt)
}
