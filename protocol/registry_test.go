package protocol

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-pkt/api"
)

func intHolder() *Holder    { return NewHolder(func() *IntPacket { return &IntPacket{} }, nil) }
func stringHolder() *Holder { return NewHolder(func() *StringPacket { return &StringPacket{} }, nil) }

func TestRegisterReplacesBindings(t *testing.T) {
	r := NewRegistry("test")
	oldH, newH := intHolder(), stringHolder()
	if err := r.Register(oldH, 5); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(newH, 5); err != nil {
		t.Fatal(err)
	}

	if h, ok := r.Holder(5); !ok || h != newH {
		t.Fatalf("id 5 resolves to %v", h)
	}
	if _, ok := r.IDOf(&IntPacket{}); ok {
		t.Fatal("old type still resolvable")
	}
	if _, ok := r.HolderID(oldH); ok {
		t.Fatal("old holder still resolvable")
	}
	if id, ok := r.IDOf(&StringPacket{}); !ok || id != 5 {
		t.Fatalf("new type id = %d, %v", id, ok)
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestRegisterMovesHolder(t *testing.T) {
	r := NewRegistry("test")
	h := intHolder()
	_ = r.Register(h, 1)
	_ = r.Register(h, 2)
	if _, ok := r.Holder(1); ok {
		t.Fatal("holder still bound at its previous id")
	}
	if id, _ := r.IDOf(&IntPacket{}); id != 2 {
		t.Fatalf("type id = %d", id)
	}
}

func TestRegisterRejectsInvalidHolder(t *testing.T) {
	r := NewRegistry("test")
	if err := r.Register(nil, 1); !errors.Is(err, ErrInvalidHolder) {
		t.Fatalf("nil holder: %v", err)
	}
	if err := r.Register(&Holder{}, 1); !errors.Is(err, ErrInvalidHolder) {
		t.Fatalf("empty holder: %v", err)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry("test")
	_ = r.Register(intHolder(), 3)
	if !r.Unregister(3) || r.Unregister(3) {
		t.Fatal("Unregister should succeed once")
	}
	if _, ok := r.IDOf(&IntPacket{}); ok {
		t.Fatal("type survived Unregister")
	}
}

func TestMultiContainerAssignsLowestFreeID(t *testing.T) {
	c := NewMultiContainer()
	a, _ := c.NewRegistry("a")
	b, _ := c.NewRegistry("b")
	if a.ID() != 1 || b.ID() != 2 {
		t.Fatalf("ids %d %d", a.ID(), b.ID())
	}
	if err := c.SetRegistryID(a, 10); err != nil {
		t.Fatal(err)
	}
	d, _ := c.NewRegistry("d")
	if d.ID() != 1 {
		t.Fatalf("freed id not reused: %d", d.ID())
	}
	if got, ok := c.Registry(10); !ok || got != a {
		t.Fatal("moved registry not found by id")
	}
	if err := c.SetRegistryID(b, 10); !errors.Is(err, api.ErrAlreadyExists) {
		t.Fatalf("duplicate id: %v", err)
	}
	if _, err := c.NewRegistry("a"); !errors.Is(err, api.ErrAlreadyExists) {
		t.Fatalf("duplicate name: %v", err)
	}
	if err := c.SetRegistryID(c.Default(), 3); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("moving default: %v", err)
	}
	if n := len(c.Registries()); n != 4 {
		t.Fatalf("registries = %d", n)
	}
}

func TestSingleContainerRejectsMultiOps(t *testing.T) {
	c := NewSingleContainer()
	if _, err := c.AddRegistry(NewRegistry("x")); !errors.Is(err, api.ErrNotSupported) {
		t.Fatalf("AddRegistry: %v", err)
	}
	if _, err := c.NewRegistry("x"); !errors.Is(err, api.ErrNotSupported) {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := c.SetRegistryID(c.Default(), 1); !errors.Is(err, api.ErrNotSupported) {
		t.Fatalf("SetRegistryID: %v", err)
	}
	if r, ok := c.Registry(42); !ok || r != c.Default() {
		t.Fatal("lookups must answer with the default registry")
	}
	if c.Default().ID() != DefaultRegistryID || c.Default().Name() != DefaultRegistryName {
		t.Fatalf("default registry = %v", c.Default())
	}
}

func TestSetResponseSwapsIDs(t *testing.T) {
	req := &IntPacket{}
	req.SetSendingID(12)
	resp := &IntPacket{}
	resp.SetResponse(req)
	if resp.SendingID() != NoID || resp.ReceivingID() != 12 {
		t.Fatalf("response ids = %d/%d", resp.SendingID(), resp.ReceivingID())
	}
	var zero Base
	if zero.SendingID() != NoID || zero.ReceivingID() != NoID {
		t.Fatal("zero Base must read as NoID")
	}
}
