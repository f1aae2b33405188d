package pool_test

import (
	"errors"
	"io"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/momentics/hioload-pkt/pool"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	p := pool.NewBufferPool()
	b := p.Acquire(8)
	defer b.Release()

	b.WriteBool(true)
	_ = b.WriteByte(0x7f)
	b.WriteInt16(-2)
	b.WriteChar('Z')
	b.WriteInt32(math.MinInt32)
	b.WriteInt64(math.MaxInt64)
	b.WriteFloat32(1.5)
	b.WriteFloat64(-2.25)
	b.WriteUTF8("héllo")

	if v, err := b.ReadBool(); err != nil || !v {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := b.ReadByte(); err != nil || v != 0x7f {
		t.Fatalf("ReadByte = %v, %v", v, err)
	}
	if v, err := b.ReadInt16(); err != nil || v != -2 {
		t.Fatalf("ReadInt16 = %v, %v", v, err)
	}
	if v, err := b.ReadChar(); err != nil || v != 'Z' {
		t.Fatalf("ReadChar = %v, %v", v, err)
	}
	if v, err := b.ReadInt32(); err != nil || v != math.MinInt32 {
		t.Fatalf("ReadInt32 = %v, %v", v, err)
	}
	if v, err := b.ReadInt64(); err != nil || v != math.MaxInt64 {
		t.Fatalf("ReadInt64 = %v, %v", v, err)
	}
	if v, err := b.ReadFloat32(); err != nil || v != 1.5 {
		t.Fatalf("ReadFloat32 = %v, %v", v, err)
	}
	if v, err := b.ReadFloat64(); err != nil || v != -2.25 {
		t.Fatalf("ReadFloat64 = %v, %v", v, err)
	}
	if v, err := b.ReadUTF8(); err != nil || v != "héllo" {
		t.Fatalf("ReadUTF8 = %q, %v", v, err)
	}
	if b.Readable() != 0 {
		t.Fatalf("expected fully consumed buffer, %d left", b.Readable())
	}
}

func TestBigEndianLayout(t *testing.T) {
	b := pool.Wrap(nil)
	b.WriteInt32(0x01020304)
	got := b.Bytes()
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %x, want %x", i, got[i], want[i])
		}
	}
}

func TestAbsoluteAccessLeavesCursors(t *testing.T) {
	b := pool.NewBufferPool().Acquire(32)
	b.WriteInt64(0)
	b.WriteInt64(0)
	r, w := b.ReaderIndex(), b.WriterIndex()

	if err := b.PutInt32(4, 42); err != nil {
		t.Fatal(err)
	}
	if err := b.PutFloat64(8, 3.5); err != nil {
		t.Fatal(err)
	}
	if v, err := b.GetInt32(4); err != nil || v != 42 {
		t.Fatalf("GetInt32 = %v, %v", v, err)
	}
	if v, err := b.GetFloat64(8); err != nil || v != 3.5 {
		t.Fatalf("GetFloat64 = %v, %v", v, err)
	}
	if b.ReaderIndex() != r || b.WriterIndex() != w {
		t.Fatalf("cursors moved: %s", b)
	}
	if _, err := b.GetInt64(b.Cap() - 4); !errors.Is(err, pool.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := b.PutByte(-1, 0); !errors.Is(err, pool.ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestReadPastWriterFails(t *testing.T) {
	b := pool.Wrap([]byte{0, 1})
	if _, err := b.ReadInt32(); !errors.Is(err, pool.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if b.ReaderIndex() != 0 {
		t.Fatalf("failed read moved reader to %d", b.ReaderIndex())
	}
	if v, err := b.ReadInt16(); err != nil || v != 1 {
		t.Fatalf("ReadInt16 = %v, %v", v, err)
	}
}

func TestReadUTF8IncompleteKeepsReader(t *testing.T) {
	b := pool.Wrap(nil)
	b.WriteInt32(10)
	b.WriteBytes([]byte("abc"))
	if _, err := b.ReadUTF8(); !errors.Is(err, pool.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if b.ReaderIndex() != 0 {
		t.Fatalf("reader moved to %d", b.ReaderIndex())
	}
}

func TestEnsureWritableGrowth(t *testing.T) {
	p := pool.NewBufferPool(pool.WithSizeClasses(16, 64, 256))
	b := p.Acquire(16)
	defer b.Release()

	b.WriteBytes([]byte("0123456789"))
	_, _ = b.ReadByte()
	before := b.Cap()

	b.EnsureWritable(4)
	if b.Cap() != before {
		t.Fatalf("no growth expected, cap %d -> %d", before, b.Cap())
	}

	b.EnsureWritable(100)
	if b.Cap() < 110 {
		t.Fatalf("cap %d too small", b.Cap())
	}
	if b.Cap() < before {
		t.Fatal("capacity shrank")
	}
	if string(b.Bytes()) != "123456789" {
		t.Fatalf("readable bytes lost: %q", b.Bytes())
	}
	if b.ReaderIndex() != 1 || b.WriterIndex() != 10 {
		t.Fatalf("cursors changed: %s", b)
	}
}

func TestEnsureWritableDoubles(t *testing.T) {
	b := pool.Wrap(make([]byte, 0, 0))
	b.WriteInt64(1)
	if b.Cap() != 8 {
		t.Fatalf("cap = %d, want 8", b.Cap())
	}
	b.WriteByte(1)
	if b.Cap() != 16 {
		t.Fatalf("cap = %d, want doubled 16", b.Cap())
	}
}

func TestMarksAndDiscard(t *testing.T) {
	b := pool.Wrap(nil)
	b.WriteBytes([]byte("abcdef"))
	b.MarkReader()
	_ = b.Skip(3)
	b.ResetReader()
	if b.ReaderIndex() != 0 {
		t.Fatalf("ResetReader -> %d", b.ReaderIndex())
	}
	_ = b.Skip(2)
	b.DiscardReadBytes()
	if b.ReaderIndex() != 0 || string(b.Bytes()) != "cdef" {
		t.Fatalf("DiscardReadBytes -> %s %q", b, b.Bytes())
	}
	b.MarkWriter()
	b.WriteBytes([]byte("zz"))
	b.ResetWriter()
	if string(b.Bytes()) != "cdef" {
		t.Fatalf("ResetWriter -> %q", b.Bytes())
	}
	if err := b.SetWriterIndex(b.ReaderIndex() - 1); !errors.Is(err, pool.ErrIndexOutOfRange) {
		t.Fatalf("SetWriterIndex below reader: %v", err)
	}
	if err := b.SetReaderIndex(b.WriterIndex() + 1); !errors.Is(err, pool.ErrIndexOutOfRange) {
		t.Fatalf("SetReaderIndex past writer: %v", err)
	}
}

func TestBufferToBufferTransfer(t *testing.T) {
	p := pool.NewBufferPool()
	src := p.Acquire(16)
	dst := p.Acquire(16)
	defer src.Release()
	defer dst.Release()

	src.WriteBytes([]byte("payload"))
	if err := dst.WriteFrom(src, 3); err != nil {
		t.Fatal(err)
	}
	if string(dst.Bytes()) != "pay" || string(src.Bytes()) != "load" {
		t.Fatalf("dst %q src %q", dst.Bytes(), src.Bytes())
	}
	if err := dst.WriteFrom(src, 10); !errors.Is(err, pool.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	if err := src.GetBuffer(0, dst, 3); err != nil {
		t.Fatal(err)
	}
	if string(dst.Bytes()) != "paypay" {
		t.Fatalf("GetBuffer -> %q", dst.Bytes())
	}
}

func TestIOInterfaces(t *testing.T) {
	b := pool.Wrap(nil)
	var _ io.ReadWriter = b
	var _ io.ByteReader = b
	var _ io.ByteWriter = b

	if _, err := b.Write([]byte("xy")); err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(b)
	if err != nil || string(out) != "xy" {
		t.Fatalf("ReadAll = %q, %v", out, err)
	}
}

func TestEqualIgnoresCursorOffsets(t *testing.T) {
	a := pool.Wrap([]byte("--abc"))
	_ = a.Skip(2)
	b := pool.Wrap([]byte("abc"))
	if !a.Equal(b) {
		t.Fatal("buffers with equal readable regions must compare equal")
	}
}

func TestUseAfterReleasePanics(t *testing.T) {
	p := pool.NewBufferPool()
	b := p.Acquire(16)
	b.Release()
	b.Release() // idempotent

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, pool.ErrBufferReleased) {
			t.Fatalf("expected ErrBufferReleased panic, got %v", r)
		}
	}()
	b.WriteInt32(1)
}

// go vet's copylocks check keys on a field whose pointer type is a Locker.
func TestBufferRejectsValueCopies(t *testing.T) {
	typ := reflect.TypeOf((*pool.Buffer)(nil)).Elem()
	locker := reflect.TypeOf((*sync.Locker)(nil)).Elem()
	for i := 0; i < typ.NumField(); i++ {
		if reflect.PointerTo(typ.Field(i).Type).Implements(locker) {
			return
		}
	}
	t.Fatal("Buffer carries no copy guard")
}

func TestMovePoisonsSource(t *testing.T) {
	b := pool.Wrap(nil)
	b.WriteUTF8("owned")
	nb := b.Move()
	if !b.Released() {
		t.Fatal("moved-from handle still live")
	}
	if s, err := nb.ReadUTF8(); err != nil || s != "owned" {
		t.Fatalf("moved handle ReadUTF8 = %q, %v", s, err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on moved-from handle")
		}
	}()
	_ = b.Readable()
}
