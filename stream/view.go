package stream

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/BaSui01/bytestream/types"
)

// ElementKind is the interpretation tag of a View.
type ElementKind uint8

const (
	// KindBytes is an untyped byte range, the DataView equivalent.
	KindBytes ElementKind = iota
	KindUint8
	KindUint16
	KindUint32
	KindFloat32
	KindFloat64
)

// Size returns the element size in bytes.
func (k ElementKind) Size() int {
	switch k {
	case KindUint16:
		return 2
	case KindUint32, KindFloat32:
		return 4
	case KindFloat64:
		return 8
	default:
		return 1
	}
}

func (k ElementKind) String() string {
	switch k {
	case KindBytes:
		return "bytes"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	default:
		return "unknown"
	}
}

// Buffer is an underlying allocation. A consumer's view and the view a
// producer receives through a BYOB request share the same Buffer; the
// allocation lives as long as its longest holder. Once detached it can no
// longer back a read.
type Buffer struct {
	data     []byte
	detached atomic.Bool
}

// NewBuffer allocates a zeroed Buffer of size bytes.
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// WrapBuffer uses b as the allocation without copying.
func WrapBuffer(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Len returns the allocation length, or 0 once detached.
func (b *Buffer) Len() int {
	if b == nil || b.detached.Load() {
		return 0
	}
	return len(b.data)
}

// Bytes returns the whole allocation, or nil once detached.
func (b *Buffer) Bytes() []byte {
	if b == nil || b.detached.Load() {
		return nil
	}
	return b.data
}

// Detach marks the buffer unusable and hands its memory to the caller.
func (b *Buffer) Detach() []byte {
	if b.detached.Swap(true) {
		return nil
	}
	return b.data
}

// Detached reports whether Detach was called.
func (b *Buffer) Detached() bool {
	return b == nil || b.detached.Load()
}

// View describes a region of a Buffer interpreted as elements of Kind.
type View struct {
	Buffer     *Buffer
	ByteOffset int
	ByteLength int
	Kind       ElementKind
}

// NewView allocates a fresh buffer holding elements of kind.
func NewView(kind ElementKind, elements int) View {
	n := elements * kind.Size()
	return View{Buffer: NewBuffer(n), ByteLength: n, Kind: kind}
}

// BytesView wraps b as a KindBytes view.
func BytesView(b []byte) View {
	return View{Buffer: WrapBuffer(b), ByteLength: len(b), Kind: KindBytes}
}

// ViewOf creates a view of elements elements of kind starting at
// byteOffset in buf. The offset must be element aligned and the region must
// fit in the buffer.
func ViewOf(kind ElementKind, buf *Buffer, byteOffset, elements int) (View, error) {
	if buf == nil {
		return View{}, types.NewError(types.ErrType, "view requires a buffer")
	}
	size := kind.Size()
	if byteOffset < 0 || elements < 0 {
		return View{}, types.NewError(types.ErrRange, "view offset and length must be non-negative")
	}
	if byteOffset%size != 0 {
		return View{}, types.Errorf(types.ErrRange, "%s view offset %d is not a multiple of %d", kind, byteOffset, size)
	}
	if byteOffset+elements*size > buf.Len() {
		return View{}, types.Errorf(types.ErrRange, "%s view [%d, %d) exceeds buffer length %d",
			kind, byteOffset, byteOffset+elements*size, buf.Len())
	}
	return View{Buffer: buf, ByteOffset: byteOffset, ByteLength: elements * size, Kind: kind}, nil
}

// ElementSize returns the size of one element of the view.
func (v View) ElementSize() int { return v.Kind.Size() }

// Len returns the number of whole elements in the view.
func (v View) Len() int { return v.ByteLength / v.Kind.Size() }

// IsZero reports whether the view has no buffer at all.
func (v View) IsZero() bool { return v.Buffer == nil }

// Bytes returns the viewed bytes. It aliases the buffer and is nil for a
// zero or detached view.
func (v View) Bytes() []byte {
	b := v.Buffer.Bytes()
	if b == nil {
		return nil
	}
	return b[v.ByteOffset : v.ByteOffset+v.ByteLength : v.ByteOffset+v.ByteLength]
}

// Truncate returns the view narrowed to the whole elements contained in its
// first filled bytes. Any trailing partial element is excluded.
func (v View) Truncate(filled int) View {
	if filled > v.ByteLength {
		filled = v.ByteLength
	}
	if filled < 0 {
		filled = 0
	}
	v.ByteLength = filled - filled%v.Kind.Size()
	return v
}

// check validates v as the destination of a read.
func (v View) check() error {
	switch {
	case v.Buffer == nil:
		return types.NewError(types.ErrType, "view has no underlying buffer")
	case v.Buffer.Detached():
		return types.NewError(types.ErrType, "view's underlying buffer is detached")
	case v.ByteLength == 0:
		return types.NewError(types.ErrType, "view must have a non-zero byte length")
	case v.ByteOffset < 0 || v.ByteLength < 0 || v.ByteOffset+v.ByteLength > v.Buffer.Len():
		return types.Errorf(types.ErrRange, "view [%d, %d) exceeds buffer length %d",
			v.ByteOffset, v.ByteOffset+v.ByteLength, v.Buffer.Len())
	case v.ByteLength%v.Kind.Size() != 0:
		return types.Errorf(types.ErrRange, "%s view byte length %d is not a multiple of %d",
			v.Kind, v.ByteLength, v.Kind.Size())
	}
	return nil
}

// Uint16At decodes element i as a little-endian uint16.
func (v View) Uint16At(i int) uint16 {
	return binary.LittleEndian.Uint16(v.Bytes()[i*2:])
}

// Uint32At decodes element i as a little-endian uint32.
func (v View) Uint32At(i int) uint32 {
	return binary.LittleEndian.Uint32(v.Bytes()[i*4:])
}

// Float32At decodes element i as a little-endian float32.
func (v View) Float32At(i int) float32 {
	return math.Float32frombits(v.Uint32At(i))
}

// Float64At decodes element i as a little-endian float64.
func (v View) Float64At(i int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Bytes()[i*8:]))
}
