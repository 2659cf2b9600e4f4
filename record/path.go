package record

import (
	"strconv"
	"sync"
)

// PathBuilder builds nested field paths such as "contact.phone" or
// "notes[2]" without intermediate allocations. It is reused via sync.Pool.
type PathBuilder struct {
	buf []byte
}

var pathBuilderPool = sync.Pool{
	New: func() any {
		return &PathBuilder{
			buf: make([]byte, 0, 128),
		}
	},
}

// AcquirePathBuilder gets a PathBuilder from the pool.
// Call Release() when done to return it to the pool.
func AcquirePathBuilder() *PathBuilder {
	pb := pathBuilderPool.Get().(*PathBuilder)
	pb.Reset()
	return pb
}

// Release returns the PathBuilder to the pool.
func (b *PathBuilder) Release() {
	if b == nil {
		return
	}
	// Don't return oversized buffers to the pool
	if cap(b.buf) <= 4096 {
		pathBuilderPool.Put(b)
	}
}

// Reset clears the buffer without deallocating.
func (b *PathBuilder) Reset() {
	b.buf = b.buf[:0]
}

// Len returns the current length of the path.
func (b *PathBuilder) Len() int {
	return len(b.buf)
}

// Truncate shortens the path to n bytes, undoing later appends.
func (b *PathBuilder) Truncate(n int) {
	if n >= 0 && n <= len(b.buf) {
		b.buf = b.buf[:n]
	}
}

// AppendField appends a field name with a leading dot if the path is not empty.
func (b *PathBuilder) AppendField(name string) {
	if len(b.buf) > 0 {
		b.buf = append(b.buf, '.')
	}
	b.buf = append(b.buf, name...)
}

// AppendIndex appends a list index in brackets [n].
func (b *PathBuilder) AppendIndex(index int) {
	b.buf = append(b.buf, '[')
	b.buf = strconv.AppendInt(b.buf, int64(index), 10)
	b.buf = append(b.buf, ']')
}

// String returns the built path.
func (b *PathBuilder) String() string {
	return string(b.buf)
}

// JoinPath joins field names with dots.
func JoinPath(segments ...string) string {
	if len(segments) == 1 {
		return segments[0]
	}
	pb := AcquirePathBuilder()
	defer pb.Release()
	for _, s := range segments {
		pb.AppendField(s)
	}
	return pb.String()
}

// Leaf is a scalar value reached by Walk, with its full path.
type Leaf struct {
	Path  string // e.g. "contact.phone" or "notes[0]"
	Field string // top-level field the value belongs to
	Name  string // innermost field name on the path
	Value Value
}

// Walk visits every scalar value of r, depth first, with top-level fields
// and map keys in sorted order. Null values are skipped. Returning false
// from fn stops the walk.
func (r Record) Walk(fn func(Leaf) bool) {
	pb := AcquirePathBuilder()
	defer pb.Release()

	for _, k := range r.Keys() {
		pb.Reset()
		pb.AppendField(k)
		if !walkValue(pb, k, k, r[k], fn) {
			return
		}
	}
}

func walkValue(pb *PathBuilder, field, name string, v Value, fn func(Leaf) bool) bool {
	switch v.kind {
	case KindNull:
		return true
	case KindList:
		mark := pb.Len()
		for i, item := range v.list {
			pb.AppendIndex(i)
			if !walkValue(pb, field, name, item, fn) {
				return false
			}
			pb.Truncate(mark)
		}
		return true
	case KindMap:
		mark := pb.Len()
		for _, k := range sortedKeys(v.m) {
			pb.AppendField(k)
			if !walkValue(pb, field, k, v.m[k], fn) {
				return false
			}
			pb.Truncate(mark)
		}
		return true
	default:
		return fn(Leaf{Path: pb.String(), Field: field, Name: name, Value: v})
	}
}

// Transform returns a copy of r in which every scalar leaf reached by Walk
// is replaced by fn's result. Nulls are kept as they are.
func (r Record) Transform(fn func(Leaf) Value) Record {
	pb := AcquirePathBuilder()
	defer pb.Release()

	out := make(Record, len(r))
	for _, k := range r.Keys() {
		pb.Reset()
		pb.AppendField(k)
		out[k] = transformValue(pb, k, k, r[k], fn)
	}
	return out
}

func transformValue(pb *PathBuilder, field, name string, v Value, fn func(Leaf) Value) Value {
	switch v.kind {
	case KindNull:
		return v
	case KindList:
		mark := pb.Len()
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			pb.AppendIndex(i)
			items[i] = transformValue(pb, field, name, item, fn)
			pb.Truncate(mark)
		}
		return Value{kind: KindList, list: items}
	case KindMap:
		mark := pb.Len()
		m := make(map[string]Value, len(v.m))
		for _, k := range sortedKeys(v.m) {
			pb.AppendField(k)
			m[k] = transformValue(pb, field, k, v.m[k], fn)
			pb.Truncate(mark)
		}
		return Value{kind: KindMap, m: m}
	default:
		return fn(Leaf{Path: pb.String(), Field: field, Name: name, Value: v})
	}
}
