package banana

import (
	"fmt"
	"io"
	"sort"

	"github.com/chazu/banana/token"
)

// ItemSource lazily produces the body items of one slicer. An item is a
// leaf value (integer, float, string, *big.Int), a child object needing
// its own slicer, or a *Deferred that a streaming slicer is waiting on.
// Next returns io.EOF once the body is complete, or a *token.Violation to
// stop slicing this node.
type ItemSource interface {
	Next() (any, error)
}

// itemFunc adapts a closure to ItemSource.
type itemFunc func() (any, error)

func (f itemFunc) Next() (any, error) { return f() }

// singleItem produces obj and nothing else.
func singleItem(obj any) ItemSource {
	done := false
	return itemFunc(func() (any, error) {
		if done {
			return nil, io.EOF
		}
		done = true
		return obj, nil
	})
}

// A Slicer produces the serialized form of one object-graph node. The
// Encoder drives a stack of them: Open, index tokens, body items, Close.
type Slicer interface {
	// Opentype returns the index tokens identifying this node's kind.
	Opentype() []string

	// SendOpen reports whether the body is wrapped in Open/Close tokens.
	// Only the root returns false.
	SendOpen() bool

	// TrackReferences reports whether the object should be registered for
	// reference compression. True for mutable containers, false for
	// immutable leaves.
	TrackReferences() bool

	// Streamable reports whether children of this node may suspend token
	// production on a Deferred. Suspension also needs every enclosing
	// node's permission.
	Streamable() bool

	// Slice returns the lazy body of this node. streamable is the
	// effective permission inherited from the enclosing chain.
	Slice(streamable bool, e *Encoder) ItemSource

	// RegisterReference records the StructureId assigned to a trackable
	// object. Normally delegated up to the root. Must not fail
	// recoverably; a problem here is a bookkeeping bug, not a data-shape
	// issue.
	RegisterReference(id uint64, obj any)

	// SlicerForObject selects a producer for a child object, or refuses
	// it with a Violation. This is the taster; normally delegated up to
	// the root, any level may refuse on the way.
	SlicerForObject(obj any) (Slicer, error)

	// ChildAborted notifies this node that a child ended its token stream
	// with Abort.
	ChildAborted(v *token.Violation)

	// SetParent links this slicer under its enclosing producer.
	SetParent(parent Slicer)

	// Describe returns this node's single-level location fragment,
	// relative to its parent.
	Describe() string
}

// SliceBase carries the delegating defaults shared by every slicer:
// taster and reference registration go up to the root, child aborts are
// tolerated, bodies are wrapped in Open/Close. Embed it and implement
// Opentype, Slice and Describe.
type SliceBase struct {
	Parent Slicer
}

func (b *SliceBase) SetParent(p Slicer)              { b.Parent = p }
func (b *SliceBase) SendOpen() bool                  { return true }
func (b *SliceBase) TrackReferences() bool           { return false }
func (b *SliceBase) Streamable() bool                { return true }
func (b *SliceBase) ChildAborted(v *token.Violation) {}

func (b *SliceBase) RegisterReference(id uint64, obj any) {
	b.Parent.RegisterReference(id, obj)
}

func (b *SliceBase) SlicerForObject(obj any) (Slicer, error) {
	return b.Parent.SlicerForObject(obj)
}

// listSlicer slices []any in element order.
type listSlicer struct {
	SliceBase
	list []any
	idx  int
}

func (s *listSlicer) Opentype() []string    { return []string{"list"} }
func (s *listSlicer) TrackReferences() bool { return true }

func (s *listSlicer) Slice(streamable bool, e *Encoder) ItemSource {
	return itemFunc(func() (any, error) {
		if s.idx >= len(s.list) {
			return nil, io.EOF
		}
		item := s.list[s.idx]
		s.idx++
		return item, nil
	})
}

func (s *listSlicer) Describe() string {
	i := s.idx - 1
	if i < 0 {
		i = 0
	}
	return fmt.Sprintf("[%d]", i)
}

// dictSlicer slices map[string]any as key, value pairs. Keys go out in
// sorted order so the same map always produces the same stream.
type dictSlicer struct {
	SliceBase
	dict    map[string]any
	keys    []string
	idx     int
	cur     string
	inValue bool
}

func (s *dictSlicer) Opentype() []string    { return []string{"dict"} }
func (s *dictSlicer) TrackReferences() bool { return true }

func (s *dictSlicer) Slice(streamable bool, e *Encoder) ItemSource {
	s.keys = make([]string, 0, len(s.dict))
	for k := range s.dict {
		s.keys = append(s.keys, k)
	}
	sort.Strings(s.keys)
	return itemFunc(func() (any, error) {
		if s.idx >= len(s.keys) {
			return nil, io.EOF
		}
		if !s.inValue {
			s.cur = s.keys[s.idx]
			s.inValue = true
			return s.cur, nil
		}
		v := s.dict[s.cur]
		s.inValue = false
		s.idx++
		return v, nil
	})
}

func (s *dictSlicer) Describe() string {
	if s.cur != "" {
		return fmt.Sprintf("{%s}", s.cur)
	}
	return "{}"
}

// boolSlicer encodes a bool as a boolean structure wrapping one Int.
type boolSlicer struct {
	SliceBase
	v    bool
	done bool
}

func (s *boolSlicer) Opentype() []string { return []string{"boolean"} }

func (s *boolSlicer) Slice(streamable bool, e *Encoder) ItemSource {
	return itemFunc(func() (any, error) {
		if s.done {
			return nil, io.EOF
		}
		s.done = true
		if s.v {
			return int64(1), nil
		}
		return int64(0), nil
	})
}

func (s *boolSlicer) Describe() string { return "<bool>" }

// noneSlicer encodes nil as an empty none structure.
type noneSlicer struct {
	SliceBase
}

func (s *noneSlicer) Opentype() []string { return []string{"none"} }

func (s *noneSlicer) Slice(streamable bool, e *Encoder) ItemSource {
	return itemFunc(func() (any, error) { return nil, io.EOF })
}

func (s *noneSlicer) Describe() string { return "<none>" }

// referenceSlicer stands in for an object already sent: its body is the
// StructureId of the first copy.
type referenceSlicer struct {
	SliceBase
	id   uint64
	done bool
}

func (s *referenceSlicer) Opentype() []string { return []string{"reference"} }

func (s *referenceSlicer) Slice(streamable bool, e *Encoder) ItemSource {
	return itemFunc(func() (any, error) {
		if s.done {
			return nil, io.EOF
		}
		s.done = true
		return int64(s.id), nil
	})
}

func (s *referenceSlicer) Describe() string {
	return fmt.Sprintf("<ref-%d>", s.id)
}

// rootSlicer sits at the bottom of every encode stack. It owns the
// encode-side reference table and the built-in taster, and its body is
// never wrapped in Open/Close.
type rootSlicer struct {
	enc  *Encoder
	refs *refMap
}

func (s *rootSlicer) Opentype() []string            { return nil }
func (s *rootSlicer) SendOpen() bool                { return false }
func (s *rootSlicer) TrackReferences() bool         { return false }
func (s *rootSlicer) Streamable() bool              { return s.enc.streamable }
func (s *rootSlicer) SetParent(Slicer)              {}
func (s *rootSlicer) ChildAborted(*token.Violation) {}
func (s *rootSlicer) Describe() string              { return "" }

func (s *rootSlicer) Slice(bool, *Encoder) ItemSource { return nil }

func (s *rootSlicer) RegisterReference(id uint64, obj any) {
	s.refs.register(id, obj)
}

// SlicerForObject is the built-in taster: containers already sent become
// references, known kinds get their slicer, anything else goes to the
// application hook or is refused.
func (s *rootSlicer) SlicerForObject(obj any) (Slicer, error) {
	if id, ok := s.refs.lookup(obj); ok {
		return &referenceSlicer{id: id}, nil
	}
	switch o := obj.(type) {
	case nil:
		return &noneSlicer{}, nil
	case bool:
		return &boolSlicer{v: o}, nil
	case []any:
		return &listSlicer{list: o}, nil
	case map[string]any:
		return &dictSlicer{dict: o}, nil
	}
	if s.enc.slicerFunc != nil {
		return s.enc.slicerFunc(obj)
	}
	return nil, token.Violationf("cannot serialize %T", obj)
}
