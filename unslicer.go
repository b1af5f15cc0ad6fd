package banana

import (
	"fmt"

	"github.com/chazu/banana/schema"
	"github.com/chazu/banana/token"
)

// An Unslicer consumes the tokens of one structure and produces its
// object. The Decoder drives a stack of them through the lifecycle
// Start, CheckToken/OpenerCheckToken/DoOpen/ReceiveChild repeated,
// ReceiveClose, Finish.
type Unslicer interface {
	// SetConstraint attaches a schema constraint. Never calling it leaves
	// the node unconstrained: any legal token is accepted, bounded only
	// by the decoder's outer size limit.
	SetConstraint(c schema.Constraint)

	// SetParent links this consumer under its enclosing one.
	SetParent(parent Unslicer)

	// Start initializes the node. count is its StructureId; a node whose
	// object may be shared registers it (or a placeholder) with
	// Decoder.SetObject here.
	Start(count uint64) error

	// CheckToken vets an incoming token type and declared size before any
	// body byte is buffered. Not asked about Close or Abort, but asked
	// about Open.
	CheckToken(tag byte, size uint64) error

	// OpenerCheckToken vets an index token while the kind of a child
	// structure is still being determined. opentype holds the index
	// tokens collected so far. Usually delegated up to the root, which
	// owns open-type policy.
	OpenerCheckToken(tag byte, size uint64, opentype []string) error

	// DoOpen decides what kind of child opentype names. It returns
	// (nil, nil) when more index tokens are needed, or the new child
	// consumer with its constraint attached.
	DoOpen(opentype []string) (Unslicer, error)

	// ReceiveChild accumulates one decoded child: a primitive, a finished
	// composite, a *Deferred placeholder to be filled later, or a
	// *token.Violation when the child's subtree failed.
	ReceiveChild(obj any) error

	// ReceiveClose finalizes the node on its Close token and returns the
	// finished object, resolving any placeholder registered in Start.
	ReceiveClose() (any, error)

	// Finish runs unconditionally when the node is popped. failure is nil
	// on success; otherwise any outstanding placeholder must be resolved
	// to the failure so dependents do not hang.
	Finish(failure *token.Violation)

	// Describe returns this node's single-level location fragment.
	Describe() string
}

// maxOpentypeLen bounds a single index token; maxOpentypeTokens bounds
// how many of them a child may take to identify itself.
const (
	maxOpentypeLen    = 64
	maxOpentypeTokens = 8
)

// UnsliceBase carries the delegating defaults shared by every unslicer.
// Embed it and override what the node kind needs.
type UnsliceBase struct {
	Parent     Unslicer
	Constraint schema.Constraint
	Dec        *Decoder
}

func (b *UnsliceBase) SetConstraint(c schema.Constraint) { b.Constraint = c }
func (b *UnsliceBase) SetParent(p Unslicer)              { b.Parent = p }
func (b *UnsliceBase) Start(count uint64) error          { return nil }
func (b *UnsliceBase) Finish(failure *token.Violation)   {}
func (b *UnsliceBase) Describe() string                  { return "" }

func (b *UnsliceBase) CheckToken(tag byte, size uint64) error {
	if b.Constraint != nil {
		return b.Constraint.CheckToken(tag, size)
	}
	return schema.Any{}.CheckToken(tag, size)
}

func (b *UnsliceBase) OpenerCheckToken(tag byte, size uint64, opentype []string) error {
	return b.Parent.OpenerCheckToken(tag, size, opentype)
}

func (b *UnsliceBase) DoOpen(opentype []string) (Unslicer, error) {
	return nil, token.Violationf("%v structure not allowed here", opentype)
}

func (b *UnsliceBase) ReceiveChild(obj any) error {
	return token.Violationf("unexpected child")
}

func (b *UnsliceBase) ReceiveClose() (any, error) {
	return nil, token.Violationf("unexpected close")
}

// openChild validates opentype against c (references are exempt: they
// stand for a structure that was vetted where it was first sent) and
// builds the child consumer, attaching c to it.
func (b *UnsliceBase) openChild(c schema.Constraint, opentype []string) (Unslicer, error) {
	if c != nil && opentype[0] != "reference" {
		if err := c.CheckOpentype(opentype); err != nil {
			return nil, err
		}
	}
	child, err := b.Dec.newUnslicer(opentype)
	if child == nil || err != nil {
		return nil, err
	}
	if c != nil {
		child.SetConstraint(c)
	}
	return child, nil
}

// reraise wraps a failed child's Violation for propagation; the engine
// unwraps to the original so the reported location stays at the failure
// site.
func reraise(v *token.Violation) error {
	return &token.Violation{Msg: "child failed", Wrapped: v}
}

// listUnslicer accumulates list elements. The finished slice is only
// registered at close, because append may move the backing array; until
// then the node's StructureId maps to a Deferred placeholder.
type listUnslicer struct {
	UnsliceBase
	count   uint64
	items   []any
	pending *Deferred
}

func (u *listUnslicer) Start(count uint64) error {
	u.count = count
	u.pending = NewDeferred()
	u.Dec.SetObject(count, u.pending)
	return nil
}

func (u *listUnslicer) constraint() (schema.List, bool) {
	c, ok := u.Constraint.(schema.List)
	return c, ok
}

func (u *listUnslicer) CheckToken(tag byte, size uint64) error {
	c, ok := u.constraint()
	if !ok {
		return schema.Any{}.CheckToken(tag, size)
	}
	if c.MaxLength > 0 && uint64(len(u.items)) >= c.MaxLength {
		return token.Violationf("list exceeds %d elements", c.MaxLength)
	}
	if tag == token.Open {
		return nil
	}
	if c.Item != nil {
		return c.Item.CheckToken(tag, size)
	}
	return schema.Any{}.CheckToken(tag, size)
}

func (u *listUnslicer) DoOpen(opentype []string) (Unslicer, error) {
	var item schema.Constraint
	if c, ok := u.constraint(); ok {
		item = c.Item
	}
	return u.openChild(item, opentype)
}

func (u *listUnslicer) ReceiveChild(obj any) error {
	if v, ok := obj.(*token.Violation); ok {
		return reraise(v)
	}
	if d, ok := obj.(*Deferred); ok {
		idx := len(u.items)
		u.items = append(u.items, nil)
		d.AddCallback(func(v any) { u.items[idx] = v })
		return nil
	}
	u.items = append(u.items, obj)
	return nil
}

func (u *listUnslicer) ReceiveClose() (any, error) {
	obj := u.items
	if obj == nil {
		obj = []any{}
	}
	u.Dec.SetObject(u.count, obj)
	u.pending.Resolve(obj)
	u.pending = nil
	return obj, nil
}

func (u *listUnslicer) Finish(failure *token.Violation) {
	if u.pending == nil {
		return
	}
	if failure == nil {
		failure = token.Violationf("list abandoned")
	}
	u.pending.Fail(failure)
	u.Dec.SetObject(u.count, failure)
	u.pending = nil
}

func (u *listUnslicer) Describe() string {
	return fmt.Sprintf("[%d]", len(u.items))
}

// dictUnslicer accumulates key/value pairs. The map has stable identity,
// so it is registered at start and references back into a still-open dict
// resolve immediately.
type dictUnslicer struct {
	UnsliceBase
	count   uint64
	m       map[string]any
	key     string
	haveKey bool
	failed  bool
}

func (u *dictUnslicer) Start(count uint64) error {
	u.count = count
	u.m = make(map[string]any)
	u.Dec.SetObject(count, u.m)
	return nil
}

func (u *dictUnslicer) constraint() (schema.Dict, bool) {
	c, ok := u.Constraint.(schema.Dict)
	return c, ok
}

func (u *dictUnslicer) CheckToken(tag byte, size uint64) error {
	c, constrained := u.constraint()
	if !u.haveKey {
		if constrained && c.MaxKeys > 0 && uint64(len(u.m)) >= c.MaxKeys {
			return token.Violationf("dict exceeds %d keys", c.MaxKeys)
		}
		if constrained && c.Key != nil {
			return c.Key.CheckToken(tag, size)
		}
		return schema.String{}.CheckToken(tag, size)
	}
	if tag == token.Open {
		return nil
	}
	if constrained && c.Value != nil {
		return c.Value.CheckToken(tag, size)
	}
	return schema.Any{}.CheckToken(tag, size)
}

func (u *dictUnslicer) DoOpen(opentype []string) (Unslicer, error) {
	if !u.haveKey {
		return nil, token.Violationf("dict keys must be strings, not %v structures", opentype)
	}
	var value schema.Constraint
	if c, ok := u.constraint(); ok {
		value = c.Value
	}
	return u.openChild(value, opentype)
}

func (u *dictUnslicer) ReceiveChild(obj any) error {
	if v, ok := obj.(*token.Violation); ok {
		return reraise(v)
	}
	if !u.haveKey {
		s, ok := obj.(string)
		if !ok {
			return token.Violationf("dict key is %T, not a string", obj)
		}
		if _, dup := u.m[s]; dup {
			return token.Violationf("duplicate dict key %q", s)
		}
		u.key = s
		u.haveKey = true
		return nil
	}
	key := u.key
	u.haveKey = false
	if d, ok := obj.(*Deferred); ok {
		u.m[key] = nil
		d.AddCallback(func(v any) { u.m[key] = v })
		return nil
	}
	u.m[key] = obj
	return nil
}

func (u *dictUnslicer) ReceiveClose() (any, error) {
	if u.haveKey {
		return nil, token.Violationf("dict closed with dangling key %q", u.key)
	}
	return u.m, nil
}

func (u *dictUnslicer) Finish(failure *token.Violation) {
	if failure != nil {
		// later references must see the failure, not a half-built map
		u.Dec.SetObject(u.count, failure)
	}
}

func (u *dictUnslicer) Describe() string {
	if u.haveKey {
		return fmt.Sprintf("{%s}", u.key)
	}
	return "{}"
}

// booleanUnslicer consumes the single Int inside a boolean structure.
type booleanUnslicer struct {
	UnsliceBase
	v   bool
	got bool
}

func (u *booleanUnslicer) CheckToken(tag byte, size uint64) error {
	if tag == token.Int && size <= 1 {
		return nil
	}
	return token.Violationf("boolean must contain 0 or 1, got %s(%d)", token.Name(tag), size)
}

func (u *booleanUnslicer) ReceiveChild(obj any) error {
	if v, ok := obj.(*token.Violation); ok {
		return reraise(v)
	}
	if u.got {
		return token.Violationf("boolean with more than one body token")
	}
	i, ok := obj.(int64)
	if !ok {
		return token.Violationf("boolean body is %T", obj)
	}
	u.v = i != 0
	u.got = true
	return nil
}

func (u *booleanUnslicer) ReceiveClose() (any, error) {
	if !u.got {
		return nil, token.Violationf("empty boolean structure")
	}
	return u.v, nil
}

func (u *booleanUnslicer) Describe() string { return "<bool>" }

// noneUnslicer consumes an empty none structure and yields nil.
type noneUnslicer struct {
	UnsliceBase
}

func (u *noneUnslicer) CheckToken(tag byte, size uint64) error {
	return token.Violationf("none takes no body, got %s", token.Name(tag))
}

func (u *noneUnslicer) ReceiveChild(obj any) error {
	if v, ok := obj.(*token.Violation); ok {
		return reraise(v)
	}
	return token.Violationf("none takes no children")
}

func (u *noneUnslicer) ReceiveClose() (any, error) { return nil, nil }

func (u *noneUnslicer) Describe() string { return "<none>" }

// referenceUnslicer consumes a single Int naming an already-opened
// structure and yields that object, or its placeholder while the target
// is still open. A reference that cannot be resolved is a wire-level
// desync, not a data-shape problem.
type referenceUnslicer struct {
	UnsliceBase
	id  uint64
	got bool
}

func (u *referenceUnslicer) CheckToken(tag byte, size uint64) error {
	if tag == token.Int {
		return nil
	}
	return token.Protocolf("reference must contain an integer, got %s", token.Name(tag))
}

func (u *referenceUnslicer) ReceiveChild(obj any) error {
	if v, ok := obj.(*token.Violation); ok {
		return reraise(v)
	}
	if u.got {
		return token.Protocolf("reference with more than one body token")
	}
	i, ok := obj.(int64)
	if !ok || i < 0 {
		return token.Protocolf("reference body is not a structure id")
	}
	u.id = uint64(i)
	u.got = true
	return nil
}

func (u *referenceUnslicer) ReceiveClose() (any, error) {
	if !u.got {
		return nil, token.Protocolf("empty reference structure")
	}
	obj, ok := u.Dec.GetObject(u.id)
	if !ok {
		if u.id >= u.Dec.objectCount {
			return nil, token.Protocolf("reference to future id %d", u.id)
		}
		return nil, token.Protocolf("reference to untracked id %d", u.id)
	}
	if d, ok := obj.(*Deferred); ok {
		if value, err, resolved := d.Result(); resolved {
			if err != nil {
				return nil, token.Violationf("reference to failed structure %d: %v", u.id, err)
			}
			return value, nil
		}
		return d, nil
	}
	if v, ok := obj.(*token.Violation); ok {
		return nil, &token.Violation{Msg: fmt.Sprintf("reference to failed structure %d", u.id), Wrapped: v}
	}
	return obj, nil
}

func (u *referenceUnslicer) Describe() string {
	return fmt.Sprintf("<ref-%d>", u.id)
}

// rootUnslicer anchors the decode stack. It owns open-type policy for the
// whole tree, applies the decoder's root constraint to top-level objects,
// and queues finished results for Receive.
type rootUnslicer struct {
	UnsliceBase
}

func (u *rootUnslicer) CheckToken(tag byte, size uint64) error {
	if u.Dec.rootConstraint != nil {
		return u.Dec.rootConstraint.CheckToken(tag, size)
	}
	return schema.Any{}.CheckToken(tag, size)
}

func (u *rootUnslicer) OpenerCheckToken(tag byte, size uint64, opentype []string) error {
	switch tag {
	case token.String:
		if size > maxOpentypeLen {
			return token.Violationf("index token of %d bytes exceeds limit %d", size, maxOpentypeLen)
		}
		return nil
	case token.Vocab:
		return nil
	}
	return token.Violationf("index tokens must be strings, got %s", token.Name(tag))
}

func (u *rootUnslicer) DoOpen(opentype []string) (Unslicer, error) {
	return u.openChild(u.Dec.rootConstraint, opentype)
}

func (u *rootUnslicer) ReceiveChild(obj any) error {
	u.Dec.results = append(u.Dec.results, obj)
	return nil
}

func (u *rootUnslicer) ReceiveClose() (any, error) {
	return nil, token.Protocolf("close token at the root")
}
