package banana

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/banana/schema"
	"github.com/chazu/banana/token"
)

var decodeLog = commonlog.GetLogger("banana.decode")

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithIncomingVocabulary sets the table used to resolve Vocab tokens. It
// must be built from the same word list as the peer's encoder table.
func WithIncomingVocabulary(v *Vocabulary) DecoderOption {
	return func(d *Decoder) { d.vocab = v }
}

// WithRootConstraint constrains top-level objects. Without it, any legal
// object is accepted.
func WithRootConstraint(c schema.Constraint) DecoderOption {
	return func(d *Decoder) { d.rootConstraint = c }
}

// WithMaxTokenSize sets the outer bound on long-token bodies, applied
// before any constraint. Zero removes the bound entirely; the default is
// token.SizeLimit.
func WithMaxTokenSize(n uint64) DecoderOption {
	return func(d *Decoder) {
		if n == 0 {
			n = math.MaxUint64
		}
		d.maxTokenSize = n
	}
}

// WithOpentype registers an application structure kind: factory builds
// the consumer for structures opened with the given index token.
func WithOpentype(name string, factory func(*Decoder) Unslicer) DecoderOption {
	return func(d *Decoder) { d.registry[name] = factory }
}

// Decoder is the decode-side stack machine. It reads token streams from r
// and rebuilds one object graph per Receive call.
type Decoder struct {
	r        *bufio.Reader
	stack    []Unslicer
	counts   []uint64 // StructureId per open frame, parallel to stack[1:]
	root     *rootUnslicer
	table    *refTable
	vocab    *Vocabulary
	registry map[string]func(*Decoder) Unslicer

	rootConstraint schema.Constraint
	maxTokenSize   uint64

	objectCount uint64

	inOpen    bool
	opentype  []string
	openCount uint64

	discarding     bool
	discardDepth   int
	discardPop     bool
	discardFailure *token.Violation

	fatal   error
	results []any
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...DecoderOption) *Decoder {
	d := &Decoder{
		r:            bufio.NewReader(r),
		table:        newRefTable(),
		maxTokenSize: token.SizeLimit,
	}
	d.registry = map[string]func(*Decoder) Unslicer{
		"list":      func(d *Decoder) Unslicer { return &listUnslicer{UnsliceBase: UnsliceBase{Dec: d}} },
		"dict":      func(d *Decoder) Unslicer { return &dictUnslicer{UnsliceBase: UnsliceBase{Dec: d}} },
		"boolean":   func(d *Decoder) Unslicer { return &booleanUnslicer{UnsliceBase: UnsliceBase{Dec: d}} },
		"none":      func(d *Decoder) Unslicer { return &noneUnslicer{UnsliceBase: UnsliceBase{Dec: d}} },
		"reference": func(d *Decoder) Unslicer { return &referenceUnslicer{UnsliceBase: UnsliceBase{Dec: d}} },
	}
	d.root = &rootUnslicer{UnsliceBase: UnsliceBase{Dec: d}}
	d.stack = append(d.stack, d.root)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetObject records the object (or *Deferred placeholder, or failure)
// decoded for a StructureId. Called by unslicers for shareable nodes.
func (d *Decoder) SetObject(id uint64, obj any) { d.table.set(id, obj) }

// GetObject returns whatever is registered for a StructureId.
func (d *Decoder) GetObject(id uint64) (any, bool) { return d.table.get(id) }

// Receive decodes and returns the next top-level object. A returned
// *token.Violation means that object was discarded but the stream is
// intact; the next Receive picks up at the following structure. A
// *token.ProtocolError (or transport error) is permanent. io.EOF marks a
// clean end of stream.
func (d *Decoder) Receive() (any, error) {
	for {
		if len(d.results) > 0 {
			obj := d.results[0]
			d.results = d.results[1:]
			if v, ok := obj.(*token.Violation); ok {
				return nil, v
			}
			return obj, nil
		}
		if d.fatal != nil {
			return nil, d.fatal
		}
		if err := d.step(); err != nil {
			if err != io.EOF {
				decodeLog.Errorf("connection fatal: %s", err.Error())
				d.abandonAll(err)
			}
			d.fatal = err
			return nil, err
		}
	}
}

// ConnectionLost abandons every open frame, resolving outstanding
// placeholders to failures so no dependent waits forever.
func (d *Decoder) ConnectionLost(why error) {
	if d.fatal == nil {
		d.fatal = fmt.Errorf("banana: connection lost: %w", why)
	}
	d.abandonAll(why)
}

func (d *Decoder) abandonAll(why error) {
	v := token.Violationf("connection dropped: %v", why)
	for len(d.stack) > 1 {
		top := d.pop()
		top.Finish(v)
	}
	d.inOpen = false
	d.discarding = false
}

func (d *Decoder) top() Unslicer { return d.stack[len(d.stack)-1] }

func (d *Decoder) pop() Unslicer {
	top := d.top()
	d.stack = d.stack[:len(d.stack)-1]
	if len(d.counts) > 0 {
		d.counts = d.counts[:len(d.counts)-1]
	}
	return top
}

// step consumes exactly one token from the stream.
func (d *Decoder) step() error {
	header, tag, err := d.readTokenHead()
	if err != nil {
		return err
	}
	if !token.Legal(tag) {
		return token.Protocolf("unknown type byte 0x%02X", tag)
	}
	if tag == token.Error {
		msg, rerr := d.readBody(header, token.SizeLimit)
		if rerr != nil {
			return rerr
		}
		return token.Protocolf("error from peer: %s", msg)
	}
	if d.discarding {
		return d.discardToken(header, tag)
	}
	switch tag {
	case token.Open:
		return d.handleOpen(header)
	case token.Close:
		return d.handleClose(header)
	case token.Abort:
		return d.handleAbort()
	}
	if d.inOpen {
		return d.handleIndexToken(header, tag)
	}
	return d.handleLeaf(header, tag)
}

// readTokenHead reads the base-128 header digits and the type byte that
// terminates them. A clean io.EOF at a top-level boundary is passed
// through; anywhere else a truncated stream is fatal.
func (d *Decoder) readTokenHead() (uint64, byte, error) {
	var v uint64
	n := 0
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if err == io.EOF && n == 0 && d.atBoundary() {
				return 0, 0, io.EOF
			}
			return 0, 0, token.Protocolf("truncated stream: %v", err)
		}
		if b >= 0x80 {
			return v, b, nil
		}
		if n >= token.MaxHeaderBytes {
			return 0, 0, token.Protocolf("token header longer than %d bytes", token.MaxHeaderBytes)
		}
		if n == token.MaxHeaderBytes-1 && b > 1 {
			return 0, 0, token.Protocolf("token header overflows 64 bits")
		}
		v |= uint64(b) << (7 * uint(n))
		n++
	}
}

func (d *Decoder) atBoundary() bool {
	return len(d.stack) == 1 && !d.inOpen && !d.discarding
}

func (d *Decoder) handleOpen(header uint64) error {
	if d.inOpen {
		return token.Protocolf("Open token while collecting an open type")
	}
	count := d.objectCount
	d.objectCount++
	if header != count {
		return token.Protocolf("Open count desync: peer says %d, expected %d", header, count)
	}
	if err := d.top().CheckToken(token.Open, header); err != nil {
		return d.rejected(err, func(v *token.Violation) error {
			return d.discardSubtree(v)
		})
	}
	d.inOpen = true
	d.opentype = d.opentype[:0]
	d.openCount = count
	return nil
}

func (d *Decoder) handleIndexToken(header uint64, tag byte) error {
	top := d.top()
	if err := top.OpenerCheckToken(tag, header, d.opentype); err != nil {
		return d.rejected(err, func(v *token.Violation) error {
			if serr := d.skipBody(tag, header); serr != nil {
				return serr
			}
			d.inOpen = false
			return d.discardSubtree(v)
		})
	}
	var word string
	switch tag {
	case token.String:
		s, err := d.readBody(header, maxOpentypeLen)
		if err != nil {
			return err
		}
		word = s
	case token.Vocab:
		w, ok := d.vocab.Word(header)
		if !ok {
			return token.Protocolf("vocab index %d outside the agreed table", header)
		}
		word = w
	default:
		return token.Protocolf("index token %s accepted by opener", token.Name(tag))
	}
	d.opentype = append(d.opentype, word)

	child, err := top.DoOpen(d.opentype)
	if err != nil {
		return d.rejected(err, func(v *token.Violation) error {
			d.inOpen = false
			return d.discardSubtree(v)
		})
	}
	if child == nil {
		if len(d.opentype) >= maxOpentypeTokens {
			d.inOpen = false
			return d.discardSubtree(token.Violationf("open type longer than %d tokens", maxOpentypeTokens))
		}
		return nil
	}

	child.SetParent(top)
	d.inOpen = false
	if err := child.Start(d.openCount); err != nil {
		return d.rejected(err, func(v *token.Violation) error {
			return d.discardSubtree(v)
		})
	}
	d.stack = append(d.stack, child)
	d.counts = append(d.counts, d.openCount)
	return nil
}

func (d *Decoder) handleLeaf(header uint64, tag byte) error {
	top := d.top()
	if token.IsLong(tag) && header > d.maxTokenSize {
		v := token.Violationf("%s token of %d bytes exceeds connection limit %d",
			token.Name(tag), header, d.maxTokenSize)
		v.SetLocation(d.where())
		if err := d.skipBody(tag, header); err != nil {
			return err
		}
		return d.give(v)
	}
	if err := top.CheckToken(tag, header); err != nil {
		return d.rejected(err, func(v *token.Violation) error {
			// the rejected token is dropped; the frame decides via
			// ReceiveChild whether the failure takes its siblings with it
			if serr := d.skipBody(tag, header); serr != nil {
				return serr
			}
			return d.give(v)
		})
	}

	var obj any
	switch tag {
	case token.Int:
		if header > math.MaxInt64 {
			return token.Protocolf("integer header overflows int64")
		}
		obj = int64(header)
	case token.Neg:
		switch {
		case header == 1<<63:
			obj = int64(math.MinInt64)
		case header > 1<<63:
			return token.Protocolf("negative integer header overflows int64")
		default:
			obj = -int64(header)
		}
	case token.String:
		s, err := d.readBody(header, d.maxTokenSize)
		if err != nil {
			return err
		}
		obj = s
	case token.Vocab:
		w, ok := d.vocab.Word(header)
		if !ok {
			return token.Protocolf("vocab index %d outside the agreed table", header)
		}
		obj = w
	case token.Float:
		var buf [8]byte
		if _, err := io.ReadFull(d.r, buf[:]); err != nil {
			return token.Protocolf("truncated float body: %v", err)
		}
		obj = math.Float64frombits(binary.BigEndian.Uint64(buf[:]))
	case token.LongInt, token.LongNeg:
		body, err := d.readBody(header, d.maxTokenSize)
		if err != nil {
			return err
		}
		bi := new(big.Int).SetBytes([]byte(body))
		if tag == token.LongNeg {
			bi.Neg(bi)
		}
		obj = bi
	default:
		return token.Protocolf("unhandled token %s", token.Name(tag))
	}
	return d.give(obj)
}

func (d *Decoder) handleClose(header uint64) error {
	if d.inOpen {
		return token.Protocolf("Close token while collecting an open type")
	}
	if len(d.stack) == 1 {
		return token.Protocolf("Close token with no open structure")
	}
	if want := d.counts[len(d.counts)-1]; header != want {
		return token.Protocolf("Close count desync: peer says %d, structure is %d", header, want)
	}
	top := d.top()
	obj, err := top.ReceiveClose()
	if err != nil {
		var v *token.Violation
		if !errors.As(err, &v) {
			d.pop()
			top.Finish(token.Violationf("connection dropped: %v", err))
			return err
		}
		v = v.Original()
		// location is taken while the failing frame is still on the
		// stack, so its own describe fragment is part of the path
		v.SetLocation(d.where())
		d.pop()
		top.Finish(v)
		return d.give(v)
	}
	d.pop()
	top.Finish(nil)
	return d.give(obj)
}

func (d *Decoder) handleAbort() error {
	v := token.Violationf("aborted by sender")
	if d.inOpen {
		// the structure being opened never got a consumer; skip to its Close
		d.inOpen = false
		return d.discardSubtree(v)
	}
	if len(d.stack) == 1 {
		return token.Protocolf("Abort token with no open structure")
	}
	return d.abandonTop(v)
}

// give hands a finished child (or failure) to the current top frame. A
// Violation from ReceiveChild abandons that frame in turn, propagating
// the original failure.
func (d *Decoder) give(obj any) error {
	err := d.top().ReceiveChild(obj)
	if err == nil {
		return nil
	}
	var v *token.Violation
	if !errors.As(err, &v) {
		return err
	}
	return d.abandonTop(v.Original())
}

// rejected routes a check failure: Violations take the recoverable path,
// anything else is connection-fatal.
func (d *Decoder) rejected(err error, recover func(*token.Violation) error) error {
	var v *token.Violation
	if !errors.As(err, &v) {
		return err
	}
	v = v.Original()
	v.SetLocation(d.where())
	return recover(v)
}

// abandonTop drops the current frame: the rest of its subtree is
// discarded and its parent receives the failure once the frame's Close
// arrives. At the root there is no frame to drop; the failure simply
// becomes the result of the current top-level object.
func (d *Decoder) abandonTop(v *token.Violation) error {
	v.SetLocation(d.where())
	if len(d.stack) == 1 {
		d.results = append(d.results, v)
		return nil
	}
	decodeLog.Debugf("abandoning structure at %s: %s", d.where(), v.Msg)
	d.discarding = true
	d.discardDepth = 1
	d.discardPop = true
	d.discardFailure = v
	return nil
}

// discardSubtree drops an entire child structure whose Open has been
// consumed but whose consumer was never built (or refused): everything up
// to the matching Close is skipped, then the current frame receives the
// failure as the child value.
func (d *Decoder) discardSubtree(v *token.Violation) error {
	v.SetLocation(d.where())
	decodeLog.Debugf("discarding structure at %s: %s", d.where(), v.Msg)
	d.discarding = true
	d.discardDepth = 1
	d.discardPop = false
	d.discardFailure = v
	return nil
}

// discardToken skips one token of a doomed subtree, keeping the nesting
// depth and the StructureId counter in sync with the sender.
func (d *Decoder) discardToken(header uint64, tag byte) error {
	switch tag {
	case token.Open:
		d.objectCount++
		d.discardDepth++
		return nil
	case token.Close:
		d.discardDepth--
		if d.discardDepth == 0 {
			return d.finishDiscard()
		}
		return nil
	case token.Abort:
		return nil
	default:
		return d.skipBody(tag, header)
	}
}

func (d *Decoder) finishDiscard() error {
	v := d.discardFailure
	d.discarding = false
	d.discardFailure = nil
	if d.discardPop {
		top := d.pop()
		top.Finish(v)
	}
	return d.give(v)
}

// skipBody drops a token body without buffering it.
func (d *Decoder) skipBody(tag byte, header uint64) error {
	var n int64
	switch {
	case tag == token.Float:
		n = 8
	case token.IsLong(tag):
		if header > math.MaxInt64 {
			return token.Protocolf("token body of %d bytes is absurd", header)
		}
		n = int64(header)
	default:
		return nil
	}
	if _, err := io.CopyN(io.Discard, d.r, n); err != nil {
		return token.Protocolf("truncated stream: %v", err)
	}
	return nil
}

// readBody buffers a long-token body. limit is a hard cap: constraints
// have already vetted the size, so exceeding it here is a wire-level
// problem, not a recoverable one.
func (d *Decoder) readBody(size uint64, limit uint64) (string, error) {
	if size > limit {
		return "", token.Protocolf("token body of %d bytes exceeds hard limit %d", size, limit)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", token.Protocolf("truncated stream: %v", err)
	}
	return string(buf), nil
}

// newUnslicer builds the consumer for an opentype from the registry.
// Built-in kinds are single-token; application factories are consulted on
// the first index token.
func (d *Decoder) newUnslicer(opentype []string) (Unslicer, error) {
	if f, ok := d.registry[opentype[0]]; ok {
		return f(d), nil
	}
	return nil, token.Violationf("unknown opentype %v", opentype)
}

// where builds the location path from the stack's describe fragments,
// root first.
func (d *Decoder) where() string {
	parts := make([]string, 0, len(d.stack))
	for _, u := range d.stack {
		if s := u.Describe(); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "<root>"
	}
	return strings.Join(parts, ".")
}
