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
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/banana/token"
)

var encodeLog = commonlog.GetLogger("banana.encode")

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithOutgoingVocabulary sets the table consulted before every string
// emission; matches go out as Vocab tokens. The peer's decoder must be
// built from the same word list.
func WithOutgoingVocabulary(v *Vocabulary) EncoderOption {
	return func(e *Encoder) { e.vocab = v }
}

// WithStreaming allows child slicers to suspend token production on
// Deferred values. Off by default.
func WithStreaming(allow bool) EncoderOption {
	return func(e *Encoder) { e.streamable = allow }
}

// WithSlicerFunc extends the taster with application types. fn runs after
// the built-in kinds and the reference table have had their chance; it
// refuses an object by returning a Violation.
func WithSlicerFunc(fn func(obj any) (Slicer, error)) EncoderOption {
	return func(e *Encoder) { e.slicerFunc = fn }
}

// Encoder is the encode-side stack machine. It walks object graphs handed
// to Send and writes their token streams to w, one complete top-level
// stream per call.
type Encoder struct {
	w          *bufio.Writer
	root       *rootSlicer
	stack      []*encodeFrame
	openCount  uint64
	vocab      *Vocabulary
	streamable bool
	slicerFunc func(obj any) (Slicer, error)

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  error

	fatal   error
	scratch []byte
}

type encodeFrame struct {
	slicer     Slicer
	source     ItemSource
	openID     uint64
	streamable bool
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer, opts ...EncoderOption) *Encoder {
	e := &Encoder{
		w:    bufio.NewWriter(w),
		lost: make(chan struct{}),
	}
	e.root = &rootSlicer{enc: e, refs: newRefMap()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send slices obj and writes its complete token stream. A returned
// Violation means obj was refused at the top level and nothing was sent;
// the Encoder stays usable. Violations inside nested children do not
// surface here: the affected subtree is closed with Abort on the wire and
// the enclosing slicer carries on. Any other error is fatal and poisons
// the Encoder.
func (e *Encoder) Send(obj any) error {
	select {
	case <-e.lost:
		return fmt.Errorf("banana: connection lost: %w", e.lostErr)
	default:
	}
	if e.fatal != nil {
		return e.fatal
	}

	err := e.send(obj)
	if err == nil {
		if ferr := e.w.Flush(); ferr != nil {
			e.fatal = ferr
			return ferr
		}
		return nil
	}
	var v *token.Violation
	if errors.As(err, &v) {
		if ferr := e.w.Flush(); ferr != nil {
			e.fatal = ferr
			return ferr
		}
		return err
	}
	e.fatal = err
	encodeLog.Errorf("connection fatal: %s", err.Error())
	e.SendError(err.Error())
	return err
}

// ConnectionLost abandons any in-flight Send, waking a suspended
// streaming slicer. Further Sends fail with why.
func (e *Encoder) ConnectionLost(why error) {
	e.lostOnce.Do(func() {
		e.lostErr = why
		close(e.lost)
	})
}

// SendError emits an Error token carrying a diagnostic for the peer,
// truncated to the token size limit. The connection layer calls this just
// before tearing down.
func (e *Encoder) SendError(msg string) {
	if len(msg) > token.SizeLimit {
		msg = msg[:token.SizeLimit]
	}
	e.emitHeader(uint64(len(msg)), token.Error)
	e.w.WriteString(msg)
	e.w.Flush()
}

func (e *Encoder) send(obj any) error {
	e.stack = append(e.stack[:0], &encodeFrame{
		slicer:     e.root,
		source:     singleItem(obj),
		streamable: e.streamable,
	})
	defer func() { e.stack = e.stack[:0] }()

	for len(e.stack) > 0 {
		top := e.stack[len(e.stack)-1]
		item, err := top.source.Next()
		if err == io.EOF {
			e.stack = e.stack[:len(e.stack)-1]
			if top.slicer.SendOpen() {
				e.emitHeader(top.openID, token.Close)
			}
			continue
		}
		if err != nil {
			var v *token.Violation
			if !errors.As(err, &v) {
				return err
			}
			if aerr := e.abortFrame(v); aerr != nil {
				return aerr
			}
			continue
		}

		if d, ok := item.(*Deferred); ok {
			if !top.streamable {
				return token.Protocolf("slicer at %s suspended under a non-streamable parent", e.where())
			}
			select {
			case <-d.Done():
			case <-e.lost:
				return fmt.Errorf("banana: connection lost while streaming: %w", e.lostErr)
			}
			value, derr, _ := d.Result()
			if derr != nil {
				return fmt.Errorf("banana: streamed value failed: %w", derr)
			}
			item = value
		}

		if e.emitLeaf(item) {
			continue
		}

		sl, serr := top.slicer.SlicerForObject(item)
		if serr != nil {
			var v *token.Violation
			if !errors.As(serr, &v) {
				return serr
			}
			if aerr := e.abortFrame(v); aerr != nil {
				return aerr
			}
			continue
		}
		e.push(sl, item)
	}
	return nil
}

// abortFrame abandons the current frame after a Violation: its stream is
// terminated with Abort and Close, and the parent is notified. At the
// root, where nothing was opened, the Violation surfaces directly.
func (e *Encoder) abortFrame(v *token.Violation) error {
	v.SetLocation(e.where())
	top := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	if !top.slicer.SendOpen() {
		return v
	}
	encodeLog.Debugf("aborting structure %d: %s", top.openID, v.Error())
	e.emitHeader(top.openID, token.Abort)
	e.emitHeader(top.openID, token.Close)
	if len(e.stack) > 0 {
		e.stack[len(e.stack)-1].slicer.ChildAborted(v)
	}
	return nil
}

// push opens a child structure: Open token, index tokens, reference
// registration, then the child's body source goes on the stack.
func (e *Encoder) push(sl Slicer, obj any) {
	top := e.stack[len(e.stack)-1]
	sl.SetParent(top.slicer)
	f := &encodeFrame{
		slicer:     sl,
		streamable: top.streamable && sl.Streamable(),
	}
	if sl.SendOpen() {
		f.openID = e.openCount
		e.openCount++
		e.emitHeader(f.openID, token.Open)
		for _, w := range sl.Opentype() {
			e.emitString(w)
		}
		if sl.TrackReferences() {
			sl.RegisterReference(f.openID, obj)
		}
	}
	f.source = sl.Slice(f.streamable, e)
	e.stack = append(e.stack, f)
}

// emitLeaf writes a primitive value token, reporting whether item was a
// primitive.
func (e *Encoder) emitLeaf(item any) bool {
	switch v := item.(type) {
	case int:
		e.emitInt(int64(v))
	case int64:
		e.emitInt(v)
	case uint64:
		if v <= math.MaxInt64 {
			e.emitInt(int64(v))
		} else {
			e.emitBig(new(big.Int).SetUint64(v))
		}
	case *big.Int:
		e.emitBig(v)
	case float64:
		e.emitFloat(v)
	case string:
		e.emitString(v)
	default:
		return false
	}
	return true
}

func (e *Encoder) emitInt(v int64) {
	if v >= 0 {
		e.emitHeader(uint64(v), token.Int)
		return
	}
	// magnitude computed without overflowing at MinInt64
	e.emitHeader(uint64(-(v+1))+1, token.Neg)
}

func (e *Encoder) emitBig(v *big.Int) {
	if v.Sign() == 0 {
		e.emitHeader(0, token.Int)
		return
	}
	tag := token.LongInt
	if v.Sign() < 0 {
		tag = token.LongNeg
	}
	body := new(big.Int).Abs(v).Bytes()
	e.emitHeader(uint64(len(body)), tag)
	e.w.Write(body)
}

func (e *Encoder) emitFloat(v float64) {
	e.w.WriteByte(token.Float)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	e.w.Write(buf[:])
}

func (e *Encoder) emitString(s string) {
	if idx, ok := e.vocab.Lookup(s); ok {
		e.emitHeader(idx, token.Vocab)
		return
	}
	e.emitHeader(uint64(len(s)), token.String)
	e.w.WriteString(s)
}

func (e *Encoder) emitHeader(v uint64, tag byte) {
	e.scratch = token.AppendHeader(e.scratch[:0], v)
	e.scratch = append(e.scratch, tag)
	e.w.Write(e.scratch)
}

// where joins the describe fragments of the active stack, root first.
func (e *Encoder) where() string {
	parts := make([]string, 0, len(e.stack))
	for _, f := range e.stack {
		if d := f.slicer.Describe(); d != "" {
			parts = append(parts, d)
		}
	}
	if len(parts) == 0 {
		return "<root>"
	}
	return strings.Join(parts, ".")
}
