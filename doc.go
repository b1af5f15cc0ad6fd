// Package banana implements an incremental, bidirectional, token-based
// serialization protocol for object graphs, built for untrusted peers.
//
// The encode side (Encoder, Slicer) walks an object graph and emits a
// linear token stream with explicit structural delimiters. The decode side
// (Decoder, Unslicer) consumes that stream and rebuilds the graph while
// enforcing per-node schema constraints, tracking shared references, and
// classifying failures as recoverable (token.Violation, one subtree is
// lost) or connection-fatal (token.ProtocolError).
//
// Shared mutable containers are sent once and thereafter compressed into
// reference structures naming the StructureId of the first copy; forward
// and cyclic references inside still-open structures resolve through
// Deferred placeholders once the referenced structure closes.
//
// The wire alphabet lives in the token package, constraints in the schema
// package. The transport is whatever io.Writer and io.Reader the caller
// supplies; connection lifecycle stays outside this package.
package banana
