// Package predictor is the surface a user-supplied model implements so the
// worker can host it: setup, prediction, and the small value types
// (Path, Secret, iterators) that the type model understands natively.
//
// Predict is intentionally not pinned to one Go interface. Go reflection
// cannot recover a function's parameter names the way Python's
// inspect.getfullargspec can, so the inspector discovers a predictor's
// shape the way the rest of this runtime discovers everything: by
// reflecting over the concrete value's method set. A predictor is any
// value with a method
//
//	Predict(ctx context.Context, in In) (Out, error)
//
// where In is a struct whose exported fields carry `cog:"..."` tags, and
// an optional
//
//	Setup(ctx context.Context, weights predictor.Weights) error
package predictor

import "context"

// Base may be embedded by a predictor that needs no setup; it satisfies
// the implicit Setup(ctx, Weights) error contract with a no-op.
type Base struct{}

// Setup is a no-op embeddable default.
func (Base) Setup(ctx context.Context, weights Weights) error { return nil }

// Concurrent is an optional marker a predictor implements to declare that
// its Predict method may be invoked more than once concurrently. Predictors
// that do not implement it are always scheduled one at a time, regardless
// of the configured max concurrency.
type Concurrent interface {
	Concurrent()
}

// ConcurrentPredictor may be embedded to pick up the Concurrent marker.
type ConcurrentPredictor struct{}

// Concurrent implements Concurrent.
func (ConcurrentPredictor) Concurrent() {}

// Weights is handed to Setup, resolved in preference order: the
// COG_WEIGHTS environment variable, else a local ./weights file, else the
// zero value (no weights).
type Weights struct {
	// Path is set when weights were provided as a local file.
	Path Path
	// Inline is set when weights were provided via COG_WEIGHTS.
	Inline string
	// Present is false when neither source provided weights.
	Present bool
}

// Path is a reference to a file produced by or passed into a prediction.
// It JSON-encodes as a "file://" URI in prediction responses and as a bare
// string in schema defaults -- the two encodings are never unified, see
// DESIGN.md.
type Path string

// Secret is a string value that is never echoed back in logs, responses,
// or schema output; Reveal is the only way user code recovers the
// underlying value.
type Secret struct {
	value string
}

// NewSecret wraps a raw value.
func NewSecret(value string) Secret { return Secret{value: value} }

// Reveal returns the underlying secret value.
func (s Secret) Reveal() string { return s.value }

// String and MarshalJSON both mask the value so it is safe to log a Secret
// or embed it in any JSON document by accident.
func (s Secret) String() string { return "**********" }

// MarshalJSON implements json.Marshaler.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"**********"`), nil
}

// Iterator is the return type for a Predict method whose output streams
// incrementally; when the request carries a webhook, the worker emits each
// item as a separate "processing" response update before the final
// response. Without a webhook only the final response is written.
type Iterator[T any] chan T

// ConcatIterator is an Iterator[string] whose items are meant to be
// concatenated by the caller into one string; it changes only how the
// output is rendered in the schema (x-cog-array-type: iterator,
// x-cog-array-display: concatenate), not how items are produced.
type ConcatIterator chan string
