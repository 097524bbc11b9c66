package scope

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithScopeAndCurrent(t *testing.T) {
	t.Parallel()

	s := New("p1")
	ctx := WithScope(context.Background(), s)

	got := Current(ctx)
	assert.Same(t, s, got)
	assert.Nil(t, Current(context.Background()))
}

func TestRecordMetric(t *testing.T) {
	t.Parallel()

	s := New("p1")
	ctx := WithScope(context.Background(), s)

	RecordMetric(ctx, "predict_time", 1.5)
	assert.Equal(t, 1.5, s.Metrics()["predict_time"])

	// Recording with no scope in context is a silent no-op.
	RecordMetric(context.Background(), "ignored", true)
}

func TestLinePrefixWriter_BuffersUntilNewline(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	w := NewLinePrefixWriter(&out, func() string { return "abc123" })

	_, err := w.Write([]byte("hello "))
	assert.NoError(t, err)
	assert.Empty(t, out.String())

	_, err = w.Write([]byte("world\n"))
	assert.NoError(t, err)
	assert.Equal(t, "[pid=abc123] hello world\n", out.String())
}

func TestLinePrefixWriter_NoScopeUsesLoggerPrefix(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	w := NewLinePrefixWriter(&out, func() string { return "" })

	_, err := w.Write([]byte("startup message\n"))
	assert.NoError(t, err)
	assert.Equal(t, "[pid=logger] startup message\n", out.String())
}

func TestLinePrefixWriter_FoldsCarriageReturn(t *testing.T) {
	t.Parallel()

	var out strings.Builder
	w := NewLinePrefixWriter(&out, func() string { return "" })

	_, err := w.Write([]byte("progress: 1%\rprogress: 2%\n"))
	assert.NoError(t, err)
	assert.Equal(t, "[pid=logger] progress: 1%\n[pid=logger] progress: 2%\n", out.String())
}
