package inspect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/cog-worker/pkg/cogtype"
	"github.com/replicate/cog-worker/pkg/predictor"
)

type greeterInput struct {
	Name  string `cog:"name=name,description=Who to greet"`
	Count int    `cog:"name=count,default=1,ge=1,le=10"`
}

type greeter struct{ predictor.Base }

func (g *greeter) Predict(ctx context.Context, in greeterInput) (string, error) {
	return "hello " + in.Name, nil
}

type iteratorInput struct {
	Text string `cog:"name=text"`
}

type iteratorPredictor struct{ predictor.Base }

func (p *iteratorPredictor) Predict(ctx context.Context, in iteratorInput) (predictor.Iterator[string], error) {
	ch := make(predictor.Iterator[string])
	close(ch)
	return ch, nil
}

func TestBuild_Scalar(t *testing.T) {
	t.Parallel()

	d, err := Build(&greeter{})
	require.NoError(t, err)

	assert.False(t, d.IsIter)
	require.Len(t, d.Inputs, 2)

	name, ok := d.InputByName("name")
	require.True(t, ok)
	assert.Equal(t, cogtype.String, name.Type.Primitive)
	assert.True(t, name.IsRequired())

	count, ok := d.InputByName("count")
	require.True(t, ok)
	assert.True(t, count.HasDefault)
	assert.Equal(t, 1, count.Default)
	require.NotNil(t, count.GE)
	assert.Equal(t, 1.0, *count.GE)
}

func TestBuild_Iterator(t *testing.T) {
	t.Parallel()

	d, err := Build(&iteratorPredictor{})
	require.NoError(t, err)
	assert.True(t, d.IsIter)
	assert.Equal(t, cogtype.IteratorKind, d.Output.Kind)
}

type badInput struct {
	Name string `cog:"name=name,default=nil"`
}

type badPredictor struct{ predictor.Base }

func (p *badPredictor) Predict(ctx context.Context, in badInput) (string, error) {
	return "", nil
}

func TestBuild_RejectsAmbiguousNilDefault(t *testing.T) {
	t.Parallel()

	_, err := Build(&badPredictor{})
	assert.Error(t, err)
}
