package invoke

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/cog-worker/internal/inspect"
	"github.com/replicate/cog-worker/pkg/predictor"
)

type echoInput struct {
	Text  string `cog:"name=text"`
	Times int    `cog:"name=times,default=1,ge=1,le=5"`
}

type echoPredictor struct{ predictor.Base }

func (p *echoPredictor) Predict(ctx context.Context, in echoInput) (string, error) {
	out := ""
	for i := 0; i < in.Times; i++ {
		out += in.Text
	}
	return out, nil
}

func TestInvoker_BuildInputAndPredict(t *testing.T) {
	t.Parallel()

	pred := &echoPredictor{}
	d, err := inspect.Build(pred)
	require.NoError(t, err)

	iv := New(d, pred)

	in, err := iv.BuildInput(map[string]any{"text": "ab", "times": float64(2)})
	require.NoError(t, err)

	var output any
	err = iv.Predict(context.Background(), in, func(item any) error {
		output = item
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abab", output)
}

func TestInvoker_BuildInput_AppliesDefault(t *testing.T) {
	t.Parallel()

	pred := &echoPredictor{}
	d, err := inspect.Build(pred)
	require.NoError(t, err)
	iv := New(d, pred)

	in, err := iv.BuildInput(map[string]any{"text": "z"})
	require.NoError(t, err)

	var output any
	err = iv.Predict(context.Background(), in, func(item any) error {
		output = item
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "z", output)
}

func TestInvoker_BuildInput_RejectsOutOfRangeConstraint(t *testing.T) {
	t.Parallel()

	pred := &echoPredictor{}
	d, err := inspect.Build(pred)
	require.NoError(t, err)
	iv := New(d, pred)

	_, err = iv.BuildInput(map[string]any{"text": "z", "times": float64(99)})
	assert.Error(t, err)
}

func TestInvoker_BuildInput_RejectsMissingRequired(t *testing.T) {
	t.Parallel()

	pred := &echoPredictor{}
	d, err := inspect.Build(pred)
	require.NoError(t, err)
	iv := New(d, pred)

	_, err = iv.BuildInput(map[string]any{})
	assert.Error(t, err)
}

func TestInvoker_BuildInput_RejectsUnknownKey(t *testing.T) {
	t.Parallel()

	pred := &echoPredictor{}
	d, err := inspect.Build(pred)
	require.NoError(t, err)
	iv := New(d, pred)

	_, err = iv.BuildInput(map[string]any{"text": "z", "nope": "typo"})
	assert.Error(t, err)
}
