package openapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/cog-worker/internal/inspect"
	"github.com/replicate/cog-worker/pkg/predictor"
)

type schemaInput struct {
	Prompt string `cog:"name=prompt,description=Text prompt"`
	Style  string `cog:"name=style,choices=vivid|natural,default=vivid"`
}

type schemaPredictor struct{ predictor.Base }

func (p *schemaPredictor) Predict(ctx context.Context, in schemaInput) (string, error) {
	return in.Prompt, nil
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	d, err := inspect.Build(&schemaPredictor{})
	require.NoError(t, err)

	doc, err := Generate(d)
	require.NoError(t, err)

	assert.Equal(t, "3.0.2", doc["openapi"])

	components := doc["components"].(map[string]any)
	schemas := components["schemas"].(*orderedMap)
	assert.Contains(t, schemas.keys, "Input")
	assert.Contains(t, schemas.keys, "Output")
	assert.Contains(t, schemas.keys, "Style")
}

func TestOrderedMap_PreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	m := newOrderedMap()
	m.Set("b", 1)
	m.Set("a", 2)
	m.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, m.keys)

	data, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"b":3,"a":2}`, string(data))
}
