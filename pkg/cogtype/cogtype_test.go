package cogtype

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromGoType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  reflect.Type
		want FieldType
	}{
		{"bool", reflect.TypeOf(false), FieldType{Primitive: Bool, Repetition: Required}},
		{"int", reflect.TypeOf(int(0)), FieldType{Primitive: Integer, Repetition: Required}},
		{"float64", reflect.TypeOf(float64(0)), FieldType{Primitive: Float, Repetition: Required}},
		{"string", reflect.TypeOf(""), FieldType{Primitive: String, Repetition: Required}},
		{"slice of string", reflect.TypeOf([]string{}), FieldType{Primitive: String, Repetition: Repeated}},
		{"pointer to string", reflect.TypeOf((*string)(nil)), FieldType{Primitive: String, Repetition: Optional}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := FromGoType(tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromGoType_RejectsPointerToSlice(t *testing.T) {
	t.Parallel()
	_, err := FromGoType(reflect.TypeOf((*[]string)(nil)))
	assert.Error(t, err)
}

func TestInputSpec_Validate(t *testing.T) {
	t.Parallel()

	ge := 0.0
	le := 1.0

	tests := []struct {
		name    string
		spec    InputSpec
		wantErr bool
	}{
		{
			name: "ge/le on numeric is fine",
			spec: InputSpec{Name: "x", Type: FieldType{Primitive: Float, Repetition: Required}, GE: &ge, LE: &le},
		},
		{
			name:    "ge on string is an error",
			spec:    InputSpec{Name: "x", Type: FieldType{Primitive: String, Repetition: Required}, GE: &ge},
			wantErr: true,
		},
		{
			name:    "single choice is an error",
			spec:    InputSpec{Name: "x", Type: FieldType{Primitive: String, Repetition: Required}, Choices: []any{"a"}},
			wantErr: true,
		},
		{
			name: "two string choices is fine",
			spec: InputSpec{Name: "x", Type: FieldType{Primitive: String, Repetition: Required}, Choices: []any{"a", "b"}},
		},
		{
			name:    "choices on a float field is an error",
			spec:    InputSpec{Name: "x", Type: FieldType{Primitive: Float, Repetition: Required}, Choices: []any{1.0, 2.0}},
			wantErr: true,
		},
		{
			name: "choices combined with ge is an error",
			spec: InputSpec{
				Name: "x", Type: FieldType{Primitive: Integer, Repetition: Required},
				Choices: []any{1, 2}, GE: &ge,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	ft := FieldType{Primitive: Integer, Repetition: Repeated}
	v, err := Decode(ft, []any{float64(1), float64(2), float64(3)})
	require.NoError(t, err)

	encoded, err := Encode(ft, v)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, encoded)
}
