// Package invoke drives a predictor's Setup and Predict through one
// internal shape regardless of whether the predictor is scalar or an
// iterator, grounded on original_source/coglet/runner.py's Runner (setup,
// predict, predict_iter, _kwargs, _check_output) adapted to reflection
// over a Go struct argument instead of Python keyword arguments.
package invoke

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"regexp"

	"github.com/replicate/cog-worker/internal/inspect"
	"github.com/replicate/cog-worker/pkg/cogtype"
	"github.com/replicate/cog-worker/pkg/predictor"
)

// Invoker drives one predictor value.
type Invoker struct {
	descriptor *inspect.Descriptor
	value      reflect.Value
}

// New wraps a predictor value (already passed through inspect.Build).
func New(d *inspect.Descriptor, predictorValue any) *Invoker {
	return &Invoker{descriptor: d, value: reflect.ValueOf(predictorValue)}
}

// Descriptor returns the wrapped predictor's Descriptor.
func (iv *Invoker) Descriptor() *inspect.Descriptor { return iv.descriptor }

// Setup resolves weights per the documented preference order --
// COG_WEIGHTS env var, else a local ./weights file, else none -- and calls
// the predictor's Setup method if it has one.
func (iv *Invoker) Setup(ctx context.Context) error {
	if !iv.descriptor.HasSetup {
		return nil
	}

	args := []reflect.Value{reflect.ValueOf(ctx)}
	if iv.descriptor.SetupTakesWeights {
		args = append(args, reflect.ValueOf(resolveWeights()))
	}

	m := iv.value.MethodByName("Setup")
	out := m.Call(args)
	if errv := out[0]; !errv.IsNil() {
		return errv.Interface().(error)
	}
	return nil
}

func resolveWeights() predictor.Weights {
	if inline := os.Getenv("COG_WEIGHTS"); inline != "" {
		return predictor.Weights{Inline: inline, Present: true}
	}
	if _, err := os.Stat("weights"); err == nil {
		return predictor.Weights{Path: predictor.Path("weights"), Present: true}
	}
	return predictor.Weights{}
}

// BuildInput constructs and validates the Predict input struct value from
// a decoded JSON object (map[string]any), applying defaults and
// constraint checks from each InputSpec the way
// original_source/coglet/runner.py's _kwargs and inspector.py's
// check_input do together.
func (iv *Invoker) BuildInput(raw map[string]any) (reflect.Value, error) {
	for key := range raw {
		if _, ok := iv.descriptor.InputByName(key); !ok {
			return reflect.Value{}, fmt.Errorf("invoke: unknown input %q", key)
		}
	}

	in := reflect.New(iv.descriptor.InputType).Elem()

	for i, spec := range iv.descriptor.Inputs {
		val, present := raw[spec.Name]
		if !present {
			if spec.HasDefault {
				val = spec.Default
			} else if spec.Type.Repetition == cogtype.Optional {
				continue
			} else {
				return reflect.Value{}, fmt.Errorf("invoke: missing required input %q", spec.Name)
			}
		}

		if err := checkConstraints(spec, val); err != nil {
			return reflect.Value{}, err
		}

		decoded, err := cogtype.Decode(spec.Type, val)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invoke: input %q: %w", spec.Name, err)
		}

		field := in.Field(i)
		if spec.Type.Repetition == cogtype.Optional && field.Kind() == reflect.Ptr {
			ptr := reflect.New(field.Type().Elem())
			ptr.Elem().Set(decoded)
			field.Set(ptr)
		} else {
			field.Set(decoded)
		}
	}

	return in, nil
}

func checkConstraints(spec cogtype.InputSpec, val any) error {
	check := func(v any) error {
		if len(spec.Choices) > 0 {
			found := false
			for _, c := range spec.Choices {
				if fmt.Sprint(c) == fmt.Sprint(v) {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("invoke: input %q: %v is not one of %v", spec.Name, v, spec.Choices)
			}
		}
		if n, ok := toFloat(v); ok {
			if spec.GE != nil && n < *spec.GE {
				return fmt.Errorf("invoke: input %q: %v is less than minimum %v", spec.Name, v, *spec.GE)
			}
			if spec.LE != nil && n > *spec.LE {
				return fmt.Errorf("invoke: input %q: %v is greater than maximum %v", spec.Name, v, *spec.LE)
			}
		}
		if s, ok := v.(string); ok {
			if spec.MinLength != nil && len(s) < *spec.MinLength {
				return fmt.Errorf("invoke: input %q: shorter than minimum length %d", spec.Name, *spec.MinLength)
			}
			if spec.MaxLength != nil && len(s) > *spec.MaxLength {
				return fmt.Errorf("invoke: input %q: longer than maximum length %d", spec.Name, *spec.MaxLength)
			}
			if spec.Regex != "" {
				if matched, err := regexp.MatchString(spec.Regex, s); err != nil || !matched {
					return fmt.Errorf("invoke: input %q: does not match pattern %q", spec.Name, spec.Regex)
				}
			}
		}
		return nil
	}

	if items, ok := val.([]any); ok && spec.Type.Repetition == cogtype.Repeated {
		for _, item := range items {
			if err := check(item); err != nil {
				return err
			}
		}
		return nil
	}
	return check(val)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Yield is called once per output item: once for a scalar predict, once
// per emitted item for an iterator predict.
type Yield func(item any) error

// Predict calls the wrapped predictor's Predict method and funnels its
// result through yield, unifying scalar and iterator/channel-returning
// shapes into the same call pattern the file runner drives.
func (iv *Invoker) Predict(ctx context.Context, in reflect.Value, yield Yield) error {
	m := iv.value.MethodByName("Predict")
	results := m.Call([]reflect.Value{reflect.ValueOf(ctx), in})
	outVal, errVal := results[0], results[1]
	if !errVal.IsNil() {
		return errVal.Interface().(error)
	}

	if iv.descriptor.IsIter {
		ch := outVal
		for {
			chosen, recv, recvOK := reflect.Select([]reflect.SelectCase{
				{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
				{Dir: reflect.SelectRecv, Chan: ch},
			})
			if chosen == 0 {
				return ctx.Err()
			}
			if !recvOK {
				return nil
			}
			if err := yieldValue(iv.descriptor, recv, yield); err != nil {
				return err
			}
		}
	}

	return yieldValue(iv.descriptor, outVal, yield)
}

func yieldValue(d *inspect.Descriptor, v reflect.Value, yield Yield) error {
	switch d.Output.Kind {
	case cogtype.Object:
		obj := map[string]any{}
		for i, f := range d.Output.Fields {
			enc, err := cogtype.Encode(f.Type, v.Field(i))
			if err != nil {
				return err
			}
			obj[f.Name] = enc
		}
		return yield(obj)
	default:
		enc, err := cogtype.Encode(d.Output.Type, v)
		if err != nil {
			return err
		}
		return yield(enc)
	}
}
