package script

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/types/known/structpb"

	jobs "github.com/assaka/daino-jobs"
)

var (
	wholeExpr  = regexp.MustCompile(`^\$\{(.+)\}$`)
	innerExprs = regexp.MustCompile(`\$\{([^}]+)\}`)
	valueType  = reflect.TypeOf(&structpb.Value{})
)

// evaluator compiles and runs the CEL expressions of one program run.
// Compiled programs are cached by source text.
type evaluator struct {
	env       *cel.Env
	costLimit uint64

	mu       sync.Mutex
	programs map[string]cel.Program
}

func newEvaluator(names []string, costLimit uint64) (*evaluator, error) {
	opts := []cel.EnvOption{
		cel.Variable("storeId", cel.StringType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("apiBaseUrl", cel.StringType),
		cel.Variable("vars", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	}
	for _, n := range names {
		opts = append(opts, cel.Variable(n, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("build cel env: %w", err)
	}
	return &evaluator{env: env, costLimit: costLimit, programs: make(map[string]cel.Program)}, nil
}

func (e *evaluator) program(expr string) (cel.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, jobs.Misconfigured("script.compile", fmt.Sprintf("%q: %v", expr, issues.Err()))
	}
	prg, err := e.env.Program(ast,
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, jobs.Misconfigured("script.compile", fmt.Sprintf("%q: %v", expr, err))
	}
	e.programs[expr] = prg
	return prg, nil
}

// eval runs expr and converts the result to plain Go values.
func (e *evaluator) eval(ctx context.Context, expr string, activation map[string]any) (any, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return native(out), nil
}

func (e *evaluator) evalBool(ctx context.Context, expr string, activation map[string]any) (bool, error) {
	v, err := e.eval(ctx, expr, activation)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, jobs.Misconfigured("script.when", fmt.Sprintf("%q must yield a bool, got %T", expr, v))
	}
	return b, nil
}

// resolve replaces expressions in a parameter tree. A string that is a
// single ${expr} takes the expression's value; other strings have each
// ${expr} interpolated as text.
func (e *evaluator) resolve(ctx context.Context, v any, activation map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		if m := wholeExpr.FindStringSubmatch(t); m != nil && !strings.Contains(m[1], "${") {
			return e.eval(ctx, strings.TrimSpace(m[1]), activation)
		}
		if !strings.Contains(t, "${") {
			return t, nil
		}
		var evalErr error
		out := innerExprs.ReplaceAllStringFunc(t, func(match string) string {
			if evalErr != nil {
				return ""
			}
			expr := strings.TrimSpace(match[2 : len(match)-1])
			val, err := e.eval(ctx, expr, activation)
			if err != nil {
				evalErr = err
				return ""
			}
			return fmt.Sprint(val)
		})
		return out, evalErr
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			r, err := e.resolve(ctx, el, activation)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			r, err := e.resolve(ctx, el, activation)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// native converts a CEL value through structpb so maps and lists come
// back as map[string]any and []any. Integral numbers stay int64.
func native(v ref.Val) any {
	switch raw := v.Value().(type) {
	case int64, uint64, string, bool, nil:
		return raw
	}
	pv, err := v.ConvertToNative(valueType)
	if err != nil {
		return v.Value()
	}
	return pv.(*structpb.Value).AsInterface()
}
