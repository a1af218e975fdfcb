package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/job"
)

// Definition binds a job type to a handler over a typed payload T.
// Payload fields tagged `validate:"required"` are enforced before the
// handler runs.
type Definition[T any] struct {
	Type   job.Type
	Handle func(hc *Context, payload T) (any, error)
}

// NewDefinition creates a typed handler definition.
func NewDefinition[T any](t job.Type, fn func(hc *Context, payload T) (any, error)) *Definition[T] {
	return &Definition[T]{Type: t, Handle: fn}
}

// Entry is the type-erased form stored in the Registry.
type Entry struct {
	Type job.Type
	// Decode validates a raw payload and returns the typed value.
	Decode func(raw json.RawMessage) (any, error)
	// Run executes the handler. hc.Bound() holds Decode's result.
	Run Func
}

// Registry maps job types to handlers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[job.Type]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[job.Type]*Entry)}
}

// Register adds a typed definition. Registering a type twice replaces the
// earlier handler.
//
// This is a package-level generic function because Go does not allow
// generic methods.
func Register[T any](r *Registry, def *Definition[T]) {
	decode := func(raw json.RawMessage) (any, error) {
		return DecodePayload[T](raw)
	}
	run := func(hc *Context) (any, error) {
		p, ok := hc.Bound().(T)
		if !ok {
			v, err := DecodePayload[T](hc.Payload())
			if err != nil {
				return nil, err
			}
			p = v
		}
		return def.Handle(hc, p)
	}
	r.Add(&Entry{Type: def.Type, Decode: decode, Run: run})
}

// Add registers a type-erased entry. A nil Decode accepts any payload.
func (r *Registry) Add(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Type] = e
}

// Get returns the entry for t.
func (r *Registry) Get(t job.Type) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []job.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]job.Type, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Require fails with a configuration error naming every type in want
// that has no handler. Engines call it at startup with job.Types().
func (r *Registry) Require(want ...job.Type) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, t := range want {
		if _, ok := r.entries[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return jobs.Misconfigured("handler registry", "no handler for "+strings.Join(missing, ", "))
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// DecodePayload decodes raw into T rejecting unknown fields, then
// validates struct tags. A missing required field yields
// KindMissingPayloadField naming the JSON field; anything else malformed
// yields KindInvalidPayload.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, jobs.InvalidPayload("decode", err)
	}
	if reflect.Indirect(reflect.ValueOf(&v)).Kind() != reflect.Struct {
		return v, nil
	}
	if err := validate.Struct(&v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return v, jobs.MissingField(fieldPath(fe.Namespace()))
			}
			return v, jobs.InvalidPayload(fmt.Sprintf("field %q failed %q", fieldPath(fe.Namespace()), fe.Tag()), nil)
		}
		return v, jobs.InvalidPayload("validate", err)
	}
	return v, nil
}

// fieldPath strips the root type name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
