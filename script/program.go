// Package script runs tenant-authored automation. A program is a JSON
// list of steps drawn from a closed action set; guards and parameters
// are CEL expressions evaluated in a sandbox with a cost limit, so no
// tenant code is compiled or executed in the host process.
//
// A program looks like:
//
//	{"steps": [
//	  {"action": "http_fetch", "as": "orders",
//	   "params": {"url": "${apiBaseUrl + '/stores/' + storeId + '/orders'}"}},
//	  {"action": "fail", "when": "orders.status != 200",
//	   "params": {"message": "orders endpoint unavailable"}},
//	  {"action": "set", "as": "result", "params": {"value": "${size(orders.body)}"}}
//	]}
//
// Expressions see storeId, params, apiBaseUrl and vars. Each step with
// "as" stores its output in vars under that name; a var is also visible
// at the top level when its name does not collide.
package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	jobs "github.com/assaka/daino-jobs"
)

// Action is one of the closed set of step kinds.
type Action string

const (
	ActionHTTPFetch  Action = "http_fetch"
	ActionDBQuery    Action = "db_query"
	ActionLog        Action = "log"
	ActionSet        Action = "set"
	ActionEnqueueJob Action = "enqueue_job"
	ActionFail       Action = "fail"
)

// Step is one instruction.
type Step struct {
	Action Action `json:"action" validate:"required,oneof=http_fetch db_query log set enqueue_job fail"`
	// As names the variable receiving the step output.
	As string `json:"as,omitempty"`
	// When is a CEL guard; the step is skipped unless it yields true.
	When   string         `json:"when,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Program is a parsed script.
type Program struct {
	Steps []Step `json:"steps" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reserved names cannot be assigned by steps.
var reserved = map[string]bool{
	"storeId": true, "params": true, "apiBaseUrl": true, "vars": true,
}

// Parse decodes and validates a program. Unknown fields and unknown
// actions are configuration errors.
func Parse(raw json.RawMessage) (*Program, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, jobs.Misconfigured("script.parse", "empty program")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	dec.UseNumber()

	var p Program
	if err := dec.Decode(&p); err != nil {
		return nil, jobs.Misconfigured("script.parse", err.Error())
	}
	p.normalize()
	if err := validate.Struct(&p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, jobs.Misconfigured("script.parse",
				fmt.Sprintf("%s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return nil, jobs.Misconfigured("script.parse", err.Error())
	}
	for i, s := range p.Steps {
		if s.As != "" && (!identRE.MatchString(s.As) || reserved[s.As]) {
			return nil, jobs.Misconfigured("script.parse", fmt.Sprintf("step %d: invalid variable name %q", i, s.As))
		}
		if s.Action == ActionSet && s.As == "" {
			return nil, jobs.Misconfigured("script.parse", fmt.Sprintf("step %d: set requires \"as\"", i))
		}
	}
	return &p, nil
}

// normalize turns json.Number values into float64 or int64 so CEL sees
// native numbers.
func (p *Program) normalize() {
	for i := range p.Steps {
		if p.Steps[i].Params != nil {
			p.Steps[i].Params = normalizeValue(p.Steps[i].Params).(map[string]any)
		}
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
