package dynamiccron

import (
	"encoding/json"
	"errors"
	"fmt"

	jobs "github.com/assaka/daino-jobs"
	"github.com/assaka/daino-jobs/cron"
	"github.com/assaka/daino-jobs/handler"
	"github.com/assaka/daino-jobs/id"
	"github.com/assaka/daino-jobs/plugin"
	"github.com/assaka/daino-jobs/script"
)

type pluginConfig struct {
	ScriptID string         `json:"script_id"`
	Params   map[string]any `json:"params"`
}

// runPlugin resolves tenant automation in order: a stored script named by
// configuration.script_id, the definition's inline script, then a native
// plugin method.
func (d *Dispatcher) runPlugin(hc *handler.Context, def *cron.Definition) (any, error) {
	const op = "dispatch plugin_job"
	var cfg pluginConfig
	if len(def.Configuration) > 0 {
		if err := json.Unmarshal(def.Configuration, &cfg); err != nil {
			return nil, jobs.Misconfigured(op, "invalid configuration: "+err.Error())
		}
	}
	if cfg.Params == nil {
		cfg.Params = map[string]any{}
	}

	switch {
	case cfg.ScriptID != "":
		return d.runStoredScript(hc, def, cfg)
	case len(def.Script) > 0 && string(def.Script) != "null":
		return d.runScript(hc, def, def.Script, cfg.Params)
	case def.Handler != "":
		if d.plugins == nil {
			return nil, jobs.Misconfigured(op, "plugin registry not configured")
		}
		method := def.HandlerMethod
		if method == "" {
			method = "execute"
		}
		fn, err := d.plugins.Resolve(def.Handler, method)
		if err != nil {
			return nil, err
		}
		return fn(hc.Context(), plugin.Call{
			StoreID: def.StoreID,
			Params:  cfg.Params,
			Logger:  hc.Logger(),
		})
	default:
		return nil, jobs.Misconfigured(op, "definition has no script_id, script or handler")
	}
}

func (d *Dispatcher) runStoredScript(hc *handler.Context, def *cron.Definition, cfg pluginConfig) (any, error) {
	const op = "dispatch plugin_job"
	if d.scripts == nil {
		return nil, jobs.Misconfigured(op, "script store not configured")
	}
	sid, err := id.ParseScriptID(cfg.ScriptID)
	if err != nil {
		return nil, jobs.Misconfigured(op, fmt.Sprintf("invalid script_id %q", cfg.ScriptID))
	}
	s, err := d.scripts.GetScript(hc.Context(), def.StoreID, sid)
	switch {
	case errors.Is(err, jobs.ErrScriptNotFound):
		return nil, jobs.Misconfigured(op, fmt.Sprintf("script %s not found", sid))
	case err != nil:
		return nil, jobs.Downstream(op+": load script "+sid.String(), err)
	}
	if !s.Enabled {
		return nil, jobs.Misconfigured(op, fmt.Sprintf("script %s is disabled", sid))
	}
	return d.runScript(hc, def, s.Program, cfg.Params)
}

func (d *Dispatcher) runScript(hc *handler.Context, def *cron.Definition, raw json.RawMessage, params map[string]any) (any, error) {
	prog, err := script.Parse(raw)
	if err != nil {
		return nil, err
	}
	opts := []script.Option{
		script.WithFetcher(d.http),
		script.WithQuerier(d.guard),
		script.WithLogger(hc.Logger()),
		script.WithLimits(d.limits),
	}
	if d.enqueue != nil {
		opts = append(opts, script.WithEnqueuer(script.Enqueuer(d.enqueue)))
	}
	return script.New(opts...).Run(hc.Context(), prog, script.Input{
		StoreID:    def.StoreID,
		Params:     params,
		APIBaseURL: d.apiBaseURL,
	})
}
