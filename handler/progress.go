package handler

import (
	"fmt"
	"strings"
)

// ProgressUpdate is the callback payload every delegated long-running
// operation reports: a free-form stage tag, a position and a label for
// the unit just processed.
type ProgressUpdate struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Item    string `json:"item,omitempty"`
}

// Band is a slice of the 0-100 range reserved for one stage.
type Band struct {
	From, To float64
}

// At maps current/total into the band.
func (b Band) At(current, total int) float64 {
	if total <= 0 {
		return b.From
	}
	frac := float64(current) / float64(total)
	frac = min(max(frac, 0), 1)
	return b.From + (b.To-b.From)*frac
}

// Bands maps stage prefixes to bands. A stage matches the longest prefix
// that it starts with, so "importing" covers "importing_products".
type Bands map[string]Band

// ImportBands is the conventional split for catalog imports.
var ImportBands = Bands{
	"fetching":   {0, 20},
	"importing":  {20, 95},
	"finalizing": {95, 100},
}

func (b Bands) lookup(stage string) (Band, bool) {
	best, bestLen, found := Band{}, -1, false
	for prefix, band := range b {
		if strings.HasPrefix(stage, prefix) && len(prefix) > bestLen {
			best, bestLen, found = band, len(prefix), true
		}
	}
	return best, found
}

// Percent maps an update into 0-100. Unknown stages map to the current
// fraction of the full range.
func (b Bands) Percent(u ProgressUpdate) float64 {
	if band, ok := b.lookup(u.Stage); ok {
		return band.At(u.Current, u.Total)
	}
	return Band{0, 100}.At(u.Current, u.Total)
}

// Message renders an update for history and logs.
func (u ProgressUpdate) Message() string {
	label := strings.ReplaceAll(u.Stage, "_", " ")
	switch {
	case u.Item != "" && u.Total > 0:
		return fmt.Sprintf("%s %d/%d: %s", label, u.Current, u.Total, u.Item)
	case u.Total > 0:
		return fmt.Sprintf("%s %d/%d", label, u.Current, u.Total)
	case u.Item != "":
		return fmt.Sprintf("%s: %s", label, u.Item)
	default:
		return label
	}
}

// RelayProgress returns a callback that translates updates from a
// delegated operation into UpdateProgress calls using bands.
func (c *Context) RelayProgress(bands Bands) func(ProgressUpdate) {
	return func(u ProgressUpdate) {
		c.UpdateProgress(bands.Percent(u), u.Message())
	}
}
