package batch

// ErrorPreviewLimit caps the error messages carried in a Summary.
const ErrorPreviewLimit = 10

// Summary counts settled outcomes for job result payloads.
type Summary struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Summarize folds outcomes into a Summary. Only the first
// ErrorPreviewLimit error messages are kept.
func Summarize[R any](outcomes []Outcome[R]) Summary {
	s := Summary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.OK() {
			s.Succeeded++
			continue
		}
		s.Failed++
		s.Errors = AppendError(s.Errors, o.Err.Error())
	}
	return s
}

// Preview returns at most the first ErrorPreviewLimit entries of errs.
func Preview(errs []string) []string {
	if len(errs) > ErrorPreviewLimit {
		return errs[:ErrorPreviewLimit:ErrorPreviewLimit]
	}
	return errs
}

// AppendError appends msg unless errs already holds ErrorPreviewLimit
// entries.
func AppendError(errs []string, msg string) []string {
	if len(errs) >= ErrorPreviewLimit {
		return errs
	}
	return append(errs, msg)
}
