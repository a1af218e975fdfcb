package id_test

import (
	"strings"
	"testing"

	"github.com/assaka/daino-jobs/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"SystemJobID", id.NewSystemJobID, "sys_"},
		{"CronID", id.NewCronID, "cron_"},
		{"ExecutionID", id.NewExecutionID, "cexec_"},
		{"HistoryID", id.NewHistoryID, "jhist_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"ScriptID", id.NewScriptID, "scr_"},
		{"StatsID", id.NewStatsID, "istat_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := id.NewCronID()
	parsed, err := id.ParseCronID(original.String())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if parsed != original {
		t.Errorf("round-trip mismatch: %q != %q", parsed, original)
	}
}

func TestParseJobIDAcceptsSynthetic(t *testing.T) {
	sys := id.NewSystemJobID()
	parsed, err := id.ParseJobID(sys.String())
	if err != nil {
		t.Fatalf("ParseJobID(sys): %v", err)
	}
	if !parsed.IsSynthetic() {
		t.Error("expected synthetic ID")
	}
	if id.NewJobID().IsSynthetic() {
		t.Error("queued job ID reported as synthetic")
	}

	if _, err := id.ParseJobID(id.NewCronID().String()); err == nil {
		t.Error("expected error for cron ID parsed as job ID")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "job", "job_", "job_not-a-uuid", "_0192f1c5-7c5a-7000-8000-000000000000", "JOB_0192f1c5-7c5a-7000-8000-000000000000"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("expected empty string, got %q", i.String())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewJobID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}

	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored != original {
		t.Errorf("mismatch: %q != %q", restored, original)
	}

	var empty id.ID
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil) failed: %v", err)
	}
	if !empty.IsNil() {
		t.Error("expected nil after unmarshal of empty text")
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewHistoryID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned != original {
		t.Errorf("mismatch: %q != %q", scanned, original)
	}

	var nilID id.ID
	val, err = nilID.Value()
	if err != nil {
		t.Fatalf("Value(nil) failed: %v", err)
	}
	if val != nil {
		t.Errorf("expected nil value for nil ID, got %v", val)
	}

	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestOrdering(t *testing.T) {
	a := id.NewJobID()
	b := id.NewJobID()
	if a == b {
		t.Fatalf("two consecutive NewJobID() calls returned the same ID: %q", a)
	}
	if a.String() >= b.String() {
		t.Errorf("expected %q < %q", a, b)
	}
}
