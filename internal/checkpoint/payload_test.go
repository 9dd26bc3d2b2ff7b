package checkpoint

import (
	"strings"
	"testing"

	"github.com/hochfrequenz/levelup/internal/domain"
)

func TestBuildPayload_Requirements(t *testing.T) {
	pc := domain.NewContext(domain.ManualTask("Add login", ""), "/tmp/p")
	pc.Requirements = []string{"validate email", "hash password"}

	p := BuildPayload(domain.StepNameRequirements, pc)
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(p.Requirements) != 2 {
		t.Errorf("requirements = %v", p.Requirements)
	}

	// Empty slot falls back to a message
	empty := BuildPayload(domain.StepNameRequirements, domain.NewContext(domain.ManualTask("t", ""), "/tmp/p"))
	if err := empty.Validate(); err != nil {
		t.Fatal(err)
	}
	if empty.Message != "No requirements produced." {
		t.Errorf("message = %q", empty.Message)
	}
}

func TestBuildPayload_TestWriting(t *testing.T) {
	pc := domain.NewContext(domain.ManualTask("Add login", ""), "/tmp/p")
	pc.TestFiles = []string{"tests/test_login.py"}

	p := BuildPayload(domain.StepNameTestWriting, pc)
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(p.TestFiles) != 1 || p.TestFiles[0] != "tests/test_login.py" {
		t.Errorf("test files = %v", p.TestFiles)
	}
}

func TestBuildPayload_Security(t *testing.T) {
	pc := domain.NewContext(domain.ManualTask("Add login", ""), "/tmp/p")
	pc.SecurityFindings = []domain.Finding{{Severity: "high", Description: "SQL injection", File: "db.py"}}
	pc.SecurityPatchesApplied = 1
	pc.RequiresCodingRework = true

	p := BuildPayload(domain.StepNameSecurity, pc)
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if p.Security == nil {
		t.Fatal("security variant not populated")
	}
	if len(p.Security.Findings) != 1 || p.Security.PatchesApplied != 1 || !p.Security.RequiresRework {
		t.Errorf("security = %+v", p.Security)
	}
}

func TestBuildPayload_Review(t *testing.T) {
	pc := domain.NewContext(domain.ManualTask("Add login", ""), "/tmp/p")
	pc.CodeFiles = []string{"login.py"}
	pc.TestResults = &domain.TestResults{Passed: 4, Failed: 0}
	pc.ReviewFindings = []domain.Finding{{Severity: "info", Description: "consider a docstring", File: "login.py"}}

	p := BuildPayload(domain.StepNameReview, pc)
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if p.Review == nil {
		t.Fatal("review variant not populated")
	}
	if p.Review.TestResults.Passed != 4 {
		t.Errorf("test results = %+v", p.Review.TestResults)
	}
}

func TestBuildPayload_UnknownStep(t *testing.T) {
	pc := domain.NewContext(domain.ManualTask("Add login", ""), "/tmp/p")
	p := BuildPayload(domain.StepNamePlanning, pc)
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	if p.Message == "" {
		t.Error("expected message fallback for step without a variant")
	}
}

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"message only", Payload{Step: "planning", Message: "done"}, false},
		{"requirements only", Payload{Step: "requirements", Requirements: []string{"r"}}, false},
		{"missing step", Payload{Message: "done"}, true},
		{"no variant", Payload{Step: "review"}, true},
		{"two variants", Payload{Step: "review", Message: "x", Review: &ReviewSummary{}}, true},
	}

	for _, tt := range tests {
		err := tt.payload.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestPayload_EncodeDecode(t *testing.T) {
	p := Payload{
		Step: domain.StepNameSecurity,
		Security: &SecuritySummary{
			Findings:       []domain.Finding{{Severity: "critical", Description: "hardcoded secret"}},
			PatchesApplied: 2,
			RequiresRework: true,
		},
	}

	raw, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePayload(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Step != p.Step || got.Security == nil || got.Security.PatchesApplied != 2 {
		t.Errorf("round trip lost data: %+v", got)
	}

	if _, err := (Payload{Step: "review"}).Encode(); err == nil {
		t.Error("Encode should reject an invalid payload")
	}
}

func TestRender(t *testing.T) {
	p := Payload{
		Step: domain.StepNameReview,
		Review: &ReviewSummary{
			CodeFiles:   []string{"login.py"},
			TestResults: &domain.TestResults{Passed: 3, Failed: 1},
			Findings:    []domain.Finding{{Severity: "warning", Description: "missing docstring", File: "login.py"}},
		},
	}

	out := Render(p)
	for _, want := range []string{"Checkpoint: review", "login.py", "3 passed", "1 failed", "WARNING", "missing docstring"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered output missing %q:\n%s", want, out)
		}
	}

	msg := Render(Payload{Step: "planning", Message: "Step planning finished."})
	if !strings.Contains(msg, "Step planning finished.") {
		t.Errorf("message render = %q", msg)
	}
}
