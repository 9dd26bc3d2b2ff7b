// Package checkpoint implements the human decision points of a run. A
// coordinator presents step output to an approver and blocks the pipeline
// until a decision of approve, revise or reject comes back, either from the
// local terminal or through the shared store.
package checkpoint

import (
	"encoding/json"
	"fmt"

	"github.com/hochfrequenz/levelup/internal/domain"
)

// Payload carries what an approver needs to judge one checkpoint. Exactly
// one variant is populated, keyed by the step name; steps without a
// dedicated variant fall back to a plain message. Its JSON encoding is the
// contract between the engine and any approver frontend.
type Payload struct {
	Step string `json:"step_name"`

	Requirements []string         `json:"requirements,omitempty"`
	TestFiles    []string         `json:"test_files,omitempty"`
	Security     *SecuritySummary `json:"security,omitempty"`
	Review       *ReviewSummary   `json:"review,omitempty"`
	Message      string           `json:"message,omitempty"`
}

// SecuritySummary reports what the security agent found and patched
type SecuritySummary struct {
	Findings       []domain.Finding `json:"findings,omitempty"`
	PatchesApplied int              `json:"patches_applied"`
	RequiresRework bool             `json:"requires_rework"`
}

// ReviewSummary bundles everything shown at the final review checkpoint
type ReviewSummary struct {
	CodeFiles   []string            `json:"code_files,omitempty"`
	TestResults *domain.TestResults `json:"test_results,omitempty"`
	Findings    []domain.Finding    `json:"findings,omitempty"`
}

// Validate checks that the payload names a step and populates exactly one
// variant
func (p Payload) Validate() error {
	if p.Step == "" {
		return fmt.Errorf("checkpoint payload: missing step name")
	}
	n := 0
	if p.Requirements != nil {
		n++
	}
	if p.TestFiles != nil {
		n++
	}
	if p.Security != nil {
		n++
	}
	if p.Review != nil {
		n++
	}
	if p.Message != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("checkpoint payload for %q: %d variants populated, want exactly one", p.Step, n)
	}
	return nil
}

// Encode serializes the payload for storage in a checkpoint request row
func (p Payload) Encode() (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode checkpoint payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses a stored payload back into its typed form
func DecodePayload(raw string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, fmt.Errorf("decode checkpoint payload: %w", err)
	}
	return p, nil
}

// BuildPayload extracts the checkpoint content for a step from the run's
// context. Steps whose context slot is empty get a human-readable message
// instead of an empty variant.
func BuildPayload(step string, pc *domain.PipelineContext) Payload {
	p := Payload{Step: step}

	switch step {
	case domain.StepNameRequirements:
		if len(pc.Requirements) > 0 {
			p.Requirements = pc.Requirements
		} else {
			p.Message = "No requirements produced."
		}

	case domain.StepNameTestWriting:
		if len(pc.TestFiles) > 0 {
			p.TestFiles = pc.TestFiles
		} else {
			p.Message = "No test files written."
		}

	case domain.StepNameSecurity:
		p.Security = &SecuritySummary{
			Findings:       pc.SecurityFindings,
			PatchesApplied: pc.SecurityPatchesApplied,
			RequiresRework: pc.RequiresCodingRework,
		}

	case domain.StepNameReview:
		p.Review = &ReviewSummary{
			CodeFiles:   pc.CodeFiles,
			TestResults: pc.TestResults,
			Findings:    pc.ReviewFindings,
		}

	default:
		p.Message = fmt.Sprintf("Step %s finished.", step)
	}

	return p
}
