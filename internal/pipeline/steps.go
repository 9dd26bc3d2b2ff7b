package pipeline

import "github.com/hochfrequenz/levelup/internal/domain"

// Step is one stage of the pipeline. Agent steps name the runner that
// executes them; checkpointed steps pause for a human decision afterwards.
type Step struct {
	Name            string
	Kind            domain.StepKind
	AgentName       string
	CheckpointAfter bool
	Description     string
}

// DefaultPipeline returns the TDD step sequence:
// detect -> requirements -> plan -> test -> code -> security -> review.
func DefaultPipeline() []Step {
	return []Step{
		{
			Name:        domain.StepNameDetect,
			Kind:        domain.StepDetection,
			Description: "Auto-detect project language, framework, and test runner",
		},
		{
			Name:            domain.StepNameRequirements,
			Kind:            domain.StepAgent,
			AgentName:       "requirements",
			CheckpointAfter: true,
			Description:     "Clarify and structure requirements",
		},
		{
			Name:        domain.StepNamePlanning,
			Kind:        domain.StepAgent,
			AgentName:   "planning",
			Description: "Explore codebase and design implementation approach",
		},
		{
			Name:            domain.StepNameTestWriting,
			Kind:            domain.StepAgent,
			AgentName:       "test_writer",
			CheckpointAfter: true,
			Description:     "Write tests (TDD red phase)",
		},
		{
			Name:        domain.StepNameCoding,
			Kind:        domain.StepAgent,
			AgentName:   "coder",
			Description: "Implement code until tests pass (TDD green phase)",
		},
		{
			Name:            domain.StepNameSecurity,
			Kind:            domain.StepAgent,
			AgentName:       "security",
			CheckpointAfter: true,
			Description:     "Detect and patch security vulnerabilities",
		},
		{
			Name:            domain.StepNameReview,
			Kind:            domain.StepAgent,
			AgentName:       "reviewer",
			CheckpointAfter: true,
			Description:     "Review code quality, security, and best practices",
		},
	}
}

// StepNames returns the names of the given steps in order.
func StepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

// stepIndex returns the position of name in steps, or -1.
func stepIndex(steps []Step, name string) int {
	for i, s := range steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// reviseAgent returns the agent re-invoked when a checkpoint decision asks
// for revision. The reviewer only reports findings, so revisions at the
// review checkpoint go back to the coder.
func reviseAgent(step Step) string {
	if step.Name == domain.StepNameReview {
		return "coder"
	}
	return step.AgentName
}
