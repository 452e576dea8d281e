package model

import "fmt"

// ValidateSteps runs the structural checks on a step list. It never stops at
// the first problem: the returned slice lists every violation in order.
func ValidateSteps(steps []Step) (bool, []string) {
	var problems []string
	seen := make(map[string]bool, len(steps))
	for i, s := range steps {
		if s.ID == "" {
			problems = append(problems, fmt.Sprintf("Step %d missing ID", i))
		} else if seen[s.ID] {
			problems = append(problems, fmt.Sprintf("Duplicate step ID: %s", s.ID))
		} else {
			seen[s.ID] = true
		}
		if s.Name == "" {
			problems = append(problems, fmt.Sprintf("Step %d missing name", i))
		}
		if s.Type == "" && s.Connector == "" {
			problems = append(problems, fmt.Sprintf("Step %d missing type", i))
		}
	}
	for i, s := range steps {
		switch s.OnError {
		case "", OnErrorStop, OnErrorContinue:
		default:
			problems = append(problems, fmt.Sprintf("Step %d has invalid onError %q (want stop or continue)", i, s.OnError))
		}
		if s.Retry != nil && s.Retry.MaxAttempts < 0 {
			problems = append(problems, fmt.Sprintf("Step %d has negative retry.max_attempts", i))
		}
	}
	return len(problems) == 0, problems
}

// ValidateDefinition checks a raw flow definition: flow-level fields first,
// then every step.
func ValidateDefinition(def FlowDefinition) (bool, []string) {
	var problems []string
	if def.Name == "" {
		problems = append(problems, "Missing flow name")
	}
	if def.Steps == nil {
		problems = append(problems, "Missing steps")
	}
	_, stepProblems := ValidateSteps(def.Steps)
	problems = append(problems, stepProblems...)
	return len(problems) == 0, problems
}

// CheckSteps is ValidateSteps returning a *ValidationError.
func CheckSteps(steps []Step) error {
	if ok, problems := ValidateSteps(steps); !ok {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CheckDefinition is ValidateDefinition returning a *ValidationError.
func CheckDefinition(def FlowDefinition) error {
	if ok, problems := ValidateDefinition(def); !ok {
		return &ValidationError{Problems: problems}
	}
	return nil
}
