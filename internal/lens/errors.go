package lens

import (
	"errors"
	"fmt"
)

// Gate identifies one load-time validation gate.
type Gate int

const (
	GateStructure Gate = iota + 1
	GateRegistryClosure
	GateConnectors
	GateUniqueIDs
	GatePatterns
	GateSmokeCoverage
)

func (g Gate) String() string {
	switch g {
	case GateStructure:
		return "structure"
	case GateRegistryClosure:
		return "registry_closure"
	case GateConnectors:
		return "connectors"
	case GateUniqueIDs:
		return "unique_ids"
	case GatePatterns:
		return "patterns"
	case GateSmokeCoverage:
		return "smoke_coverage"
	}
	return fmt.Sprintf("gate(%d)", int(g))
}

// ErrInvalidContract marks every contract validation failure.
var ErrInvalidContract = errors.New("invalid lens contract")

// ValidationError describes one contract defect.
type ValidationError struct {
	Gate    Gate
	RuleID  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.RuleID != "" && e.Field != "":
		return fmt.Sprintf("lens %s gate: rule %s: %s: %s", e.Gate, e.RuleID, e.Field, e.Message)
	case e.RuleID != "":
		return fmt.Sprintf("lens %s gate: rule %s: %s", e.Gate, e.RuleID, e.Message)
	case e.Field != "":
		return fmt.Sprintf("lens %s gate: %s: %s", e.Gate, e.Field, e.Message)
	}
	return fmt.Sprintf("lens %s gate: %s", e.Gate, e.Message)
}

// Is lets errors.Is(err, ErrInvalidContract) match any validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidContract
}

// FailedGate returns the gate of the first ValidationError in err.
func FailedGate(err error) (Gate, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Gate, true
	}
	return 0, false
}
