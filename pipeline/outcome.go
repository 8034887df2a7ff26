package pipeline

import (
	"github.com/pithecene-io/tsrebuild/types"
)

// Process exit codes.
const (
	ExitSuccess     = 0   // run finished, item-level failures allowed
	ExitFailure     = 1   // no usable input or output failure
	ExitUsage       = 2   // invalid configuration or arguments
	ExitInterrupted = 130 // SIGINT/SIGTERM
)

// ExitCodeFor maps an outcome status to the process exit code.
func ExitCodeFor(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeSuccess, types.OutcomeAlreadyComplete:
		return ExitSuccess
	case types.OutcomeInterrupted:
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

func outcome(status types.OutcomeStatus, message string) types.RunOutcome {
	return types.RunOutcome{Status: status, Message: message}
}
