package orchestrator

import (
	"errors"
	"net/http"
	"strings"

	"github.com/lexgate/lexgate/core/controlplane/apierror"
)

// ErrNoJob is returned by ClaimJob when no pending job is available. It is a
// defined success case for workers, not a failure.
var ErrNoJob = errors.New("no_job_available")

var (
	errCommandNotFound = apierror.New("command_not_found", http.StatusNotFound, "command does not exist")
	errJobNotFound     = apierror.New("job_not_found", http.StatusNotFound, "job does not exist")
)

// rejectionError builds the 409 returned when the safety assessment rejects
// a command. Reasons and mitigations always accompany the code.
func rejectionError(assessment Assessment) *apierror.Error {
	return &apierror.Error{
		Code:        "command_rejected",
		Status:      http.StatusConflict,
		Message:     "command rejected by safety assessment",
		Reasons:     assessment.Reasons,
		Mitigations: assessment.Mitigations,
	}
}

// commandDomain extracts the domain prefix of a command type, so
// "finance.transfer" reports failures as the finance domain.
func commandDomain(commandType string) string {
	if i := strings.IndexByte(commandType, '.'); i > 0 {
		return commandType[:i]
	}
	return commandType
}

func invalidPayloadError(commandType string, cause error) *apierror.Error {
	return apierror.New(
		"invalid_"+commandDomain(commandType)+"_command_payload",
		http.StatusBadRequest,
		cause.Error(),
	)
}

func invalidResultError(commandType string, cause error) *apierror.Error {
	return apierror.New(
		"invalid_"+commandDomain(commandType)+"_result",
		http.StatusBadRequest,
		cause.Error(),
	)
}

func invalidCommandError(msg string) *apierror.Error {
	return apierror.New("invalid_command", http.StatusBadRequest, msg)
}

func invalidConnectorConfigError(msg string) *apierror.Error {
	return apierror.New("invalid_connector_config", http.StatusBadRequest, msg)
}

func invalidTransitionError(from, to string) *apierror.Error {
	return apierror.New("invalid_status_transition", http.StatusConflict, from+" -> "+to)
}
