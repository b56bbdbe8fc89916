package orchestrator

import (
	"context"
	"errors"
	"net/http"

	"github.com/lexgate/lexgate/core/controlplane/apierror"
)

// Response is a transport-neutral outcome: an HTTP-ish status and a body the
// binding can serialize. A nil body with status 204 means "no content".
type Response struct {
	Status int
	Body   any
}

// Controller translates service outcomes into responses. It holds no state
// and makes no decisions of its own; policy and admission have already run
// by the time a request reaches it.
type Controller struct {
	service *Service
}

func NewController(service *Service) *Controller {
	return &Controller{service: service}
}

func errorResponse(err error) Response {
	apiErr := apierror.From(err)
	return Response{Status: apiErr.Status, Body: apiErr}
}

func (c *Controller) CreateCommand(ctx context.Context, input CreateCommandInput) Response {
	result, err := c.service.CreateCommand(ctx, input)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Status: http.StatusCreated, Body: result}
}

func (c *Controller) ListSessionCommands(ctx context.Context, orgID, sessionID string, limit int) Response {
	commands, err := c.service.ListSessionCommands(ctx, orgID, sessionID, limit)
	if err != nil {
		return errorResponse(err)
	}
	if commands == nil {
		commands = []*Command{}
	}
	return Response{Status: http.StatusOK, Body: map[string]any{"commands": commands}}
}

func (c *Controller) GetCapabilities(ctx context.Context, orgID string) Response {
	caps, err := c.service.GetCapabilities(ctx, orgID)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Status: http.StatusOK, Body: caps}
}

func (c *Controller) RegisterConnector(ctx context.Context, input RegisterConnectorInput) Response {
	conn, err := c.service.RegisterConnector(ctx, input)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Status: http.StatusCreated, Body: conn}
}

// ClaimJob maps a drained pool to 204, which is a success for workers.
func (c *Controller) ClaimJob(ctx context.Context, orgID, worker, userID string) Response {
	job, err := c.service.ClaimJob(ctx, orgID, worker, userID)
	if err != nil {
		if errors.Is(err, ErrNoJob) {
			return Response{Status: http.StatusNoContent}
		}
		return errorResponse(err)
	}
	return Response{Status: http.StatusOK, Body: job}
}

func (c *Controller) CompleteJob(ctx context.Context, input CompleteJobInput) Response {
	job, err := c.service.CompleteJob(ctx, input)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Status: http.StatusOK, Body: job}
}
