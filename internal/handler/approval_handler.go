package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/opsdash-api/internal/dto"
	"github.com/noah-isme/opsdash-api/internal/models"
	"github.com/noah-isme/opsdash-api/internal/service"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
	"github.com/noah-isme/opsdash-api/pkg/response"
)

type approvalWorkflow interface {
	Submit(ctx context.Context, session models.Session, in service.SubmitInput) (*service.SubmitResult, error)
	Review(ctx context.Context, session models.Session, requestID string, decision models.ApprovalStatus, note *string) (*service.ReviewResult, error)
	ListPending(ctx context.Context, session models.Session, filter models.PendingFilter, cursor string, limit int) (*service.PendingPage, error)
	Get(ctx context.Context, session models.Session, id string) (*models.ApprovalRequest, error)
}

// ApprovalHandler exposes mutation submission and the review queue.
type ApprovalHandler struct {
	workflow approvalWorkflow
	validate *validator.Validate
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(workflow approvalWorkflow, validate *validator.Validate) *ApprovalHandler {
	if validate == nil {
		validate = NewValidator()
	}
	return &ApprovalHandler{workflow: workflow, validate: validate}
}

// Submit godoc
// @Summary Submit a data mutation
// @Description Applies the mutation directly for ADMIN and PLANNER; queues it for approval otherwise.
// @Tags Mutations
// @Accept json
// @Produce json
// @Param payload body dto.SubmitMutationRequest true "Mutation payload"
// @Success 201 {object} response.Envelope "applied"
// @Success 202 {object} response.Envelope "pending approval"
// @Failure 403 {object} response.Envelope
// @Router /mutations [post]
func (h *ApprovalHandler) Submit(c *gin.Context) {
	session, err := sessionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SubmitMutationRequest
	if err := bindJSON(c, h.validate, &req, "invalid mutation payload"); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.workflow.Submit(c.Request.Context(), session, service.SubmitInput{
		RequestType: models.RequestType(req.RequestType),
		TableName:   models.TableName(strings.TrimSpace(req.TableName)),
		RecordID:    req.RecordID,
		OldData:     req.OldData,
		NewData:     req.NewData,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	respondSubmit(c, result, http.StatusCreated)
}

// ListPending godoc
// @Summary List pending approval requests
// @Tags Approvals
// @Produce json
// @Param table query string false "Table name"
// @Param requester query int false "Requester user id"
// @Param department query string false "Department id"
// @Param after query string false "Cursor from a previous page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /approvals [get]
func (h *ApprovalHandler) ListPending(c *gin.Context) {
	session, err := sessionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.PendingQuery
	if err := bindQuery(c, h.validate, &query); err != nil {
		response.Error(c, err)
		return
	}
	filter := models.PendingFilter{
		TableName:    models.TableName(strings.TrimSpace(query.Table)),
		RequesterID:  query.Requester,
		DepartmentID: strings.TrimSpace(query.Department),
	}
	page, err := h.workflow.ListPending(c.Request.Context(), session, filter, query.After, query.Limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	var meta map[string]interface{}
	if page.NextCursor != "" {
		meta = map[string]interface{}{"nextCursor": page.NextCursor}
	}
	response.JSON(c, http.StatusOK, page.Items, meta)
}

// Get godoc
// @Summary Get an approval request
// @Tags Approvals
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /approvals/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	session, err := sessionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	req, err := h.workflow.Get(c.Request.Context(), session, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, req)
}

// Review godoc
// @Summary Approve or reject a pending request
// @Description An approved request whose target changed or vanished stays APPROVED and reports applyError.
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ReviewRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope "already decided"
// @Router /approvals/{id}/review [post]
func (h *ApprovalHandler) Review(c *gin.Context) {
	session, err := sessionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	req.Decision = strings.ToUpper(strings.TrimSpace(req.Decision))
	if err := validate(h.validate, &req); err != nil {
		response.Error(c, err)
		return
	}
	var note *string
	if trimmed := strings.TrimSpace(req.Note); trimmed != "" {
		note = &trimmed
	}

	result, err := h.workflow.Review(c.Request.Context(), session, c.Param("id"), models.ApprovalStatus(req.Decision), note)
	if err != nil {
		response.Error(c, err)
		return
	}
	meta := map[string]interface{}{"outcome": string(result.Outcome)}
	if result.ApplyErr != nil {
		meta["applyErrorCode"] = appErrors.FromError(result.ApplyErr).Code
	}
	response.JSON(c, http.StatusOK, result, meta)
}

// respondSubmit renders applied and pending outcomes with distinct statuses.
func respondSubmit(c *gin.Context, result *service.SubmitResult, appliedStatus int) {
	if result.Applied {
		response.Outcome(c, appliedStatus, string(result.Outcome), result)
		return
	}
	response.Outcome(c, http.StatusAccepted, string(result.Outcome), result)
}
