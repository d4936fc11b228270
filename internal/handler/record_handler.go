package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/opsdash-api/internal/dto"
	"github.com/noah-isme/opsdash-api/internal/models"
	"github.com/noah-isme/opsdash-api/internal/policy"
	"github.com/noah-isme/opsdash-api/internal/service"
	"github.com/noah-isme/opsdash-api/pkg/response"
)

type entryPoints interface {
	Create(ctx context.Context, session models.Session, table models.TableName, data models.Fields) (*service.SubmitResult, error)
	Edit(ctx context.Context, session models.Session, table models.TableName, id int64, changes models.Fields) (*service.SubmitResult, error)
	Delete(ctx context.Context, session models.Session, table models.TableName, id int64) (*service.SubmitResult, error)
	Policy(session models.Session, table models.TableName, department string) (policy.Summary, error)
}

type recordReader interface {
	Get(ctx context.Context, table models.TableName, id int64) (*models.Record, error)
	List(ctx context.Context, table models.TableName, filter models.RecordFilter) ([]models.Record, error)
}

// RecordHandler serves the per-category record endpoints used by the
// dashboard views.
type RecordHandler struct {
	entries  entryPoints
	records  recordReader
	validate *validator.Validate
}

// NewRecordHandler constructs the handler.
func NewRecordHandler(entries entryPoints, records recordReader, validate *validator.Validate) *RecordHandler {
	if validate == nil {
		validate = NewValidator()
	}
	return &RecordHandler{entries: entries, records: records, validate: validate}
}

func tableParam(c *gin.Context) models.TableName {
	return models.TableName(strings.TrimSpace(c.Param("table")))
}

// List godoc
// @Summary List records of a category
// @Tags Records
// @Produce json
// @Param table path string true "Table name"
// @Param department query string false "Department id"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /records/{table} [get]
func (h *RecordHandler) List(c *gin.Context) {
	var query dto.RecordListQuery
	if err := bindQuery(c, h.validate, &query); err != nil {
		response.Error(c, err)
		return
	}
	records, err := h.records.List(c.Request.Context(), tableParam(c), models.RecordFilter{
		DepartmentID: strings.TrimSpace(query.Department),
		Limit:        query.Limit,
		Offset:       query.Offset,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records)
}

// Get godoc
// @Summary Get a record
// @Tags Records
// @Produce json
// @Param table path string true "Table name"
// @Param id path int true "Record ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /records/{table}/{id} [get]
func (h *RecordHandler) Get(c *gin.Context) {
	id, err := recordIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	record, err := h.records.Get(c.Request.Context(), tableParam(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record)
}

// Create godoc
// @Summary Create a record
// @Tags Records
// @Accept json
// @Produce json
// @Param table path string true "Table name"
// @Param payload body dto.RecordPayload true "Record fields"
// @Success 201 {object} response.Envelope "saved"
// @Success 202 {object} response.Envelope "submitted for approval"
// @Failure 403 {object} response.Envelope
// @Router /records/{table} [post]
func (h *RecordHandler) Create(c *gin.Context) {
	session, err := sessionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var payload dto.RecordPayload
	if err := bindJSON(c, h.validate, &payload, "invalid record payload"); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.entries.Create(c.Request.Context(), session, tableParam(c), payload.Data)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondSubmit(c, result, http.StatusCreated)
}

// Edit godoc
// @Summary Edit a record
// @Tags Records
// @Accept json
// @Produce json
// @Param table path string true "Table name"
// @Param id path int true "Record ID"
// @Param payload body dto.RecordPayload true "Changed fields"
// @Success 200 {object} response.Envelope "saved"
// @Success 202 {object} response.Envelope "submitted for approval"
// @Failure 403 {object} response.Envelope
// @Router /records/{table}/{id} [patch]
func (h *RecordHandler) Edit(c *gin.Context) {
	session, err := sessionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := recordIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var payload dto.RecordPayload
	if err := bindJSON(c, h.validate, &payload, "invalid record payload"); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.entries.Edit(c.Request.Context(), session, tableParam(c), id, payload.Data)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondSubmit(c, result, http.StatusOK)
}

// Delete godoc
// @Summary Delete a record
// @Description ADMIN deletes directly; INPUTTER deletions are queued for approval.
// @Tags Records
// @Produce json
// @Param table path string true "Table name"
// @Param id path int true "Record ID"
// @Success 200 {object} response.Envelope "deleted"
// @Success 202 {object} response.Envelope "submitted for approval"
// @Failure 403 {object} response.Envelope
// @Router /records/{table}/{id} [delete]
func (h *RecordHandler) Delete(c *gin.Context) {
	session, err := sessionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	id, err := recordIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.entries.Delete(c.Request.Context(), session, tableParam(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	respondSubmit(c, result, http.StatusOK)
}

// Policy godoc
// @Summary Permission summary for the current session
// @Tags Records
// @Produce json
// @Param table query string true "Table name"
// @Param department query string false "Department owning the category"
// @Success 200 {object} response.Envelope
// @Router /policy [get]
func (h *RecordHandler) Policy(c *gin.Context) {
	session, err := sessionFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var query dto.PolicyQuery
	if err := bindQuery(c, h.validate, &query); err != nil {
		response.Error(c, err)
		return
	}
	summary, err := h.entries.Policy(session, models.TableName(strings.TrimSpace(query.Table)), strings.TrimSpace(query.Department))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary)
}
