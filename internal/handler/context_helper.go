package handler

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/opsdash-api/internal/middleware"
	"github.com/noah-isme/opsdash-api/internal/models"
	appErrors "github.com/noah-isme/opsdash-api/pkg/errors"
)

// NewValidator returns a validator reporting fields by their json or form name.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return field.Name
	})
	return v
}

func sessionFromContext(c *gin.Context) (models.Session, error) {
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		return models.Session{}, appErrors.ErrUnauthorized
	}
	return session, nil
}

func recordIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid record id")
	}
	return id, nil
}

func validate(v *validator.Validate, payload interface{}) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return appErrors.Clone(appErrors.ErrValidation, fe.Field()+" failed "+fe.Tag()+" validation")
	}
	return appErrors.Clone(appErrors.ErrValidation, err.Error())
}

func bindJSON(c *gin.Context, v *validator.Validate, payload interface{}, message string) error {
	if err := c.ShouldBindJSON(payload); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, message)
	}
	return validate(v, payload)
}

func bindQuery(c *gin.Context, v *validator.Validate, payload interface{}) error {
	if err := c.ShouldBindQuery(payload); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "invalid query parameters")
	}
	return validate(v, payload)
}
