package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/makaohq/makao/internal/domain"
	"github.com/makaohq/makao/internal/middleware"
)

// newValidator builds a validator that reports field names by their json
// tag, matching what the client actually sent.
func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// errorResponse is the JSON error envelope returned by every endpoint.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// respondJSON writes v as a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps a domain error to an HTTP status and writes the error
// envelope. Validation errors carry their field map; internal errors are
// logged with the underlying cause and reported generically.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	status := statusFromCode(code)

	body := errorBody{
		Code:    code,
		Message: domain.ErrorMessage(err),
	}
	if fields := domain.GetValidationFields(err); fields != nil {
		body.Code = domain.EINVALID
		body.Message = "Validation failed"
		body.Fields = fields
		status = http.StatusBadRequest
	}

	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		slog.String("error", err.Error()),
		slog.String("code", body.Code),
		slog.Int("status", status),
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, slog.String("op", op))
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
	} else {
		logger.Info("request rejected", attrs...)
	}

	respondJSON(w, status, errorResponse{Error: body})
}

// statusFromCode maps domain error codes to HTTP statuses.
func statusFromCode(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.EFORBIDDEN:
		return http.StatusForbidden
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeAndValidate decodes the request body into dst and runs struct
// validation. Validator failures are translated to field-level errors.
func decodeAndValidate(r *http.Request, validate *validator.Validate, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Invalid("api.decode", "request body is not valid JSON")
	}

	if err := validate.StructCtx(r.Context(), dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			var verr error
			for _, fe := range fieldErrs {
				verr = domain.AddFieldError(verr, fieldName(fe), fieldMessage(fe))
			}
			return verr
		}
		return domain.Invalid("api.validate", "request validation failed")
	}

	return nil
}

// fieldName prefers the json tag name the client actually sent.
func fieldName(fe validator.FieldError) string {
	if ns := fe.Field(); ns != "" {
		return ns
	}
	return fe.StructField()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed validation rule: " + fe.Tag()
	}
}

// actorFromRequest pulls the acting party injected by the identity
// middleware. A missing actor means the middleware chain is misconfigured.
func actorFromRequest(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		respondError(w, r, domain.Unauthorized("api.actor", "Authentication required"))
		return domain.Actor{}, false
	}
	return actor, true
}
