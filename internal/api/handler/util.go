package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/ayo6706/payment-orchestrator/internal/api/middleware"
	"github.com/ayo6706/payment-orchestrator/internal/api/problem"
	"github.com/ayo6706/payment-orchestrator/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response. problemType may be a slug or a full URI.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	problem.Write(w, r, status, problem.Type(problemType), http.StatusText(status), message)
}

// decodeRequest reads a JSON body into dst and runs its validate tags.
// It writes the problem response itself and reports whether the handler may continue.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		params := invalidParams(err)
		reasons := make([]string, 0, len(params))
		for _, p := range params {
			reasons = append(reasons, p.Name+" "+p.Reason)
		}
		problem.WriteDetails(w, r, problem.Details{
			Status:        http.StatusBadRequest,
			Type:          problem.Type("request/validation-failed"),
			Detail:        strings.Join(reasons, "; "),
			InvalidParams: params,
		})
		return false
	}
	return true
}

func invalidParams(err error) []problem.InvalidParam {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []problem.InvalidParam{{Name: "body", Reason: err.Error()}}
	}
	params := make([]problem.InvalidParam, 0, len(verrs))
	for _, fe := range verrs {
		var reason string
		switch fe.Tag() {
		case "required", "required_if":
			reason = "is required"
		case "gt", "gte", "lt", "lte", "min", "max", "len":
			reason = fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
		case "oneof":
			reason = fmt.Sprintf("must be one of [%s]", fe.Param())
		default:
			reason = fmt.Sprintf("is invalid (%s)", fe.Tag())
		}
		params = append(params, problem.InvalidParam{Name: fe.Field(), Reason: reason})
	}
	return params
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, problemType string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, problemType, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

type errorMapping struct {
	target error
	status int
	slug   string
}

var serviceErrors = []errorMapping{
	{domain.ErrInvalidRequest, http.StatusBadRequest, "request/invalid"},
	{domain.ErrTransactionNotFound, http.StatusNotFound, "transaction/not-found"},
	{domain.ErrAccountNotFound, http.StatusNotFound, "escrow/account-not-found"},
	{domain.ErrDisputeNotFound, http.StatusNotFound, "escrow/dispute-not-found"},
	{domain.ErrPayoutNotFound, http.StatusNotFound, "payout/not-found"},
	{domain.ErrPayoutMethodNotFound, http.StatusNotFound, "payout/method-not-found"},
	{domain.ErrGatewayNotFound, http.StatusNotFound, "gateway/not-found"},
	{domain.ErrMIDNotFound, http.StatusNotFound, "mid/not-found"},
	{domain.ErrRuleNotFound, http.StatusNotFound, "routing/rule-not-found"},
	{domain.ErrPaymentInProgress, http.StatusConflict, "payment/in-progress"},
	{domain.ErrIDConflict, http.StatusConflict, "request/id-conflict"},
	{domain.ErrAccountNotActive, http.StatusConflict, "escrow/account-not-active"},
	{domain.ErrInvalidState, http.StatusConflict, "state/invalid-transition"},
	{domain.ErrAmountOutOfRange, http.StatusUnprocessableEntity, "amount/out-of-range"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "funds/insufficient"},
	{domain.ErrGatewayExecution, http.StatusBadGateway, "gateway/execution-failed"},
	{domain.ErrNoGatewayAvailable, http.StatusServiceUnavailable, "routing/no-gateway-available"},
}

// respondServiceError maps domain errors onto RFC 7807 problems. Anything
// unrecognised is logged and reported as a 500 with the fallback slug.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, fallbackSlug, fallbackMessage string) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			RespondError(w, r, m.status, m.slug, err.Error())
			return
		}
	}
	if status, slug, msg, ok := mapDBError(err); ok {
		RespondError(w, r, status, slug, msg)
		return
	}
	zap.L().Error(fallbackMessage,
		zap.Error(err),
		zap.String("path", r.URL.Path),
		zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
	)
	RespondError(w, r, http.StatusInternalServerError, fallbackSlug, fallbackMessage)
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
