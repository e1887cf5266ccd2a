package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"IntentLayer-Lite/internal/adapter"
	"IntentLayer-Lite/internal/compiler"
	xerrors "IntentLayer-Lite/internal/errors"
	"IntentLayer-Lite/internal/intent"
	"IntentLayer-Lite/internal/mandate"
	"IntentLayer-Lite/internal/router"
	"IntentLayer-Lite/pkg/logger"
)

// errorBody 是所有错误响应的统一结构。
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       xerrors.Code         `json:"code"`
	Message    string               `json:"message"`
	Violations []compiler.Violation `json:"violations,omitempty"`
	Metadata   map[string]string    `json:"metadata,omitempty"`
}

var statusByCode = map[xerrors.Code]int{
	xerrors.CodeInvalidArgument:       http.StatusBadRequest,
	intent.CodeIntentInvalid:          http.StatusBadRequest,
	intent.CodeIntentExpired:          http.StatusBadRequest,
	mandate.CodeMandateInvalid:        http.StatusBadRequest,
	xerrors.CodeUnauthenticated:       http.StatusUnauthorized,
	xerrors.CodePermissionDenied:      http.StatusForbidden,
	xerrors.CodeNotFound:              http.StatusNotFound,
	mandate.CodeMandateNotFound:       http.StatusNotFound,
	router.CodeIntentNotFound:         http.StatusNotFound,
	xerrors.CodeConflict:              http.StatusConflict,
	mandate.CodeMandateConflict:       http.StatusConflict,
	router.CodeIntentConflict:         http.StatusConflict,
	compiler.CodeConstraintViolation:  http.StatusUnprocessableEntity,
	mandate.CodeBudgetExceeded:        http.StatusUnprocessableEntity,
	mandate.CodeMandateInactive:       http.StatusUnprocessableEntity,
	adapter.CodeAdapterNotFound:       http.StatusUnprocessableEntity,
	adapter.CodeAdapterBuildFailed:    http.StatusUnprocessableEntity,
	xerrors.CodeInitializationFailure: http.StatusServiceUnavailable,
	xerrors.CodeQueueFailure:          http.StatusServiceUnavailable,
	router.CodeIntentPublish:          http.StatusServiceUnavailable,
	xerrors.CodeChainFailure:          http.StatusBadGateway,
}

// statusFor 把错误码映射为 HTTP 状态码，未知错误返回 500。
func statusFor(code xerrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 渲染错误响应，5xx 只返回错误码的通用描述。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	detail := errorDetail{Code: code, Message: xerrors.AttributesOf(code).Message}

	if ce, ok := compiler.IsConstraintError(err); ok {
		detail.Message = ce.Error()
		detail.Violations = ce.Violations
	} else if e, ok := xerrors.From(err); ok && status < http.StatusInternalServerError {
		detail.Message = e.Message()
		detail.Metadata = e.Metadata()
	}
	if detail.Message == "" {
		detail.Message = http.StatusText(status)
	}

	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.String("code", string(code)),
			slog.Any("error", err),
		)
	}
	writeJSON(w, status, errorBody{Error: detail})
}
