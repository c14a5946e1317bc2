package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/BaSui01/docflow/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 响应信封
// =============================================================================

// RequestIDHeader 请求 ID 响应头，由 RequestID 中间件写入
const RequestIDHeader = "X-Request-ID"

// Response 所有 /api/v1 接口共用的响应信封
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 信封中的错误部分
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// envelope 构造信封，请求 ID 取自已写入的响应头
func envelope(w http.ResponseWriter, success bool) Response {
	return Response{
		Success:   success,
		Timestamp: time.Now().UTC(),
		RequestID: w.Header().Get(RequestIDHeader),
	}
}

// =============================================================================
// 🎯 写响应
// =============================================================================

// WriteJSON 以 JSON 写出任意值；响应头已发出，编码失败只能丢弃
func WriteJSON(w http.ResponseWriter, status int, data any) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写出 200 成功信封
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteData(w, http.StatusOK, data)
}

// WriteData 以指定状态码写出成功信封（如 201 Created）
func WriteData(w http.ResponseWriter, status int, data any) {
	resp := envelope(w, true)
	resp.Data = data
	WriteJSON(w, status, resp)
}

// WriteError 把 types.Error 写成错误信封
//
// 4xx 记 Warn 并把 cause 作为 details 返回给调用方；5xx 记 Error，cause 只进日志。
// 可重试的 429/503 附带 Retry-After。
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := StatusFor(err)
	clientErr := status < http.StatusInternalServerError

	info := &ErrorInfo{
		Code:       string(err.Code),
		Message:    err.Message,
		Retryable:  err.Retryable,
		HTTPStatus: status,
	}
	if clientErr && err.Cause != nil {
		info.Details = err.Cause.Error()
	}

	if logger != nil {
		log := logger.Error
		if clientErr {
			log = logger.Warn
		}
		log("request failed",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.String("request_id", w.Header().Get(RequestIDHeader)),
			zap.Error(err.Cause),
		)
	}

	if err.Retryable && (status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable) {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	resp := envelope(w, false)
	resp.Error = info
	WriteJSON(w, status, resp)
}

// retryAfterSeconds 可重试错误建议的等待秒数
const retryAfterSeconds = 1

// WriteServiceError 写出引擎返回的任意错误；非 *types.Error 一律按 INTERNAL_ERROR 处理
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	WriteError(w, types.WrapError(err, types.ErrInternalError, "internal error"), logger)
}

// StatusFor 返回错误对应的 HTTP 状态码，显式设置的状态码优先
func StatusFor(err *types.Error) int {
	if err.HTTPStatus != 0 {
		return err.HTTPStatus
	}
	return mapErrorCodeToHTTPStatus(err.Code)
}

// =============================================================================
// 🔄 错误码 → HTTP 状态码
// =============================================================================

var codeStatus = map[types.ErrorCode]int{
	types.ErrInvalidRequest:    http.StatusBadRequest,
	types.ErrAuthentication:    http.StatusUnauthorized,
	types.ErrUnauthorized:      http.StatusUnauthorized,
	types.ErrForbidden:         http.StatusForbidden,
	types.ErrPermissionDenied:  http.StatusForbidden,
	types.ErrNotFound:          http.StatusNotFound,
	types.ErrInvalidState:      http.StatusConflict,
	types.ErrConflict:          http.StatusConflict,
	types.ErrConfiguration:     http.StatusUnprocessableEntity,
	types.ErrNoApplicableRoute: http.StatusUnprocessableEntity,
	types.ErrRateLimited:       http.StatusTooManyRequests,
	types.ErrTimeout:           http.StatusGatewayTimeout,
	types.ErrUnavailable:       http.StatusServiceUnavailable,
	types.ErrStorage:           http.StatusInternalServerError,
	types.ErrInternalError:     http.StatusInternalServerError,
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// =============================================================================
// 🛡️ 请求体解析
// =============================================================================

// maxRequestBodyBytes 单个审批请求体上限
const maxRequestBodyBytes = 1 << 20

// ValidateContentType 要求 application/json，失败时已写出 400
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && mediaType == "application/json" {
		return true
	}
	WriteError(w, types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json"), logger)
	return false
}

// DecodeJSONBody 严格解码单个 JSON 对象：拒绝空体、未知字段、尾随数据，超过 1 MB 返回 413。
// 返回非 nil 时响应已写出。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	apiErr := decodeStrict(w, r, dst)
	if apiErr != nil {
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

func decodeStrict(w http.ResponseWriter, r *http.Request, dst any) *types.Error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	case errors.As(err, &tooLarge):
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)).
			WithHTTPStatus(http.StatusRequestEntityTooLarge)
	default:
		return types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
	}

	if dec.More() {
		return types.NewError(types.ErrInvalidRequest, "request body must contain a single JSON object")
	}
	return nil
}

// =============================================================================
// 📊 状态码捕获
// =============================================================================

// ResponseWriter 记录首个写出的状态码，供日志与指标中间件读取
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.Written {
		return
	}
	rw.StatusCode, rw.Written = code, true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	rw.WriteHeader(http.StatusOK)
	return rw.ResponseWriter.Write(b)
}

// Unwrap 供 http.ResponseController 访问底层连接
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
