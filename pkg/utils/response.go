package utils

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/apperror"
)

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

// ErrorBody 统一错误响应体
type ErrorBody struct {
	Error     string        `json:"error"`
	ErrorCode apperror.Code `json:"error_code"`
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, code apperror.Code, message string) {
	RespondJSON(w, status, ErrorBody{Error: message, ErrorCode: code})
}

// RespondAppError 按错误类别选择状态码；未分类错误只返回通用信息。
func RespondAppError(w http.ResponseWriter, err error) {
	status := apperror.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	pub := apperror.Public(err)
	RespondError(w, status, pub.Code, pub.Message)
}
