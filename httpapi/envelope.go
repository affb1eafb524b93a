// Package httpapi 提供各子系统的 HTTP 处理器
//
// 所有响应使用 {code, message, data} 信封：成功时 code 为 0，
// 失败时 code 为 HTTP 状态码。业务错误的状态码由错误代码翻译。
package httpapi

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"conductor/errors"
	"conductor/eventing"
)

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"code": 0, "message": "success", "data": data})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var conflict *eventing.ConflictError
	var appErr *errors.AppError
	switch {
	case stderrors.As(err, &conflict):
		status = http.StatusConflict
	case stderrors.As(err, &appErr):
		status = appErr.HTTPStatus()
	}
	writeJSON(w, status, map[string]any{"code": status, "message": err.Error()})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"code": http.StatusBadRequest, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}
