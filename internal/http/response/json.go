package response

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/http/request"
	"github.com/Xunop/celestial/internal/log"
)

const contentTypeHeader = `application/json`

// OK creates a new JSON response with a 200 status code.
func OK(w http.ResponseWriter, r *http.Request, body interface{}) {
	Status(w, r, http.StatusOK, body)
}

// Created sends a created response to the client.
func Created(w http.ResponseWriter, r *http.Request, body interface{}) {
	Status(w, r, http.StatusCreated, body)
}

// NoContent sends a no content response to the client.
func NoContent(w http.ResponseWriter, r *http.Request) {
	builder := New(w, r)
	builder.WithStatus(http.StatusNoContent)
	builder.Write()
}

// Status sends body as JSON with an arbitrary status code.
func Status(w http.ResponseWriter, r *http.Request, statusCode int, body interface{}) {
	builder := New(w, r)
	builder.WithStatus(statusCode)
	builder.WithHeader("Content-Type", contentTypeHeader)
	builder.WithBody(toJSON(body))
	builder.Write()
}

// ServerError hides nothing from the log but only the message from the client.
func ServerError(w http.ResponseWriter, r *http.Request, err error) {
	reject(w, r, http.StatusInternalServerError, ErrorBody{ErrorMessage: err.Error(), Kind: "internal"}, err)
}

func BadRequest(w http.ResponseWriter, r *http.Request, err error) {
	reject(w, r, http.StatusBadRequest, ErrorBody{ErrorMessage: err.Error(), Kind: "bad_request"}, err)
}

func Unauthorized(w http.ResponseWriter, r *http.Request) {
	reject(w, r, http.StatusUnauthorized, ErrorBody{ErrorMessage: "access unauthorized", Kind: "unauthorized"}, nil)
}

func Forbidden(w http.ResponseWriter, r *http.Request) {
	reject(w, r, http.StatusForbidden, ErrorBody{ErrorMessage: "access forbidden", Kind: "forbidden"}, nil)
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	reject(w, r, http.StatusNotFound, ErrorBody{ErrorMessage: "resource not found", Kind: "not_found"}, nil)
}

// reject logs a failed request, at error level for server faults, and sends body.
func reject(w http.ResponseWriter, r *http.Request, status int, body ErrorBody, err error) {
	fields := []zap.Field{
		zap.String("kind", body.Kind),
		zap.String("client_ip", request.ClientIP(r)),
		zap.String("request.method", r.Method),
		zap.String("request.uri", r.RequestURI),
		zap.String("request.user_agent", r.UserAgent()),
		zap.Int("response.status_code", status),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status >= http.StatusInternalServerError {
		log.Error(http.StatusText(status), fields...)
	} else {
		log.Warn(http.StatusText(status), fields...)
	}
	Status(w, r, status, body)
}

func toJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error("Unable to marshal JSON response", zap.Error(err))
		return []byte("")
	}

	return b
}
