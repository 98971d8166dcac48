package response

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/Xunop/celestial/internal/model"
)

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	ErrorMessage string `json:"error_message"`
	Kind         string `json:"kind"`
	Page         int    `json:"page,omitempty"`
	NumPages     int    `json:"num_pages,omitempty"`
	Hint         string `json:"hint,omitempty"`
}

// Error maps a domain error to its status code. Unknown errors become 500.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	body := ErrorBody{ErrorMessage: err.Error()}
	var status int

	var outOfRange *model.PageOutOfRangeError
	var notFound *model.NotFoundError
	switch {
	case errors.As(err, &outOfRange):
		status, body.Kind = http.StatusBadRequest, "page_out_of_range"
		body.Page, body.NumPages = outOfRange.Page, outOfRange.NumPages
	case errors.As(err, &notFound):
		status, body.Kind = http.StatusNotFound, "not_found"
		body.Page, body.Hint = notFound.Page, notFound.Hint()
	case errors.Is(err, model.ErrNotFound):
		status, body.Kind = http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrStaticBook):
		status, body.Kind = http.StatusForbidden, "static_book"
	case errors.Is(err, model.ErrInvalidInput):
		status, body.Kind = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, model.ErrRenderFailure):
		status, body.Kind = http.StatusBadGateway, "render_failure"
	case errors.Is(err, model.ErrAuthorization):
		status, body.Kind = http.StatusUnauthorized, "authorization_failure"
	default:
		ServerError(w, r, err)
		return
	}

	reject(w, r, status, body, err)
}
