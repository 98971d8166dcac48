package v1

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/Xunop/celestial/internal/http/response"
)

type remoteConnectRequest struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

func (h *Handler) remoteStatus(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, h.remote.Status())
}

// remoteConnect installs the tokens obtained by the client's OAuth flow.
func (h *Handler) remoteConnect(w http.ResponseWriter, r *http.Request) {
	var req remoteConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, err)
		return
	}
	token := &oauth2.Token{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Expiry:       req.Expiry,
		TokenType:    "Bearer",
	}
	if err := h.remote.Connect(r.Context(), token); err != nil {
		response.Error(w, r, err)
		return
	}
	response.OK(w, r, h.remote.Status())
}

func (h *Handler) remoteDisconnect(w http.ResponseWriter, r *http.Request) {
	h.remote.Disconnect()
	response.OK(w, r, h.remote.Status())
}
