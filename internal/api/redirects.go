package api

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/authz"
	"github.com/dharsanguruparan/qrdrop/internal/model"
	"github.com/dharsanguruparan/qrdrop/internal/redirect"
)

type createRedirectRequest struct {
	DestinationURL string               `json:"destination_url"`
	MaxScans       *int                 `json:"max_scans"`
	ExpiresAt      *time.Time           `json:"expires_at"`
	RoutingMode    string               `json:"routing_mode"`
	RoutingConfig  *model.RoutingConfig `json:"routing_config"`
	Password       string               `json:"password"`
}

type createRedirectResponse struct {
	Code       string             `json:"code"`
	OwnerToken string             `json:"owner_token"`
	ScanURL    string             `json:"scan_url"`
	Redirect   authz.RedirectView `json:"redirect"`
}

func (s *Server) handleCreateRedirect(w http.ResponseWriter, r *http.Request) {
	var req createRedirectRequest
	if err := decodeJSON(w, r, &req, jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	created, err := s.redirects.Create(r.Context(), redirect.CreateRequest{
		DestinationURL: req.DestinationURL,
		RoutingMode:    model.RoutingMode(req.RoutingMode),
		RoutingConfig:  req.RoutingConfig,
		MaxScans:       req.MaxScans,
		ExpiresAt:      req.ExpiresAt,
		Password:       req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, createRedirectResponse{
		Code:       created.Redirect.Code,
		OwnerToken: created.OwnerToken,
		ScanURL:    s.cfg.PublicURL + "/r/" + created.Redirect.Code,
		Redirect:   authz.OwnerRedirectView(created.Redirect),
	})
}

func (s *Server) handleGetRedirect(w http.ResponseWriter, r *http.Request) {
	view, err := s.redirects.Get(r.Context(), r.PathValue("code"), queryToken(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

type updateRedirectRequest struct {
	OwnerToken         string               `json:"owner_token"`
	DestinationURL     *string              `json:"destination_url"`
	RoutingMode        *string              `json:"routing_mode"`
	RoutingConfig      *model.RoutingConfig `json:"routing_config"`
	ClearRoutingConfig bool                 `json:"clear_routing_config"`
	MaxScans           *int                 `json:"max_scans"`
	ClearMaxScans      bool                 `json:"clear_max_scans"`
	ExpiresAt          *time.Time           `json:"expires_at"`
	ClearExpiresAt     bool                 `json:"clear_expires_at"`
	IsActive           *bool                `json:"is_active"`
	Password           *string              `json:"password"`
	ClearPassword      bool                 `json:"clear_password"`
}

func (req updateRedirectRequest) update() redirect.Update {
	u := redirect.Update{
		DestinationURL: req.DestinationURL,
		RoutingConfig:  req.RoutingConfig,
		ClearRouting:   req.ClearRoutingConfig,
		MaxScans:       req.MaxScans,
		ClearMaxScans:  req.ClearMaxScans,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiresAt: req.ClearExpiresAt,
		IsActive:       req.IsActive,
	}
	if req.RoutingMode != nil {
		mode := model.RoutingMode(*req.RoutingMode)
		u.RoutingMode = &mode
	}
	switch {
	case req.ClearPassword:
		empty := ""
		u.Password = &empty
	case req.Password != nil && *req.Password != "":
		u.Password = req.Password
	}
	return u
}

func (s *Server) handleUpdateRedirect(w http.ResponseWriter, r *http.Request) {
	var req updateRedirectRequest
	if err := decodeJSON(w, r, &req, jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	creds := authz.Credentials{OwnerToken: req.OwnerToken}
	view, err := s.redirects.Update(r.Context(), r.PathValue("code"), creds, req.update())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleDisableRedirect(w http.ResponseWriter, r *http.Request) {
	var body credentialBody
	if err := decodeJSON(w, r, &body, jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	creds := authz.Credentials{OwnerToken: body.OwnerToken}
	if err := s.redirects.Disable(r.Context(), r.PathValue("code"), creds); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScan is the QR entry point. Protected redirects are not counted here;
// the scanner has to POST the password.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	res, err := s.redirects.Resolve(r.Context(), r.PathValue("code"), redirect.Scan{UserAgent: r.UserAgent()})
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		respondJSON(w, http.StatusUnauthorized, map[string]bool{"password_required": true})
		return
	case err != nil:
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	if res.Outcome == redirect.Redirected {
		http.Redirect(w, r, res.URL, http.StatusFound)
		return
	}
	http.Redirect(w, r, s.inactivePage(res.Outcome), http.StatusFound)
}

type scanResponse struct {
	URL string `json:"url"`
}

type inactiveResponse struct {
	Error  string           `json:"error"`
	Reason redirect.Outcome `json:"reason"`
}

func (s *Server) handleScanWithPassword(w http.ResponseWriter, r *http.Request) {
	var body credentialBody
	if err := decodeJSON(w, r, &body, jsonBodyLimit); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.redirects.Resolve(r.Context(), r.PathValue("code"), redirect.Scan{
		Credentials: authz.Credentials{Password: body.Password},
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Outcome != redirect.Redirected {
		respondJSON(w, http.StatusGone, inactiveResponse{Error: model.ErrInactive.Error(), Reason: res.Outcome})
		return
	}
	respondJSON(w, http.StatusOK, scanResponse{URL: res.URL})
}

func (s *Server) inactivePage(reason redirect.Outcome) string {
	u, err := url.Parse(s.cfg.InactiveRedirectURL)
	if err != nil {
		return s.cfg.InactiveRedirectURL
	}
	q := u.Query()
	q.Set("reason", string(reason))
	u.RawQuery = q.Encode()
	return u.String()
}
