package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mcoot/pvg/internal/api/request"
	"github.com/mcoot/pvg/internal/api/response"
	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/joinlink"
)

// Configurer validates, saves and connects to a backend
type Configurer interface {
	Configure(ctx context.Context, backend config.Backend) error
}

// ConfigHandler handles backend configuration and join links
type ConfigHandler struct {
	settings   *config.Settings
	configurer Configurer
	logger     *slog.Logger
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(settings *config.Settings, configurer Configurer, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{
		settings:   settings,
		configurer: configurer,
		logger:     logger.With(slog.String("component", "api-config")),
	}
}

// Get handles GET /api/v1/config
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	backend, err := h.settings.LoadBackend()
	if err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.BackendFromConfig(backend))
}

// Put handles PUT /api/v1/config
func (h *ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req request.ConfigRequest
	if err := decode(r, &req); err != nil {
		WriteError(w, err)
		return
	}

	backend := config.Backend{URL: req.URL, Key: req.Key}
	if err := h.configurer.Configure(r.Context(), backend); err != nil {
		WriteError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, response.BackendFromConfig(backend))
}

// Join handles GET /join. Backend settings carried by the link are applied
// and the caller is redirected to the link without them, so the credential
// does not stay in the address bar. Malformed links are logged and ignored.
func (h *ConfigHandler) Join(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.RequestURI()
	query := r.URL.Query()
	carriesBackend := query.Has(joinlink.ParamEndpoint) || query.Has(joinlink.ParamKey)

	link, err := joinlink.Parse(raw)
	switch {
	case err != nil:
		h.logger.Warn("ignoring malformed join link", slog.String("error", err.Error()))
	case link.Backend != nil:
		if err := h.configurer.Configure(r.Context(), *link.Backend); err != nil {
			WriteError(w, err)
			return
		}
		h.logger.Info("backend configured from join link", slog.String("url", link.Backend.URL))
	}

	if carriesBackend {
		http.Redirect(w, r, joinlink.Strip(raw), http.StatusSeeOther)
		return
	}

	response.JSON(w, http.StatusOK, response.JoinLink{Room: string(link.Room)})
}
