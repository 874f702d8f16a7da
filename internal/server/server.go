// Package server exposes config resolution over HTTP.
package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/prunecfg/internal/layout"
	"github.com/samcharles93/prunecfg/internal/logger"
	"github.com/samcharles93/prunecfg/internal/pruning"
)

// maxBodyBytes caps request bodies. config.json files are a few KiB.
const maxBodyBytes = 8 << 20

type Server struct {
	log   logger.Logger
	clock func() time.Time
	newID func() string
}

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		log:   log,
		clock: time.Now,
		newID: func() string { return "resolve_" + uuid.NewString() },
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.POST("/v1/resolve", s.handleResolve)
}

// ResolveRequest carries a config.json document and an optional spec that
// replaces its embedded pruning_config.
type ResolveRequest struct {
	Config  json.RawMessage `json:"config"`
	Pruning *pruning.Spec   `json:"pruning,omitempty"`
	// Plan adds the expected tensor layout to the response.
	Plan bool `json:"plan,omitempty"`
}

type ResolveResponse struct {
	ID                  string              `json:"id"`
	Object              string              `json:"object"`
	CreatedAt           int64               `json:"created_at"`
	ModelType           string              `json:"model_type"`
	NumHiddenLayers     int                 `json:"num_hidden_layers"`
	FirstPrunedLayerIdx pruning.LayerIndex  `json:"first_pruned_layer_idx"`
	Pruning             *pruning.Spec       `json:"pruning_config,omitempty"`
	Layers              []pruning.LayerDims `json:"layers"`
	Plan                *layout.Plan        `json:"plan,omitempty"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(c *echo.Context) error {
	req, err := decodeJSON[ResolveRequest](http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes))
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Config) == 0 || string(req.Config) == "null" {
		return writeError(c, http.StatusBadRequest, "invalid_request_error", "config is required", "config", "")
	}

	ctx := logger.WithContext(c.Request().Context(), s.log)
	cfg, err := pruning.LoadWithSpec(ctx, req.Config, req.Pruning)
	if err != nil {
		var mismatch *pruning.MismatchError
		if errors.As(err, &mismatch) {
			return writeError(c, http.StatusUnprocessableEntity, "config_mismatch", err.Error(), mismatch.Field, "config_mismatch")
		}
		return writeBadRequest(c, err.Error())
	}

	resp := ResolveResponse{
		ID:                  s.newID(),
		Object:              "pruning.resolution",
		CreatedAt:           s.clock().Unix(),
		ModelType:           cfg.ModelType,
		NumHiddenLayers:     cfg.NumHiddenLayers,
		FirstPrunedLayerIdx: cfg.FirstPrunedLayerIdx,
		Pruning:             cfg.Pruning,
		Layers:              cfg.Layers(),
	}
	if req.Plan {
		plan, err := layout.Build(cfg)
		if err != nil {
			return writeError(c, http.StatusUnprocessableEntity, "unsupported_model", err.Error(), "config", "")
		}
		resp.Plan = plan
	}
	s.log.Debug("resolved config", "id", resp.ID, "model_type", resp.ModelType, "layers", resp.NumHiddenLayers)
	return c.JSON(http.StatusOK, resp)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
