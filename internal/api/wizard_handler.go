package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"listing-wizard/internal/seller"
	"listing-wizard/internal/wizard"
)

// WizardService is implemented by *seller.Service.
type WizardService interface {
	Start(ctx context.Context, vehicle wizard.VehicleType) (string, error)
	Load(ctx context.Context, id string) (*seller.View, error)
	Update(ctx context.Context, id string, step wizard.Step, fields map[string]any) error
	Next(ctx context.Context, id string, step wizard.Step, fields map[string]any) error
	Skip(ctx context.Context, id string, step wizard.Step, fields map[string]any) error
	Blur(ctx context.Context, id string, step wizard.Step, field string, value any) error
	SwitchVehicleType(ctx context.Context, id string, vehicle wizard.VehicleType) (bool, error)
	UpdateMeta(ctx context.Context, id string, u seller.MetaUpdate) error
	CaptureLocation(ctx context.Context, id string, lat, lng float64) (string, error)
	Publish(ctx context.Context, id string) (*seller.Result, error)
	Clear(ctx context.Context, id string) error
}

var _ WizardService = (*seller.Service)(nil)

type WizardHandler struct {
	svc    WizardService
	logger *zap.Logger
}

func NewWizardHandler(svc WizardService, logger *zap.Logger) *WizardHandler {
	return &WizardHandler{svc: svc, logger: logger}
}

type vehicleRequest struct {
	VehicleType string `json:"vehicle_type" binding:"required"`
}

type fieldsRequest struct {
	Fields map[string]any `json:"fields"`
}

type blurRequest struct {
	Field string `json:"field" binding:"required"`
	Value any    `json:"value"`
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// Start handles POST /api/wizard.
func (h *WizardHandler) Start(c *gin.Context) {
	var req vehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	id, err := h.svc.Start(c.Request.Context(), wizard.VehicleType(req.VehicleType))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	view, err := h.svc.Load(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, view)
}

// Get handles GET /api/wizard/:session.
func (h *WizardHandler) Get(c *gin.Context) {
	view, err := h.svc.Load(c.Request.Context(), c.Param("session"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, view)
}

// UpdateStep handles PATCH /api/wizard/:session/steps/:step.
func (h *WizardHandler) UpdateStep(c *gin.Context) {
	step, valid := stepParam(c)
	if !valid {
		return
	}
	var req fieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if len(req.Fields) == 0 {
		fail(c, http.StatusBadRequest, "fields are required", nil)
		return
	}

	if err := h.svc.Update(c.Request.Context(), c.Param("session"), step, req.Fields); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.respondView(c)
}

// Next handles POST /api/wizard/:session/steps/:step/next.
func (h *WizardHandler) Next(c *gin.Context) {
	h.advance(c, h.svc.Next)
}

// Skip handles POST /api/wizard/:session/steps/:step/skip.
func (h *WizardHandler) Skip(c *gin.Context) {
	h.advance(c, h.svc.Skip)
}

func (h *WizardHandler) advance(c *gin.Context, move func(context.Context, string, wizard.Step, map[string]any) error) {
	step, valid := stepParam(c)
	if !valid {
		return
	}
	// The body is optional; an empty one means no fields.
	var req fieldsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := move(c.Request.Context(), c.Param("session"), step, req.Fields); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.respondView(c)
}

// Blur handles POST /api/wizard/:session/steps/:step/blur.
func (h *WizardHandler) Blur(c *gin.Context) {
	step, valid := stepParam(c)
	if !valid {
		return
	}
	var req blurRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.svc.Blur(c.Request.Context(), c.Param("session"), step, req.Field, req.Value); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SwitchVehicleType handles PUT /api/wizard/:session/vehicle-type.
func (h *WizardHandler) SwitchVehicleType(c *gin.Context) {
	var req vehicleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	cleared, err := h.svc.SwitchVehicleType(c.Request.Context(), c.Param("session"), wizard.VehicleType(req.VehicleType))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"cleared": cleared})
}

// UpdateMeta handles PATCH /api/wizard/:session/meta.
func (h *WizardHandler) UpdateMeta(c *gin.Context) {
	var req seller.MetaUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	if err := h.svc.UpdateMeta(c.Request.Context(), c.Param("session"), req); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.respondView(c)
}

// CaptureLocation handles POST /api/wizard/:session/location.
func (h *WizardHandler) CaptureLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	city, err := h.svc.CaptureLocation(c.Request.Context(), c.Param("session"), *req.Latitude, *req.Longitude)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"city": city})
}

// Publish handles POST /api/wizard/:session/publish.
func (h *WizardHandler) Publish(c *gin.Context) {
	res, err := h.svc.Publish(c.Request.Context(), c.Param("session"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// Clear handles DELETE /api/wizard/:session.
func (h *WizardHandler) Clear(c *gin.Context) {
	if err := h.svc.Clear(c.Request.Context(), c.Param("session")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WizardHandler) respondView(c *gin.Context) {
	view, err := h.svc.Load(c.Request.Context(), c.Param("session"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, view)
}

func stepParam(c *gin.Context) (wizard.Step, bool) {
	n, err := strconv.Atoi(c.Param("step"))
	step := wizard.Step(n)
	if err != nil || !step.Valid() {
		fail(c, http.StatusBadRequest, "unknown wizard step", nil)
		return 0, false
	}
	return step, true
}
