package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"listing-wizard/internal/storage"
	"listing-wizard/internal/wizard"
)

// DealerStore is implemented by *storage.PostgresStorage.
type DealerStore interface {
	ListListings(ctx context.Context, f storage.ListingFilter) ([]storage.ListingSummary, error)
	GetListingStatistics(ctx context.Context) (*storage.ListingStatistics, error)
	ExportListingsToExcel(ctx context.Context, vehicle wizard.VehicleType) ([]byte, error)
}

var _ DealerStore = (*storage.PostgresStorage)(nil)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type DealerHandler struct {
	store  DealerStore
	logger *zap.Logger
}

func NewDealerHandler(store DealerStore, logger *zap.Logger) *DealerHandler {
	return &DealerHandler{store: store, logger: logger}
}

// List handles GET /api/dealer/listings.
func (h *DealerHandler) List(c *gin.Context) {
	vehicle, valid := vehicleQuery(c)
	if !valid {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		fail(c, http.StatusBadRequest, "limit must be between 1 and 500", nil)
		return
	}

	list, err := h.store.ListListings(c.Request.Context(), storage.ListingFilter{
		Vehicle: vehicle,
		City:    c.Query("city"),
		Limit:   limit,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []storage.ListingSummary{}
	}
	ok(c, http.StatusOK, list)
}

// Stats handles GET /api/dealer/stats.
func (h *DealerHandler) Stats(c *gin.Context) {
	stats, err := h.store.GetListingStatistics(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// Export handles GET /api/dealer/listings/export.
func (h *DealerHandler) Export(c *gin.Context) {
	vehicle, valid := vehicleQuery(c)
	if !valid {
		return
	}

	data, err := h.store.ExportListingsToExcel(c.Request.Context(), vehicle)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	name := "listings"
	if vehicle != "" {
		name = string(vehicle) + "_listings"
	}
	filename := fmt.Sprintf("%s_%s.xlsx", name, time.Now().Format("20060102_1504"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func vehicleQuery(c *gin.Context) (wizard.VehicleType, bool) {
	raw := c.Query("vehicle_type")
	if raw == "" {
		return "", true
	}
	v, err := wizard.ParseVehicleType(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error(), nil)
		return "", false
	}
	return v, true
}
