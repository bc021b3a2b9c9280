package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"transfer-service/internal/service"
	"transfer-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	transferService *service.TransferService
	shipmentService *service.ShipmentService
	ledgerService   *service.LedgerService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	transferService *service.TransferService,
	shipmentService *service.ShipmentService,
	ledgerService *service.LedgerService,
) *Handler {
	return &Handler{
		transferService: transferService,
		shipmentService: shipmentService,
		ledgerService:   ledgerService,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/transfers", h.createTransfer)
	router.GET("/transfers/store/:storeId", h.listTransfersByStore)
	router.GET("/transfers/:id", h.getTransfer)
	router.PUT("/transfers/:id", h.updateTransfer)
	router.DELETE("/transfers/:id", h.deleteTransfer)
	router.POST("/transfers/:id/ready-to-ship", h.markReadyToShip)
	router.POST("/transfers/:id/cancel", h.cancelTransfer)

	router.POST("/shipments", h.createShipment)
	router.GET("/shipments/transfer/:id", h.getShipmentForTransfer)
	router.GET("/shipments/:id", h.getShipment)
	// Dispatch mutates the ledger, so it is a command, not a GET.
	router.POST("/shipments/:id/in-transit", h.markInTransit)
	router.POST("/shipments/:id/receive", h.receiveShipment)
	router.PUT("/shipments/:id", h.updateShipment)
	router.DELETE("/shipments/:id", h.deleteShipment)

	router.GET("/inventory-levels/location/:locationId", h.listLevelsByLocation)
	router.GET("/inventory-levels/cached/:variantId/:locationId", h.getCachedLevel)
	router.PUT("/inventory-levels/:id", h.adjustLevel)
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

func respond(c *gin.Context, status int, data interface{}, message string) {
	c.JSON(status, envelope{Success: true, Data: data, Message: message})
}

func respondError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	var notFoundErr *service.NotFoundError
	var transitionErr *service.IllegalTransitionError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: validationErr.Msg})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: notFoundErr.Msg})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: transitionErr.Msg})
	default:
		util.GetLogger().Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, envelope{Success: false, Message: "unexpected error"})
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createTransfer handles transfer creation
func (h *Handler) createTransfer(c *gin.Context) {
	var req service.CreateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}

	result, err := h.transferService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, result, "transfer created")
}

// listTransfersByStore handles listing transfers for a store
func (h *Handler) listTransfersByStore(c *gin.Context) {
	transfers, err := h.transferService.ListByStore(c.Request.Context(), c.Param("storeId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, transfers, "")
}

// getTransfer handles fetching a single transfer with entries
func (h *Handler) getTransfer(c *gin.Context) {
	result, err := h.transferService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result, "")
}

// updateTransfer handles partial metadata updates
func (h *Handler) updateTransfer(c *gin.Context) {
	var req service.UpdateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}

	transfer, err := h.transferService.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, transfer, "transfer updated")
}

// deleteTransfer handles draft transfer deletion
func (h *Handler) deleteTransfer(c *gin.Context) {
	if err := h.transferService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, nil, "transfer deleted")
}

// markReadyToShip handles the draft -> ready_to_ship transition
func (h *Handler) markReadyToShip(c *gin.Context) {
	result, err := h.transferService.MarkReadyToShip(c.Request.Context(), c.Param("id"), c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result, "transfer ready to ship")
}

// cancelTransfer handles the compensating cancel transition
func (h *Handler) cancelTransfer(c *gin.Context) {
	result, err := h.transferService.Cancel(c.Request.Context(), c.Param("id"), c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, result, "transfer cancelled")
}

// createShipment handles shipment creation
func (h *Handler) createShipment(c *gin.Context) {
	var req service.CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}

	shipment, err := h.shipmentService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, shipment, "shipment created")
}

// getShipment handles fetching a shipment by id
func (h *Handler) getShipment(c *gin.Context) {
	shipment, err := h.shipmentService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, shipment, "")
}

// getShipmentForTransfer handles fetching the latest shipment for a transfer
func (h *Handler) getShipmentForTransfer(c *gin.Context) {
	shipment, err := h.shipmentService.GetLatestForTransfer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, shipment, "")
}

// markInTransit handles the dispatch transition
func (h *Handler) markInTransit(c *gin.Context) {
	shipment, err := h.shipmentService.MarkInTransit(c.Request.Context(), c.Param("id"), c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, shipment, "shipment in transit")
}

// receiveShipment handles partial receipt
func (h *Handler) receiveShipment(c *gin.Context) {
	var lines []service.ReceiveLine
	if err := c.ShouldBindJSON(&lines); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}

	shipment, err := h.shipmentService.Receive(c.Request.Context(), c.Param("id"), lines, c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, shipment, "shipment received")
}

// updateShipment handles plain shipment field edits
func (h *Handler) updateShipment(c *gin.Context) {
	var req service.UpdateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}

	shipment, err := h.shipmentService.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, shipment, "shipment updated")
}

// deleteShipment handles shipment deletion
func (h *Handler) deleteShipment(c *gin.Context) {
	if err := h.shipmentService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, nil, "shipment deleted")
}

// listLevelsByLocation handles the direct ledger read path
func (h *Handler) listLevelsByLocation(c *gin.Context) {
	levels, err := h.ledgerService.ListByLocation(c.Request.Context(), nil, c.Param("locationId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, levels, "")
}

// getCachedLevel serves the redis read model for one (variant, location)
// pair, for dashboards that tolerate slightly stale counters
func (h *Handler) getCachedLevel(c *gin.Context) {
	variantID := c.Param("variantId")
	locationID := c.Param("locationId")

	onHand, available, incoming, err := h.ledgerService.CachedCounters(c.Request.Context(), variantID, locationID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"variantId":  variantID,
		"locationId": locationID,
		"onHand":     onHand,
		"available":  available,
		"incoming":   incoming,
	}, "")
}

// adjustLevel handles the manual ledger correction path
func (h *Handler) adjustLevel(c *gin.Context) {
	var req service.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, envelope{Success: false, Message: "invalid request body: " + err.Error()})
		return
	}

	level, err := h.ledgerService.Adjust(c.Request.Context(), nil, c.Param("id"), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, level, "inventory level adjusted")
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
