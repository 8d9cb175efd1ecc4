package http

import (
	"net/http"
	"time"

	"livebid/internal/core/domain"
	"livebid/internal/core/ports"

	"github.com/gin-gonic/gin"
)

type AuctionHandler struct {
	auctionService ports.AuctionService
	bidLimiter     gin.HandlerFunc
}

func NewAuctionHandler(auctionService ports.AuctionService, bidLimiter gin.HandlerFunc) *AuctionHandler {
	return &AuctionHandler{
		auctionService: auctionService,
		bidLimiter:     bidLimiter,
	}
}

func (h *AuctionHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/sessions/:id/auctions", h.StartAuction)
	api.GET("/auctions/:id", h.GetAuction)
	api.POST("/auctions/:id/bids", h.bidLimiter, h.PlaceBid)
	api.POST("/auctions/:id/end", h.EndAuction)
}

func (h *AuctionHandler) StartAuction(c *gin.Context) {
	sessionID := domain.SessionID(c.Param("id"))

	var req struct {
		ProductID     domain.ProductID `json:"product_id" binding:"required"`
		StartingPrice int64            `json:"starting_price" binding:"min=0"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	publisherID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	auction, err := h.auctionService.StartAuction(c.Request.Context(), sessionID, publisherID, req.ProductID, req.StartingPrice)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"auction": auction,
	})
}

// GetAuction serves the authoritative auction state. Clients that saw a
// stale broadcast or missed one entirely reconcile through this read.
func (h *AuctionHandler) GetAuction(c *gin.Context) {
	auctionID := domain.AuctionID(c.Param("id"))

	auction, err := h.auctionService.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"auction":           auction,
		"remaining_seconds": int64(auction.Remaining(time.Now()).Seconds()),
	})
}

func (h *AuctionHandler) PlaceBid(c *gin.Context) {
	auctionID := domain.AuctionID(c.Param("id"))

	var req struct {
		Delta int64 `json:"delta" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bidderID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	auction, err := h.auctionService.PlaceBid(c.Request.Context(), auctionID, bidderID, req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"auction": auction,
	})
}

func (h *AuctionHandler) EndAuction(c *gin.Context) {
	auctionID := domain.AuctionID(c.Param("id"))

	publisherID, ok := userIDFromContext(c)
	if !ok {
		return
	}

	auction, err := h.auctionService.EndAuction(c.Request.Context(), auctionID, publisherID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"auction": auction,
	})
}
