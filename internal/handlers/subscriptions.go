package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stockpulse/stock-monitor/internal/database"
)

// CreateSubscriptionRequest represents the body for creating a watchlist entry
type CreateSubscriptionRequest struct {
	UserID        string   `json:"user_id" binding:"required"`
	ItemMatch     string   `json:"item_match" binding:"required"`
	TargetPrice   *float64 `json:"target_price" binding:"omitempty,gt=0"`
	NotifyOnStock *bool    `json:"notify_on_stock"`
	Channels      []string `json:"channels"`
	ZipScope      *string  `json:"zip_scope"`
}

// ListSubscriptionsResponse represents the watchlist listing
type ListSubscriptionsResponse struct {
	Subscriptions []database.Subscription `json:"subscriptions"`
	Total         int                     `json:"total"`
}

// CreateSubscription creates a watchlist entry. notify_on_stock defaults
// to true; an empty channel list means every registered channel.
// POST /internal/subscriptions
func CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	notifyOnStock := true
	if req.NotifyOnStock != nil {
		notifyOnStock = *req.NotifyOnStock
	}

	sub := &database.Subscription{
		UserID:        req.UserID,
		ItemMatch:     req.ItemMatch,
		TargetPrice:   req.TargetPrice,
		NotifyOnStock: notifyOnStock,
		Channels:      req.Channels,
		ZipScope:      req.ZipScope,
	}
	if err := database.CreateSubscription(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// ListSubscriptions returns all watchlist entries
// GET /internal/subscriptions
func ListSubscriptions(c *gin.Context) {
	subs, err := database.ListSubscriptions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list subscriptions"})
		return
	}
	if subs == nil {
		subs = []database.Subscription{}
	}
	c.JSON(http.StatusOK, ListSubscriptionsResponse{Subscriptions: subs, Total: len(subs)})
}

// DeleteSubscription removes a watchlist entry
// DELETE /internal/subscriptions/:id
func DeleteSubscription(c *gin.Context) {
	if err := database.DeleteSubscription(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
