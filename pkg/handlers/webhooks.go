package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/animagenius/animagenius-api/pkg/services"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const maxWebhookBody = 1 << 20

// PayPalWebhook replies in PayPal's own format rather than the API envelope.
// A 5xx makes PayPal redeliver the event.
func (h *Handlers) PayPalWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Debugf("PayPalWebhook: reading body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request body"})
		return
	}

	result, err := h.PayPal.ProcessWebhook(c.Request.Context(), c.Request, body)
	if err != nil {
		if errors.Is(err, services.ErrInvalidWebhookSignature) || errors.Is(err, services.ErrMalformedWebhook) {
			log.Warnf("PayPalWebhook: rejected delivery: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		log.Errorf("PayPalWebhook: processing failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Webhook processing failed"})
		return
	}

	log.Infof("PayPalWebhook: %s %s processed=%t", result.EventType, result.EventID, result.Processed)
	c.JSON(http.StatusOK, gin.H{"success": true, "processed": result.Processed})
}

// PayPalWebhookStatus answers PayPal's endpoint verification challenge.
func (h *Handlers) PayPalWebhookStatus(c *gin.Context) {
	if challenge := c.Query("challenge"); challenge != "" {
		c.String(http.StatusOK, challenge)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "PayPal webhook endpoint active"})
}
