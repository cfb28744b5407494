package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/balaji-balu/converge/internal/drift"
	"github.com/balaji-balu/converge/internal/reconciler"
	"github.com/balaji-balu/converge/internal/statestore"
)

func GetRun(c *gin.Context, mgr *reconciler.Manager) {
	run, err := mgr.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown run"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func CancelRun(c *gin.Context, mgr *reconciler.Manager) {
	if err := mgr.Cancel(c.Param("id")); err != nil {
		if errors.Is(err, reconciler.ErrNotActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// GetDrift returns the most recent drift report for a deployment.
func GetDrift(c *gin.Context, store *statestore.Store) {
	rep, err := store.LatestDriftReport(c.Param("name"))
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "not yet checked"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// CheckDrift triggers an immediate drift check instead of waiting for the
// detector's next tick.
func CheckDrift(c *gin.Context, det *drift.Detector) {
	rep, err := det.Check(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rep == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "deployment has no converged run to check"})
		return
	}
	c.JSON(http.StatusOK, rep)
}
