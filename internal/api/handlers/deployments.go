package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/balaji-balu/converge/internal/metrics"
	"github.com/balaji-balu/converge/internal/planner"
	"github.com/balaji-balu/converge/internal/reconciler"
	"github.com/balaji-balu/converge/internal/statestore"
	"github.com/balaji-balu/converge/pkg/model"
)

func Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitDeployment accepts a desired-state document (YAML or JSON body) and
// starts a reconciliation run. `?wait=true` blocks until the run terminates.
func SubmitDeployment(c *gin.Context, mgr *reconciler.Manager, logger *zap.Logger) {
	start := time.Now()
	defer func() {
		if metrics.RequestDuration != nil {
			metrics.RequestDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
		}
	}()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	ds, err := model.ParseDesiredState(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed desired state document: " + err.Error()})
		return
	}

	run, err := mgr.Submit(c.Request.Context(), ds)
	if err != nil {
		var ve *planner.ValidationError
		switch {
		case errors.As(err, &ve):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ve.Error(), "field": ve.Field})
		case errors.Is(err, reconciler.ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			logger.Error("submission failed", zap.String("deployment", ds.DeploymentName), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, gin.H{"run_id": run.RunID})
		return
	}

	final, err := mgr.Wait(c.Request.Context(), run.RunID)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error(), "run_id": run.RunID})
		return
	}
	c.JSON(http.StatusOK, final)
}

func GetDeployment(c *gin.Context, mgr *reconciler.Manager) {
	run, err := mgr.Status(c.Param("name"))
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown deployment"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

func GetHistory(c *gin.Context, store *statestore.Store) {
	runs, err := store.History(c.Param("name"))
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown deployment"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func RetryDeployment(c *gin.Context, mgr *reconciler.Manager) {
	run, err := mgr.Retry(c.Param("name"))
	if err != nil {
		switch {
		case errors.Is(err, reconciler.ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, statestore.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown deployment"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": run.RunID})
}
