package api

import (
	"context"
	"net/http"

	"pinetick/internal/storage"
	logx "pinetick/pkg/logx"

	"github.com/gin-gonic/gin"
)

// TaskLister reads every task record.
type TaskLister interface {
	List(ctx context.Context) ([]storage.TaskRecord, error)
}

// StatusFunc returns extra sections for /healthz, keyed by name.
type StatusFunc func() map[string]any

func listTasks(tasks TaskLister, log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := tasks.List(c.Request.Context())
		if err != nil {
			log.Error("list tasks failed", logx.Err(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if recs == nil {
			recs = []storage.TaskRecord{}
		}
		c.JSON(http.StatusOK, recs)
	}
}

func healthz(status StatusFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if status != nil {
			for k, v := range status() {
				if k == "status" {
					continue
				}
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	}
}
