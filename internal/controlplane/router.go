// Package controlplane exposes the handful of HTTP routes the rest of the
// system is driven through: enqueueing tasks, stopping the
// running one, and resolving websites/uploads by id. Handlers only decode
// JSON and delegate to internal/store and internal/task.Scheduler; no
// business logic lives here, so the core stays testable without HTTP.
package controlplane

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/grishkovelli/phonewatch/internal/store"
	"github.com/grishkovelli/phonewatch/internal/task"
)

// Router holds the store.Store and *task.Scheduler the handlers delegate
// to; router_test.go backs it with the in-memory store.
// Index, WS, and Metrics are optional http.Handlers mounted alongside the
// JSON routes so the whole process serves through one tableflip-managed
// listener instead of a second bare http.Server.
type Router struct {
	Store     store.Store
	Scheduler *task.Scheduler

	Index   http.HandlerFunc
	WS      http.HandlerFunc
	Metrics http.Handler
}

// NewEngine builds a *gin.Engine wired to r's routes.
func (r *Router) NewEngine() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery())

	e.POST("/tasks", r.postTask)
	e.POST("/tasks/:id/stop", r.postTaskStop)
	e.GET("/websites/:id", r.getWebsite)
	e.GET("/uploads", r.getUploads)

	if r.Index != nil {
		e.GET("/", gin.WrapF(r.Index))
	}
	if r.WS != nil {
		e.GET("/ws", gin.WrapF(r.WS))
	}
	if r.Metrics != nil {
		e.GET("/metrics", gin.WrapH(r.Metrics))
	}

	return e
}

type postTaskRequest struct {
	Kind           task.Kind `json:"kind"`
	TaskID         uint32    `json:"task_id"`
	WebsiteID      uint32    `json:"website_id"`
	ScansPerIP     uint32    `json:"scans_per_ip"`
	Total          uint32    `json:"total"`
	NumberIDs      []uint32  `json:"number_ids"`
	WebsiteAddress string    `json:"website_address"`
	CheckpointPath string    `json:"checkpoint_path"`
	Free           bool      `json:"free"`
}

func (r *Router) postTask(c *gin.Context) {
	var req postTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r.Scheduler.Enqueue(task.AtomicTask{
		Kind:           req.Kind,
		TaskID:         req.TaskID,
		WebsiteID:      req.WebsiteID,
		ScansPerIP:     req.ScansPerIP,
		Total:          req.Total,
		NumberIDs:      req.NumberIDs,
		WebsiteAddress: req.WebsiteAddress,
		CheckpointPath: req.CheckpointPath,
		Free:           req.Free,
	})
	c.JSON(http.StatusAccepted, gin.H{"task_id": req.TaskID})
}

type postTaskStopRequest struct {
	Saving bool `json:"saving"`
}

func (r *Router) postTaskStop(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	var req postTaskStopRequest
	// A missing body just means saving=false; ShouldBindJSON errors on an
	// empty body are not a client mistake worth rejecting.
	_ = c.ShouldBindJSON(&req)

	if !r.Scheduler.Stop(uint32(id), req.Saving) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running task with that id"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (r *Router) getWebsite(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid website id"})
		return
	}

	w, err := r.Store.Website(uint32(id))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, w)
}

func (r *Router) getUploads(c *gin.Context) {
	raw := c.Query("ids")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids is required"})
		return
	}

	paths := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id " + part})
			return
		}
		path, err := r.Store.UploadPath(uint32(id))
		if err != nil {
			continue
		}
		paths[part] = path
	}
	c.JSON(http.StatusOK, gin.H{"uploads": paths})
}
