package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"replyloop.app/engine/internal/scheduler"
)

// EngineHandler exposes the scheduler's observable state and the manual
// controls. All engine failures surface through the status payload; these
// endpoints never report engagement errors as HTTP errors.
type EngineHandler struct {
	sched *scheduler.Scheduler
}

func NewEngineHandler(sched *scheduler.Scheduler) *EngineHandler {
	return &EngineHandler{sched: sched}
}

func (h *EngineHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.sched.Status())
}

// Run requests an immediate cycle, short-circuiting the inter-cycle wait.
func (h *EngineHandler) Run(c *gin.Context) {
	h.sched.Trigger()
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}

// Stop winds the scheduler down. The in-flight send attempt, if any, runs
// to its own timeout before this returns.
func (h *EngineHandler) Stop(c *gin.Context) {
	h.sched.Stop()
	c.JSON(http.StatusOK, h.sched.Status())
}

// ResetGuard clears the send guard's failure streak and pause.
func (h *EngineHandler) ResetGuard(c *gin.Context) {
	h.sched.ResetGuard()
	c.JSON(http.StatusOK, h.sched.Status())
}
