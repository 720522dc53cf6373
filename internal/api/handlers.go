package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"taskdeck/internal/task"
)

const (
	defaultWaitTimeout = 5 * time.Second
	maxWaitTimeout     = time.Minute
	maxTaskDuration    = 24 * time.Hour
)

type createTaskRequest struct {
	DurationMS *int64 `json:"duration_ms"`
	Label      string `json:"label"`
}

type createTaskResponse struct {
	TaskID task.ID     `json:"task_id"`
	Status task.Status `json:"status"`
}

type taskResponse struct {
	ID       task.ID          `json:"id"`
	Outcome  task.OutcomeKind `json:"outcome"`
	Progress float64          `json:"progress"`
}

type listResponse struct {
	RemovalPolicy string         `json:"removal_policy"`
	Tasks         []task.Summary `json:"tasks"`
}

// Options configures how the API builds tasks.
type Options struct {
	DefaultDuration time.Duration
	TimerPolicy     task.TimerPolicy
	// BaseContext parents every background timer; cancelling it on shutdown
	// stops them.
	BaseContext context.Context
}

type API struct {
	registry *task.Registry
	opts     Options
}

func NewAPI(registry *task.Registry, opts Options) *API {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 5 * time.Second
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	return &API{registry: registry, opts: opts}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.CreateTask)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.PollTask)
		api.GET("/tasks/:id/wait", a.WaitTask)
		api.POST("/tasks/:id/pause", a.PauseTask)
		api.POST("/tasks/:id/resume", a.ResumeTask)
		api.POST("/tasks/:id/cancel", a.CancelTask)
		api.DELETE("/tasks/:id", a.RemoveTask)
		api.POST("/bulk/cancel", a.CancelAll)
		api.POST("/bulk/prune", a.Prune)
	}
}

// newTimedTask builds the reference task with the API's timer settings.
func (a *API) newTimedTask(d time.Duration, label string) *task.TimedTask {
	return task.NewTimedTask(d,
		task.WithTimerPolicy(a.opts.TimerPolicy),
		task.WithContext(a.opts.BaseContext),
		task.WithLabel(label),
	)
}

// CreateTask registers a new timed task. The body is optional.
func (a *API) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Warn().Err(err).Msg("invalid create task request")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	duration := a.opts.DefaultDuration
	if req.DurationMS != nil {
		if *req.DurationMS < 0 || *req.DurationMS > maxTaskDuration.Milliseconds() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duration_ms out of range"})
			return
		}
		duration = time.Duration(*req.DurationMS) * time.Millisecond
	}

	tk := a.newTimedTask(duration, req.Label)
	id, err := a.registry.Register(tk)
	if err != nil {
		respondError(c, 0, err)
		return
	}
	log.Info().Uint64("task_id", uint64(id)).Dur("duration", duration).Msg("task created")
	c.JSON(http.StatusCreated, createTaskResponse{TaskID: id, Status: tk.Status()})
}

// ListTasks reports every tracked entry without polling it
func (a *API) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, listResponse{
		RemovalPolicy: a.registry.RemovalPolicy().String(),
		Tasks:         a.registry.Snapshot(),
	})
}

// PollTask polls the task and returns its outcome
func (a *API) PollTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	out, err := a.registry.Poll(id)
	if err != nil {
		respondError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, taskResponse{ID: id, Outcome: out.Kind, Progress: out.Progress})
}

func (a *API) PauseTask(c *gin.Context) { a.lifecycle(c, "pause", a.registry.Pause) }
func (a *API) ResumeTask(c *gin.Context) { a.lifecycle(c, "resume", a.registry.Resume) }
func (a *API) CancelTask(c *gin.Context) { a.lifecycle(c, "cancel", a.registry.Cancel) }
func (a *API) RemoveTask(c *gin.Context) { a.lifecycle(c, "remove", a.registry.Remove) }

func (a *API) lifecycle(c *gin.Context, op string, fn func(task.ID) error) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := fn(id); err != nil {
		respondError(c, id, err)
		return
	}
	log.Info().Uint64("task_id", uint64(id)).Str("op", op).Msg("task updated")
	c.Status(http.StatusNoContent)
}

// WaitTask blocks until the task finishes or the timeout query parameter
// (default 5s) elapses.
func (a *API) WaitTask(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	timeout := defaultWaitTimeout
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > maxWaitTimeout {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	done, err := a.registry.AwaitCompletion(ctx, id)
	if err != nil {
		respondError(c, id, err)
		return
	}
	out, ok := <-done
	switch {
	case ok:
		c.JSON(http.StatusOK, taskResponse{ID: id, Outcome: out.Kind, Progress: out.Progress})
	case ctx.Err() != nil:
		log.Warn().Uint64("task_id", uint64(id)).Dur("timeout", timeout).Msg("wait timed out")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "task did not finish in time"})
	default:
		// the observer stopped on a poll error; report it
		if _, err := a.registry.Poll(id); err != nil {
			respondError(c, id, err)
			return
		}
		respondError(c, id, task.ErrNotFound)
	}
}

// CancelAll cancels every unfinished task
func (a *API) CancelAll(c *gin.Context) {
	n := a.registry.CancelAll()
	log.Info().Int("cancelled", n).Msg("cancelled all tasks")
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

// Prune drops finished tasks from the registry
func (a *API) Prune(c *gin.Context) {
	n := a.registry.Prune()
	log.Info().Int("removed", n).Msg("pruned finished tasks")
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func pathID(c *gin.Context) (task.ID, bool) {
	id, err := task.ParseID(c.Param("id"))
	if err != nil {
		respondError(c, 0, err)
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrInvalidID), errors.Is(err, task.ErrNilTask):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case task.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, id task.ID, err error) {
	code := statusFor(err)
	evt := log.Warn()
	if code >= http.StatusInternalServerError {
		evt = log.Error()
	}
	evt.Uint64("task_id", uint64(id)).Err(err).Str("path", c.FullPath()).Msg("task request failed")
	c.JSON(code, gin.H{"error": err.Error()})
}
