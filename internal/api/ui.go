package api

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"taskdeck/internal/task"
)

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "home"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  {{if .Rows}}<meta http-equiv="refresh" content="1"/>{{end}}
  <title>Taskdeck</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap;align-items:center}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:8px 12px;border-radius:8px;cursor:pointer}
    .btn.secondary{background:#444}
    .btn.danger{background:#b3261e}
    input[type=number]{padding:8px 10px;border:1px solid #dcdcdc;border-radius:8px;width:90px}
    progress{width:100%;height:14px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
    form{display:inline}
    footer{margin-top:24px;color:#666;font-size:12px}
  </style>
</head>
<body>
  <header>
    <h1>Taskdeck</h1>
    <div class="muted">Tracking {{len .Rows}} tasks · removal policy <span class="mono">{{.Policy}}</span></div>
  </header>

  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}

  <div class="card">
    <h2>Add task</h2>
    <form method="post" action="/ui/tasks" class="row">
      <input type="number" name="seconds" min="1" max="10" value="{{.Seconds}}"/> seconds
      <button class="btn" type="submit">Add task</button>
    </form>
  </div>

  {{if .Rows}}
  <div class="card row">
    <form method="post" action="/ui/cancel-all"><button class="btn danger" type="submit">Cancel all tasks</button></form>
    <form method="post" action="/ui/prune"><button class="btn secondary" type="submit">Prune finished</button></form>
  </div>
  {{end}}

  {{range .Rows}}
  <div class="card">
    <div class="row">
      <strong>Task <span class="mono">{{.ID}}</span></strong>
      <span class="status">{{.Outcome}}</span>
      {{if .Err}}<span class="muted">{{.Err}}</span>{{end}}
    </div>
    <progress max="1" value="{{.Progress}}">{{.Percent}}%</progress>
    <div class="row">
      <span class="muted">{{.Percent}}%</span>
      {{if eq .Outcome "pending"}}
      <form method="post" action="/ui/tasks/{{.ID}}/pause"><button class="btn secondary" type="submit">Pause</button></form>
      {{end}}
      {{if eq .Outcome "paused"}}
      <form method="post" action="/ui/tasks/{{.ID}}/resume"><button class="btn" type="submit">Resume</button></form>
      {{end}}
      {{if .Live}}
      <form method="post" action="/ui/tasks/{{.ID}}/remove"><button class="btn danger" type="submit">Cancel</button></form>
      {{end}}
    </div>
  </div>
  {{end}}

  <footer>
    <div>API base: <span class="mono">/api/v1</span></div>
  </footer>
</body>
</html>
{{end}}
`))

const (
	uiDefaultSeconds = 1
	uiMinSeconds     = 1
	uiMaxSeconds     = 10
)

type uiRow struct {
	ID       task.ID
	Outcome  task.OutcomeKind
	Progress float64
	Percent  int
	Live     bool
	Err      string
}

// RegisterUIRoutes registers a minimal HTML dashboard without JS. Every render
// polls every tracked task.
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/tasks", a.UICreateTask)
	router.POST("/ui/tasks/:id/:action", a.UITaskAction)
	router.POST("/ui/cancel-all", a.UICancelAll)
	router.POST("/ui/prune", a.UIPrune)
}

// UIHome renders the dashboard
func (a *API) UIHome(c *gin.Context) {
	a.renderHome(c, http.StatusOK, c.Query("error"))
}

func (a *API) renderHome(c *gin.Context, code int, errMsg string) {
	ids := a.registry.IDs()
	rows := make([]uiRow, 0, len(ids))
	for _, id := range ids {
		out, err := a.registry.Poll(id)
		if err != nil {
			rows = append(rows, uiRow{ID: id, Err: err.Error()})
			continue
		}
		rows = append(rows, uiRow{
			ID:       id,
			Outcome:  out.Kind,
			Progress: out.Progress,
			Percent:  int(out.Progress * 100),
			Live:     !out.Terminal(),
		})
	}
	c.HTML(code, "home", gin.H{
		"Rows":    rows,
		"Policy":  a.registry.RemovalPolicy().String(),
		"Seconds": uiDefaultSeconds,
		"Error":   errMsg,
	})
}

// UICreateTask adds a timed task from the form and redirects to the dashboard
func (a *API) UICreateTask(c *gin.Context) {
	seconds, err := strconv.Atoi(strings.TrimSpace(c.PostForm("seconds")))
	if err != nil || seconds < uiMinSeconds || seconds > uiMaxSeconds {
		a.renderHome(c, http.StatusBadRequest, "seconds must be between 1 and 10")
		return
	}
	id, err := a.registry.Register(a.newTimedTask(time.Duration(seconds)*time.Second, "ui"))
	if err != nil {
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	log.Info().Uint64("task_id", uint64(id)).Int("seconds", seconds).Msg("task created from ui")
	c.Redirect(http.StatusFound, "/")
}

// UITaskAction applies pause, resume, cancel or remove to a task
func (a *API) UITaskAction(c *gin.Context) {
	id, err := task.ParseID(c.Param("id"))
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, err.Error())
		return
	}

	var op func(task.ID) error
	switch c.Param("action") {
	case "pause":
		op = a.registry.Pause
	case "resume":
		op = a.registry.Resume
	case "cancel":
		op = a.registry.Cancel
	case "remove":
		op = a.registry.Remove
	default:
		a.renderHome(c, http.StatusNotFound, "unknown action")
		return
	}
	if err := op(id); err != nil {
		log.Warn().Uint64("task_id", uint64(id)).Str("action", c.Param("action")).Err(err).Msg("ui action failed")
		a.renderHome(c, statusFor(err), err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// UICancelAll is the dashboard's "cancel all tasks" button
func (a *API) UICancelAll(c *gin.Context) {
	for _, id := range a.registry.IDs() {
		if err := a.registry.Remove(id); err != nil && !task.IsConflict(err) {
			log.Warn().Uint64("task_id", uint64(id)).Err(err).Msg("ui cancel all")
		}
	}
	c.Redirect(http.StatusFound, "/")
}

// UIPrune drops finished tasks
func (a *API) UIPrune(c *gin.Context) {
	a.registry.Prune()
	c.Redirect(http.StatusFound, "/")
}
