// Package httpapi exposes the dashboard JSON API, the WebSocket metrics
// channel, and the embedded UI.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vpsdash/vpsd/internal/server/backup"
	"github.com/vpsdash/vpsd/internal/server/databases"
	"github.com/vpsdash/vpsd/internal/server/files"
	"github.com/vpsdash/vpsd/internal/server/orchestrator"
	"github.com/vpsdash/vpsd/internal/server/services"
	"github.com/vpsdash/vpsd/internal/server/sysinfo"
	"github.com/vpsdash/vpsd/internal/shared/cmdexec"
)

// Deps wires the handlers' collaborators.
type Deps struct {
	Logger       *slog.Logger
	Engine       orchestrator.Engine
	Collector    *sysinfo.Collector
	Runner       cmdexec.Runner
	Backup       *backup.Trigger
	PushInterval time.Duration
}

// New constructs the HTTP router.
func New(deps Deps) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger))

	api := &apiServer{deps: deps}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/system", api.system)
		apiGroup.GET("/processes", api.processes)
		apiGroup.GET("/resources", api.resources)
		apiGroup.GET("/debug", api.debug)

		apiGroup.GET("/files", api.listFiles)
		apiGroup.POST("/files/upload", api.uploadFile)
		apiGroup.GET("/files/download", api.downloadFile)
		apiGroup.DELETE("/files", api.deleteFile)

		apiGroup.GET("/services", api.listServices)
		apiGroup.POST("/services/:name/:action", api.controlService)

		apiGroup.GET("/databases", api.listDatabases)
		apiGroup.POST("/backups", api.triggerBackup)

		vms := apiGroup.Group("/vms")
		{
			vms.GET("", api.listVMs)
			vms.POST("", api.createVM)
			vms.GET("/templates", api.vmTemplates)
			vms.GET("/:name", api.getVM)
			vms.DELETE("/:name", api.deleteVM)
			vms.POST("/:name/:action", api.vmAction)
			vms.GET("/:name/console", api.vmConsole)
		}
	}

	r.GET("/ws", api.metricsWebSocket)
	r.GET("/vnc/:name", api.vncPage)
	registerUI(r)

	return r
}

// requestLogger adapts slog to Gin's middleware interface.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		args := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.String("latency", latency.String()),
			slog.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			args = append(args, slog.String("error", c.Errors.String()))
			logger.Error("http request", args...)
		} else {
			logger.Info("http request", args...)
		}
	}
}

type apiServer struct {
	deps Deps
}

func (api *apiServer) logger() *slog.Logger { return api.deps.Logger }

// --- system ---

func (api *apiServer) system(c *gin.Context) {
	ctx := c.Request.Context()
	hostInfo, err := api.deps.Collector.Host(ctx)
	if err != nil {
		api.logger().Error("host info", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read host info"})
		return
	}
	snap, err := api.deps.Collector.Snapshot(ctx)
	if err != nil {
		api.logger().Error("metrics snapshot", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"host": hostInfo, "metrics": snap})
}

func (api *apiServer) processes(c *gin.Context) {
	procs, err := api.deps.Collector.Processes(c.Request.Context(), 50)
	if err != nil {
		api.logger().Error("list processes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list processes"})
		return
	}
	c.JSON(http.StatusOK, procs)
}

func (api *apiServer) resources(c *gin.Context) {
	snap, err := api.deps.Collector.Snapshot(c.Request.Context())
	if err != nil {
		api.logger().Error("metrics snapshot", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read metrics"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// debug reports which external tools are installed.
func (api *apiServer) debug(c *gin.Context) {
	tools := []string{"virsh", "qemu-img", "virt-install", "genisoimage", "systemctl", "mysql", "psql", "tar", "mysqldump", "pg_dump"}
	capabilities := make(map[string]bool, len(tools))
	for _, tool := range tools {
		capabilities[tool] = cmdexec.Have(tool)
	}
	c.JSON(http.StatusOK, gin.H{"capabilities": capabilities})
}

// --- files ---

func (api *apiServer) listFiles(c *gin.Context) {
	path := c.Query("path")
	entries, err := files.List(path)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "entries": entries})
}

func (api *apiServer) uploadFile(c *gin.Context) {
	dir := c.PostForm("path")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer src.Close()

	dest, err := files.Save(dir, fileHeader.Filename, src)
	if err != nil {
		api.logger().Error("upload file", "dir", dir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"path": dest})
}

func (api *apiServer) downloadFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path required"})
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (api *apiServer) deleteFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path required"})
		return
	}
	if err := files.Delete(path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// --- services ---

func (api *apiServer) listServices(c *gin.Context) {
	units, err := services.List(c.Request.Context(), api.deps.Runner)
	if err != nil {
		api.logger().Error("list services", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, units)
}

func (api *apiServer) controlService(c *gin.Context) {
	name := c.Param("name")
	action := c.Param("action")
	if err := services.Control(c.Request.Context(), api.deps.Runner, name, action); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrInvalidAction) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"service": name, "action": action})
}

// --- databases / backups ---

func (api *apiServer) listDatabases(c *gin.Context) {
	c.JSON(http.StatusOK, databases.Probe(c.Request.Context(), api.deps.Runner))
}

func (api *apiServer) triggerBackup(c *gin.Context) {
	var req backup.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := api.deps.Backup.Start(req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, backup.ErrInvalidType) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// --- vms ---

type createVMRequest struct {
	Name     string `json:"name" binding:"required"`
	MemoryMB int    `json:"memory_mb" binding:"required,min=1"`
	VCPUs    int    `json:"vcpus" binding:"required,min=1"`
	DiskGB   int    `json:"disk_gb" binding:"required,min=1"`
	OSType   string `json:"os_type"`
	Network  string `json:"network"`
}

func (api *apiServer) listVMs(c *gin.Context) {
	vms, err := api.deps.Engine.List(c.Request.Context())
	if err != nil {
		api.logger().Error("list vms", "error", err)
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	if vms == nil {
		vms = []orchestrator.VM{}
	}
	c.JSON(http.StatusOK, vms)
}

func (api *apiServer) vmTemplates(c *gin.Context) {
	c.JSON(http.StatusOK, api.deps.Engine.Templates())
}

func (api *apiServer) getVM(c *gin.Context) {
	name := c.Param("name")
	vm, err := api.deps.Engine.Get(c.Request.Context(), name)
	if err != nil {
		if !errors.Is(err, orchestrator.ErrVMNotFound) {
			api.logger().Error("get vm", "vm", name, "error", err)
		}
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, vm)
}

func (api *apiServer) createVM(c *gin.Context) {
	var req createVMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := api.deps.Engine.Create(c.Request.Context(), orchestrator.CreateRequest{
		Name:     req.Name,
		MemoryMB: req.MemoryMB,
		VCPUs:    req.VCPUs,
		DiskGB:   req.DiskGB,
		OSType:   req.OSType,
		Network:  req.Network,
	})
	if err != nil {
		api.logger().Error("create vm", "vm", req.Name, "error", err)
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (api *apiServer) vmAction(c *gin.Context) {
	name := c.Param("name")
	action := c.Param("action")
	if err := api.deps.Engine.Lifecycle(c.Request.Context(), name, action); err != nil {
		api.logger().Error("vm action", "vm", name, "action", action, "error", err)
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vm": name, "action": action})
}

func (api *apiServer) deleteVM(c *gin.Context) {
	name := c.Param("name")
	if err := api.deps.Engine.Delete(c.Request.Context(), name); err != nil {
		api.logger().Error("delete vm", "vm", name, "error", err)
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *apiServer) vmConsole(c *gin.Context) {
	name := c.Param("name")
	info, err := api.deps.Engine.Console(c.Request.Context(), name)
	if err != nil {
		api.logger().Error("vm console", "vm", name, "error", err)
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrVMNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrHypervisorUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
