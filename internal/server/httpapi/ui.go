package httpapi

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed web
var webFS embed.FS

var vncTemplate = template.Must(template.ParseFS(webFS, "web/vnc.html"))

// indexHTML is served directly; going through http.FileServer would 301 the
// canonical index name back to "./".
var indexHTML = func() []byte {
	b, err := webFS.ReadFile("web/index.html")
	if err != nil {
		panic(err)
	}
	return b
}()

func registerUI(r *gin.Engine) {
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
	})
}

// vncPage renders the console page for one VM. The page resolves the VNC
// coordinates itself through the console endpoint so a stale port never gets
// baked into the HTML.
func (api *apiServer) vncPage(c *gin.Context) {
	name := c.Param("name")
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := vncTemplate.Execute(c.Writer, gin.H{"Name": name}); err != nil {
		api.logger().Error("render vnc page", "vm", name, "error", err)
	}
}
