// Package web serves the embedded monitor dashboard: a single static page
// that polls the /api/monitor endpoints, so there's something to look at
// without standing up a separate frontend project.
package web

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Assets holds the parsed dashboard template.
type Assets struct {
	templates *template.Template
}

// NewAssets parses the embedded templates.
func NewAssets() (*Assets, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Assets{templates: tmpl}, nil
}

// DashboardData is the data passed to the dashboard template.
type DashboardData struct {
	Mode string
}

// Register wires the dashboard route onto the given router group/engine.
func (a *Assets) Register(router gin.IRouter, data func() DashboardData) {
	router.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
		c.Header("Content-Type", "text/html; charset=utf-8")
		if err := a.templates.ExecuteTemplate(c.Writer, "dashboard.html", data()); err != nil {
			c.String(http.StatusInternalServerError, "template error: %v", err)
		}
	})
}
