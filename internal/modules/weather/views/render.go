// Package views renders the embedded live dashboard page.
package views

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"io/fs"
)

//go:embed templates/*.html
var viewsFS embed.FS

var dashboardTmpl *template.Template

// loadTemplatesFromFS loads templates from dir in fsys. Tests use it to
// simulate failures.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	dashboardTmpl, err = template.ParseFS(sub, "*.html")
	if err != nil {
		return err
	}
	return nil
}

// LoadTemplates loads the embedded templates. Call during startup before
// serving requests.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// LocationOption is one entry of the location selector.
type LocationOption struct {
	Name string
}

type DashboardData struct {
	Title         string
	Locations     []LocationOption
	WebSocketPath string
	// MaxRows caps the live table.
	MaxRows int
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}
