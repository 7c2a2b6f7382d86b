package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/evacmap/evacmap/internal/controller"
	"github.com/evacmap/evacmap/internal/evacuation"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// PageData is the input of the interactive map page.
type PageData struct {
	Title          string
	APIBase        string
	Parameters     evacuation.ParameterSet
	Defaults       controller.Form
	PresetsEnabled bool
}

// pageView is what the template sees.
type pageView struct {
	PageData
	Config Config
}

// Renderer renders display states with one fixed configuration.
type Renderer struct {
	cfg  Config
	page *template.Template
}

// New creates a renderer after validating cfg.
func New(cfg Config) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid render config: %w", err)
	}

	page, err := template.ParseFS(templateFS, "templates/map.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing page template: %w", err)
	}

	return &Renderer{cfg: cfg, page: page}, nil
}

// Config returns the renderer configuration.
func (r *Renderer) Config() Config {
	return r.cfg
}

// Page writes the interactive Leaflet page.
func (r *Renderer) Page(w io.Writer, data PageData) error {
	if data.Title == "" {
		data.Title = "Flood evacuation map"
	}
	if len(data.Parameters) == 0 {
		data.Parameters = evacuation.DefaultParameters()
	}
	return r.page.Execute(w, pageView{PageData: data, Config: r.cfg})
}
