package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"

	"github.com/sdingwan/kickOauthFlow/endpoint"
)

//go:embed templates static
var assets embed.FS

var templates = parsePages("index", "me", "search", "live", "error")

func parsePages(names ...string) map[string]*template.Template {
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		pages[name] = template.Must(template.ParseFS(assets, "templates/layout.html", "templates/"+name+".html"))
	}
	return pages
}

// page is the data every page template receives; Data is page specific.
type page struct {
	Title    string
	LoggedIn bool
	Slug     string
	Data     any
}

func renderPage(status int, name string, p page) endpoint.Renderer {
	return &endpoint.TemplateRenderer{
		Status:   status,
		Template: templates[name],
		Name:     "layout",
		Values:   p,
	}
}

type errorView struct {
	Heading string
	Message string
	Detail  string
}

func errorPage(status int, loggedIn bool, view errorView) endpoint.Renderer {
	return renderPage(status, "error", page{Title: view.Heading, LoggedIn: loggedIn, Data: view})
}

// prettyJSON indents raw for display, or returns it unchanged if it does not
// parse.
func prettyJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
