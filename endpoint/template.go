package endpoint

import (
	"bytes"
	"errors"
	"html/template"
	"io"
	"net/http"
)

// TemplateRenderer executes an html/template into a buffer, then writes it.
// A failing template therefore still produces a clean 500 instead of a
// truncated page.
//
// Name selects a named template with ExecuteTemplate; otherwise the root
// template is executed. Values is the template data.
type TemplateRenderer struct {
	Status   int
	Template *template.Template
	Name     string
	Values   any
}

func (tr *TemplateRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	if tr.Template == nil {
		return errors.New("endpoint: nil template")
	}

	var buf bytes.Buffer
	var err error
	if tr.Name != "" {
		err = tr.Template.ExecuteTemplate(&buf, tr.Name, tr.Values)
	} else {
		err = tr.Template.Execute(&buf, tr.Values)
	}
	if err != nil {
		return err
	}

	setContentType(w, "text/html; charset=utf-8")
	w.WriteHeader(statusOr(tr.Status, http.StatusOK))
	_, err = io.Copy(w, &buf)
	return err
}
