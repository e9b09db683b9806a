package endpoint

import "net/http"

// StringRenderer writes Body with the given status and content type.
// ContentType defaults to "text/plain; charset=utf-8".
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

// setContentType sets Content-Type unless an earlier stage already did.
func setContentType(w http.ResponseWriter, contentType string) {
	if w.Header().Get("Content-Type") != "" {
		return
	}
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
}

func statusOr(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}

func (sr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	setContentType(w, sr.ContentType)
	w.WriteHeader(statusOr(sr.Status, http.StatusOK))
	if sr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(sr.Body))
	return err
}

// HTMLRenderer writes a pre-rendered HTML fragment.
type HTMLRenderer struct {
	Status int
	Body   string
}

func (hr *HTMLRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	sr := StringRenderer{Status: hr.Status, Body: hr.Body, ContentType: "text/html; charset=utf-8"}
	return sr.Render(w, r)
}

// RedirectRenderer redirects the client to URL.
//
// Status defaults to 302 Found. Headers, when set, are copied onto the
// response before the redirect is written.
type RedirectRenderer struct {
	URL     string
	Status  int
	Headers http.Header
}

func (rr *RedirectRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	for k, vs := range rr.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	http.Redirect(w, r, rr.URL, statusOr(rr.Status, http.StatusFound))
	return nil
}
