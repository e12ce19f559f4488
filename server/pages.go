package server

import (
	"bytes"
	"encoding/json"
	"html/template"
	"net/http"

	"sociallink/httpfmt"
)

const layoutTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>{{block "title" .}}Link GitHub Account{{end}}</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 50px auto; padding: 20px; }
        h1 { color: #333; }
        pre { background-color: #f4f4f4; padding: 15px; border-radius: 5px; overflow-x: auto; }
        .button { display: inline-block; padding: 10px 20px; margin: 10px 5px; background-color: #007bff; color: white; text-decoration: none; border-radius: 5px; border: none; cursor: pointer; }
        .button:hover { background-color: #0056b3; }
        .logout { background-color: #dc3545; }
        .logout:hover { background-color: #c82333; }
        .failed { color: #721c24; }
    </style>
</head>
<body>
{{template "content" .}}
</body>
</html>`

var pageTemplates = map[string]string{
	"home": `{{define "title"}}Hello Logto{{end}}{{define "content"}}
    <h1>Hello Logto</h1>
    {{if .SignedIn}}
    <div>
        <a href="/logto/sign-out" class="button logout">Sign Out</a>
        <a href="/step1" class="button">Start To Link GitHub Account</a>
    </div>
    <h2>Profile</h2>
    <pre>{{.Profile}}</pre>
    {{else}}
    <a href="/logto/sign-in" class="button">Sign In</a>
    {{end}}
{{end}}`,

	"step1": `{{define "title"}}Step 1{{end}}{{define "content"}}
    <h1>Step 1: Authorize with Logto</h1>
    <form action="/step1" method="post">
        <label for="password">Password</label>
        <input type="password" id="password" name="password" required autofocus>
        <button type="submit" class="button">Verify</button>
    </form>
{{end}}`,

	"step1-result": `{{define "title"}}Step 1{{end}}{{define "content"}}
    <h1>Step 1: Authorize with Logto</h1>
    {{if .OK}}
    <p>Success</p>
    <a href="/step2" class="button">Continue to GitHub Authorization</a>
    {{else}}
    <p class="failed">Failed</p>
    <a href="/step1" class="button">Try again</a>
    {{end}}
    <pre>{{.Body}}</pre>
{{end}}`,

	"step2": `{{define "title"}}Step 2{{end}}{{define "content"}}
    <h1>Step 2: Authorize with GitHub</h1>
    <p>Open the following link to authorize the application to access your GitHub account.</p>
    <pre>{{.Body}}</pre>
    <a href="{{.AuthorizationURI}}" class="button">Open GitHub Authorization Page</a>
{{end}}`,

	"step3": `{{define "title"}}Step 3{{end}}{{define "content"}}
    <h1>Step 3: Link GitHub Account</h1>
    <p>Success</p>
    <a href="/" class="button">Back to Home</a>
{{end}}`,

	"missing-record": `{{define "title"}}Verification Required{{end}}{{define "content"}}
    {{if eq .Step 1}}
    <p>The password verification record ID is missing. Please go back to the <a href="/step1">step 1</a>.</p>
    {{else}}
    <p>The social verification record ID is missing. Please go back to the <a href="/step2">step 2</a>.</p>
    {{end}}
{{end}}`,

	"error": `{{define "title"}}{{.Title}}{{end}}{{define "content"}}
    <h1>{{.Title}}</h1>
    <p class="failed">{{.Message}}</p>
    {{if .Body}}<pre>{{.Body}}</pre>{{end}}
    {{if .Retry}}<a href="{{.Retry}}" class="button">Try again</a>{{end}}
    <a href="/" class="button">Back to Home</a>
{{end}}`,
}

var pages = parsePages()

func parsePages() map[string]*template.Template {
	layout := template.Must(template.New("layout").Parse(layoutTemplate))
	out := make(map[string]*template.Template, len(pageTemplates))
	for name, body := range pageTemplates {
		out[name] = template.Must(template.Must(layout.Clone()).Parse(body))
	}
	return out
}

type homeView struct {
	SignedIn bool
	Profile  string
}

type step1ResultView struct {
	OK   bool
	Body string
}

type step2View struct {
	AuthorizationURI string
	Body             string
}

type missingRecordView struct {
	Step int
}

type errorView struct {
	Title   string
	Message string
	Body    string
	Retry   string
}

func (a *App) render(w http.ResponseWriter, status int, name string, data any) {
	t, ok := pages[name]
	if !ok {
		a.Logger.Error("unknown page", "page", name)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		a.Logger.Error("render page", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (a *App) renderError(w http.ResponseWriter, status int, view errorView) {
	if view.Title == "" {
		view.Title = http.StatusText(status)
	}
	a.render(w, status, "error", view)
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// prettyBody indents JSON bodies and returns anything else unchanged.
func prettyBody(body []byte) string {
	return httpfmt.FormatBody("application/json", body, httpfmt.Options{})
}
