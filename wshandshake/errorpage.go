package wshandshake

import (
	"bytes"
	"fmt"
	"net/http"
	"text/template"
)

// errorPageTemplate is a minimal templated error body: server
// identifier and status text, nothing else. No example repo in the
// retrieval pack carries a themed error-page renderer for a raw
// (non-net/http) listener, so this stays on the standard library's
// text/template and net/http.StatusText — see DESIGN.md.
var errorPageTemplate = template.Must(template.New("wserror").Parse(
	`<!DOCTYPE html>
<html><head><title>{{.Code}} {{.Text}}</title></head>
<body><h1>{{.Code}} {{.Text}}</h1><p>{{.Detail}}</p>
<hr><address>{{.Server}}</address>
</body></html>
`))

type errorPageData struct {
	Code   int
	Text   string
	Detail string
	Server string
}

// RenderErrorPage builds a complete HTTP response (status line,
// headers, body) for a rejected handshake.
func RenderErrorPage(code int, detail, serverIdentifier string) []byte {
	text := http.StatusText(code)
	if text == "" {
		text = "Error"
	}

	var body bytes.Buffer
	_ = errorPageTemplate.Execute(&body, errorPageData{
		Code:   code,
		Text:   text,
		Detail: detail,
		Server: serverIdentifier,
	})

	var resp bytes.Buffer
	fmt.Fprintf(&resp, "HTTP/1.1 %d %s\r\n", code, text)
	fmt.Fprintf(&resp, "Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&resp, "Content-Length: %d\r\n", body.Len())
	fmt.Fprintf(&resp, "Connection: close\r\n")
	if serverIdentifier != "" {
		fmt.Fprintf(&resp, "Server: %s\r\n", serverIdentifier)
	}
	resp.WriteString("\r\n")
	resp.Write(body.Bytes())
	return resp.Bytes()
}
