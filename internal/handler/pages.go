package handler

import (
	"bytes"
	"html/template"

	"github.com/labstack/echo/v4"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:32rem;margin:4rem auto;padding:0 1rem;color:#222}
h1{font-size:1.4rem}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

type page struct {
	Title   string
	Message string
}

var (
	pageNotFound = page{
		Title:   "Link not found",
		Message: "This download link is invalid or has already been used. Sign in and generate a new link.",
	}
	pageExpired = page{
		Title:   "Link expired",
		Message: "This download link has expired. Sign in and generate a new link.",
	}
	pagePaymentRequired = page{
		Title:   "Purchase required",
		Message: "This account has no completed purchase.",
	}
	pageUnavailable = page{
		Title:   "Download unavailable",
		Message: "The download could not be served right now. Please try again later.",
	}
)

func renderPage(c echo.Context, status int, p page) error {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, p); err != nil {
		return err
	}
	return c.HTMLBlob(status, buf.Bytes())
}
