package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

const confirmationSubject = "Please confirm your newsletter subscription"
const goodbyeSubject = "You have been unsubscribed"

const (
	confirmationTemplate = "confirmation.html"
	goodbyeTemplate      = "goodbye.html"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

type confirmationData struct {
	ConfirmURL string
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
