package service

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/postloop/billing/internal/notification/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var templateNames = map[domain.Kind]string{
	domain.KindPaymentSucceeded:      "payment_succeeded.html",
	domain.KindPaymentFailed:         "payment_failed.html",
	domain.KindSubscriptionCreated:   "subscription_created.html",
	domain.KindSubscriptionUpdated:   "subscription_updated.html",
	domain.KindSubscriptionCancelled: "subscription_cancelled.html",
}

func render(kind domain.Kind, data any) (string, error) {
	name, ok := templateNames[kind]
	if !ok {
		return "", fmt.Errorf("unknown notification kind %q", kind)
	}
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return body.String(), nil
}
