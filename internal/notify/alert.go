package notify

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/wolfman30/leadflow-ai/internal/leads"
)

// Alert is an owner notification rendered for email delivery. Senders use
// Priority, Kind and LeadID to tag the message for the provider.
type Alert struct {
	LeadID   string
	Priority Priority
	Kind     Kind
	Subject  string
	Text     string
	HTML     string
}

// Urgent reports whether mail clients should flag the alert.
func (a Alert) Urgent() bool {
	return a.Priority == PriorityUrgent && a.Kind != KindFollowUp
}

// PriorityLabel is the tag value for the priority; unranked alerts read "none".
func (a Alert) PriorityLabel() string {
	if a.Priority == PriorityNone {
		return "none"
	}
	return string(a.Priority)
}

type alertField struct {
	Label string
	Value string
}

type alertView struct {
	Headline string
	Fields   []alertField
	Business string
}

var alertHTML = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html lang="es"><body style="font-family:sans-serif">
{{if .Headline}}<p><strong>{{.Headline}}</strong></p>{{end}}
<table cellpadding="4">
{{range .Fields}}<tr><td><strong>{{.Label}}</strong></td><td>{{.Value}}</td></tr>
{{end}}</table>
<p>{{.Business}}</p>
</body></html>`))

// RenderAlert builds the Spanish owner email for n, in plain text and HTML.
func RenderAlert(n Notification, businessName string) (Alert, error) {
	lead := n.Lead
	name := lead.DisplayName()

	alert := Alert{LeadID: lead.ID, Priority: n.Priority, Kind: n.Kind}
	if alert.Kind == "" {
		alert.Kind = KindNewLead
	}
	view := alertView{Business: businessName}
	switch {
	case alert.Kind == KindFollowUp:
		alert.Subject = fmt.Sprintf("Recordatorio: %s sigue sin contactar", name)
		view.Headline = fmt.Sprintf("Este cliente espera contacto desde %s.", lead.LastInteractionAt.Format(time.DateTime))
	case n.Priority == PriorityUrgent:
		alert.Subject = fmt.Sprintf("URGENTE: nuevo cliente caliente - %s", name)
		view.Headline = "Llama a este cliente lo antes posible."
	default:
		alert.Subject = fmt.Sprintf("Nuevo cliente interesado - %s", name)
	}

	view.Fields = []alertField{
		{"Nombre", orDash(lead.Name)},
		{"Teléfono", orDash(lead.Phone)},
		{"Servicio", orDash(lead.Service)},
		{"Comuna", orDash(lead.Commune)},
		{"Estado", string(lead.Status)},
		{"Canal", string(lead.Channel)},
	}
	if lead.Urgency != nil {
		view.Fields = append(view.Fields, alertField{"Urgencia", *lead.Urgency})
	}
	if lead.Notes != "" {
		view.Fields = append(view.Fields, alertField{"Notas", lead.Notes})
	}
	if n.Reason != "" {
		view.Fields = append(view.Fields, alertField{"Motivo", n.Reason})
	}

	var text strings.Builder
	if view.Headline != "" {
		fmt.Fprintf(&text, "%s\n\n", view.Headline)
	}
	for _, f := range view.Fields {
		fmt.Fprintf(&text, "%s: %s\n", f.Label, f.Value)
	}
	fmt.Fprintf(&text, "\n%s", businessName)
	alert.Text = text.String()

	var html strings.Builder
	if err := alertHTML.Execute(&html, view); err != nil {
		return Alert{}, fmt.Errorf("notify: render alert: %w", err)
	}
	alert.HTML = html.String()
	return alert, nil
}

// alertHeaders marks urgent alerts so mail clients surface them first.
func alertHeaders(a Alert) map[string]string {
	if !a.Urgent() {
		return nil
	}
	return map[string]string{"X-Priority": "1", "Importance": "high"}
}

func orDash(s *string) string {
	if v := leads.Value(s); v != "" {
		return v
	}
	return "-"
}
