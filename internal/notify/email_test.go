package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

func urgentAlert(t *testing.T) Alert {
	t.Helper()
	alert, err := RenderAlert(Notification{Lead: hotLead(), Priority: PriorityUrgent, Reason: "pidió llamada"}, "Climas Sur")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	return alert
}

func TestRenderAlert_EscapesHTML(t *testing.T) {
	lead := hotLead()
	lead.Notes = "<b>llamar</b> & confirmar"
	alert, err := RenderAlert(Notification{Lead: lead, Priority: PriorityNormal}, "Climas Sur")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(alert.HTML, "<b>llamar</b>") {
		t.Errorf("notes must be escaped in HTML, got %q", alert.HTML)
	}
	if !strings.Contains(alert.HTML, "&lt;b&gt;llamar&lt;/b&gt;") {
		t.Errorf("expected escaped notes in HTML, got %q", alert.HTML)
	}
	if !strings.Contains(alert.Text, "Notas: <b>llamar</b> & confirmar") {
		t.Errorf("text body keeps notes verbatim, got %q", alert.Text)
	}
	if alert.Kind != KindNewLead {
		t.Errorf("expected default kind %q, got %q", KindNewLead, alert.Kind)
	}
}

func TestAlert_FollowUpIsNotFlaggedUrgent(t *testing.T) {
	alert, err := RenderAlert(Notification{Lead: hotLead(), Priority: PriorityUrgent, Kind: KindFollowUp}, "Climas Sur")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if alert.Urgent() {
		t.Error("follow-up reminders must not carry urgent headers")
	}
	if alertHeaders(alert) != nil {
		t.Errorf("expected no headers, got %v", alertHeaders(alert))
	}
	if got := (Alert{}).PriorityLabel(); got != "none" {
		t.Errorf("expected none label, got %q", got)
	}
}

func TestNewSendGridSender_RequiresAPIKey(t *testing.T) {
	if _, err := NewSendGridSender(SendGridConfig{FromEmail: "alerts@example.com"}, nil); err == nil {
		t.Error("expected error when API key is empty")
	}
	sender, err := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "alerts@example.com"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.fromName != "LeadFlow" {
		t.Errorf("expected default from name 'LeadFlow', got %q", sender.fromName)
	}
}

func TestSendGridSender_BuildsTaggedMessage(t *testing.T) {
	var got *mail.SGMailV3
	sender := newSendGridSender(func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
		got = m
		return 202, "", nil
	}, SendGridConfig{FromEmail: "alerts@example.com", FromName: "Climas Sur"}, nil)

	if err := sender.Send(context.Background(), "owner@example.com", urgentAlert(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a message to be sent")
	}
	if got.From.Address != "alerts@example.com" || got.From.Name != "Climas Sur" {
		t.Errorf("unexpected from %+v", got.From)
	}
	if len(got.Personalizations) != 1 || got.Personalizations[0].To[0].Address != "owner@example.com" {
		t.Errorf("unexpected personalizations %+v", got.Personalizations)
	}
	if !strings.HasPrefix(got.Subject, "URGENTE") {
		t.Errorf("unexpected subject %q", got.Subject)
	}
	if len(got.Content) != 2 || got.Content[0].Type != "text/plain" || got.Content[1].Type != "text/html" {
		t.Errorf("expected text and html parts, got %+v", got.Content)
	}
	if strings.Join(got.Categories, ",") != "lead-alert,new_lead,urgent" {
		t.Errorf("unexpected categories %v", got.Categories)
	}
	if got.CustomArgs["lead_id"] != "lead-1" {
		t.Errorf("expected lead_id custom arg, got %v", got.CustomArgs)
	}
	if got.Headers["X-Priority"] != "1" {
		t.Errorf("expected urgent header, got %v", got.Headers)
	}
}

func TestSendGridSender_ErrorStatus(t *testing.T) {
	sender := newSendGridSender(func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
		return 401, `{"errors":[{"message":"bad key"}]}`, nil
	}, SendGridConfig{FromEmail: "alerts@example.com"}, nil)
	err := sender.Send(context.Background(), "owner@example.com", urgentAlert(t))
	if err == nil || !strings.Contains(err.Error(), "status 401") {
		t.Fatalf("expected status error, got %v", err)
	}

	boom := errors.New("dial tcp: timeout")
	sender = newSendGridSender(func(ctx context.Context, m *mail.SGMailV3) (int, string, error) {
		return 0, "", boom
	}, SendGridConfig{FromEmail: "alerts@example.com"}, nil)
	if err := sender.Send(context.Background(), "owner@example.com", urgentAlert(t)); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestStubEmailSender_Send(t *testing.T) {
	if err := NewStubEmailSender(nil).Send(context.Background(), "owner@example.com", urgentAlert(t)); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	api := &fakeSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "alerts@example.com"}, nil)

	if err := sender.Send(context.Background(), "owner@example.com", urgentAlert(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.inputs) != 1 {
		t.Fatalf("expected 1 SES call, got %d", len(api.inputs))
	}
	in := api.inputs[0]
	if got := aws.ToString(in.FromEmailAddress); got != "LeadFlow <alerts@example.com>" {
		t.Errorf("unexpected from address %q", got)
	}
	if got := in.Destination.ToAddresses; len(got) != 1 || got[0] != "owner@example.com" {
		t.Errorf("unexpected destination %v", got)
	}
	body := in.Content.Simple.Body
	if body.Html == nil || !strings.Contains(aws.ToString(body.Html.Data), "Juan Pérez") {
		t.Error("expected HTML body with the lead name")
	}
	if !strings.Contains(aws.ToString(body.Text.Data), "Teléfono: +56912345678") {
		t.Errorf("unexpected text body %q", aws.ToString(body.Text.Data))
	}

	tags := map[string]string{}
	for _, tag := range in.EmailTags {
		tags[aws.ToString(tag.Name)] = aws.ToString(tag.Value)
	}
	if tags["priority"] != "urgent" || tags["kind"] != "new_lead" || tags["lead_id"] != "lead-1" {
		t.Errorf("unexpected tags %v", tags)
	}

	headers := in.Content.Simple.Headers
	if len(headers) != 2 || aws.ToString(headers[0].Name) != "Importance" || aws.ToString(headers[1].Name) != "X-Priority" {
		t.Errorf("unexpected headers %+v", headers)
	}
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&fakeSES{err: errors.New("throttled")}, SESConfig{FromEmail: "a@example.com"}, nil)
	if err := sender.Send(context.Background(), "b@example.com", urgentAlert(t)); err == nil {
		t.Fatal("expected error")
	}
}
