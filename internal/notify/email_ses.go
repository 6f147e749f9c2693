package notify

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/leadflow-ai/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender delivers alerts through SES v2. Kind and priority travel as
// message tags so bounce and delivery events can be grouped per alert type.
type SESSender struct {
	client sesAPI
	from   string
	logger *logging.Logger
}

type SESConfig struct {
	FromEmail string
	FromName  string
}

func NewSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		panic("notify: ses client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SESSender{
		client: client,
		from:   fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

func (s *SESSender) Send(ctx context.Context, to string, alert Alert) error {
	output, err := s.client.SendEmail(ctx, s.buildInput(to, alert))
	if err != nil {
		s.logger.Error("SES send failed", "error", err, "to", to, "lead_id", alert.LeadID)
		return fmt.Errorf("notify: SES send failed: %w", err)
	}
	s.logger.Info("lead alert sent via SES", "to", to, "lead_id", alert.LeadID,
		"priority", alert.PriorityLabel(), "message_id", aws.ToString(output.MessageId))
	return nil
}

func (s *SESSender) buildInput(to string, alert Alert) *sesv2.SendEmailInput {
	msg := &types.Message{
		Subject: utf8Content(alert.Subject),
		Body:    &types.Body{Text: utf8Content(alert.Text)},
	}
	if alert.HTML != "" {
		msg.Body.Html = utf8Content(alert.HTML)
	}

	headers := alertHeaders(alert)
	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		msg.Headers = append(msg.Headers, types.MessageHeader{Name: aws.String(k), Value: aws.String(headers[k])})
	}

	tags := []types.MessageTag{
		{Name: aws.String("category"), Value: aws.String(alertCategory)},
		{Name: aws.String("kind"), Value: aws.String(string(alert.Kind))},
		{Name: aws.String("priority"), Value: aws.String(alert.PriorityLabel())},
	}
	if alert.LeadID != "" {
		tags = append(tags, types.MessageTag{Name: aws.String("lead_id"), Value: aws.String(alert.LeadID)})
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content:          &types.EmailContent{Simple: msg},
		EmailTags:        tags,
	}
}

func utf8Content(data string) *types.Content {
	return &types.Content{Data: aws.String(data), Charset: aws.String("UTF-8")}
}

var _ EmailSender = (*SESSender)(nil)
