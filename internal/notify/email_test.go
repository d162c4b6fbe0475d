package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSendGrid struct {
	status int
	err    error
	sent   []*mail.SGMailV3
}

func (f *fakeSendGrid) SendWithContext(_ context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestNewSendGridSender(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "noreply@hospital.test"}, nil))

	sender := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "noreply@hospital.test"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, defaultFromName, sender.fromName)
}

func TestSendGridSenderSend(t *testing.T) {
	client := &fakeSendGrid{status: 202}
	sender := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "noreply@hospital.test"}, nil)
	sender.client = client

	err := sender.Send(context.Background(), EmailMessage{To: "pat@hospital.test", Subject: "Hi", Body: "text"})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "Hi", client.sent[0].Subject)

	client.status = 401
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "pat@hospital.test"}))

	client.err = errors.New("timeout")
	assert.ErrorContains(t, sender.Send(context.Background(), EmailMessage{To: "pat@hospital.test"}), "timeout")

	var unconfigured SendGridSender
	assert.Error(t, unconfigured.Send(context.Background(), EmailMessage{}))
}

func TestSESSenderSend(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))

	api := &fakeSES{}
	sender := NewSESSender(api, SESConfig{FromEmail: "noreply@hospital.test"}, nil)
	err := sender.Send(context.Background(), EmailMessage{
		To: "pat@hospital.test", Subject: "Report", Body: "see attached", HTML: "<p>report</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hospital Scheduling <noreply@hospital.test>", aws.ToString(api.input.FromEmailAddress))
	assert.Equal(t, []string{"pat@hospital.test"}, api.input.Destination.ToAddresses)
	assert.Equal(t, "<p>report</p>", aws.ToString(api.input.Content.Simple.Body.Html.Data))
	assert.Equal(t, "see attached", aws.ToString(api.input.Content.Simple.Body.Text.Data))

	api.err = errors.New("throttled")
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "pat@hospital.test"}))
}

func TestNewEmailSenderFallsBackToStub(t *testing.T) {
	assert.IsType(t, &StubEmailSender{}, NewEmailSender(ProviderConfig{Provider: "sendgrid"}, nil))
	assert.IsType(t, &StubEmailSender{}, NewEmailSender(ProviderConfig{Provider: "ses"}, nil))
	assert.IsType(t, &StubEmailSender{}, NewEmailSender(ProviderConfig{Provider: "stub"}, nil))
	assert.IsType(t, &SESSender{}, NewEmailSender(ProviderConfig{Provider: "ses", SESClient: &fakeSES{}}, nil))
	assert.IsType(t, &SendGridSender{}, NewEmailSender(ProviderConfig{Provider: "sendgrid", SendGrid: SendGridConfig{APIKey: "k"}}, nil))

	assert.NoError(t, NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "x@hospital.test"}))
}

func TestSendersTagCategoryAndReference(t *testing.T) {
	msg := EmailMessage{
		To:       "pat@hospital.test",
		Subject:  "Appointment confirmed",
		Body:     "booked",
		Category: CategoryAppointment,
		RefID:    "5b0c2e9a-3f41-4d8e-9a1b-2c3d4e5f6a7b",
	}

	client := &fakeSendGrid{status: 202}
	sg := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "noreply@hospital.test"}, nil)
	sg.client = client
	require.NoError(t, sg.Send(context.Background(), msg))
	assert.Equal(t, []string{"appointment"}, client.sent[0].Categories)
	assert.Equal(t, msg.RefID, client.sent[0].Personalizations[0].CustomArgs["ref_id"])

	api := &fakeSES{}
	ses := NewSESSender(api, SESConfig{FromEmail: "noreply@hospital.test"}, nil)
	require.NoError(t, ses.Send(context.Background(), msg))
	require.Len(t, api.input.EmailTags, 2)
	assert.Equal(t, "appointment", aws.ToString(api.input.EmailTags[0].Value))
	assert.Equal(t, msg.RefID, aws.ToString(api.input.EmailTags[1].Value))
}

func TestSESTagValueStripsDisallowedCharacters(t *testing.T) {
	assert.Equal(t, "reports2025-02html", sesTagValue("reports/2025-02.html"))
	assert.Equal(t, "", sesTagValue("   "))
	assert.Empty(t, sesTags(EmailMessage{}))
}
