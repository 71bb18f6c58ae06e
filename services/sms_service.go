package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"safewalk/models"
	"safewalk/utils"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Twilio accepts up to 1600 characters and splits into segments itself.
const maxSMSLength = 1600

// twilioAPI abstracts the Twilio REST methods we use, enabling test mocks.
type twilioAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

func NewTwilioClient(accountSID, authToken string) *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
}

// phoneTargets returns the normalized, de-duplicated phone numbers of the
// contacts, highest priority first as the contacts are already ordered.
func phoneTargets(contacts []models.Contact) []string {
	var targets []string
	for _, c := range contacts {
		if phone, err := utils.NormalizePhone(c.Phone); err == nil {
			targets = append(targets, phone)
		}
	}
	return utils.UniqueStrings(targets)
}

// =================== SMS ===================

type TwilioSMSChannel struct {
	api  twilioAPI
	from string
}

func NewTwilioSMSChannel(client *twilio.RestClient, from string) *TwilioSMSChannel {
	return &TwilioSMSChannel{api: client.Api, from: from}
}

func (c *TwilioSMSChannel) Type() string { return models.ChannelTypeSMS }

func (c *TwilioSMSChannel) Targets(contacts []models.Contact) []string {
	return phoneTargets(contacts)
}

func (c *TwilioSMSChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	if c.from == "" {
		return errors.New("sms sender number not configured")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(target)
	params.SetFrom(c.from)
	params.SetBody(utils.TruncateString(msg.Body, maxSMSLength))

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio message: %w", err)
	}
	if resp != nil && resp.ErrorCode != nil {
		reason := "unknown error"
		if resp.ErrorMessage != nil {
			reason = *resp.ErrorMessage
		}
		return fmt.Errorf("twilio message error %d: %s", *resp.ErrorCode, reason)
	}
	return nil
}

// =================== VOICE ===================

// TwilioCallChannel places an automated voice call that reads the alert aloud.
type TwilioCallChannel struct {
	api  twilioAPI
	from string
}

func NewTwilioCallChannel(client *twilio.RestClient, from string) *TwilioCallChannel {
	return &TwilioCallChannel{api: client.Api, from: from}
}

func (c *TwilioCallChannel) Type() string { return models.ChannelTypeCall }

func (c *TwilioCallChannel) Targets(contacts []models.Contact) []string {
	return phoneTargets(contacts)
}

func (c *TwilioCallChannel) Send(ctx context.Context, msg models.AlertMessage, target string) error {
	if c.from == "" {
		return errors.New("voice caller number not configured")
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(target)
	params.SetFrom(c.from)
	params.SetTwiml(voiceTwiml(msg.Body))

	if _, err := c.api.CreateCall(params); err != nil {
		return fmt.Errorf("twilio call: %w", err)
	}
	return nil
}

// voiceTwiml reads the message twice. Map links are dropped since they are
// useless when spoken.
func voiceTwiml(body string) string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if i := strings.Index(line, " https://"); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	text := html.EscapeString(strings.Join(lines, ". "))
	return fmt.Sprintf(`<Response><Say loop="2">%s</Say></Response>`, text)
}
