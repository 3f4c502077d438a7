package services

import (
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// CallLookup reports the carrier-side status of a call
type CallLookup interface {
	FetchCallStatus(callSID string) (string, error)
}

// TwilioService wraps the Twilio voice REST API
type TwilioService struct {
	client *twilio.RestClient
	from   string // the number callers dial
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService(accountSID, authToken, phoneNumber string) (*TwilioService, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("missing Twilio credentials")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioService{
		client: client,
		from:   phoneNumber,
	}, nil
}

// PhoneNumber returns the configured inbound number
func (t *TwilioService) PhoneNumber() string {
	return t.from
}

// FetchCallStatus returns Twilio's view of the call (queued, ringing, in-progress, completed, ...)
func (t *TwilioService) FetchCallStatus(callSID string) (string, error) {
	resp, err := t.client.Api.FetchCall(callSID, &twilioApi.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("fetch call %s: %w", callSID, err)
	}
	if resp.Status == nil {
		return "", nil
	}
	return *resp.Status, nil
}
