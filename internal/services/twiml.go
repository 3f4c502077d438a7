package services

import (
	"fmt"
	"html"

	"github.com/twilio/twilio-go/twiml"
)

// Webhook paths the carrier is pointed back at
const (
	PathIncoming  = "/voice/incoming"
	PathRespond   = "/voice/respond"
	PathTransfer  = "/voice/transfer"
	PathVoicemail = "/voice/voicemail"
	PathStatus    = "/voice/status"
)

// Scripted lines
const (
	GreetingText       = "Hello! Thank you for calling. How can I help you today?"
	NoInputText        = "I didn't catch that. Let me try again."
	SteppedAwayText    = "It seems like you may have stepped away. Thank you for calling. Goodbye!"
	ApologyText        = "I'm sorry, we're having trouble handling your call right now. Please try again in a few minutes. Goodbye."
	TechnicalErrorText = "We are experiencing technical difficulties. Please try your call again in a few minutes. Goodbye."
	NoDestinationText  = "I'm sorry, we don't have a transfer number configured at the moment. Please try calling back later. Goodbye."
	NoRecordingText    = "We did not receive a recording. Goodbye."
	VoicemailThanks    = "Thank you for your message. We'll get back to you as soon as possible. Goodbye!"
	InvalidOptionText  = "Sorry, that wasn't a valid option."

	MenuDigitTimeoutSeconds = 5
	VoicemailMaxSeconds     = 120
)

// TwiMLBuilder renders carrier instruction documents
type TwiMLBuilder struct {
	Voice string
}

func (b TwiMLBuilder) say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: text, Voice: b.Voice}
}

func (b TwiMLBuilder) speechGather(prompt string) *twiml.VoiceGather {
	return &twiml.VoiceGather{
		Input:         "speech",
		Action:        PathRespond,
		Method:        "POST",
		SpeechTimeout: "auto",
		Language:      "en-US",
		InnerElements: []twiml.Element{b.say(prompt)},
	}
}

// Greeting speaks prompt and gathers the caller's first utterance.
// With no input the carrier is redirected back to the call-start webhook.
func (b TwiMLBuilder) Greeting(prompt string) (string, error) {
	return twiml.Voice([]twiml.Element{
		b.speechGather(prompt),
		b.say(NoInputText),
		&twiml.VoiceRedirect{Url: PathIncoming, Method: "POST"},
	})
}

// Reply speaks the assistant's reply and gathers the next utterance
func (b TwiMLBuilder) Reply(text string) (string, error) {
	return twiml.Voice([]twiml.Element{
		b.speechGather(text),
		b.say(SteppedAwayText),
		&twiml.VoiceHangup{},
	})
}

// MenuPrompt is the DTMF department menu
func MenuPrompt(salesName, supportName string) string {
	return fmt.Sprintf("Press 1 for %s in Sales. Press 2 for %s in Support.", salesName, supportName)
}

// Menu speaks an optional lead-in and gathers one digit. An empty result is still
// posted to the transfer webhook so a timeout resolves there.
func (b TwiMLBuilder) Menu(leadIn, prompt string) (string, error) {
	var verbs []twiml.Element
	if leadIn != "" {
		verbs = append(verbs, b.say(leadIn))
	}
	verbs = append(verbs, &twiml.VoiceGather{
		Input:         "dtmf",
		NumDigits:     "1",
		Timeout:       fmt.Sprint(MenuDigitTimeoutSeconds),
		Action:        PathTransfer,
		Method:        "POST",
		InnerElements: []twiml.Element{b.say(prompt)},
		OptionalAttributes: map[string]string{
			"actionOnEmptyResult": "true",
		},
	})
	return twiml.Voice(verbs)
}

// Dial speaks text and connects the caller to number
func (b TwiMLBuilder) Dial(text, number string) (string, error) {
	var verbs []twiml.Element
	if text != "" {
		verbs = append(verbs, b.say(text))
	}
	verbs = append(verbs, &twiml.VoiceDial{Number: number})
	return twiml.Voice(verbs)
}

// Voicemail speaks the closed message and records a message
func (b TwiMLBuilder) Voicemail(message string) (string, error) {
	return twiml.Voice([]twiml.Element{
		b.say(message),
		&twiml.VoiceRecord{
			Action:     PathVoicemail,
			Method:     "POST",
			MaxLength:  fmt.Sprint(VoicemailMaxSeconds),
			PlayBeep:   "true",
			Transcribe: "false",
		},
		b.say(NoRecordingText),
		&twiml.VoiceHangup{},
	})
}

// Hangup speaks text and ends the call
func (b TwiMLBuilder) Hangup(text string) (string, error) {
	return twiml.Voice([]twiml.Element{
		b.say(text),
		&twiml.VoiceHangup{},
	})
}

// Empty acknowledges a callback without instructions
func (b TwiMLBuilder) Empty() (string, error) {
	return twiml.Voice(nil)
}

// StaticApology is rendered without the twiml package for last-resort error paths
func StaticApology(voice string) string {
	say := `<Say>`
	if voice != "" {
		say = `<Say voice="` + html.EscapeString(voice) + `">`
	}
	return `<?xml version="1.0" encoding="UTF-8"?><Response>` + say +
		html.EscapeString(TechnicalErrorText) + `</Say><Hangup/></Response>`
}
