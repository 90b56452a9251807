// Package twiml builds the TwiML voice documents remindd returns from its
// webhook handlers.
//
// Only the verbs the call flow needs are modeled: Say, a speech Gather,
// Redirect and Hangup.
package twiml

import (
	"encoding/xml"
	"fmt"
)

// Header is the XML declaration prepended to every rendered document.
const Header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// Response is the root TwiML element.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

// Say speaks a message to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Gather collects a spoken response and posts the transcript to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Say           *Say
}

// Redirect transfers control to another webhook URL when the gather window
// closes without the Action firing.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr"`
	URL     string   `xml:",chardata"`
}

// Hangup ends the call leg.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// GatherPrompt renders a prompt document: speak msg, gather speech to
// actionURL, and fall through to redirectURL (which carries the incremented
// retry count) if no speech is detected.
func GatherPrompt(msg, actionURL, redirectURL string) (string, error) {
	resp := Response{
		Verbs: []any{
			Gather{
				Input:         "speech",
				Action:        actionURL,
				Method:        "POST",
				SpeechTimeout: "auto",
				Say:           &Say{Text: msg},
			},
			Redirect{Method: "POST", URL: redirectURL},
		},
	}
	return render(resp)
}

// SayHangup renders a terminal document: speak msg, then hang up.
func SayHangup(msg string) (string, error) {
	resp := Response{
		Verbs: []any{
			Say{Text: msg},
			Hangup{},
		},
	}
	return render(resp)
}

// RedirectTo renders a bare redirect document.
func RedirectTo(url string) (string, error) {
	resp := Response{
		Verbs: []any{
			Redirect{Method: "POST", URL: url},
		},
	}
	return render(resp)
}

func render(resp Response) (string, error) {
	body, err := xml.MarshalIndent(resp, "", "    ")
	if err != nil {
		return "", fmt.Errorf("marshaling twiml: %w", err)
	}
	return Header + string(body), nil
}
