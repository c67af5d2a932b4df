package provider

import (
	"encoding/xml"
	"strings"
	"unicode"
)

// MaxRecordSeconds ceiling on the spoken answer
const MaxRecordSeconds = 30

const (
	greetingText = "Hello, this is your scheduled safety check-in. " +
		"After the tone, please say your check-in word, then hang up."
	noAnswerText = "We did not hear a response. Goodbye."
	voice        = "Polly.Joanna"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type pauseVerb struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type recordVerb struct {
	XMLName            xml.Name `xml:"Record"`
	Action             string   `xml:"action,attr,omitempty"`
	Method             string   `xml:"method,attr,omitempty"`
	MaxLength          int      `xml:"maxLength,attr"`
	Timeout            int      `xml:"timeout,attr,omitempty"`
	PlayBeep           bool     `xml:"playBeep,attr"`
	Transcribe         bool     `xml:"transcribe,attr"`
	TranscribeCallback string   `xml:"transcribeCallback,attr,omitempty"`
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

func render(verbs ...any) []byte {
	out, err := xml.Marshal(twimlResponse{Verbs: verbs})
	if err != nil {
		// only fixed struct types are marshalled here
		panic(err)
	}
	return append([]byte(xml.Header), out...)
}

// GreetingResponse speak the greeting, record up to MaxRecordSeconds, transcribe,
// post the transcript to transcribeURL. actionURL receives control when recording ends.
func GreetingResponse(actionURL, transcribeURL string) []byte {
	return render(
		sayVerb{Voice: voice, Text: greetingText},
		recordVerb{
			Action:             actionURL,
			Method:             "POST",
			MaxLength:          MaxRecordSeconds,
			Timeout:            5,
			PlayBeep:           true,
			Transcribe:         true,
			TranscribeCallback: transcribeURL,
		},
		// reached only when nothing was recorded
		sayVerb{Voice: voice, Text: noAnswerText},
		hangupVerb{},
	)
}

// VoiceAlertResponse the script read to the primary contact, twice
func VoiceAlertResponse(subjectPhone, location string) []byte {
	script := VoiceAlertScript(subjectPhone, location)
	return render(
		sayVerb{Voice: voice, Text: script},
		pauseVerb{Length: 1},
		sayVerb{Voice: voice, Text: "Repeating. " + script},
		hangupVerb{},
	)
}

// VoiceAlertScript subject phone read digit by digit, then the location if known
func VoiceAlertScript(subjectPhone, location string) string {
	var b strings.Builder
	b.WriteString("This is an urgent safety alert. The person at phone number ")
	b.WriteString(SpellDigits(subjectPhone))
	b.WriteString(" may be in danger and needs help. ")
	if loc := strings.TrimSpace(location); loc != "" {
		b.WriteString("Their last reported location is: ")
		b.WriteString(loc)
		b.WriteString(". ")
	} else {
		b.WriteString("No location has been reported yet. ")
	}
	b.WriteString("Please try to reach them now.")
	return b.String()
}

// HangupResponse ends the call
func HangupResponse() []byte {
	return render(hangupVerb{})
}

// SpellDigits "+1 (555) 010-9999" -> "1 5 5 5 0 1 0 9 9 9 9"
func SpellDigits(phone string) string {
	digits := make([]string, 0, len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits = append(digits, string(r))
		}
	}
	return strings.Join(digits, " ")
}

// EmptyResponse acknowledges a callback that needs no instructions
func EmptyResponse() []byte {
	return render()
}
