package message

import (
	"fmt"
	"time"
)

// Source is the platform a message came from.
type Source string

const (
	SourceGmail    Source = "gmail"
	SourceOutlook  Source = "outlook"
	SourceIMessage Source = "imessage"
	SourceSMS      Source = "sms"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceGmail, SourceOutlook, SourceIMessage, SourceSMS:
		return true
	}
	return false
}

// Channel returns the reporting group the source belongs to.
func (s Source) Channel() Channel {
	switch s {
	case SourceGmail:
		return ChannelGmail
	case SourceOutlook:
		return ChannelOutlook
	case SourceIMessage, SourceSMS:
		return ChannelMessages
	default:
		return ""
	}
}

// Direction says whether the user received or sent a message.
type Direction string

const (
	Received Direction = "received"
	Sent     Direction = "sent"
)

// Channel is a reporting group. iMessage and SMS share the messages channel.
type Channel string

const (
	ChannelGmail    Channel = "gmail"
	ChannelOutlook  Channel = "outlook"
	ChannelMessages Channel = "messages"
)

// Channels lists every channel in report order.
var Channels = []Channel{ChannelGmail, ChannelOutlook, ChannelMessages}

// Title is the display name used in reports.
func (c Channel) Title() string {
	switch c {
	case ChannelGmail:
		return "Gmail"
	case ChannelOutlook:
		return "Outlook"
	case ChannelMessages:
		return "Messages"
	default:
		return string(c)
	}
}

// Message is one inbound or outbound communication, normalised by an adapter.
// Counterparty is only used to derive thread keys and never leaves the run.
type Message struct {
	ID           string
	Source       Source
	Direction    Direction
	Timestamp    time.Time
	ThreadKey    string
	Counterparty string
}

// ResponseSample is one outbound message paired with the inbound message it answers.
type ResponseSample struct {
	Source          Source
	ThreadKey       string
	ResponseSeconds int64
	MatchedAt       time.Time
}

// MalformedMessageError describes a record that could not be used.
type MalformedMessageError struct {
	ID     string
	Source Source
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("malformed %s message %q: %s", e.Source, e.ID, e.Reason)
}

// Validate returns a MalformedMessageError if m lacks a field the matcher needs.
// A missing thread key is not malformed; the matcher excludes those separately.
func (m Message) Validate() error {
	switch {
	case !m.Source.Valid():
		return &MalformedMessageError{ID: m.ID, Source: m.Source, Reason: "unknown source"}
	case m.Direction != Received && m.Direction != Sent:
		return &MalformedMessageError{ID: m.ID, Source: m.Source, Reason: "unknown direction"}
	case m.Timestamp.IsZero():
		return &MalformedMessageError{ID: m.ID, Source: m.Source, Reason: "missing timestamp"}
	}
	return nil
}
