package chat

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrSendInProgress = errors.New("send already in progress")
	ErrPersist        = errors.New("persisting message")
)

// FeedLimit is the number of most recent messages a live subscription carries.
const FeedLimit = 50

// ---------------------------------------------
// Sections
// ---------------------------------------------

// Section partitions the message log. Sections never merge.
type Section string

const (
	SectionStudy         Section = "study"
	SectionEntertainment Section = "entertainment"
	SectionFun           Section = "fun"
	SectionLove          Section = "love"

	DefaultSection = SectionStudy
)

type SectionInfo struct {
	ID   Section `json:"id"`
	Name string  `json:"name"`
}

var sections = []SectionInfo{
	{ID: SectionStudy, Name: "Study"},
	{ID: SectionEntertainment, Name: "Entertainment"},
	{ID: SectionFun, Name: "Fun"},
	{ID: SectionLove, Name: "Lost"},
}

// Sections returns the fixed list of sections in display order.
func Sections() []SectionInfo {
	out := make([]SectionInfo, len(sections))
	copy(out, sections)
	return out
}

func ParseSection(s string) (Section, error) {
	for _, info := range sections {
		if string(info.ID) == s {
			return info.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSection, s)
}

// CollectionPath is the document-store path of a section's message log.
func (s Section) CollectionPath() string {
	return "sections/" + string(s) + "/messages"
}

// ---------------------------------------------
// Persisted messages
// ---------------------------------------------

type Sender string

const (
	SenderAnonymous Sender = "anonymous"
	SenderAI        Sender = "ai"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeCode     MessageType = "code"
	TypeDocument MessageType = "document"
)

// Attachment is an uploaded object referenced by a message.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	URL      string `json:"url"`
}

// Message is append-only once written. Timestamp is nil until the store has
// assigned the commit time.
type Message struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Sender      Sender       `json:"sender"`
	Type        MessageType  `json:"type"`
	Language    string       `json:"language,omitempty"`
	Timestamp   *time.Time   `json:"timestamp"`
	Attachments []Attachment `json:"attachments"`
}

// ViewMessage is a Message as the presentation layer renders it.
type ViewMessage struct {
	Message
	TimeLabel string `json:"time_label"`
}

const PendingTimeLabel = "sending..."

func newViewMessage(m Message) ViewMessage {
	label := PendingTimeLabel
	if m.Timestamp != nil {
		label = m.Timestamp.Local().Format("15:04")
	}
	if m.Attachments == nil {
		m.Attachments = []Attachment{}
	}
	return ViewMessage{Message: m, TimeLabel: label}
}
