package main

import (
	"fmt"
	"io"
	"strings"

	"labchat/internal/chat"
)

// Icons are a presentation concern and are looked up only here.
var typeIcons = map[chat.MessageType]string{
	chat.TypeCode:     "</>",
	chat.TypeDocument: "[doc]",
}

func typeLabel(t chat.MessageType, language string) string {
	icon := typeIcons[t]
	switch {
	case icon == "":
		return string(t)
	case language != "":
		return icon + " " + language
	default:
		return icon
	}
}

func sectionName(id chat.Section) string {
	for _, s := range chat.Sections() {
		if s.ID == id {
			return s.Name
		}
	}
	return string(id)
}

func renderSnapshot(w io.Writer, section chat.Section, msgs []chat.ViewMessage) {
	fmt.Fprintf(w, "\n── %s (%d) ──\n", sectionName(section), len(msgs))
	for _, m := range msgs {
		who := "anon"
		if m.Sender == chat.SenderAI {
			who = "ai"
		}
		label := ""
		if m.Type != chat.TypeText {
			label = " " + typeLabel(m.Type, m.Language)
		}
		fmt.Fprintf(w, "[%s] %s%s  (%s)\n", m.TimeLabel, who, label, m.ID)
		if m.Text != "" {
			for _, line := range strings.Split(m.Text, "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
		for _, a := range m.Attachments {
			fmt.Fprintf(w, "    📎 %s (%s) %s\n", a.Name, a.MimeType, a.URL)
		}
	}
}
