package chat

import (
	"fmt"
	"strings"
)

const (
	// AssistantPrefix turns a chat message into an assistant prompt.
	AssistantPrefix = "/ai "
	DefaultMode     = "balanced"
)

// AssistantReply synthesizes the assistant's answer to prompt. The reply
// depends only on its inputs: help requests win over summaries, which win
// over planning requests.
func AssistantReply(prompt, mode string) string {
	normalized := strings.ToLower(prompt)
	if mode == "" {
		mode = DefaultMode
	}

	switch {
	case strings.Contains(normalized, "help"):
		return fmt.Sprintf("I can help with summarizing ideas, drafting replies, and creating decisions. Try /poll, send a file, or ask me to summarize the room conversation. (mode: %s)", mode)
	case strings.Contains(normalized, "summary"), strings.Contains(normalized, "summarize"):
		return "Quick summary: people are collaborating in real time, attachments are enabled, and polls can be created from the composer tools. Want a tighter action list?"
	case strings.Contains(normalized, "roadmap"), strings.Contains(normalized, "plan"):
		return "Suggested plan:\n1) Define goals\n2) Create a poll for team alignment\n3) Share files\n4) Assign owners\n5) Track updates in-thread."
	default:
		return "Great point. If you'd like, I can turn that into a concise action list, a polished response, or a decision poll for the room."
	}
}
