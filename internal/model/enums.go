package model

type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

// Event names carried on the event bus.
const (
	EventMessageSent = "messageSent"
	EventUserTyping  = "userTyping"
)
