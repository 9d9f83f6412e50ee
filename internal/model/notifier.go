package model

// Notifier delivers a human-readable message to an operator channel.
type Notifier interface {
	Send(subject, body string) error
}
