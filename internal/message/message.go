// Package message defines the notifications carried from the probes inside the
// target process to the monitor.
package message

import "time"

// Kind identifies which intercepted call produced a notification.
type Kind uint32

const (
	KindHeader Kind = 1
	KindData   Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "header"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Notification is one intercepted call, decoded to text.
type Notification struct {
	Kind      Kind
	Payload   string
	Timestamp time.Time
}

// Header builds a header notification.
func Header(payload string) Notification {
	return Notification{Kind: KindHeader, Payload: payload}
}

// Data builds a data notification.
func Data(payload string) Notification {
	return Notification{Kind: KindData, Payload: payload}
}
