package list

import "time"

type EventType string

const (
	EventPost   EventType = "post"
	EventAdd    EventType = "add"
	EventRemove EventType = "remove"
	EventBounce EventType = "bounce"
	EventClose  EventType = "close"
	EventAlert  EventType = "alert"
)

// Event describes a change to a list. Events are informational; nothing in
// list processing waits on them.
type Event struct {
	Type    EventType `json:"type"`
	List    string    `json:"list"`
	Address string    `json:"address,omitempty"`
	Count   int       `json:"count,omitempty"`
	Time    time.Time `json:"time"`
}

type EventSink interface {
	Publish(ev Event)
}
