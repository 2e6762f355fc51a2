package core

import "time"

// Event is a state change pushed to UI subscribers.
type Event struct {
	Type  string    `json:"type"`
	Topic string    `json:"topic,omitempty"`
	Data  any       `json:"data,omitempty"`
	At    time.Time `json:"at"`
}

// Publisher delivers events to whoever renders them.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Emit publishes through p when it is set.
func Emit(p Publisher, typ, topic string, data any) {
	if p == nil {
		return
	}
	p.Publish(Event{Type: typ, Topic: topic, Data: data, At: time.Now()})
}
