package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalEventFoldsAliases(t *testing.T) {
	cases := map[string]string{
		"message":         EventMessageNew,
		"msg.created":     EventMessageNew,
		"new_message":     EventMessageNew,
		"MESSAGE":         EventMessageNew,
		"message_new":     EventMessageNew,
		"message_deleted": EventMessageRetract,
		"msg.retracted":   EventMessageRetract,
		"delete_message":  EventMessageRetract,
		"typing":          EventTypingStart,
		"user_typing":     EventTypingStart,
		"typing_stopped":  EventTypingStop,
		"reaction_added":  EventReaction,
		"ping":            EventPing,
	}
	for input, want := range cases {
		assert.Equal(t, want, CanonicalEvent(input), "input %q", input)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	valid := Envelope{V: Version, Event: EventPing}
	assert.NoError(t, valid.Validate())

	assert.Error(t, Envelope{Event: EventPing}.Validate())
	assert.Error(t, Envelope{V: "v99", Event: EventPing}.Validate())
	assert.Error(t, Envelope{V: Version}.Validate())
}
