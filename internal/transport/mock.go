package transport

import (
	"rasim/internal/mutex"
	"time"
)

// MockChannel is a channel that delivers nothing. Sent messages can be intercepted by the test.
type MockChannel struct {
	SentMessages chan Envelope
}

// NewMockChannel creates a new [MockChannel] buffering up to capacity sent messages.
func NewMockChannel(capacity int) *MockChannel {
	return &MockChannel{
		SentMessages: make(chan Envelope, capacity),
	}
}

func (m *MockChannel) Send(from, to mutex.Pid, msg mutex.Message) {
	m.SentMessages <- newEnvelope(from, to, msg, time.Now(), 0)
}

// InterceptSentMessage returns the next sent message, waiting for it if needed.
func (m *MockChannel) InterceptSentMessage() Envelope {
	return <-m.SentMessages
}

// Close closes the channel of sent messages.
func (m *MockChannel) Close() {
	close(m.SentMessages)
}
