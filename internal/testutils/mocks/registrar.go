package mocks

import (
	"github.com/srg/bleproxy/internal/hub"
	"github.com/srg/bleproxy/internal/message"
	"github.com/stretchr/testify/mock"
)

// MockRegistrar records session registration.
type MockRegistrar struct {
	mock.Mock
}

func (m *MockRegistrar) Register(s hub.Subscriber) {
	m.Called(s)
}

func (m *MockRegistrar) Unregister(s hub.Subscriber) {
	m.Called(s)
}

// MockPublisher records published advertisements.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ev message.Advertisement) {
	m.Called(ev)
}
