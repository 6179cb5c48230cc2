package mocks

import (
	"github.com/srg/bleproxy/internal/discovery"
	"github.com/stretchr/testify/mock"
)

// MockAnnouncer implements discovery.Announcer.
type MockAnnouncer struct {
	mock.Mock
}

func (m *MockAnnouncer) Announce(r discovery.Record) (discovery.Withdrawer, error) {
	args := m.Called(r)
	var w discovery.Withdrawer
	if v := args.Get(0); v != nil {
		w = v.(discovery.Withdrawer)
	}
	return w, args.Error(1)
}

// MockWithdrawer implements discovery.Withdrawer.
type MockWithdrawer struct {
	mock.Mock
}

func (m *MockWithdrawer) Withdraw() {
	m.Called()
}
