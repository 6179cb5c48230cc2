// Package mocks holds testify mocks shared by package tests.
package mocks

import (
	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAddr implements ble.Addr.
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	return m.Called().String(0)
}

// MockAdvertisement implements ble.Advertisement plus the raw data accessors of the Linux HCI driver.
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	return bytesArg(m.Called(), 0)
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.([]ble.ServiceData)
	}
	return nil
}

func (m *MockAdvertisement) Services() []ble.UUID {
	return uuidsArg(m.Called(), 0)
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	return uuidsArg(m.Called(), 0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	return uuidsArg(m.Called(), 0)
}

func (m *MockAdvertisement) TxPowerLevel() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	if v := args.Get(0); v != nil {
		return v.(ble.Addr)
	}
	return nil
}

func (m *MockAdvertisement) Data() []byte {
	return bytesArg(m.Called(), 0)
}

func (m *MockAdvertisement) ScanResponse() []byte {
	return bytesArg(m.Called(), 0)
}

func (m *MockAdvertisement) AddressType() uint8 {
	return m.Called().Get(0).(uint8)
}

func bytesArg(args mock.Arguments, i int) []byte {
	if v := args.Get(i); v != nil {
		return v.([]byte)
	}
	return nil
}

func uuidsArg(args mock.Arguments, i int) []ble.UUID {
	if v := args.Get(i); v != nil {
		return v.([]ble.UUID)
	}
	return nil
}
