package scanner

import (
	"context"
	"errors"

	"github.com/go-ble/ble"
)

// ErrUnsupportedPlatform is returned by the default factory where no BLE driver is available.
var ErrUnsupportedPlatform = errors.New("BLE scanning is not supported on this platform")

// Detection is the part of a driver advertisement the proxy reads.
// Every ble.Advertisement satisfies it.
type Detection interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []ble.ServiceData
	Services() []ble.UUID
	TxPowerLevel() int
	Connectable() bool
	RSSI() int
	Addr() ble.Addr
}

// rawDetection is implemented by drivers that expose the received AD bytes (Linux HCI).
type rawDetection interface {
	Data() []byte
	ScanResponse() []byte
}

// typedDetection is implemented by drivers that report the address type (Linux HCI).
type typedDetection interface {
	AddressType() uint8
}

// ScanningDevice is a BLE radio that can report advertisements.
type ScanningDevice interface {
	// Scan blocks, invoking handler for each advertisement, until ctx is done or the radio fails.
	Scan(ctx context.Context, allowDup bool, handler func(Detection)) error
}

// bleScanningDevice adapts ble.Device to ScanningDevice
type bleScanningDevice struct {
	dev ble.Device
}

func (s *bleScanningDevice) Scan(ctx context.Context, allowDup bool, handler func(Detection)) error {
	return s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(adv)
	})
}

// Stop releases the underlying HCI device.
func (s *bleScanningDevice) Stop() error {
	return s.dev.Stop()
}

// DeviceFactory opens the platform radio. adapter selects the HCI device index on Linux.
// This is a variable so that it can be overridden in tests.
var DeviceFactory = func(adapter int) (ScanningDevice, error) {
	dev, err := newPlatformDevice(adapter)
	if err != nil {
		return nil, err
	}
	return &bleScanningDevice{dev: dev}, nil
}
