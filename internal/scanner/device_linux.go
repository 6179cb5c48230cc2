//go:build linux

package scanner

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newPlatformDevice(adapter int) (ble.Device, error) {
	return linux.NewDevice(ble.OptDeviceID(adapter))
}
