//go:build darwin

package scanner

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

func newPlatformDevice(_ int) (ble.Device, error) {
	return darwin.NewDevice()
}
