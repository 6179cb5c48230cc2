//go:build !linux && !darwin

package scanner

import "github.com/go-ble/ble"

func newPlatformDevice(_ int) (ble.Device, error) {
	return nil, ErrUnsupportedPlatform
}
