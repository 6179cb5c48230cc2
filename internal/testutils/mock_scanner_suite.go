package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleproxy/internal/scanner"
	"github.com/srg/bleproxy/internal/testutils/mocks"
	"github.com/stretchr/testify/suite"
)

// MockScannerSuite is a testify suite with the BLE radio replaced by a ScriptedRadio.
//
// Configure advertisements before calling the parent SetupTest:
//
//	type SourceSuite struct {
//	    testutils.MockScannerSuite
//	}
//
//	func (s *SourceSuite) SetupTest() {
//	    s.WithAdvertisements().
//	        WithAdvertisement(testutils.CreateMockAdvertisement("Sensor1", "AA:BB:CC:DD:EE:FF", -70)).
//	        Build()
//
//	    s.MockScannerSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockScannerSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Radio  *ScriptedRadio
	Device *ScriptedDevice

	OriginalDeviceFactory func(adapter int) (scanner.ScanningDevice, error)
	TestTimeout           time.Duration

	pending []*mocks.MockAdvertisement
}

// WithAdvertisements starts configuring the detections the scripted radio replays.
func (s *MockScannerSuite) WithAdvertisements() *AdvertisementArrayBuilder[MockScannerSuite] {
	return NewAdvertisementArrayBuilder(s, func(advs []*mocks.MockAdvertisement) {
		s.pending = append(s.pending, advs...)
	})
}

// SetupTest installs the scripted radio as scanner.DeviceFactory.
func (s *MockScannerSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	if s.TestTimeout == 0 {
		s.TestTimeout = 2 * time.Second
	}

	s.Device = &ScriptedDevice{}
	for _, adv := range s.pending {
		s.Device.Detections = append(s.Device.Detections, adv)
	}
	s.pending = nil
	s.Radio = &ScriptedRadio{Device: s.Device}

	s.OriginalDeviceFactory = scanner.DeviceFactory
	scanner.DeviceFactory = s.Radio.Factory
}

// TearDownTest restores the real device factory.
func (s *MockScannerSuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		scanner.DeviceFactory = s.OriginalDeviceFactory
		s.OriginalDeviceFactory = nil
	}
}
