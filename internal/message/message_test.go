package message_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/srg/bleproxy/internal/frame"
	"github.com/srg/bleproxy/internal/message"
	"github.com/stretchr/testify/suite"
)

type MessageTestSuite struct {
	suite.Suite
}

func (suite *MessageTestSuite) TestParseAddress() {
	tests := []struct {
		name    string
		input   string
		want    message.Address
		wantErr bool
	}{
		{name: "colon separated", input: "AA:BB:CC:DD:EE:FF", want: 0xAABBCCDDEEFF},
		{name: "lower case dashes", input: "aa-bb-cc-dd-ee-ff", want: 0xAABBCCDDEEFF},
		{name: "bare hex", input: "112233445566", want: 0x112233445566},
		{name: "surrounding spaces", input: "  01:02:03:04:05:06 ", want: 0x010203040506},
		{name: "too short", input: "AA:BB:CC", wantErr: true},
		{name: "not hex", input: "GG:BB:CC:DD:EE:FF", wantErr: true},
		{name: "uuid style darwin identifier", input: "5F3A1B2C-0000-1000-8000-00805F9B34FB", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			got, err := message.ParseAddress(tt.input)
			if tt.wantErr {
				suite.Error(err)
				return
			}
			suite.Require().NoError(err)
			suite.Equal(tt.want, got)
		})
	}
}

func (suite *MessageTestSuite) TestAddressFormatting() {
	a := message.Address(0xAABBCCDDEEFF)
	suite.Equal("AA:BB:CC:DD:EE:FF", a.String())
	suite.Equal("aabbccddeeff", a.Hex())
	suite.Equal([6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, a.Bytes())
	suite.Equal(a, message.AddressFromBytes(a.Bytes()))
	suite.Equal("random", message.AddressRandom.String())
}

func (suite *MessageTestSuite) TestAdvertisementLayout() {
	// GOAL: The advertisement payload follows the fixed big-endian layout byte for byte

	ts := time.UnixMilli(0x0102030405).UTC()
	adv := message.Advertisement{
		Address:     0xAABBCCDDEEFF,
		AddressType: message.AddressRandom,
		RSSI:        -70,
		Timestamp:   ts,
		Name:        "Sensor1",
		Raw:         []byte{0x01, 0x02},
	}

	payload, err := adv.MarshalBinary()
	suite.Require().NoError(err)

	want := []byte{
		0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, // address
		0x01,       // random
		0xFF, 0xBA, // -70
		0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, // timestamp
		0x00, 0x07, 'S', 'e', 'n', 's', 'o', 'r', '1',
		0x00, 0x02, 0x01, 0x02,
	}
	suite.Equal(want, payload)

	var decoded message.Advertisement
	suite.Require().NoError(decoded.UnmarshalBinary(payload))
	suite.Equal(adv, decoded)

	f, err := adv.Frame()
	suite.Require().NoError(err)
	suite.Equal(message.OpAdvertisement, f.Opcode)
	suite.Equal(payload, f.Payload)

	wire, err := adv.Encode()
	suite.Require().NoError(err)
	suite.Equal(byte(0x33), wire[0])
	suite.Equal(byte(len(payload)), wire[1])
}

func (suite *MessageTestSuite) TestAdvertisementEdgeCases() {
	suite.Run("absent name and raw", func() {
		adv := message.Advertisement{Address: 1, RSSI: message.RSSIUnknown}
		payload, err := adv.MarshalBinary()
		suite.Require().NoError(err)

		var decoded message.Advertisement
		suite.Require().NoError(decoded.UnmarshalBinary(payload))
		suite.Empty(decoded.Name)
		suite.Nil(decoded.Raw)
		suite.True(decoded.Timestamp.IsZero())
		suite.Equal(int16(-127), decoded.RSSI)
	})

	suite.Run("oversized name is an encoding error", func() {
		adv := message.Advertisement{Name: strings.Repeat("x", 70000)}
		_, err := adv.MarshalBinary()
		suite.ErrorIs(err, frame.ErrPayloadTooLarge)
	})

	suite.Run("truncated payload is malformed", func() {
		var decoded message.Advertisement
		err := decoded.UnmarshalBinary([]byte{0xAA, 0xBB})
		suite.ErrorIs(err, frame.ErrMalformedPayload)
	})

	suite.Run("name length beyond payload is malformed", func() {
		payload, err := message.Advertisement{Name: "abc"}.MarshalBinary()
		suite.Require().NoError(err)
		var decoded message.Advertisement
		err = decoded.UnmarshalBinary(payload[:len(payload)-3])
		suite.ErrorIs(err, frame.ErrMalformedPayload)
	})
}

func (suite *MessageTestSuite) TestClampRSSI() {
	suite.Equal(int16(-70), message.ClampRSSI(-70))
	suite.Equal(int16(0), message.ClampRSSI(0))
	suite.Equal(int16(message.RSSIUnknown), message.ClampRSSI(message.RSSIUnknown))
	suite.Equal(int16(math.MaxInt16), message.ClampRSSI(1<<20))
	suite.Equal(int16(math.MinInt16), message.ClampRSSI(-1<<20))
	suite.Equal(int16(math.MinInt16), message.ClampRSSI(math.MinInt16-1))
}

func (suite *MessageTestSuite) TestHello() {
	suite.Run("response carries version 1.6", func() {
		resp := message.NewHelloResponse("bleproxy test")
		f, err := resp.Frame()
		suite.Require().NoError(err)
		suite.Equal(message.OpHelloResponse, f.Opcode)

		var decoded message.HelloResponse
		suite.Require().NoError(decoded.UnmarshalBinary(f.Payload))
		suite.Equal(uint16(1), decoded.Major)
		suite.Equal(uint16(6), decoded.Minor)
		suite.Equal("bleproxy test", decoded.ServerInfo)
	})

	suite.Run("empty request is accepted", func() {
		var req message.HelloRequest
		suite.NoError(req.UnmarshalBinary(nil))
		suite.Equal(message.HelloRequest{}, req)
	})

	suite.Run("request round trip", func() {
		f, err := message.HelloRequest{Major: 1, Minor: 10, ClientInfo: "Home Assistant"}.Frame()
		suite.Require().NoError(err)
		suite.Equal(message.OpHelloRequest, f.Opcode)

		var req message.HelloRequest
		suite.Require().NoError(req.UnmarshalBinary(f.Payload))
		suite.Equal("Home Assistant", req.ClientInfo)
		suite.Equal(uint16(10), req.Minor)
	})

	suite.Run("trailing bytes are malformed", func() {
		var req message.HelloRequest
		err := req.UnmarshalBinary([]byte{0, 1, 0, 6, 0, 0, 0xFF})
		suite.ErrorIs(err, frame.ErrMalformedPayload)
	})
}

func (suite *MessageTestSuite) TestDeviceInfo() {
	info := message.DeviceInfo{
		Name:         "linux-bt-proxy",
		MAC:          "AA:BB:CC:DD:EE:FF",
		BluetoothMAC: "AA:BB:CC:DD:EE:00",
		Model:        "linux",
		Version:      "dev",
		ProxyFlags:   message.FeaturePassiveScan | message.FeatureRawAdvertising,
	}
	f, err := info.Frame()
	suite.Require().NoError(err)
	suite.Equal(message.OpDeviceInfoResponse, f.Opcode)

	var decoded message.DeviceInfo
	suite.Require().NoError(decoded.UnmarshalBinary(f.Payload))
	suite.Equal(info, decoded)
}

func (suite *MessageTestSuite) TestConnectionsFree() {
	f, err := message.ConnectionsFree{Free: 2, Limit: 3}.Frame()
	suite.Require().NoError(err)
	suite.Equal(message.OpConnectionsFreeResponse, f.Opcode)
	suite.Equal([]byte{0, 0, 0, 2, 0, 0, 0, 3}, f.Payload)

	var decoded message.ConnectionsFree
	suite.Require().NoError(decoded.UnmarshalBinary(f.Payload))
	suite.Equal(message.ConnectionsFree{Free: 2, Limit: 3}, decoded)

	suite.True(frame.IsProtocolError(decoded.UnmarshalBinary([]byte{0, 0, 0, 1})))
}

func (suite *MessageTestSuite) TestOpcodeName() {
	suite.Equal("Advertisement", message.OpcodeName(message.OpAdvertisement))
	suite.Equal("ListEntitiesDone", message.OpcodeName(message.OpListEntitiesDone))
	suite.Equal("Unknown(0x42)", message.OpcodeName(0x42))
	suite.Empty(message.Empty(message.OpPingRequest).Payload)
}

func TestMessageTestSuite(t *testing.T) {
	suite.Run(t, new(MessageTestSuite))
}
