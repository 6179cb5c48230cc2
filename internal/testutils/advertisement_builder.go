package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/srg/bleproxy/internal/testutils/mocks"
)

// AdvertisementBuilder builds mocked BLE advertisements for testing.
// Every accessor the proxy may read gets a Maybe() expectation, so tests only
// configure the fields they care about.
type AdvertisementBuilder struct {
	name        string
	address     string
	addressType uint8
	rssi        int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	raw         []byte
	scanResp    []byte
	txPower     int
	connectable bool
	noAddress   bool
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement with RSSI -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		serviceData: make(map[string][]byte),
		connectable: true,
		rssi:        -50,
		txPower:     127,
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithoutAddress makes Addr() return nil.
func (b *AdvertisementBuilder) WithoutAddress() *AdvertisementBuilder {
	b.noAddress = true
	return b
}

// WithAddressType sets the address type reported by the driver.
func (b *AdvertisementBuilder) WithAddressType(t uint8) *AdvertisementBuilder {
	b.addressType = t
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds service UUIDs, short ("180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithManufacturerData sets the manufacturer-specific data, company ID first.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

// WithServiceData adds service-specific data for the given service UUID.
func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

// WithRawData sets the AD bytes the driver received.
func (b *AdvertisementBuilder) WithRawData(data []byte) *AdvertisementBuilder {
	b.raw = data
	return b
}

// WithScanResponse sets the scan response bytes the driver received.
func (b *AdvertisementBuilder) WithScanResponse(data []byte) *AdvertisementBuilder {
	b.scanResp = data
	return b
}

// WithTxPower sets the transmission power level.
func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = power
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name             *string           `json:"name"`
		Address          *string           `json:"address"`
		AddressType      *uint8            `json:"addressType"`
		RSSI             *int              `json:"rssi"`
		Services         []string          `json:"services"`
		ManufacturerData []byte            `json:"manufacturerData"`
		ServiceData      map[string][]byte `json:"serviceData"`
		Raw              []byte            `json:"raw"`
		TxPower          *int              `json:"txPower"`
		Connectable      *bool             `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.name = *data.Name
	}
	if data.Address != nil {
		b.address = *data.Address
	}
	if data.AddressType != nil {
		b.addressType = *data.AddressType
	}
	if data.RSSI != nil {
		b.rssi = *data.RSSI
	}
	if data.TxPower != nil {
		b.txPower = *data.TxPower
	}
	if data.Connectable != nil {
		b.connectable = *data.Connectable
	}
	b.services = append(b.services, data.Services...)
	if data.ManufacturerData != nil {
		b.manufData = data.ManufacturerData
	}
	for k, v := range data.ServiceData {
		b.serviceData[k] = v
	}
	if data.Raw != nil {
		b.raw = data.Raw
	}
	return b
}

// Build creates a MockAdvertisement implementing ble.Advertisement.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}

	var bleServices []ble.UUID
	for _, s := range b.services {
		bleServices = append(bleServices, ble.MustParse(s))
	}

	var bleServiceData []ble.ServiceData
	for uuid, data := range b.serviceData {
		bleServiceData = append(bleServiceData, ble.ServiceData{
			UUID: ble.MustParse(uuid),
			Data: data,
		})
	}

	if b.noAddress {
		adv.On("Addr").Return(nil).Maybe()
	} else {
		addr := &mocks.MockAddr{}
		addr.On("String").Return(b.address).Maybe()
		adv.On("Addr").Return(addr).Maybe()
	}
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("ManufacturerData").Return(b.manufData).Maybe()
	adv.On("ServiceData").Return(bleServiceData).Maybe()
	adv.On("Services").Return(bleServices).Maybe()
	adv.On("OverflowService").Return([]ble.UUID(nil)).Maybe()
	adv.On("SolicitedService").Return([]ble.UUID(nil)).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	adv.On("TxPowerLevel").Return(b.txPower).Maybe()
	adv.On("Data").Return(b.raw).Maybe()
	adv.On("ScanResponse").Return(b.scanResp).Maybe()
	adv.On("AddressType").Return(b.addressType).Maybe()

	return adv
}

// AdvertisementArrayBuilder collects several advertisements for a scripted scan.
type AdvertisementArrayBuilder[P any] struct {
	parent *P
	advs   []*mocks.MockAdvertisement
	apply  func(advs []*mocks.MockAdvertisement)
}

// NewAdvertisementArrayBuilder creates an array builder; Build hands the result to apply and returns parent.
func NewAdvertisementArrayBuilder[P any](parent *P, apply func([]*mocks.MockAdvertisement)) *AdvertisementArrayBuilder[P] {
	return &AdvertisementArrayBuilder[P]{parent: parent, apply: apply}
}

// WithAdvertisements appends built advertisements.
func (b *AdvertisementArrayBuilder[P]) WithAdvertisements(advs ...*mocks.MockAdvertisement) *AdvertisementArrayBuilder[P] {
	b.advs = append(b.advs, advs...)
	return b
}

// WithAdvertisement appends the advertisement produced by a builder.
func (b *AdvertisementArrayBuilder[P]) WithAdvertisement(ab *AdvertisementBuilder) *AdvertisementArrayBuilder[P] {
	b.advs = append(b.advs, ab.Build())
	return b
}

// Build applies the collected advertisements and returns the parent.
func (b *AdvertisementArrayBuilder[P]) Build() *P {
	if b.apply != nil {
		b.apply(b.advs)
	}
	return b.parent
}
