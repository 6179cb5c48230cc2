package scanner

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-ble/ble/linux/adv"
	"github.com/srg/bleproxy/internal/message"
)

// normalize converts a driver detection into the event relayed to clients.
func normalize(d Detection, now time.Time) (ev message.Advertisement, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading detection: %v", r)
		}
	}()

	addr := d.Addr()
	if addr == nil {
		return ev, errors.New("detection without address")
	}
	a, err := message.ParseAddress(addr.String())
	if err != nil {
		return ev, err
	}

	ev = message.Advertisement{
		Address:   a,
		RSSI:      message.ClampRSSI(d.RSSI()),
		Timestamp: now,
		Name:      d.LocalName(),
	}
	if t, ok := d.(typedDetection); ok {
		ev.AddressType = message.AddressType(t.AddressType())
	}
	if r, ok := d.(rawDetection); ok {
		ev.Raw = append(append([]byte(nil), r.Data()...), r.ScanResponse()...)
	}
	if len(ev.Raw) == 0 {
		ev.Raw = synthesizeRaw(d)
	}
	return ev, nil
}

// AD types the adv package has no builder for.
const (
	adTxPower       = 0x0A
	adServiceData16 = 0x16
)

// txPowerUnknown is what drivers report when the advertisement carries no tx power.
const txPowerUnknown = 127

// synthesizeRaw rebuilds AD structures from parsed fields for drivers that do not expose
// the received bytes. Fields that do not fit the legacy 31 byte packet are left out.
func synthesizeRaw(d Detection) []byte {
	p, err := adv.NewPacket()
	if err != nil {
		return nil
	}
	if d.Connectable() {
		_ = p.Append(adv.Flags(adv.FlagGeneralDiscoverable | adv.FlagLEOnly))
	}
	if name := d.LocalName(); name != "" {
		if p.Append(adv.CompleteName(name)) != nil {
			if short := truncateName(name, adv.MaxEIRPacketLength-p.Len()-2); short != "" {
				_ = p.Append(adv.ShortName(short))
			}
		}
	}
	if md := d.ManufacturerData(); len(md) >= 2 {
		_ = p.Append(adv.ManufacturerData(uint16(md[0])|uint16(md[1])<<8, md[2:]))
	}
	for _, u := range d.Services() {
		if p.Append(adv.AllUUID(u)) != nil {
			break
		}
	}
	if pwr := d.TxPowerLevel(); pwr != txPowerUnknown && pwr >= math.MinInt8 && pwr <= math.MaxInt8 {
		_ = p.Append(adv.Raw([]byte{2, adTxPower, byte(int8(pwr))}))
	}
	for _, sd := range d.ServiceData() {
		if len(sd.UUID) != 2 {
			continue
		}
		field := append([]byte{byte(len(sd.Data) + 3), adServiceData16}, sd.UUID...)
		if p.Append(adv.Raw(append(field, sd.Data...))) != nil {
			break
		}
	}
	if p.Len() == 0 {
		return nil
	}
	return append([]byte(nil), p.Bytes()...)
}

func truncateName(name string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(name) <= n {
		return name
	}
	return name[:n]
}
