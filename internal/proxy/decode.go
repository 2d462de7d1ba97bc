package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/ble-scanner/internal/device"
)

// wireAdvertisement is the advertisement object sent by a WebSocket proxy.
type wireAdvertisement struct {
	Address          json.RawMessage `json:"address"`
	Name             string          `json:"name"`
	RSSI             int             `json:"rssi"`
	ManufacturerData json.RawMessage `json:"manufacturer_data"`
	ServiceUUIDs     []string        `json:"service_uuids"`
}

// wireFrame is one WebSocket message: either a wrapped advertisement or a
// bare advertisement object. Anything else (acks, pings) carries neither.
type wireFrame struct {
	Advertisement *wireAdvertisement `json:"bluetooth_le_advertisement"`
	wireAdvertisement
}

// decodeFrame decodes one proxy message. ok is false for frames that carry
// no advertisement. Malformed frames return ErrDecode.
func decodeFrame(data []byte) (adv Advertisement, ok bool, err error) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Advertisement{}, false, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	wire := frame.Advertisement
	if wire == nil {
		if len(frame.Address) == 0 {
			return Advertisement{}, false, nil
		}
		wire = &frame.wireAdvertisement
	}

	mac, err := parseAddress(wire.Address)
	if err != nil {
		return Advertisement{}, false, err
	}
	manufacturer, err := parseManufacturer(wire.ManufacturerData)
	if err != nil {
		return Advertisement{}, false, err
	}

	return Advertisement{
		MAC:          mac,
		Name:         strings.TrimSpace(wire.Name),
		RSSI:         wire.RSSI,
		Manufacturer: manufacturer,
		Services:     wire.ServiceUUIDs,
	}, true, nil
}

// parseAddress accepts a MAC string or the 48-bit integer form ESPHome
// uses for addresses.
func parseAddress(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: address: %w", ErrDecode, err)
		}
		return s, nil
	}

	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: address: %w", ErrDecode, err)
	}
	return macFromUint64(n), nil
}

func macFromUint64(n uint64) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		byte(n>>40), byte(n>>32), byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

// parseManufacturer accepts a plain string or an object keyed by Bluetooth
// company ID (decimal or 0x-prefixed hex). The lowest ID with a known name
// wins; unknown IDs are rendered as hex.
func parseManufacturer(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: manufacturer_data: %w", ErrDecode, err)
		}
		return strings.TrimSpace(s), nil
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", fmt.Errorf("%w: manufacturer_data: %w", ErrDecode, err)
		}
		ids := make([]uint16, 0, len(m))
		for key := range m {
			id, err := parseCompanyID(key)
			if err != nil {
				return "", err
			}
			ids = append(ids, id)
		}
		return manufacturerFromIDs(ids), nil
	default:
		return "", fmt.Errorf("%w: manufacturer_data: unexpected %s", ErrDecode, raw)
	}
}

func parseCompanyID(key string) (uint16, error) {
	k := strings.TrimSpace(key)
	base := 10
	if strings.HasPrefix(k, "0x") || strings.HasPrefix(k, "0X") {
		k = k[2:]
		base = 16
	}
	id, err := strconv.ParseUint(k, base, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: company id %q: %w", ErrDecode, key, err)
	}
	return uint16(id), nil
}

// manufacturerFromIDs names the first known company in ascending ID order,
// falling back to the lowest ID in hex.
func manufacturerFromIDs(ids []uint16) string {
	if len(ids) == 0 {
		return ""
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if name := device.ManufacturerName(id); name != "" {
			return name
		}
	}
	return fmt.Sprintf("0x%04X", ids[0])
}
