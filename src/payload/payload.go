// Package payload decodes the binary uplink of the wind/temperature/humidity
// station into physical measurements.
package payload

import (
	"errors"
	"fmt"
)

// Kind names a decoded quantity. It is also the sensor name used as key in
// the routing table.
type Kind string

const (
	KindHumidity    Kind = "humidity"
	KindTemperature Kind = "temperature"
	KindWindspeed   Kind = "windspeed"
)

// Kinds lists every kind produced by Decode.
var Kinds = []Kind{KindHumidity, KindTemperature, KindWindspeed}

// ParseKind returns the Kind matching name.
func ParseKind(name string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}

type Measurement struct {
	Kind  Kind    `json:"kind"`
	Value float64 `json:"value"`
}

// MeasurementSet is the result of decoding one uplink. DeviceID is the
// transport identity of the sender and is filled by the caller; EmbeddedID is
// read from the payload itself. The two are never cross-checked.
type MeasurementSet struct {
	DeviceID    string  `json:"device_id,omitempty"`
	EmbeddedID  uint32  `json:"devid"`
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
	Windspeed   float64 `json:"windspeed"`
}

// Get returns the measurement of the given kind.
func (s MeasurementSet) Get(k Kind) (Measurement, bool) {
	switch k {
	case KindHumidity:
		return Measurement{Kind: k, Value: s.Humidity}, true
	case KindTemperature:
		return Measurement{Kind: k, Value: s.Temperature}, true
	case KindWindspeed:
		return Measurement{Kind: k, Value: s.Windspeed}, true
	}
	return Measurement{}, false
}

// Measurements returns the three measurements in Kinds order.
func (s MeasurementSet) Measurements() []Measurement {
	res := make([]Measurement, 0, len(Kinds))
	for _, k := range Kinds {
		m, _ := s.Get(k)
		res = append(res, m)
	}
	return res
}

var ErrShortPayload = errors.New("payload too short")

// DecodeError reports a payload that cannot be decoded.
type DecodeError struct {
	Length int
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode payload of %d bytes: %v", e.Length, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode extracts the measurements from buf. Bytes past MinLength are ignored.
func Decode(buf []byte) (MeasurementSet, error) {
	if len(buf) < MinLength {
		return MeasurementSet{}, &DecodeError{
			Length: len(buf),
			Err:    fmt.Errorf("%w: need %d bytes", ErrShortPayload, MinLength),
		}
	}
	return MeasurementSet{
		EmbeddedID:  EmbeddedIDField.Raw(buf),
		Humidity:    HumidityField.Value(buf),
		Temperature: TemperatureField.Value(buf),
		Windspeed:   WindspeedField.Value(buf),
	}, nil
}

// Raw holds the undecoded field values as packed by the station firmware.
type Raw struct {
	Humidity    uint32
	Temperature uint32 // (°C * 10) + 500
	Windspeed   uint32 // km/h * 10
	ID          uint32
}

// Encode packs r into an 8 byte payload. Values wider than their field are
// truncated to the field width, as the firmware does.
func Encode(r Raw) []byte {
	buf := make([]byte, MinLength)
	for _, fv := range []struct {
		f   Field
		raw uint32
	}{
		{HumidityField, r.Humidity},
		{TemperatureField, r.Temperature},
		{WindspeedField, r.Windspeed},
		{EmbeddedIDField, r.ID},
	} {
		raw := fv.raw & fv.f.mask()
		for _, p := range fv.f.Parts {
			p.inject(buf, raw)
		}
	}
	return buf
}
