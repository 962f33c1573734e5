package payload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReferenceFrame(t *testing.T) {
	buf := []byte{50, 0x88, 0x02, 0x10, 0x01, 0x00, 0x00, 0x00}

	set, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, 50.0, set.Humidity)
	assert.InDelta(t, 14.8, set.Temperature, 1e-9)
	assert.InDelta(t, 92.16, set.Windspeed, 1e-9)
	assert.Equal(t, uint32(1), set.EmbeddedID)
	assert.Empty(t, set.DeviceID)
}

func TestDecodeIsDeterministic(t *testing.T) {
	buf := []byte{0x41, 0xFF, 0xAB, 0xCD, 0xDE, 0xAD, 0xBE, 0xEF}
	first, err := Decode(buf)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Decode(buf)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Equal(t, []byte{0x41, 0xFF, 0xAB, 0xCD, 0xDE, 0xAD, 0xBE, 0xEF}, buf, "input must not be modified")
}

func TestDecodeShortPayload(t *testing.T) {
	for n := 0; n < MinLength; n++ {
		buf := make([]byte, n)
		set, err := Decode(buf)
		require.Error(t, err, "length %d", n)
		require.Equal(t, MeasurementSet{}, set)

		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, n, de.Length)
		assert.True(t, errors.Is(err, ErrShortPayload))
	}
}

func TestDecodeNilPayload(t *testing.T) {
	_, err := Decode(nil)
	require.ErrorIs(t, err, ErrShortPayload)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	base := []byte{50, 0x88, 0x02, 0x10, 0x01, 0x00, 0x00, 0x00}
	long := append(append([]byte{}, base...), 0xFF, 0xFF, 0xFF)

	a, err := Decode(base)
	require.NoError(t, err)
	b, err := Decode(long)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		raw  Raw
		hum  float64
		temp float64
		wind float64
	}{
		{"zero", Raw{}, 0, -50, 0},
		{"freezing", Raw{Humidity: 80, Temperature: 500, Windspeed: 0, ID: 7}, 80, 0, 0},
		{"warm breeze", Raw{Humidity: 45, Temperature: 723, Windspeed: 125, ID: 0x00ABCDEF}, 45, 22.3, 45},
		{"cold storm", Raw{Humidity: 99, Temperature: 380, Windspeed: 1000, ID: 0xFFFFFFFF}, 99, -12, 360},
		{"max", Raw{Humidity: 0xFF, Temperature: 0xFFF, Windspeed: 0xFFF, ID: 0x80000001}, 255, 359.5, 1474.2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := Encode(tc.raw)
			require.Len(t, buf, MinLength)

			set, err := Decode(buf)
			require.NoError(t, err)
			assert.Equal(t, tc.hum, set.Humidity)
			assert.InDelta(t, tc.temp, set.Temperature, 1e-9)
			assert.InDelta(t, tc.wind, set.Windspeed, 1e-9)
			assert.Equal(t, tc.raw.ID, set.EmbeddedID)
		})
	}
}

func TestEncodeTruncatesToFieldWidth(t *testing.T) {
	buf := Encode(Raw{Humidity: 0x1FF, Temperature: 0x1288, Windspeed: 0x1100})
	assert.Equal(t, []byte{0xFF, 0x88, 0x02, 0x10, 0, 0, 0, 0}, buf)
}

func TestEncodeReferenceFrame(t *testing.T) {
	buf := Encode(Raw{Humidity: 50, Temperature: 648, Windspeed: 256, ID: 1})
	assert.Equal(t, []byte{50, 0x88, 0x02, 0x10, 0x01, 0x00, 0x00, 0x00}, buf)
}

func TestMeasurementSetGet(t *testing.T) {
	set := MeasurementSet{Humidity: 1, Temperature: 2, Windspeed: 3}

	for i, k := range Kinds {
		m, ok := set.Get(k)
		require.True(t, ok)
		assert.Equal(t, k, m.Kind)
		assert.Equal(t, float64(i+1), m.Value)
	}

	_, ok := set.Get(Kind("pressure"))
	assert.False(t, ok)

	ms := set.Measurements()
	require.Len(t, ms, 3)
	assert.Equal(t, KindHumidity, ms[0].Kind)
	assert.Equal(t, KindWindspeed, ms[2].Kind)
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("temperature")
	require.True(t, ok)
	assert.Equal(t, KindTemperature, k)

	_, ok = ParseKind("Temperature")
	assert.False(t, ok)
}
