package payload

// Byte layout of the weather station uplink (8 bytes, little-endian bit order):
//
//	bit 64    32                 20            8          0
//	    | ID   | WINDSPEED (12)   | TEMP (12)   | HUM (8)  |
//
// Temperature and windspeed share byte 2: its low nibble holds the upper
// temperature bits and its high nibble the lower windspeed bits.

// MinLength is the number of bytes needed to decode every field.
const MinLength = 8

// Scale is the fixed-point divisor shared by temperature and windspeed.
const Scale = 10.0

const (
	temperatureOffset = 500
	kphToMps          = 3.600
)

// Part is one contiguous run of bits inside a payload byte.
type Part struct {
	Offset int  // byte index
	Mask   byte // applied to the byte before shifting
	Shift  int  // >0 shifts left, <0 shifts right
}

func (p Part) extract(buf []byte) uint32 {
	v := uint32(buf[p.Offset] & p.Mask)
	if p.Shift >= 0 {
		return v << uint(p.Shift)
	}
	return v >> uint(-p.Shift)
}

// inject is the inverse of extract: it places the bits of raw owned by this
// part into buf.
func (p Part) inject(buf []byte, raw uint32) {
	var v uint32
	if p.Shift >= 0 {
		v = raw >> uint(p.Shift)
	} else {
		v = raw << uint(-p.Shift)
	}
	buf[p.Offset] |= byte(v) & p.Mask
}

// Field describes how a raw integer is assembled from the buffer and how it
// maps to a physical value.
type Field struct {
	Name  string
	Bits  int
	Parts []Part
	// Physical converts the raw integer. Nil means the raw value is used as is.
	Physical func(raw uint32) float64
}

// Raw assembles the raw integer of the field. buf must hold at least MinLength bytes.
func (f Field) Raw(buf []byte) uint32 {
	var raw uint32
	for _, p := range f.Parts {
		raw |= p.extract(buf)
	}
	return raw
}

// Value returns the physical value of the field.
func (f Field) Value(buf []byte) float64 {
	raw := f.Raw(buf)
	if f.Physical == nil {
		return float64(raw)
	}
	return f.Physical(raw)
}

func (f Field) mask() uint32 {
	if f.Bits >= 32 {
		return 0xFFFFFFFF
	}
	return (1 << uint(f.Bits)) - 1
}

var (
	HumidityField = Field{
		Name:  string(KindHumidity),
		Bits:  8,
		Parts: []Part{{Offset: 0, Mask: 0xFF}},
	}

	TemperatureField = Field{
		Name: string(KindTemperature),
		Bits: 12,
		Parts: []Part{
			{Offset: 1, Mask: 0xFF},
			{Offset: 2, Mask: 0x0F, Shift: 8},
		},
		Physical: func(raw uint32) float64 {
			return (float64(raw) - temperatureOffset) / Scale
		},
	}

	WindspeedField = Field{
		Name: string(KindWindspeed),
		Bits: 12,
		Parts: []Part{
			{Offset: 2, Mask: 0xF0, Shift: -4},
			{Offset: 3, Mask: 0xFF, Shift: 4},
		},
		Physical: func(raw uint32) float64 {
			return float64(raw) * kphToMps / Scale
		},
	}

	EmbeddedIDField = Field{
		Name: "devid",
		Bits: 32,
		Parts: []Part{
			{Offset: 4, Mask: 0xFF},
			{Offset: 5, Mask: 0xFF, Shift: 8},
			{Offset: 6, Mask: 0xFF, Shift: 16},
			{Offset: 7, Mask: 0xFF, Shift: 24},
		},
	}
)

// Layout lists the fields of the payload in byte order.
var Layout = []Field{HumidityField, TemperatureField, WindspeedField, EmbeddedIDField}
