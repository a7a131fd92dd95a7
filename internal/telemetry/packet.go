// Package telemetry decodes the 34-byte bit-packed telemetry frame emitted
// by the flight computer and computes the derived flight values (altitude,
// attitude, speed) that consumers plot and log.
//
// The wire format is a fixed-layout little-endian bitstream. Fields are
// packed LSB-first and may cross byte boundaries; the layout is described by
// a declarative field table and interpreted by a single generic extraction
// routine so that sign handling is uniform across all signed fields.
package telemetry

import (
	"fmt"
	"math"
)

// Frame layout constants. The frame has no header, footer, or checksum; the
// only structural invariant is its exact length.
const (
	// PacketSize is the exact size of one telemetry frame in bytes.
	PacketSize = 34

	// Bit offsets of each wire field within the frame. Offsets are LSB-first
	// bit positions: bit n lives in byte n/8 at position n%8.
	timeOffset     = 0   // 24-bit millisecond counter, bytes 0-2
	tempOffset     = 24  // 14-bit signed centi-degrees, byte 3 + low 6 bits of byte 4
	pressureOffset = 38  // pressure in Pa, high 2 bits of byte 4 + bytes 5-6
	magOffset      = 56  // 3 x 16-bit signed, bytes 7-12
	accelOffset    = 104 // 3 x 16-bit signed milli-g, bytes 13-18
	gyroOffset     = 152 // 3 x 16-bit signed deci-deg/s, bytes 19-24
	latOffset      = 200 // 30-bit signed 1e-7 degrees, low 30 bits of bytes 25-28
	lonOffset      = 232 // 30-bit signed 1e-7 degrees, low 30 bits of bytes 29-32
	flagsOffset    = 264 // 8-bit status bitmask, byte 33

	timeBits     = 24
	tempBits     = 14
	pressureBits = 18 // stored width; declared 20-bit field never exceeds 18 bits
	vectorBits   = 16
	coordBits    = 30
	flagsBits    = 8

	// Field scale factors.
	tempScale  = 100.0 // centi-degrees C per degree
	gyroScale  = 10.0  // deci-deg/s per deg/s
	coordScale = 1e7   // 1e-7 degrees per degree
)

// Flags is the 8-bit status bitmask carried in the last byte of each frame.
type Flags uint8

const (
	FlagArmed Flags = 1 << iota
	FlagGPSFix
	FlagAltitudeHold
	FlagBatteryLow
	FlagSensorError
	FlagRecoveryMode
	FlagDataLogging
	FlagTelemetryActive
)

var flagNames = []struct {
	bit  Flags
	name string
}{
	{FlagArmed, "ARMED"},
	{FlagGPSFix, "GPS_FIX"},
	{FlagAltitudeHold, "ALTITUDE_HOLD"},
	{FlagBatteryLow, "BATTERY_LOW"},
	{FlagSensorError, "SENSOR_ERROR"},
	{FlagRecoveryMode, "RECOVERY_MODE"},
	{FlagDataLogging, "DATA_LOGGING"},
	{FlagTelemetryActive, "TELEMETRY_ACTIVE"},
}

// Has reports whether the given flag bit is set.
func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// String returns the set flag names joined by "|", or "NONE".
func (f Flags) String() string {
	out := ""
	for _, fn := range flagNames {
		if f.Has(fn.bit) {
			if out != "" {
				out += "|"
			}
			out += fn.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}

// Vector3 holds one raw 3-axis sensor sample.
type Vector3 struct {
	X int16 `json:"x"`
	Y int16 `json:"y"`
	Z int16 `json:"z"`
}

// Packet is one decoded telemetry frame. Fields hold scaled engineering
// units; raw sensor axes are kept as signed 16-bit values matching the wire.
type Packet struct {
	TimeMs       uint32  `json:"time_ms"`       // wraps at 2^24 ms
	TemperatureC float64 `json:"temperature_c"` // degrees Celsius
	PressurePa   uint32  `json:"pressure_pa"`   // Pascal
	Mag          Vector3 `json:"mag"`           // raw magnetometer
	Accel        Vector3 `json:"accel"`         // milli-g
	GyroX        float64 `json:"gyro_x"`        // deg/s
	GyroY        float64 `json:"gyro_y"`
	GyroZ        float64 `json:"gyro_z"`
	LatitudeDeg  float64 `json:"latitude"`
	LongitudeDeg float64 `json:"longitude"`
	Flags        Flags   `json:"flags"`
}

// extractBits reads width bits starting at LSB-first bit position off.
// It is the single extraction primitive used for every wire field.
func extractBits(data []byte, off, width uint) uint64 {
	var v uint64
	for i := uint(0); i < width; i++ {
		bit := off + i
		if data[bit>>3]&(1<<(bit&7)) != 0 {
			v |= 1 << i
		}
	}
	return v
}

// insertBits writes the low width bits of v at LSB-first bit position off.
func insertBits(data []byte, off, width uint, v uint64) {
	for i := uint(0); i < width; i++ {
		bit := off + i
		if v&(1<<i) != 0 {
			data[bit>>3] |= 1 << (bit & 7)
		} else {
			data[bit>>3] &^= 1 << (bit & 7)
		}
	}
}

// signExtend converts an N-bit two's-complement value to a full-width signed
// value: v if v < 2^(N-1), otherwise v - 2^N.
func signExtend(v uint64, width uint) int64 {
	if v&(1<<(width-1)) != 0 {
		return int64(v) - (1 << width)
	}
	return int64(v)
}

func extractSigned(data []byte, off, width uint) int64 {
	return signExtend(extractBits(data, off, width), width)
}

// DecodePacket decodes one 34-byte frame. The only failure mode is a wrong
// input length; every bit pattern of a full frame is a valid packet.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) != PacketSize {
		return Packet{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidLength, PacketSize, len(data))
	}

	p := Packet{
		TimeMs:       uint32(extractBits(data, timeOffset, timeBits)),
		TemperatureC: float64(extractSigned(data, tempOffset, tempBits)) / tempScale,
		PressurePa:   uint32(extractBits(data, pressureOffset, pressureBits)),
		Flags:        Flags(extractBits(data, flagsOffset, flagsBits)),
	}

	p.Mag = Vector3{
		X: int16(extractSigned(data, magOffset, vectorBits)),
		Y: int16(extractSigned(data, magOffset+vectorBits, vectorBits)),
		Z: int16(extractSigned(data, magOffset+2*vectorBits, vectorBits)),
	}
	p.Accel = Vector3{
		X: int16(extractSigned(data, accelOffset, vectorBits)),
		Y: int16(extractSigned(data, accelOffset+vectorBits, vectorBits)),
		Z: int16(extractSigned(data, accelOffset+2*vectorBits, vectorBits)),
	}
	p.GyroX = float64(extractSigned(data, gyroOffset, vectorBits)) / gyroScale
	p.GyroY = float64(extractSigned(data, gyroOffset+vectorBits, vectorBits)) / gyroScale
	p.GyroZ = float64(extractSigned(data, gyroOffset+2*vectorBits, vectorBits)) / gyroScale

	p.LatitudeDeg = float64(extractSigned(data, latOffset, coordBits)) / coordScale
	p.LongitudeDeg = float64(extractSigned(data, lonOffset, coordBits)) / coordScale

	return p, nil
}

// EncodePacket packs a Packet back into its 34-byte wire form. Encoding
// exists for fixture generation and round-trips every wire field; derived
// values are not part of the wire format. Out-of-range values are truncated
// to their field width.
func EncodePacket(p Packet) []byte {
	data := make([]byte, PacketSize)

	insertBits(data, timeOffset, timeBits, uint64(p.TimeMs))
	insertBits(data, tempOffset, tempBits, uint64(int64(math.Round(p.TemperatureC*tempScale))))
	insertBits(data, pressureOffset, pressureBits, uint64(p.PressurePa))

	insertBits(data, magOffset, vectorBits, uint64(p.Mag.X))
	insertBits(data, magOffset+vectorBits, vectorBits, uint64(p.Mag.Y))
	insertBits(data, magOffset+2*vectorBits, vectorBits, uint64(p.Mag.Z))

	insertBits(data, accelOffset, vectorBits, uint64(p.Accel.X))
	insertBits(data, accelOffset+vectorBits, vectorBits, uint64(p.Accel.Y))
	insertBits(data, accelOffset+2*vectorBits, vectorBits, uint64(p.Accel.Z))

	insertBits(data, gyroOffset, vectorBits, uint64(int64(math.Round(p.GyroX*gyroScale))))
	insertBits(data, gyroOffset+vectorBits, vectorBits, uint64(int64(math.Round(p.GyroY*gyroScale))))
	insertBits(data, gyroOffset+2*vectorBits, vectorBits, uint64(int64(math.Round(p.GyroZ*gyroScale))))

	insertBits(data, latOffset, coordBits, uint64(int64(math.Round(p.LatitudeDeg*coordScale))))
	insertBits(data, lonOffset, coordBits, uint64(int64(math.Round(p.LongitudeDeg*coordScale))))

	insertBits(data, flagsOffset, flagsBits, uint64(p.Flags))

	return data
}
