package telemetry

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacketLength(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 33, 35, 68} {
		_, err := DecodePacket(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidLength, "length %d", n)
	}

	_, err := DecodePacket(make([]byte, PacketSize))
	assert.NoError(t, err)
}

func TestDecodeZeroFrame(t *testing.T) {
	t.Parallel()

	p, err := DecodePacket(make([]byte, PacketSize))
	require.NoError(t, err)

	assert.Equal(t, Packet{}, p, "all-zero frame must decode to zero values")
}

func TestPacketRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		p    Packet
	}{
		{
			name: "sea_level",
			p: Packet{
				TimeMs:       120350,
				TemperatureC: 23.45,
				PressurePa:   101325,
				Mag:          Vector3{X: 312, Y: -145, Z: 478},
				Accel:        Vector3{X: -12, Y: 34, Z: 1002},
				GyroX:        1.5, GyroY: -2.3, GyroZ: 0.1,
				LatitudeDeg:  48.8584000,
				LongitudeDeg: 2.2945000,
				Flags:        FlagArmed | FlagGPSFix | FlagTelemetryActive,
			},
		},
		{
			name: "negative_extremes",
			p: Packet{
				TimeMs:       1<<24 - 1,
				TemperatureC: -81.92, // -8192 raw, minimum of the signed field
				PressurePa:   1<<18 - 1,
				Mag:          Vector3{X: -32768, Y: 32767, Z: -1},
				Accel:        Vector3{X: 32767, Y: -32768, Z: 0},
				GyroX:        -3276.8, GyroY: 3276.7, GyroZ: -0.1,
				LatitudeDeg:  -53.6870912, // 30-bit signed minimum
				LongitudeDeg: 53.6870911,  // 30-bit signed maximum
				Flags:        0xFF,
			},
		},
		{
			name: "zero_coordinates",
			p: Packet{
				TimeMs:       1,
				TemperatureC: 0,
				PressurePa:   99000,
				Accel:        Vector3{Z: 1000},
				Flags:        FlagDataLogging,
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data := EncodePacket(tc.p)
			require.Len(t, data, PacketSize)

			got, err := DecodePacket(data)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.p, got); diff != "" {
				t.Errorf("decode(encode(p)) mismatch (-want +got):\n%s", diff)
			}

			// Bytes round-trip the other way too.
			again := EncodePacket(got)
			assert.Equal(t, data, again, "encode(decode(bytes)) must reproduce the frame")
		})
	}
}

func TestSignedFieldsExtend(t *testing.T) {
	t.Parallel()

	// A frame of all 0xFF bits reads -1 from every signed field and the
	// maximum from every unsigned one.
	data := make([]byte, PacketSize)
	for i := range data {
		data[i] = 0xFF
	}

	p, err := DecodePacket(data)
	require.NoError(t, err)

	assert.Equal(t, uint32(1<<24-1), p.TimeMs)
	assert.Equal(t, -0.01, p.TemperatureC)
	assert.Equal(t, uint32(1<<18-1), p.PressurePa)
	assert.Equal(t, Vector3{X: -1, Y: -1, Z: -1}, p.Mag)
	assert.Equal(t, Vector3{X: -1, Y: -1, Z: -1}, p.Accel)
	assert.Equal(t, -0.1, p.GyroX)
	assert.InDelta(t, -1e-7, p.LatitudeDeg, 1e-12)
	assert.InDelta(t, -1e-7, p.LongitudeDeg, 1e-12)
	assert.Equal(t, Flags(0xFF), p.Flags)
}

func TestFieldIsolation(t *testing.T) {
	t.Parallel()

	// Setting one field must not disturb its neighbours across the shared
	// byte boundaries (temperature and pressure split byte 4).
	p := Packet{TemperatureC: -25.53}
	got, err := DecodePacket(EncodePacket(p))
	require.NoError(t, err)
	assert.Equal(t, -25.53, got.TemperatureC)
	assert.Equal(t, uint32(0), got.PressurePa)
	assert.Equal(t, uint32(0), got.TimeMs)

	p = Packet{PressurePa: 101325}
	got, err = DecodePacket(EncodePacket(p))
	require.NoError(t, err)
	assert.Equal(t, uint32(101325), got.PressurePa)
	assert.Equal(t, 0.0, got.TemperatureC)
	assert.Equal(t, Flags(0), got.Flags)
}

func TestFlagsString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NONE", Flags(0).String())
	assert.Equal(t, "ARMED", FlagArmed.String())
	assert.Equal(t, "ARMED|GPS_FIX", (FlagArmed | FlagGPSFix).String())
	assert.Equal(t,
		"ARMED|GPS_FIX|ALTITUDE_HOLD|BATTERY_LOW|SENSOR_ERROR|RECOVERY_MODE|DATA_LOGGING|TELEMETRY_ACTIVE",
		Flags(0xFF).String())

	assert.True(t, Flags(0x80).Has(FlagTelemetryActive))
	assert.False(t, Flags(0x80).Has(FlagArmed))
}
