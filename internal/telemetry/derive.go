package telemetry

import (
	"math"
	"time"
)

// Physical constants for derived-value computation.
const (
	// SeaLevelPressurePa is the barometric reference pressure.
	SeaLevelPressurePa = 101325.0

	// metersPerDegree approximates the ground distance of one degree of
	// latitude (and of longitude at the equator).
	metersPerDegree = 111320.0
)

// Record is one decoded packet together with its derived flight values and
// the stream-relative timing computed against the first packet of a capture.
type Record struct {
	Packet

	// TimeS is seconds since the first packet of the stream.
	TimeS float64 `json:"time_s"`
	// Timestamp is the absolute timestamp with the first packet's time_ms as
	// epoch zero.
	Timestamp time.Time `json:"timestamp"`

	AltitudeM       float64 `json:"altitude_m"`
	AccelTotalG     float64 `json:"accel_total_g"`
	MagTotal        float64 `json:"mag_total"`
	RollDeg         float64 `json:"roll_deg"`
	PitchDeg        float64 `json:"pitch_deg"`
	YawDeg          float64 `json:"yaw_deg"`
	SpeedMPS        float64 `json:"speed_mps"`
	BatteryVoltageV float64 `json:"battery_voltage"`
	RSSIDbm         int     `json:"rssi"`
}

// Altitude converts a barometric pressure reading to meters above sea level
// using the standard-atmosphere formula.
func Altitude(pressurePa float64) float64 {
	return 44330.0 * (1.0 - math.Pow(pressurePa/SeaLevelPressurePa, 1.0/5.255))
}

// AccelTotal returns total acceleration in g from milli-g axis readings.
func AccelTotal(a Vector3) float64 {
	return vectorMagnitude(a) / 1000.0
}

// MagTotal returns the magnitude of the raw magnetometer vector.
func MagTotal(m Vector3) float64 {
	return vectorMagnitude(m)
}

func vectorMagnitude(v Vector3) float64 {
	x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
	return math.Sqrt(x*x + y*y + z*z)
}

// Attitude computes roll, pitch and yaw in degrees from the accelerometer
// and magnetometer vectors. Yaw is 0 when the magnetometer reads zero.
func Attitude(accel, mag Vector3) (roll, pitch, yaw float64) {
	ax, ay, az := float64(accel.X), float64(accel.Y), float64(accel.Z)

	roll = degrees(math.Atan2(ay, az))
	pitch = degrees(math.Atan2(-ax, math.Sqrt(ax*ax+ay*ay)))

	if mag.X != 0 || mag.Y != 0 {
		yaw = degrees(math.Atan2(float64(mag.Y), float64(mag.X)))
	}
	return roll, pitch, yaw
}

// GroundSpeed differentiates two coordinate fixes over dt seconds and
// returns the ground speed in m/s. Degree deltas are converted to meters on
// a locally-flat earth. A non-positive dt yields 0.
func GroundSpeed(lat1, lon1, lat2, lon2, dt float64) float64 {
	if dt <= 0 {
		return 0
	}
	dLatM := (lat2 - lat1) * metersPerDegree
	dLonM := (lon2 - lon1) * metersPerDegree * math.Cos(lat2*math.Pi/180.0)
	return math.Sqrt(dLatM*dLatM+dLonM*dLonM) / dt
}

// BatteryVoltage estimates pack voltage from the board temperature. The
// flight computer does not report voltage directly; this mirrors the
// firmware's thermal model.
func BatteryVoltage(temperatureC float64) float64 {
	return 7.4 - (temperatureC-20.0)*0.01
}

// RSSI estimates link strength from the telemetry-active flag.
func RSSI(f Flags) int {
	if f.Has(FlagTelemetryActive) {
		return -60
	}
	return -100
}

func degrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// NewRecord derives all computed values for a packet. epochMs is the
// time_ms of the first packet of the stream; prev is the previous record in
// time order, or nil for the first record (speed is then 0, not an error).
func NewRecord(p Packet, epochMs uint32, prev *Record) Record {
	rec := Record{Packet: p}

	// Relative time against the stream epoch. time_ms wraps at 2^24 ms, so
	// the delta is computed in the packet's own 24-bit domain.
	deltaMs := int64(p.TimeMs) - int64(epochMs)
	rec.TimeS = float64(deltaMs) / 1000.0
	rec.Timestamp = time.Unix(0, 0).UTC().Add(time.Duration(deltaMs) * time.Millisecond)

	rec.AltitudeM = Altitude(float64(p.PressurePa))
	rec.AccelTotalG = AccelTotal(p.Accel)
	rec.MagTotal = MagTotal(p.Mag)
	rec.RollDeg, rec.PitchDeg, rec.YawDeg = Attitude(p.Accel, p.Mag)
	rec.BatteryVoltageV = BatteryVoltage(p.TemperatureC)
	rec.RSSIDbm = RSSI(p.Flags)

	if prev != nil {
		rec.SpeedMPS = GroundSpeed(
			prev.LatitudeDeg, prev.LongitudeDeg,
			p.LatitudeDeg, p.LongitudeDeg,
			rec.TimeS-prev.TimeS,
		)
	}
	return rec
}
