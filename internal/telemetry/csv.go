package telemetry

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var csvHeader = []string{
	"time_s", "time_ms", "altitude_m", "pressure_pa", "temperature_c",
	"latitude", "longitude", "speed_mps",
	"accel_x", "accel_y", "accel_z", "accel_total_g",
	"gyro_x", "gyro_y", "gyro_z",
	"mag_x", "mag_y", "mag_z", "mag_total",
	"roll_deg", "pitch_deg", "yaw_deg",
	"battery_voltage", "rssi", "flags",
}

// WriteCSV exports decoded records as CSV with a fixed header row.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range records {
		row := []string{
			ftoa(r.TimeS),
			strconv.FormatUint(uint64(r.TimeMs), 10),
			ftoa(r.AltitudeM),
			strconv.FormatUint(uint64(r.PressurePa), 10),
			ftoa(r.TemperatureC),
			ftoa(r.LatitudeDeg),
			ftoa(r.LongitudeDeg),
			ftoa(r.SpeedMPS),
			itoa(r.Accel.X), itoa(r.Accel.Y), itoa(r.Accel.Z),
			ftoa(r.AccelTotalG),
			ftoa(r.GyroX), ftoa(r.GyroY), ftoa(r.GyroZ),
			itoa(r.Mag.X), itoa(r.Mag.Y), itoa(r.Mag.Z),
			ftoa(r.MagTotal),
			ftoa(r.RollDeg), ftoa(r.PitchDeg), ftoa(r.YawDeg),
			ftoa(r.BatteryVoltageV),
			strconv.Itoa(r.RSSIDbm),
			r.Flags.String(),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
func itoa(v int16) string   { return strconv.FormatInt(int64(v), 10) }
