package telemetry

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// FlightSummary aggregates a decoded capture into the headline numbers shown
// after a flight.
type FlightSummary struct {
	Records       int           `json:"records"`
	Duration      time.Duration `json:"duration"`
	MaxAltitudeM  float64       `json:"max_altitude_m"`
	MeanAltitudeM float64       `json:"mean_altitude_m"`
	ApogeeTimeS   float64       `json:"apogee_time_s"`
	MaxSpeedMPS   float64       `json:"max_speed_mps"`
	MaxAccelG     float64       `json:"max_accel_g"`
	MinTempC      float64       `json:"min_temperature_c"`
	MaxTempC      float64       `json:"max_temperature_c"`
}

// Summarize computes flight statistics over time-ordered records.
func Summarize(records []Record) FlightSummary {
	var s FlightSummary
	s.Records = len(records)
	if len(records) == 0 {
		return s
	}

	altitudes := make([]float64, len(records))
	for i, r := range records {
		altitudes[i] = r.AltitudeM
	}
	s.MeanAltitudeM = stat.Mean(altitudes, nil)

	s.MaxAltitudeM = records[0].AltitudeM
	s.ApogeeTimeS = records[0].TimeS
	s.MinTempC = records[0].TemperatureC
	s.MaxTempC = records[0].TemperatureC
	for _, r := range records {
		if r.AltitudeM > s.MaxAltitudeM {
			s.MaxAltitudeM = r.AltitudeM
			s.ApogeeTimeS = r.TimeS
		}
		if r.SpeedMPS > s.MaxSpeedMPS {
			s.MaxSpeedMPS = r.SpeedMPS
		}
		if r.AccelTotalG > s.MaxAccelG {
			s.MaxAccelG = r.AccelTotalG
		}
		if r.TemperatureC < s.MinTempC {
			s.MinTempC = r.TemperatureC
		}
		if r.TemperatureC > s.MaxTempC {
			s.MaxTempC = r.TemperatureC
		}
	}

	last := records[len(records)-1]
	s.Duration = time.Duration(last.TimeS * float64(time.Second))
	return s
}

// String renders the summary in a compact single-line form for logs.
func (s FlightSummary) String() string {
	return fmt.Sprintf("%d records over %s: apogee %.1f m at t=%.1fs, max speed %.1f m/s, max accel %.2f g, temp %.1f..%.1f C",
		s.Records, s.Duration, s.MaxAltitudeM, s.ApogeeTimeS, s.MaxSpeedMPS, s.MaxAccelG, s.MinTempC, s.MaxTempC)
}
