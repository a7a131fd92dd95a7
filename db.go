package main

import (
	"database/sql"
	"time"

	"github.com/stratodata/groundlink/internal/telemetry"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS telemetry (
			time_ms INTEGER,
			time_s DOUBLE,
			altitude_m DOUBLE,
			pressure_pa INTEGER,
			temperature_c DOUBLE,
			latitude DOUBLE,
			longitude DOUBLE,
			speed_mps DOUBLE,
			accel_total_g DOUBLE,
			flags INTEGER,
			received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS terminal_log (
			channel TEXT,
			line TEXT,
			received_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) RecordTelemetry(rec telemetry.Record) error {
	_, err := db.Exec(
		"INSERT INTO telemetry (time_ms, time_s, altitude_m, pressure_pa, temperature_c, latitude, longitude, speed_mps, accel_total_g, flags) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rec.TimeMs, rec.TimeS, rec.AltitudeM, rec.PressurePa, rec.TemperatureC,
		rec.LatitudeDeg, rec.LongitudeDeg, rec.SpeedMPS, rec.AccelTotalG, uint8(rec.Flags),
	)
	return err
}

func (db *DB) RecordTerminalLine(channel, line string) error {
	_, err := db.Exec("INSERT INTO terminal_log (channel, line) VALUES (?, ?)", channel, line)
	return err
}

func (db *DB) TelemetryCount() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM telemetry").Scan(&n)
	return n, err
}

// RecentTelemetry returns decoded rows received after the cutoff, newest
// first, for status queries.
func (db *DB) RecentTelemetry(since time.Time, limit int) ([]telemetry.Record, error) {
	rows, err := db.Query(
		"SELECT time_ms, time_s, altitude_m, pressure_pa, temperature_c, latitude, longitude, speed_mps, accel_total_g, flags FROM telemetry WHERE received_at >= ? ORDER BY received_at DESC LIMIT ?",
		since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.Record
	for rows.Next() {
		var rec telemetry.Record
		var flags uint8
		if err := rows.Scan(
			&rec.TimeMs, &rec.TimeS, &rec.AltitudeM, &rec.PressurePa, &rec.TemperatureC,
			&rec.LatitudeDeg, &rec.LongitudeDeg, &rec.SpeedMPS, &rec.AccelTotalG, &flags,
		); err != nil {
			return nil, err
		}
		rec.Flags = telemetry.Flags(flags)
		out = append(out, rec)
	}
	return out, rows.Err()
}
