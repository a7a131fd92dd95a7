package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SafeSettings are the flight-computer parameters that can be changed
// without risking the mission.
type SafeSettings struct {
	SDFilename      string `json:"sd_filename"`
	SDFilenameDump  string `json:"sd_filename_wq"`
	DataPeriodMs    uint32 `json:"data_period"`
	DataPeriodLndMs uint32 `json:"data_period_lnd"`
	PressBufferLen  int    `json:"press_buffer_len"`
	PressLandDelta  int    `json:"press_land_delta"`
}

// CriticalSettings control launch detection and recovery ejection; writes
// deserve extra scrutiny in the caller.
type CriticalSettings struct {
	StartThresholdPa int `json:"start_th"`
	EjectThreshold   int `json:"eject_th"`
}

// LoRaConfig mirrors the radio registers of the LoRa modem.
type LoRaConfig struct {
	FrequencyHz     int `json:"frequency"`
	Bandwidth       int `json:"bandwidth"`
	SpreadingFactor int `json:"spreading_factor"`
	CodingRate      int `json:"coding_rate"`
	HeaderMode      int `json:"header_mode"`
	CRCEnabled      int `json:"crc_enabled"`
	LowDataRateOpt  int `json:"low_data_rate_optimize"`
	PreambleLength  int `json:"preamble_length"`
	PayloadLength   int `json:"payload_length"`
	TxPower         int `json:"tx_power"`
}

// DeviceConfig is the full configuration image exchanged with the flight
// computer over GET_CONFIG / SET_CONFIG.
type DeviceConfig struct {
	Safe     SafeSettings     `json:"safe_settings"`
	Critical CriticalSettings `json:"critical_settings"`
	LoRa     LoRaConfig       `json:"lora_config"`

	DeviceID        string `json:"device_id,omitempty"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
}

// DefaultDeviceConfig returns the firmware defaults.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		Safe: SafeSettings{
			SDFilename:      "gg.wp",
			SDFilenameDump:  "gg.wq",
			DataPeriodMs:    250,
			DataPeriodLndMs: 250,
			PressBufferLen:  64,
			PressLandDelta:  20,
		},
		Critical: CriticalSettings{
			StartThresholdPa: 60,
			EjectThreshold:   240,
		},
		LoRa: LoRaConfig{
			FrequencyHz:     433000000,
			Bandwidth:       7,
			SpreadingFactor: 7,
			CRCEnabled:      1,
			PreambleLength:  8,
			PayloadLength:   255,
			TxPower:         15,
		},
	}
}

// Validate checks every field against the ranges the firmware accepts.
func (c DeviceConfig) Validate() error {
	if c.Safe.DataPeriodMs < 10 {
		return fmt.Errorf("data_period %d ms below minimum 10", c.Safe.DataPeriodMs)
	}
	if c.Safe.PressBufferLen < 8 || c.Safe.PressBufferLen > 256 {
		return fmt.Errorf("press_buffer_len %d out of range 8..256", c.Safe.PressBufferLen)
	}
	if c.Safe.PressLandDelta < 5 || c.Safe.PressLandDelta > 100 {
		return fmt.Errorf("press_land_delta %d out of range 5..100", c.Safe.PressLandDelta)
	}
	if c.Critical.StartThresholdPa < 10 || c.Critical.StartThresholdPa > 200 {
		return fmt.Errorf("start_th %d out of range 10..200", c.Critical.StartThresholdPa)
	}
	if c.Critical.EjectThreshold < 100 || c.Critical.EjectThreshold > 255 {
		return fmt.Errorf("eject_th %d out of range 100..255", c.Critical.EjectThreshold)
	}
	if c.LoRa.Bandwidth < 0 || c.LoRa.Bandwidth > 9 {
		return fmt.Errorf("lora bandwidth index %d out of range 0..9", c.LoRa.Bandwidth)
	}
	if c.LoRa.SpreadingFactor < 6 || c.LoRa.SpreadingFactor > 12 {
		return fmt.Errorf("lora spreading factor %d out of range 6..12", c.LoRa.SpreadingFactor)
	}
	if c.LoRa.CodingRate < 0 || c.LoRa.CodingRate > 3 {
		return fmt.Errorf("lora coding rate %d out of range 0..3", c.LoRa.CodingRate)
	}
	if c.LoRa.TxPower < 0 || c.LoRa.TxPower > 15 {
		return fmt.Errorf("lora tx power %d out of range 0..15", c.LoRa.TxPower)
	}
	if c.LoRa.PayloadLength < 1 || c.LoRa.PayloadLength > 255 {
		return fmt.Errorf("lora payload length %d out of range 1..255", c.LoRa.PayloadLength)
	}
	if c.LoRa.PreambleLength < 4 {
		return fmt.Errorf("lora preamble length %d below minimum 4", c.LoRa.PreambleLength)
	}
	return nil
}

// ReadDeviceConfig requests the device configuration over the link. The
// response may interleave terminal chatter and a completion marker around
// the JSON body, so the first {...} line wins.
func (s *Session) ReadDeviceConfig(timeout time.Duration) (*DeviceConfig, error) {
	resp, err := s.SendCommand("GET_CONFIG", timeout)
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		var cfg DeviceConfig
		if err := json.Unmarshal([]byte(line), &cfg); err != nil {
			return nil, fmt.Errorf("parse device config: %w", err)
		}
		return &cfg, nil
	}
	return nil, fmt.Errorf("no configuration in device response %q", resp)
}

// WriteDeviceConfig validates and uploads a configuration image. The write
// is considered applied only when the device acknowledges with OK.
func (s *Session) WriteDeviceConfig(cfg DeviceConfig, timeout time.Duration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode device config: %w", err)
	}

	resp, err := s.SendCommand("SET_CONFIG "+string(body), timeout)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(resp), "OK") {
		return fmt.Errorf("device rejected configuration: %q", resp)
	}
	return nil
}
