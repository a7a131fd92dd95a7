// groundlink is the ground-station link daemon: it connects to the flight
// computer (USB) and the LoRa ground modem, streams decoded telemetry into
// sqlite, and can decode recorded binary flight logs offline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/stratodata/groundlink/internal/config"
	"github.com/stratodata/groundlink/internal/session"
	"github.com/stratodata/groundlink/internal/telemetry"
	"github.com/stratodata/groundlink/internal/version"
)

var (
	logFile    = flag.String("log", "", "decode a binary flight log and exit")
	csvOut     = flag.String("csv", "", "with -log: write decoded records as CSV to this path")
	configPath = flag.String("config", "", "path to settings JSON")
	dbPath     = flag.String("db", "", "sqlite database path (overrides settings)")
	devicePort = flag.String("port", "", "flight computer serial port (default: auto-discover)")
	radioPort  = flag.String("radio", "", "LoRa ground modem serial port (empty: radio link disabled)")
	devMode    = flag.Bool("dev", false, "back the device session with fixtures.txt instead of hardware")
	showVer    = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("groundlink %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	settings := config.Empty()
	if *configPath != "" {
		var err error
		settings, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load settings: %v", err)
		}
	}

	if *logFile != "" {
		if err := runDecode(*logFile, *csvOut); err != nil {
			log.Fatalf("decode failed: %v", err)
		}
		return
	}

	if err := runLive(settings); err != nil {
		log.Fatalf("%v", err)
	}
}

// runDecode handles the offline path: decode a recorded flight log, print
// the capture info and flight summary, optionally export CSV.
func runDecode(path, csvPath string) error {
	records, info, err := telemetry.DecodeFile(path)
	if err != nil {
		return err
	}

	log.Printf("decoded %d packets from %s (%d bytes)", info.PacketCount, info.Path, info.ByteCount)
	if !info.Valid() {
		log.Printf("warning: %d trailing bytes ignored (file length not a multiple of %d)", info.TrailingBytes, telemetry.PacketSize)
	}
	fmt.Println(telemetry.Summarize(records))

	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return fmt.Errorf("create csv: %w", err)
		}
		defer f.Close()
		if err := telemetry.WriteCSV(f, records); err != nil {
			return err
		}
		log.Printf("wrote %d records to %s", len(records), csvPath)
	}
	return nil
}

func sessionConfig(settings *config.Settings, channel session.Channel) session.Config {
	devVID, devPID := settings.GetDeviceID()
	radVID, radPID := settings.GetRadioID()
	return session.Config{
		Channel:        channel,
		PortOptions:    session.PortOptions{BaudRate: settings.GetBaudRate()},
		CommandTimeout: settings.GetCommandTimeout(),
		PollInterval:   settings.GetPollInterval(),
		QueueCapacity:  settings.GetQueueCapacity(),
		USBIDs: map[session.Channel]session.USBID{
			session.ChannelDevice:    {VID: devVID, PID: devPID},
			session.ChannelRadioLink: {VID: radVID, PID: radPID},
		},
	}
}

func runLive(settings *config.Settings) error {
	path := settings.GetDatabasePath()
	if *dbPath != "" {
		path = *dbPath
	}
	db, err := NewDB(path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	deviceCfg := sessionConfig(settings, session.ChannelDevice)
	if *devMode {
		fixtures, err := os.ReadFile("fixtures.txt")
		if err != nil {
			return fmt.Errorf("failed to open fixtures file: %w", err)
		}
		port := session.NewTestablePort()
		port.AddReadData(fixtures)
		deviceCfg.Open = func(string, session.PortOptions) (session.Porter, error) {
			return port, nil
		}
		if *devicePort == "" {
			*devicePort = "fixtures"
		}
	}

	// Sessions are constructed here and passed down; their lifetime is this
	// function, not the process.
	device := session.New(deviceCfg)
	if err := device.Connect(*devicePort); err != nil {
		return fmt.Errorf("failed to connect device: %w", err)
	}
	defer device.Disconnect()

	var radio *session.Session
	if *radioPort != "" {
		radio = session.New(sessionConfig(settings, session.ChannelRadioLink))
		if err := radio.Connect(*radioPort); err != nil {
			return fmt.Errorf("failed to connect radio link: %w", err)
		}
		defer radio.Disconnect()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	device.StartMonitoring(nil)
	defer device.StopMonitoring()
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumeEvents(ctx, db, device)
	}()

	if radio != nil {
		radio.StartMonitoring(nil)
		defer radio.StopMonitoring()
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumeEvents(ctx, db, radio)
		}()
	}

	log.Printf("groundlink running; device on %s", device.Status().Port)
	<-ctx.Done()
	wg.Wait()
	return nil
}

// consumeEvents drains one session's stream into the database until the
// context is cancelled.
func consumeEvents(ctx context.Context, db *DB, sess *session.Session) {
	id, ch := sess.Events().Subscribe()
	defer sess.Events().Unsubscribe(id)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			handleEvent(db, sess.Channel(), ev)
		case <-ctx.Done():
			return
		}
	}
}

func handleEvent(db *DB, channel session.Channel, ev session.StreamEvent) {
	switch ev.Kind {
	case session.EventTelemetry:
		if ev.Record == nil {
			return
		}
		if err := db.RecordTelemetry(*ev.Record); err != nil {
			log.Printf("failed to record telemetry: %v", err)
		}
	case session.EventTerminal:
		if err := db.RecordTerminalLine(string(channel), ev.Line); err != nil {
			log.Printf("failed to record terminal line: %v", err)
		}
	case session.EventError:
		log.Printf("%s link error: %v", channel, ev.Err)
	}
}
