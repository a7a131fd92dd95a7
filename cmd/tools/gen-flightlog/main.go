// Command gen-flightlog generates a synthetic binary flight log for testing
// the decoder and the offline tooling.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/stratodata/groundlink/internal/telemetry"
)

func main() {
	output := flag.String("o", "flight.bin", "output path")
	packets := flag.Int("n", 600, "number of packets")
	periodMs := flag.Uint("period", 100, "milliseconds between packets")
	seed := flag.Int64("seed", 1, "random seed for sensor noise")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create %s: %v", *output, err)
	}
	defer f.Close()

	for i := 0; i < *packets; i++ {
		t := float64(i) * float64(*periodMs) / 1000.0
		p := telemetry.Packet{
			TimeMs:       uint32(i) * uint32(*periodMs),
			TemperatureC: 25.0 - t*0.05,
			PressurePa:   pressureAt(t),
			Mag: telemetry.Vector3{
				X: int16(300 + rng.Intn(20)),
				Y: int16(-120 + rng.Intn(20)),
				Z: int16(450 + rng.Intn(20)),
			},
			Accel: telemetry.Vector3{
				X: int16(rng.Intn(100) - 50),
				Y: int16(rng.Intn(100) - 50),
				Z: int16(1000 + rng.Intn(40) - 20),
			},
			GyroX:        float64(rng.Intn(40)-20) / 10.0,
			GyroY:        float64(rng.Intn(40)-20) / 10.0,
			GyroZ:        float64(rng.Intn(40)-20) / 10.0,
			LatitudeDeg:  48.8584 + t*1e-6,
			LongitudeDeg: 2.2945 + t*1e-6,
			Flags:        telemetry.FlagArmed | telemetry.FlagGPSFix | telemetry.FlagDataLogging | telemetry.FlagTelemetryActive,
		}
		if _, err := f.Write(telemetry.EncodePacket(p)); err != nil {
			log.Fatalf("write packet %d: %v", i, err)
		}
	}
	log.Printf("wrote %d packets (%d bytes) to %s", *packets, *packets*telemetry.PacketSize, *output)
}

// pressureAt models a slow ascent and descent: pressure drops from sea level
// toward apogee at t=30s and recovers after.
func pressureAt(t float64) uint32 {
	apogee := 30.0
	climb := 1.0 - math.Abs(t-apogee)/apogee
	if climb < 0 {
		climb = 0
	}
	return uint32(telemetry.SeaLevelPressurePa - climb*5000.0)
}
