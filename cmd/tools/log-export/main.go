// Command log-export decodes a binary flight log and exports it as CSV,
// printing the flight summary to stderr.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/stratodata/groundlink/internal/telemetry"
)

func main() {
	input := flag.String("i", "", "binary flight log to decode")
	output := flag.String("o", "", "CSV output path (default: stdout)")
	summaryJSON := flag.Bool("json", false, "print the summary as JSON instead of text")
	flag.Parse()

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	records, info, err := telemetry.DecodeFile(*input)
	if err != nil {
		log.Fatalf("decode %s: %v", *input, err)
	}
	if !info.Valid() {
		log.Printf("warning: %d trailing bytes ignored", info.TrailingBytes)
	}

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			log.Fatalf("create %s: %v", *output, err)
		}
		defer f.Close()
		out = f
	}
	if err := telemetry.WriteCSV(out, records); err != nil {
		log.Fatalf("write csv: %v", err)
	}

	summary := telemetry.Summarize(records)
	if *summaryJSON {
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			log.Fatalf("encode summary: %v", err)
		}
		return
	}
	log.Printf("%s", summary)
}
