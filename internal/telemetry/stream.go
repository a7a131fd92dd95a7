package telemetry

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/stratodata/groundlink/internal/monitoring"
)

// Decoder reads fixed-size frames from a byte source and decodes them one at
// a time. The sequence is finite for file sources and is not restartable;
// re-open the source to replay. A decode failure on one frame does not stop
// the stream: the decoder reports the error and resumes at the next 34-byte
// stride.
type Decoder struct {
	r        io.Reader
	frame    [PacketSize]byte
	count    int
	trailing int
	done     bool
}

// NewDecoder wraps a byte source in a frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next decoded packet. It returns io.EOF once the source is
// exhausted; a trailing partial frame is dropped and counted, never
// returned as data.
func (d *Decoder) Next() (Packet, error) {
	if d.done {
		return Packet{}, io.EOF
	}

	n, err := io.ReadFull(d.r, d.frame[:])
	if err == io.EOF {
		d.done = true
		return Packet{}, io.EOF
	}
	if err == io.ErrUnexpectedEOF {
		d.done = true
		d.trailing = n
		return Packet{}, io.EOF
	}
	if err != nil {
		d.done = true
		return Packet{}, fmt.Errorf("read frame %d: %w", d.count, err)
	}

	p, err := DecodePacket(d.frame[:])
	if err != nil {
		// Cannot happen for a full frame, but keep the skip-and-continue
		// contract: a bad frame never aborts the stream.
		return Packet{}, err
	}
	d.count++
	return p, nil
}

// Count returns the number of packets decoded so far.
func (d *Decoder) Count() int { return d.count }

// TrailingBytes returns the size of the dropped partial frame at the end of
// the source, or 0.
func (d *Decoder) TrailingBytes() int { return d.trailing }

// Info describes a decoded capture.
type Info struct {
	Path          string `json:"path,omitempty"`
	ByteCount     int64  `json:"byte_count"`
	PacketCount   int    `json:"packet_count"`
	TrailingBytes int    `json:"trailing_bytes"`
	SkippedFrames int    `json:"skipped_frames"`
}

// Valid reports whether the capture length was an exact multiple of the
// frame size.
func (i Info) Valid() bool { return i.TrailingBytes == 0 }

// DecodeAll decodes every frame from r, sorts the result by ascending
// time_ms and computes derived values against the first packet's time_ms as
// epoch zero. Trailing bytes and skipped frames are reported through Info,
// not as errors.
func DecodeAll(r io.Reader) ([]Record, Info, error) {
	dec := NewDecoder(r)

	var packets []Packet
	var info Info
	for {
		p, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			info.SkippedFrames++
			monitoring.Logf("telemetry: skipping frame %d: %v", dec.Count()+info.SkippedFrames, err)
			continue
		}
		packets = append(packets, p)
	}

	info.PacketCount = dec.Count()
	info.TrailingBytes = dec.TrailingBytes()
	info.ByteCount = int64(dec.Count())*PacketSize + int64(dec.TrailingBytes())
	if info.TrailingBytes > 0 {
		monitoring.Logf("telemetry: capture length not a multiple of %d bytes; ignoring %d trailing bytes", PacketSize, info.TrailingBytes)
	}

	return buildRecords(packets), info, nil
}

// DecodeFile decodes a binary flight log from disk.
func DecodeFile(path string) ([]Record, Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("open flight log: %w", err)
	}
	defer f.Close()

	records, info, err := DecodeAll(f)
	info.Path = path
	return records, info, err
}

// FileInfo stats a flight log without decoding it.
func FileInfo(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat flight log: %w", err)
	}
	return Info{
		Path:          path,
		ByteCount:     st.Size(),
		PacketCount:   int(st.Size() / PacketSize),
		TrailingBytes: int(st.Size() % PacketSize),
	}, nil
}

// buildRecords orders packets by time and derives the computed values. The
// first packet (after ordering) defines the stream epoch; its speed is 0
// because there is no previous sample to differentiate against.
func buildRecords(packets []Packet) []Record {
	if len(packets) == 0 {
		return nil
	}

	sort.SliceStable(packets, func(i, j int) bool {
		return packets[i].TimeMs < packets[j].TimeMs
	})

	epoch := packets[0].TimeMs
	records := make([]Record, 0, len(packets))
	for i, p := range packets {
		var prev *Record
		if i > 0 {
			prev = &records[i-1]
		}
		records = append(records, NewRecord(p, epoch, prev))
	}
	return records
}
