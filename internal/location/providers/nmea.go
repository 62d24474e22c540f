package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/adrianmo/go-nmea"
	"go.bug.st/serial"

	"github.com/i474232898/birdnet-display/internal/location"
)

// NMEA sentences are at most 82 bytes; anything longer without a line break
// is noise, e.g. a baud rate mismatch.
const maxPendingBytes = 1024

// PortOpener opens the serial device. Tests substitute an in-memory reader.
type PortOpener func(device string, baud int) (io.ReadCloser, error)

// OpenSerial opens a real serial port with a short read timeout so the
// reader can observe context cancellation.
func OpenSerial(device string, baud int) (io.ReadCloser, error) {
	port, err := serial.Open(device, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := port.SetReadTimeout(500 * time.Millisecond); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}

// SerialNMEA reads GGA/RMC sentences straight from a GPS receiver, for
// devices that run without gpsd.
type SerialNMEA struct {
	device string
	baud   int
	open   PortOpener
}

func NewSerialNMEA(device string, baud int, open PortOpener) *SerialNMEA {
	if baud <= 0 {
		baud = 9600
	}
	if open == nil {
		open = OpenSerial
	}
	return &SerialNMEA{device: device, baud: baud, open: open}
}

func (p *SerialNMEA) Name() string { return "nmea:" + p.device }

func (p *SerialNMEA) Source() location.Source { return location.SourceGPS }

func (p *SerialNMEA) Attempt(ctx context.Context) (location.Reading, error) {
	port, err := p.open(p.device, p.baud)
	if err != nil {
		return location.Reading{}, err
	}
	defer port.Close()

	var (
		buf  = make([]byte, 256)
		line []byte
	)
	for {
		if err := ctx.Err(); err != nil {
			return location.Reading{}, fmt.Errorf("%w: %w", errNoFix, err)
		}

		n, err := port.Read(buf)
		if n > 0 {
			var sentences []string
			sentences, line = splitSentences(append(line, buf[:n]...))
			for _, sentence := range sentences {
				if r, ok := parseSentence(sentence); ok {
					r.Provider = p.Name()
					return r, nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return location.Reading{}, errNoFix
			}
			return location.Reading{}, fmt.Errorf("read %s: %w", p.device, err)
		}
	}
}

// splitSentences returns the complete lines in buf and the unterminated rest.
// The rest is discarded once it exceeds maxPendingBytes.
func splitSentences(buf []byte) ([]string, []byte) {
	var out []string
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		out = append(out, string(bytes.TrimSpace(buf[:i])))
		buf = buf[i+1:]
	}
	if len(buf) > maxPendingBytes {
		buf = nil
	}
	return out, buf
}

func parseSentence(raw string) (location.Reading, bool) {
	if raw == "" {
		return location.Reading{}, false
	}
	s, err := nmea.Parse(raw)
	if err != nil {
		return location.Reading{}, false
	}

	var lat, lon float64
	switch m := s.(type) {
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return location.Reading{}, false
		}
		lat, lon = m.Latitude, m.Longitude
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return location.Reading{}, false
		}
		lat, lon = m.Latitude, m.Longitude
	default:
		return location.Reading{}, false
	}

	r := location.Reading{Latitude: lat, Longitude: lon, Source: location.SourceGPS}
	if r.Validate() != nil {
		return location.Reading{}, false
	}
	return r, true
}
