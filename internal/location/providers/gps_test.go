package providers

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/i474232898/birdnet-display/internal/location"
)

type staticChecker struct {
	state string
	err   error
}

func (c staticChecker) ActiveState(ctx context.Context, unit string) (string, error) {
	return c.state, c.err
}

// fakeGPSD accepts one client, waits for the WATCH command and replies with lines.
func fakeGPSD(t *testing.T, lines ...string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		cmd, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil || !strings.HasPrefix(cmd, "?WATCH=") {
			return
		}
		for _, l := range lines {
			if _, err := io.WriteString(conn, l+"\n"); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestGPSDAttempt(t *testing.T) {
	addr := fakeGPSD(t,
		`{"class":"VERSION","release":"3.22"}`,
		`{"class":"TPV","mode":1}`,
		`{"class":"TPV","mode":3,"lat":33.749,"lon":-84.388}`,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := NewGPSD(addr, "", staticChecker{state: "active"}).Attempt(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Latitude != 33.749 || r.Longitude != -84.388 || r.Source != location.SourceGPS || r.Provider != "gpsd" {
		t.Fatalf("unexpected reading: %+v", r)
	}
}

func TestGPSDNoFixUntilClose(t *testing.T) {
	addr := fakeGPSD(t, `{"class":"TPV","mode":1}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewGPSD(addr, "", nil).Attempt(ctx)
	if !errors.Is(err, errNoFix) {
		t.Fatalf("expected errNoFix, got %v", err)
	}
}

func TestGPSDServiceInactive(t *testing.T) {
	_, err := NewGPSD("127.0.0.1:1", "gpsd.service", staticChecker{state: "inactive"}).Attempt(context.Background())
	if !errors.Is(err, location.ErrProviderFailure) {
		t.Fatalf("expected ErrProviderFailure, got %v", err)
	}
}

func TestParseTPV(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
	}{
		{`{"class":"TPV","mode":2,"lat":10.5,"lon":20.5}`, true},
		{`{"class":"TPV","mode":1,"lat":10.5,"lon":20.5}`, false},
		{`{"class":"TPV","mode":3}`, false},
		{`{"class":"SKY","mode":3,"lat":10.5,"lon":20.5}`, false},
		{`{"class":"TPV","mode":3,"lat":0,"lon":0}`, false},
		{`garbage`, false},
	}
	for _, tt := range tests {
		_, err := parseTPV([]byte(tt.line))
		if tt.ok != (err == nil) {
			t.Fatalf("parseTPV(%s): ok=%v err=%v", tt.line, tt.ok, err)
		}
	}
}

func TestParseSentence(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
		ok       bool
	}{
		{"gga fix", "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47", true},
		{"gga no fix", "$GPGGA,123519,4807.038,N,01131.000,E,0,00,0.9,545.4,M,46.9,M,,*4E", false},
		{"rmc valid", "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A", true},
		{"rmc void", "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D", false},
		{"other sentence", "$GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74", false},
		{"bad checksum", "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := parseSentence(tt.sentence)
			if ok != tt.ok {
				t.Fatalf("parseSentence ok=%v, want %v", ok, tt.ok)
			}
			if ok && (math.Abs(r.Latitude-48.1173) > 1e-3 || math.Abs(r.Longitude-11.5167) > 1e-3) {
				t.Fatalf("unexpected coordinates %+v", r)
			}
		})
	}
}

func TestSerialNMEAAttempt(t *testing.T) {
	data := "$GPGSV,3,1,11,03,03,111,00,04,15,270,00,06,01,010,00,13,06,292,00*74\r\n" +
		"$GPGGA,123519,4807.038,N,01131.000,E,0,00,0.9,545.4,M,46.9,M,,*4E\r\n" +
		"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"

	var opened string
	open := func(device string, baud int) (io.ReadCloser, error) {
		opened = device
		return io.NopCloser(strings.NewReader(data)), nil
	}

	p := NewSerialNMEA("/dev/ttyAMA0", 0, open)
	r, err := p.Attempt(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opened != "/dev/ttyAMA0" || r.Provider != "nmea:/dev/ttyAMA0" || r.Source != location.SourceGPS {
		t.Fatalf("unexpected reading %+v from %q", r, opened)
	}
}

func TestSerialNMEANoFix(t *testing.T) {
	open := func(device string, baud int) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("$GPGGA,123519,4807.038,N,01131.000,E,0,00,0.9,545.4,M,46.9,M,,*4E\r\n")), nil
	}
	_, err := NewSerialNMEA("/dev/ttyS0", 9600, open).Attempt(context.Background())
	if !errors.Is(err, errNoFix) {
		t.Fatalf("expected errNoFix, got %v", err)
	}

	failing := func(device string, baud int) (io.ReadCloser, error) {
		return nil, errors.New("no such device")
	}
	if _, err := NewSerialNMEA("/dev/ttyS9", 9600, failing).Attempt(context.Background()); err == nil {
		t.Fatalf("expected open error")
	}
}

func TestSplitSentences(t *testing.T) {
	got, rest := splitSentences([]byte("$GPGGA,1\r\n$GPRMC,2\r\n$GPG"))
	if len(got) != 2 || got[0] != "$GPGGA,1" || got[1] != "$GPRMC,2" || string(rest) != "$GPG" {
		t.Fatalf("unexpected split %q rest %q", got, rest)
	}

	noise := []byte(strings.Repeat("\xff", maxPendingBytes+1))
	if got, rest := splitSentences(noise); len(got) != 0 || len(rest) != 0 {
		t.Fatalf("unterminated noise kept: %d sentences, %d bytes", len(got), len(rest))
	}
}

func TestSerialNMEARecoversAfterNoise(t *testing.T) {
	data := strings.Repeat("\xfe\x00", 8*maxPendingBytes) +
		"\r\n$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"
	open := func(device string, baud int) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(data)), nil
	}
	r, err := NewSerialNMEA("/dev/ttyUSB0", 4800, open).Attempt(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(r.Latitude-48.1173) > 1e-3 {
		t.Fatalf("unexpected latitude %v", r.Latitude)
	}
}
