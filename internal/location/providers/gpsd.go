package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/birdnet-display/internal/location"
)

const (
	DefaultGPSDAddr = "127.0.0.1:2947"
	DefaultGPSDUnit = "gpsd.service"

	gpsdWatch = `?WATCH={"enable":true,"json":true}` + "\n"
)

var errNoFix = errors.New("no gps fix")

// UnitChecker reports the ActiveState of a service unit.
type UnitChecker interface {
	ActiveState(ctx context.Context, unit string) (string, error)
}

// SystemdChecker asks systemd over the system D-Bus.
type SystemdChecker struct{}

func (SystemdChecker) ActiveState(ctx context.Context, unit string) (string, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return "", fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	manager := conn.Object("org.freedesktop.systemd1", "/org/freedesktop/systemd1")
	var unitPath dbus.ObjectPath
	call := manager.CallWithContext(ctx, "org.freedesktop.systemd1.Manager.GetUnit", 0, unit)
	if call.Err != nil {
		// GetUnit fails for units that are not loaded at all.
		return "inactive", nil
	}
	if err := call.Store(&unitPath); err != nil {
		return "", err
	}

	state, err := conn.Object("org.freedesktop.systemd1", unitPath).GetProperty("org.freedesktop.systemd1.Unit.ActiveState")
	if err != nil {
		return "", fmt.Errorf("read ActiveState: %w", err)
	}
	s, ok := state.Value().(string)
	if !ok {
		return "", fmt.Errorf("unexpected ActiveState type %T", state.Value())
	}
	return s, nil
}

// GPSD reads a fix from a running gpsd daemon.
type GPSD struct {
	addr    string
	unit    string
	checker UnitChecker
}

// NewGPSD returns a gpsd provider. A nil checker skips the service check.
func NewGPSD(addr, unit string, checker UnitChecker) *GPSD {
	if addr == "" {
		addr = DefaultGPSDAddr
	}
	if unit == "" {
		unit = DefaultGPSDUnit
	}
	return &GPSD{addr: addr, unit: unit, checker: checker}
}

func (p *GPSD) Name() string { return "gpsd" }

func (p *GPSD) Source() location.Source { return location.SourceGPS }

// Attempt waits for the first TPV report with a 2D or 3D fix until ctx expires.
func (p *GPSD) Attempt(ctx context.Context) (location.Reading, error) {
	if p.checker != nil {
		state, err := p.checker.ActiveState(ctx, p.unit)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("unit", p.unit).Msg("gpsd: service check unavailable, trying socket")
		case state != "active":
			return location.Reading{}, fmt.Errorf("%w: %s is %s", location.ErrProviderFailure, p.unit, state)
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return location.Reading{}, fmt.Errorf("dial gpsd: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock the scanner if ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write([]byte(gpsdWatch)); err != nil {
		return location.Reading{}, fmt.Errorf("enable watch: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		r, err := parseTPV(scanner.Bytes())
		if err != nil {
			continue
		}
		r.Provider = p.Name()
		return r, nil
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return location.Reading{}, fmt.Errorf("%w: %w", errNoFix, ctx.Err())
		}
		return location.Reading{}, fmt.Errorf("read gpsd: %w", err)
	}
	return location.Reading{}, errNoFix
}

type tpvReport struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
}

// parseTPV accepts only TPV reports with mode >= 2 and valid coordinates.
func parseTPV(line []byte) (location.Reading, error) {
	var rep tpvReport
	if err := json.Unmarshal(line, &rep); err != nil {
		return location.Reading{}, err
	}
	if rep.Class != "TPV" {
		return location.Reading{}, fmt.Errorf("not a TPV report: %s", rep.Class)
	}
	if rep.Mode < 2 || rep.Lat == nil || rep.Lon == nil {
		return location.Reading{}, errNoFix
	}
	r := location.Reading{
		Latitude:  *rep.Lat,
		Longitude: *rep.Lon,
		Source:    location.SourceGPS,
	}
	if err := r.Validate(); err != nil {
		return location.Reading{}, err
	}
	return r, nil
}
