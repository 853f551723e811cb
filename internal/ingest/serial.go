// v0
// internal/ingest/serial.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// SerialConfig describes how to reach the Arduino.
type SerialConfig struct {
	Path       string        // static device path, e.g. /dev/ttyACM0
	Override   string        // explicit path that wins over Path and auto-detect
	Baud       int           // line speed, 9600 on the stock sketch
	AutoDetect bool          // pick the port by Match instead of Path
	Match      string        // case-insensitive product/manufacturer substring
	ResetDelay time.Duration // the board reboots when the port opens
}

// ErrNoMatchingPort is returned when auto-detect finds no candidate.
var ErrNoMatchingPort = errors.New("no matching serial port")

// USB vendor ids of genuine Arduino boards and the CH340 bridge used by
// most clones.
var arduinoVendorIDs = map[string]bool{
	"2341": true,
	"2a03": true,
	"1a86": true,
}

type SerialSource struct {
	cfg  SerialConfig
	log  *slog.Logger
	list func() ([]*enumerator.PortDetails, error)
	open func(path string, mode *serial.Mode) (serial.Port, error)
}

func NewSerialSource(cfg SerialConfig, log *slog.Logger) *SerialSource {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Baud <= 0 {
		cfg.Baud = 9600
	}
	return &SerialSource{
		cfg:  cfg,
		log:  log,
		list: enumerator.GetDetailedPortsList,
		open: serial.Open,
	}
}

func (s *SerialSource) Name() string { return "serial" }

// Open resolves the port, opens it and waits out the board reset before
// handing the stream over.
func (s *SerialSource) Open(ctx context.Context) (io.ReadCloser, error) {
	path, err := s.resolvePath()
	if err != nil {
		return nil, err
	}
	port, err := s.open(path, &serial.Mode{BaudRate: s.cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	s.log.Info("serial_port_opened", slog.String("path", path), slog.Int("baud", s.cfg.Baud))

	if s.cfg.ResetDelay > 0 {
		t := time.NewTimer(s.cfg.ResetDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = port.Close()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		s.log.Warn("serial_flush_failed", slog.String("path", path), slog.Any("err", err))
	}
	return closeOnDone(ctx, port), nil
}

func (s *SerialSource) resolvePath() (string, error) {
	if p := strings.TrimSpace(s.cfg.Override); p != "" {
		return p, nil
	}
	if !s.cfg.AutoDetect {
		if strings.TrimSpace(s.cfg.Path) == "" {
			return "", errors.New("serial port path is empty")
		}
		return s.cfg.Path, nil
	}
	ports, err := s.list()
	if err != nil {
		return "", fmt.Errorf("list serial ports: %w", err)
	}
	port, ok := SelectPort(ports, s.cfg.Match)
	if !ok {
		return "", fmt.Errorf("%w (match %q, %d ports seen)", ErrNoMatchingPort, s.cfg.Match, len(ports))
	}
	s.log.Info("serial_port_detected",
		slog.String("path", port.Name),
		slog.String("product", port.Product),
		slog.String("vid", port.VID),
		slog.String("pid", port.PID),
	)
	return port.Name, nil
}

// SelectPort picks the first USB port whose product text contains match,
// falling back to the first port with a known Arduino vendor id.
func SelectPort(ports []*enumerator.PortDetails, match string) (*enumerator.PortDetails, bool) {
	needle := strings.ToLower(strings.TrimSpace(match))
	if needle != "" {
		for _, p := range ports {
			if p == nil || !p.IsUSB {
				continue
			}
			if strings.Contains(strings.ToLower(p.Product), needle) {
				return p, true
			}
		}
	}
	for _, p := range ports {
		if p == nil || !p.IsUSB {
			continue
		}
		if arduinoVendorIDs[strings.ToLower(p.VID)] {
			return p, true
		}
	}
	return nil, false
}

// ListPorts returns every serial port the OS reports.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
