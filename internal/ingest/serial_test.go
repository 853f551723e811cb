// v0
// internal/ingest/serial_test.go
package ingest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// fakePort implements the serial.Port calls the source makes.
type fakePort struct {
	serial.Port
	r       io.Reader
	flushed bool
	closed  bool
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }
func (p *fakePort) ResetInputBuffer() error    { p.flushed = true; return nil }
func (p *fakePort) Close() error               { p.closed = true; return nil }

func testPorts() []*enumerator.PortDetails {
	return []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R USB UART"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1A86", PID: "7523", Product: "USB Serial"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"},
	}
}

func TestSelectPortByProduct(t *testing.T) {
	p, ok := SelectPort(testPorts(), "arduino")
	if !ok || p.Name != "/dev/ttyACM0" {
		t.Fatalf("expected /dev/ttyACM0, got %+v ok=%v", p, ok)
	}
	p, ok = SelectPort(testPorts(), "ft232")
	if !ok || p.Name != "/dev/ttyUSB0" {
		t.Fatalf("expected /dev/ttyUSB0, got %+v ok=%v", p, ok)
	}
}

func TestSelectPortFallsBackToVendor(t *testing.T) {
	p, ok := SelectPort(testPorts(), "no-such-board")
	if !ok || p.Name != "/dev/ttyUSB1" {
		t.Fatalf("expected vendor fallback to /dev/ttyUSB1, got %+v ok=%v", p, ok)
	}
}

func TestSelectPortNoCandidate(t *testing.T) {
	ports := []*enumerator.PortDetails{{Name: "/dev/ttyS0"}, nil}
	if _, ok := SelectPort(ports, "arduino"); ok {
		t.Fatalf("expected no match")
	}
}

func TestResolvePath(t *testing.T) {
	listed := func() ([]*enumerator.PortDetails, error) { return testPorts(), nil }

	cases := []struct {
		name string
		cfg  SerialConfig
		want string
	}{
		{"static", SerialConfig{Path: "/dev/ttyACM9"}, "/dev/ttyACM9"},
		{"override wins over static", SerialConfig{Path: "/dev/ttyACM9", Override: "/dev/cu.usbmodem1"}, "/dev/cu.usbmodem1"},
		{"override wins over detect", SerialConfig{AutoDetect: true, Match: "arduino", Override: "COM4"}, "COM4"},
		{"auto detect", SerialConfig{AutoDetect: true, Match: "arduino"}, "/dev/ttyACM0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSerialSource(tc.cfg, quietLogger())
			s.list = listed
			got, err := s.resolvePath()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestResolvePathNoMatch(t *testing.T) {
	s := NewSerialSource(SerialConfig{AutoDetect: true, Match: "arduino"}, quietLogger())
	s.list = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{{Name: "/dev/ttyS0"}}, nil
	}
	_, err := s.resolvePath()
	if !errors.Is(err, ErrNoMatchingPort) {
		t.Fatalf("expected ErrNoMatchingPort, got %v", err)
	}
}

func TestResolvePathEmpty(t *testing.T) {
	s := NewSerialSource(SerialConfig{}, quietLogger())
	if _, err := s.resolvePath(); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSerialOpenWrapsError(t *testing.T) {
	boom := errors.New("permission denied")
	s := NewSerialSource(SerialConfig{Path: "/dev/ttyACM0"}, quietLogger())
	s.open = func(string, *serial.Mode) (serial.Port, error) { return nil, boom }

	_, err := s.Open(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if !strings.Contains(err.Error(), "/dev/ttyACM0") {
		t.Fatalf("expected path in error, got %v", err)
	}
}

func TestSerialOpenStreams(t *testing.T) {
	port := &fakePort{r: strings.NewReader("{\"light\":1}\n")}
	var gotMode *serial.Mode
	s := NewSerialSource(SerialConfig{Path: "/dev/ttyACM0", Baud: 115200}, quietLogger())
	s.open = func(path string, mode *serial.Mode) (serial.Port, error) {
		gotMode = mode
		return port, nil
	}

	rc, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "{\"light\":1}\n" {
		t.Fatalf("unexpected stream content %q", data)
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if gotMode == nil || gotMode.BaudRate != 115200 {
		t.Fatalf("expected baud 115200, got %+v", gotMode)
	}
	if !port.flushed || !port.closed {
		t.Fatalf("expected flush and close, got flushed=%v closed=%v", port.flushed, port.closed)
	}
}

func TestSerialOpenCancelledDuringReset(t *testing.T) {
	port := &fakePort{r: strings.NewReader("")}
	s := NewSerialSource(SerialConfig{Path: "/dev/ttyACM0", ResetDelay: 1 << 40}, quietLogger())
	s.open = func(string, *serial.Mode) (serial.Port, error) { return port, nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !port.closed {
		t.Fatalf("expected port closed after cancel")
	}
}
