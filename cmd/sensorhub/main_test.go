// v0
// cmd/sensorhub/main_test.go
package main

import (
	"bytes"
	"strings"
	"testing"

	"go.bug.st/serial/enumerator"
)

func TestPrintPortsMarksSelection(t *testing.T) {
	var out bytes.Buffer
	cmd := portsCmd(new(string))
	cmd.SetOut(&out)

	ports := []*enumerator.PortDetails{
		{Name: "/dev/ttyS0"},
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043", Product: "Arduino Uno"},
	}
	if err := printPorts(cmd, ports, "arduino"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var marked string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "*") {
			marked = line
		}
	}
	if !strings.Contains(marked, "/dev/ttyACM0") || !strings.Contains(marked, "2341:0043") {
		t.Fatalf("expected the Arduino port to be marked, got output:\n%s", out.String())
	}
}

func TestPrintPortsEmpty(t *testing.T) {
	var out bytes.Buffer
	cmd := portsCmd(new(string))
	cmd.SetOut(&out)
	if err := printPorts(cmd, nil, "arduino"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "no serial ports found") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSimulateCommandWritesLines(t *testing.T) {
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"simulate", "--count", "2", "--interval", "1ms", "--seed", "5"})

	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], `{"light":`) {
		t.Fatalf("unexpected simulate output %q", out.String())
	}
}

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "ports", "simulate"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Fatalf("expected %s command, got %v (%v)", name, c, err)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("expected --config flag")
	}
}
