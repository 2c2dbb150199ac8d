package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/nudge/internal/batch"
	"github.com/zulandar/nudge/internal/config"
)

func TestNewDaemonCmd_Flags(t *testing.T) {
	cmd := newDaemonCmd()
	for name, want := range map[string]string{
		"config":   "nudge.yaml",
		"schedule": "",
		"send":     "false",
		"port":     "0",
	} {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			t.Errorf("missing --%s flag", name)
			continue
		}
		if f.DefValue != want {
			t.Errorf("--%s default = %q, want %q", name, f.DefValue, want)
		}
	}
}

func TestDaemonMode(t *testing.T) {
	noCreds := &config.Config{Notify: config.NotifyConfig{Providers: []string{"sendgrid"}}}
	withCreds := &config.Config{Notify: config.NotifyConfig{
		Providers: []string{"sendgrid"},
		SendGrid:  config.SendGridConfig{APIKey: "SG.x"},
	}}
	liveByConfig := &config.Config{
		Notify: withCreds.Notify,
		Daemon: config.DaemonConfig{Live: true},
	}

	if m, err := daemonMode(noCreds, false); err != nil || m != batch.ModeSimulate {
		t.Errorf("default = %q, %v; want simulate", m, err)
	}
	if m, err := daemonMode(withCreds, true); err != nil || m != batch.ModeLive {
		t.Errorf("--send = %q, %v; want live", m, err)
	}
	if m, err := daemonMode(liveByConfig, false); err != nil || m != batch.ModeLive {
		t.Errorf("daemon.live = %q, %v; want live", m, err)
	}
	var ve *config.ValidationError
	if _, err := daemonMode(noCreds, true); !errors.As(err, &ve) {
		t.Errorf("live without credentials: err = %v, want ValidationError", err)
	}
}

func TestDaemonCmd_BadSchedule(t *testing.T) {
	f := writeFixture(t, "", "")
	_, err := executeCmd(t, "daemon", "-c", f.configPath, "--schedule", "whenever")
	if err == nil || !strings.Contains(err.Error(), "parse schedule") {
		t.Fatalf("err = %v, want parse schedule error", err)
	}
}

func TestNewDashboardCmd_Flags(t *testing.T) {
	cmd := newDashboardCmd()
	f := cmd.Flags().Lookup("port")
	if f == nil {
		t.Fatal("expected --port flag")
	}
	if f.Shorthand != "p" || f.DefValue != "0" {
		t.Errorf("--port = -%s default %q, want -p default 0", f.Shorthand, f.DefValue)
	}
}

func TestScheduleList_Empty(t *testing.T) {
	f := writeFixture(t, "", "")
	out, err := executeCmd(t, "schedule", "list", "--due", "-c", f.configPath)
	if err != nil {
		t.Fatalf("schedule list failed: %v", err)
	}
	if !strings.Contains(out, "No scheduled follow-ups.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestHistory_RequiresStudentID(t *testing.T) {
	if _, err := executeCmd(t, "history"); err == nil {
		t.Fatal("expected an argument error")
	}
}
