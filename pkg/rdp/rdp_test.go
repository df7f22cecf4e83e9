package rdp

import (
	"strings"
	"testing"
)

func hasArg(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func TestBuildArgsBasic(t *testing.T) {
	s := Session{Host: "10.0.0.5", Port: 3389, Username: "admin", Password: "hunter2"}
	args := BuildArgs(s, nil)

	for _, want := range []string{
		"/u:admin",
		"/p:hunter2",
		"/v:10.0.0.5:3389",
		"/cert:ignore",
		"/dynamic-resolution",
		"/compression",
		"/auto-reconnect",
	} {
		if !hasArg(args, want) {
			t.Errorf("BuildArgs missing %q in %v", want, RedactArgs(args))
		}
	}

	// Default options: clipboard on, local audio, broadband quality
	if !hasArg(args, "/clipboard") {
		t.Error("default options should enable clipboard")
	}
	if !hasArg(args, "/audio-mode:0") {
		t.Error("default options should use local audio")
	}
	if !hasArg(args, "/bpp:16") || !hasArg(args, "/compression-level:1") {
		t.Error("default options should use broadband quality")
	}
}

func TestBuildArgsHostWithoutPort(t *testing.T) {
	args := BuildArgs(Session{Host: "srv.internal", Username: "u"}, nil)
	if !hasArg(args, "/v:srv.internal") {
		t.Errorf("zero port should omit the port suffix: %v", RedactArgs(args))
	}
}

func TestBuildArgsOptions(t *testing.T) {
	opts := &Options{
		Clipboard:    false,
		Printers:     true,
		MultiMonitor: true,
		Sound:        SoundBoth,
		Resolution:   "1920x1080",
		Quality:      QualityLAN,
	}
	args := BuildArgs(Session{Host: "h", Port: 3389, Username: "u"}, opts)

	if hasArg(args, "/clipboard") {
		t.Error("clipboard disabled but /clipboard present")
	}
	if !hasArg(args, "/printer") {
		t.Error("/printer missing")
	}
	if !hasArg(args, "/multimon") || !hasArg(args, "/span") {
		t.Error("multi-monitor args missing")
	}
	if !hasArg(args, "/audio-mode:2") {
		t.Error("/audio-mode:2 missing for SoundBoth")
	}
	if !hasArg(args, "/size:1920x1080") {
		t.Error("/size missing")
	}
	if !hasArg(args, "/bpp:32") || !hasArg(args, "/compression-level:0") {
		t.Error("LAN quality args missing")
	}
}

func TestBuildArgsQualityModem(t *testing.T) {
	args := BuildArgs(Session{Host: "h", Username: "u"}, &Options{Quality: QualityModem})
	if !hasArg(args, "/bpp:8") || !hasArg(args, "/compression-level:2") {
		t.Error("modem quality args missing")
	}
}

func TestRedactArgsMasksPassword(t *testing.T) {
	s := Session{Host: "h", Port: 3389, Username: "u", Password: "s3cret-value"}
	args := BuildArgs(s, nil)

	redacted := RedactArgs(args)
	joined := strings.Join(redacted, " ")
	if strings.Contains(joined, "s3cret-value") {
		t.Error("redacted args still contain the password")
	}
	if !strings.Contains(joined, "/p:****") {
		t.Error("redacted args missing the masked password argument")
	}

	// The original slice is untouched
	if !hasArg(args, "/p:s3cret-value") {
		t.Error("RedactArgs mutated its input")
	}
}
