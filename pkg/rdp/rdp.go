// Package rdp builds and launches FreeRDP client invocations. The
// plaintext password enters the argument list exactly once and is
// redacted from every log line; nothing in this package persists it.
package rdp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Errors
var (
	ErrClientNotFound   = errors.New("rdp: client binary not found, install the freerdp package")
	ErrConnectionFailed = errors.New("rdp: connection failed")
)

// SoundMode selects where remote audio is played.
type SoundMode string

const (
	SoundLocal  SoundMode = "local"
	SoundRemote SoundMode = "remote"
	SoundBoth   SoundMode = "both"
	SoundOff    SoundMode = "off"
)

// Quality trades color depth and compression against bandwidth.
type Quality string

const (
	QualityModem     Quality = "modem"
	QualityBroadband Quality = "broadband"
	QualityLAN       Quality = "lan"
)

// Options are the per-connection client settings.
type Options struct {
	Clipboard    bool
	MountHome    bool
	Printers     bool
	MultiMonitor bool
	Sound        SoundMode
	Resolution   string // "1920x1080" etc.; empty means dynamic
	Quality      Quality
}

// DefaultOptions returns the settings used when the caller specifies
// nothing: clipboard shared, local audio, broadband quality.
func DefaultOptions() *Options {
	return &Options{
		Clipboard: true,
		Sound:     SoundLocal,
		Quality:   QualityBroadband,
	}
}

// Session is one connection target with its recovered credential.
type Session struct {
	Host     string
	Port     int
	Username string
	Password string
}

// BuildArgs constructs the client argument list for a session.
func BuildArgs(s Session, opts *Options) []string {
	if opts == nil {
		opts = DefaultOptions()
	}

	target := s.Host
	if s.Port > 0 {
		target = fmt.Sprintf("%s:%d", s.Host, s.Port)
	}

	args := []string{
		"/u:" + s.Username,
		"/p:" + s.Password,
		"/v:" + target,
		"/cert:ignore",
		"/dynamic-resolution",
		"/compression",
		"/auto-reconnect",
	}

	if opts.Clipboard {
		args = append(args, "/clipboard")
	}
	if opts.MountHome {
		if home, err := os.UserHomeDir(); err == nil {
			args = append(args, "/drive:home,"+home)
		}
	}

	switch opts.Sound {
	case SoundRemote:
		args = append(args, "/audio-mode:1")
	case SoundBoth:
		args = append(args, "/audio-mode:2")
	default:
		// Local playback and disabled audio both map to mode 0
		args = append(args, "/audio-mode:0")
	}

	if opts.Printers {
		args = append(args, "/printer")
	}
	if opts.MultiMonitor {
		args = append(args, "/multimon", "/span")
	}
	if opts.Resolution != "" {
		args = append(args, "/size:"+opts.Resolution)
	}

	switch opts.Quality {
	case QualityModem:
		args = append(args, "/bpp:8", "/compression-level:2")
	case QualityLAN:
		args = append(args, "/bpp:32", "/compression-level:0")
	default:
		args = append(args, "/bpp:16", "/compression-level:1")
	}

	return args
}

// RedactArgs returns a copy of args safe for logging: the password
// argument is masked.
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "/p:") {
			out[i] = "/p:****"
		} else {
			out[i] = a
		}
	}
	return out
}

// Launcher runs the configured RDP client.
type Launcher struct {
	client    string
	extraArgs []string
}

// NewLauncher creates a launcher for the given client binary. extraArgs
// are appended to every invocation after the generated arguments.
func NewLauncher(client string, extraArgs []string) *Launcher {
	return &Launcher{client: client, extraArgs: extraArgs}
}

// Client returns the configured client binary.
func (l *Launcher) Client() string {
	return l.client
}

// Connect launches the client and blocks until the session ends or ctx
// is canceled.
func (l *Launcher) Connect(ctx context.Context, s Session, opts *Options) error {
	args := BuildArgs(s, opts)
	args = append(args, l.extraArgs...)

	log.Printf("rdp: connecting to %s as %s", s.Host, s.Username)
	log.Printf("rdp: command: %s %s", l.client, strings.Join(RedactArgs(args), " "))

	cmd := exec.CommandContext(ctx, l.client, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrClientNotFound, l.client)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s exited with code %d", ErrConnectionFailed, l.client, exitErr.ExitCode())
		}
		return fmt.Errorf("rdp: failed to run %s: %w", l.client, err)
	}
	return nil
}
