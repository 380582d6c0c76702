package agents

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/bt-bridge/mediasession"
	"github.com/bt-bridge/mediasession/shared"
	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

const helpText = `camera        request camera access
mic           request microphone access
devices       list cameras from the last enumeration
switch [n]    switch to camera n, or toggle facing mode
mute          toggle microphone mute
shot [file]   capture a still image, optionally saving it
listen        start speech transcription
stop          stop speech transcription
state         dump the session state
quit          leave`

// CLIAgent drives a Page from a line-oriented terminal.
type CLIAgent struct {
	logger  shared.LoggerAdapter
	printer *shared.Printer
	page    *mediasession.Page

	mu   sync.Mutex
	last mediasession.SessionState
	seen bool
}

func NewCLIAgent(logger shared.LoggerAdapter, printer *shared.Printer, page *mediasession.Page) (*CLIAgent, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if printer == nil {
		return nil, errors.New("no printer provided")
	}
	if page == nil {
		return nil, errors.New("no page provided")
	}
	return &CLIAgent{
		logger:  logger.With(zap.String("component", "cli-agent"), zap.String("page", page.ID())),
		printer: printer,
		page:    page,
	}, nil
}

// Attach registers the agent's listeners on the page. Call it before
// mounting so the first state change is rendered.
func (a *CLIAgent) Attach() {
	a.page.Subscribe(a.onState)
	a.page.OnImage(a.onImage)
	a.page.OnFailure(a.onFailure)
	if err := a.page.OnTranscript(a.onTranscript); err != nil && !errors.Is(err, shared.ErrUnsupported) {
		a.logger.Error("registering transcript handler", err)
	}
}

// Run reads commands from in until quit, EOF or ctx is done.
func (a *CLIAgent) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.print(0, "📷 %s page. Type \"help\" for commands.", a.page.Config().PageName)
	a.printStatus(a.page.State())

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			quit, err := a.Execute(ctx, line)
			if err != nil {
				a.logger.Warn("command failed", zap.String("command", line), zap.Error(err))
				a.print(1, "❌ %v", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Execute runs one command line.
func (a *CLIAgent) Execute(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	args := fields[1:]
	switch fields[0] {
	case "help", "?":
		a.print(1, "%s", helpText)
	case "camera":
		a.request(ctx, mediasession.MediaKindCamera)
	case "mic", "microphone":
		a.request(ctx, mediasession.MediaKindMicrophone)
	case "devices":
		a.printDevices(a.page.State())
	case "switch":
		return false, a.switchDevice(args)
	case "mute":
		if err := a.page.ToggleMute(); err != nil {
			return false, err
		}
		if a.page.State().IsMuted {
			a.print(1, "🔇 muted")
		} else {
			a.print(1, "🔊 unmuted")
		}
	case "shot":
		return false, a.capture(ctx, args)
	case "listen":
		if err := a.page.StartTranscription(ctx); err != nil {
			return false, err
		}
		a.print(1, "🎙️ listening...")
	case "stop":
		if err := a.page.StopTranscription(); err != nil {
			return false, err
		}
		a.print(1, "🎙️ stopped listening")
	case "state":
		return false, a.dumpState()
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
	return false, nil
}

func (a *CLIAgent) request(ctx context.Context, kind mediasession.MediaKind) {
	out := a.page.RequestAccess(ctx, kind)
	switch {
	case out.Stale:
		a.print(1, "⏭️ %s request superseded", kind)
	case out.Err != nil:
		// onFailure reports it.
	default:
		a.print(1, "✅ %s %s", kind, out.Status)
	}
}

func (a *CLIAgent) switchDevice(args []string) error {
	if len(args) == 0 {
		if err := a.page.SwitchDevice(nil); err != nil {
			return err
		}
		a.print(1, "🔄 switched to %s", a.page.State().Selector)
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("device index %q: %w", args[0], err)
	}
	devices := a.page.State().AvailableDevices
	if n < 0 || n >= len(devices) {
		return fmt.Errorf("device index %d out of range, %d known", n, len(devices))
	}
	device := devices[n]
	if err := a.page.SwitchDevice(&device); err != nil {
		return err
	}
	a.print(1, "🔄 switched to %s", device.Label)
	return nil
}

func (a *CLIAgent) capture(ctx context.Context, args []string) error {
	img, err := a.page.CaptureImage(ctx)
	if errors.Is(err, shared.ErrNoActiveStream) {
		a.print(1, "📷 no live camera stream, request camera access first")
		return nil
	}
	if err != nil {
		return err
	}
	if len(args) > 0 {
		if err := os.WriteFile(args[0], img.Data, 0o644); err != nil {
			return fmt.Errorf("saving image: %w", err)
		}
		a.print(1, "💾 saved %s", args[0])
	}
	return nil
}

func (a *CLIAgent) dumpState() error {
	out, err := yaml.Marshal(a.page.State())
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	a.print(1, "%s", strings.TrimRight(string(out), "\n"))
	return nil
}

func (a *CLIAgent) onState(st mediasession.SessionState) {
	a.mu.Lock()
	changed := !a.seen ||
		st.CameraPermission != a.last.CameraPermission ||
		st.MicrophonePermission != a.last.MicrophonePermission ||
		st.IsMuted != a.last.IsMuted
	a.last, a.seen = st, true
	a.mu.Unlock()
	if changed {
		a.printStatus(st)
	}
}

func (a *CLIAgent) onImage(img *mediasession.CapturedImage) {
	a.print(1, "📸 captured %dx%d %s (%d bytes)", img.Width, img.Height, img.Format, len(img.Data))
}

func (a *CLIAgent) onFailure(kind mediasession.MediaKind, class string, err error) {
	a.print(1, "❌ Unable to access %s (%s): %v", kind, class, err)
}

func (a *CLIAgent) onTranscript(text string) {
	a.print(1, "🗣️ %s", text)
}

func (a *CLIAgent) printStatus(st mediasession.SessionState) {
	a.print(0, "Camera permission: %s | Microphone permission: %s | muted: %t",
		statusLabel(st.CameraPermission), statusLabel(st.MicrophonePermission), st.IsMuted)
}

func (a *CLIAgent) printDevices(st mediasession.SessionState) {
	if len(st.AvailableDevices) == 0 {
		a.print(1, "no cameras listed")
		return
	}
	for i, d := range st.AvailableDevices {
		marker := " "
		if st.Selector.DeviceID() == d.ID {
			marker = "*"
		}
		a.print(1, "%s %d: %s", marker, i, d.Label)
	}
}

func statusLabel(s mediasession.PermissionStatus) string {
	if s == mediasession.PermissionChecking {
		return "Checking..."
	}
	return s.String()
}

func (a *CLIAgent) print(ind int, format string, args ...any) {
	if err := a.printer.Writef(ind, format, args...); err != nil {
		a.logger.Error("printing", err)
	}
}
