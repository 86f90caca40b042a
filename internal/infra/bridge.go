package infra

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/capguard/internal/domain"
)

// Bridge control messages that are not platform callbacks.
const (
	BridgeAck             = "ack"
	BridgeResync          = "resync"
	BridgePrimitiveFailed = "primitiveFailed"
)

const maxBridgeLine = 64 * 1024

// BridgeMessage is one line read from the host shell.
//
//	{"event":"onResume"}
//	{"event":"captureStateChanged","value":true}
//	{"event":"resync","foreground":true,"recording":false}
//	{"event":"ack"}
//	{"event":"primitiveFailed","primitive":"secure_flag","error":"SecurityException"}
type BridgeMessage struct {
	Event      string `json:"event"`
	Value      *bool  `json:"value,omitempty"`
	Foreground *bool  `json:"foreground,omitempty"`
	Recording  *bool  `json:"recording,omitempty"`
	Primitive  string `json:"primitive,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IsControl reports whether m is a bridge request rather than a platform
// callback.
func (m BridgeMessage) IsControl() bool {
	switch m.Event {
	case BridgeAck, BridgeResync, BridgePrimitiveFailed:
		return true
	}
	return false
}

// PlatformEvent converts m to a platform callback.
func (m BridgeMessage) PlatformEvent() domain.PlatformEvent {
	if m.Value != nil {
		return domain.NewPlatformEventWithValue(m.Event, *m.Value)
	}
	return domain.NewPlatformEvent(m.Event)
}

// ResyncState returns the queried state carried by a resync request.
// Missing fields default to foreground and not recording.
func (m BridgeMessage) ResyncState() (inForeground, isRecording bool) {
	inForeground = true
	if m.Foreground != nil {
		inForeground = *m.Foreground
	}
	if m.Recording != nil {
		isRecording = *m.Recording
	}
	return inForeground, isRecording
}

// EventDecoder reads newline-delimited BridgeMessages.
type EventDecoder struct {
	scanner *bufio.Scanner
	logger  *zap.Logger
	line    int
}

// NewEventDecoder creates a decoder over r.
func NewEventDecoder(r io.Reader, logger *zap.Logger) *EventDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxBridgeLine)
	return &EventDecoder{scanner: scanner, logger: logger}
}

// Next returns the next well-formed message. Blank and malformed lines are
// skipped. Returns io.EOF when the input is exhausted.
func (d *EventDecoder) Next() (BridgeMessage, error) {
	for d.scanner.Scan() {
		d.line++
		text := strings.TrimSpace(d.scanner.Text())
		if text == "" {
			continue
		}

		var msg BridgeMessage
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			d.logger.Warn("skipping malformed bridge line",
				zap.Int("line", d.line),
				zap.Error(err))
			continue
		}
		msg.Event = strings.TrimSpace(msg.Event)
		if msg.Event == "" {
			d.logger.Warn("skipping bridge line without event", zap.Int("line", d.line))
			continue
		}
		return msg, nil
	}

	if err := d.scanner.Err(); err != nil {
		return BridgeMessage{}, fmt.Errorf("failed to read bridge input: %w", err)
	}
	return BridgeMessage{}, io.EOF
}

// Pump decodes messages into out until EOF or ctx is done, then closes out.
func (d *EventDecoder) Pump(ctx context.Context, out chan<- BridgeMessage) error {
	defer close(out)
	for {
		msg, err := d.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// BridgeCommand is one line written to the host shell.
type BridgeCommand struct {
	Primitive string           `json:"primitive,omitempty"`
	Value     *bool            `json:"value,omitempty"`
	Decision  *domain.Decision `json:"decision,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// Primitive names used on the wire.
const (
	PrimitiveSecureFlag    = "secure_flag"
	PrimitiveOpaqueCover   = "opaque_cover"
	PrimitiveWindowVisible = "window_visible"
)

// JSONHostWindow implements domain.HostWindow by writing primitive commands
// as JSON lines. The host shell performs them.
type JSONHostWindow struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONHostWindow creates a host window writing to w.
func NewJSONHostWindow(w io.Writer) *JSONHostWindow {
	return &JSONHostWindow{enc: json.NewEncoder(w)}
}

// SetSecureRenderingFlag sends secure_flag.
func (h *JSONHostWindow) SetSecureRenderingFlag(secure bool) error {
	return h.primitive(PrimitiveSecureFlag, secure)
}

// ShowOpaqueCover sends opaque_cover true.
func (h *JSONHostWindow) ShowOpaqueCover() error {
	return h.primitive(PrimitiveOpaqueCover, true)
}

// HideOpaqueCover sends opaque_cover false.
func (h *JSONHostWindow) HideOpaqueCover() error {
	return h.primitive(PrimitiveOpaqueCover, false)
}

// SetWindowVisible sends window_visible.
func (h *JSONHostWindow) SetWindowVisible(visible bool) error {
	return h.primitive(PrimitiveWindowVisible, visible)
}

// ReportDecision tells the host shell the decision after a step.
func (h *JSONHostWindow) ReportDecision(d domain.Decision, applyErr error) error {
	cmd := BridgeCommand{Decision: &d}
	if applyErr != nil {
		cmd.Error = applyErr.Error()
	}
	return h.write(cmd)
}

func (h *JSONHostWindow) primitive(name string, value bool) error {
	return h.write(BridgeCommand{Primitive: name, Value: &value})
}

func (h *JSONHostWindow) write(cmd BridgeCommand) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.enc.Encode(cmd); err != nil {
		return fmt.Errorf("failed to write bridge command: %w", err)
	}
	return nil
}

// Ensure JSONHostWindow implements domain.HostWindow.
var _ domain.HostWindow = (*JSONHostWindow)(nil)
