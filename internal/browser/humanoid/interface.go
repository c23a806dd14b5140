// internal/browser/humanoid/interface.go
package humanoid

import (
	"context"
	"encoding/json"
	"time"
)

// MouseEventType mirrors the CDP Input.dispatchMouseEvent types.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
)

// MouseButton mirrors the CDP button names.
type MouseButton string

const (
	ButtonNone  MouseButton = "none"
	ButtonLeft  MouseButton = "left"
	ButtonRight MouseButton = "right"
)

// MouseEvent is one low-level pointer event.
type MouseEvent struct {
	Type       MouseEventType
	X          float64
	Y          float64
	Button     MouseButton
	ClickCount int
}

// Executor is the low-level capability the simulator drives. The browser
// bridge implements it; tests use a recording mock.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, ev MouseEvent) error
	SendKeys(ctx context.Context, keys string) error
	Execute(ctx context.Context, script string, args ...any) (json.RawMessage, error)
}

// ControlKey defines constants for control characters used in SendKeys.
type ControlKey string

const (
	KeyBackspace ControlKey = "\b"
	KeyEnter     ControlKey = "\r"
	KeyTab       ControlKey = "\t"
)

// TypePattern selects the keystroke cadence.
type TypePattern string

const (
	TypeNatural TypePattern = "natural"
	TypeFast    TypePattern = "fast"
	TypeSlow    TypePattern = "slow"
)

// ScrollPattern selects how a scroll is performed.
type ScrollPattern string

const (
	ScrollNatural ScrollPattern = "natural"
	ScrollSmooth  ScrollPattern = "smooth"
	ScrollJump    ScrollPattern = "jump"
)
