// internal/browser/humanoid/movement.go
package humanoid

import (
	"context"

	"go.uber.org/zap"
)

// Move walks the pointer to target along PathTo, pausing mouse_move between steps.
func (h *Humanoid) Move(ctx context.Context, target Vector2D) error {
	if err := h.moveWithButton(ctx, target, ButtonNone); err != nil {
		return err
	}
	h.record(Event{Type: EventMove, Target: target})
	return nil
}

func (h *Humanoid) moveWithButton(ctx context.Context, target Vector2D, button MouseButton) error {
	start := h.Position()
	path := h.PathTo(start, target, h.cfg.UseCurve && h.cfg.Enabled)

	for pt := range path.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := MouseEvent{Type: MouseMove, X: pt.X, Y: pt.Y, Button: button}
		if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
			return wrap("move", err)
		}
		h.SetPosition(pt)
		if err := h.pause(ctx, h.cfg.Delays.MouseMove); err != nil {
			return err
		}
	}
	h.logger.Debug("Pointer moved.", zap.Float64("x", target.X), zap.Float64("y", target.Y))
	return nil
}

// press dispatches a press/release pair holding the button for a click delay.
func (h *Humanoid) press(ctx context.Context, at Vector2D, button MouseButton, clickCount int) error {
	down := MouseEvent{Type: MousePress, X: at.X, Y: at.Y, Button: button, ClickCount: clickCount}
	if err := h.executor.DispatchMouseEvent(ctx, down); err != nil {
		return wrap("press", err)
	}
	if err := h.pause(ctx, h.cfg.Delays.Click); err != nil {
		// Never leave a button held down.
		_ = h.release(context.WithoutCancel(ctx), at, button, clickCount)
		return err
	}
	return h.release(ctx, at, button, clickCount)
}

func (h *Humanoid) release(ctx context.Context, at Vector2D, button MouseButton, clickCount int) error {
	up := MouseEvent{Type: MouseRelease, X: at.X, Y: at.Y, Button: button, ClickCount: clickCount}
	return wrap("release", h.executor.DispatchMouseEvent(ctx, up))
}

func (h *Humanoid) clickWith(ctx context.Context, target Vector2D, button MouseButton, clicks int) error {
	if err := h.moveWithButton(ctx, target, ButtonNone); err != nil {
		return err
	}
	if err := h.pause(ctx, h.cfg.Delays.BeforeClick); err != nil {
		return err
	}
	for n := 1; n <= clicks; n++ {
		if err := h.press(ctx, target, button, n); err != nil {
			return err
		}
		if n < clicks {
			if err := h.pause(ctx, h.cfg.Delays.Click); err != nil {
				return err
			}
		}
	}
	return nil
}

// Click moves to target, waits a before_click pause and clicks the left button.
func (h *Humanoid) Click(ctx context.Context, target Vector2D) error {
	if err := h.clickWith(ctx, target, ButtonLeft, 1); err != nil {
		return err
	}
	h.record(Event{Type: EventClick, Target: target})
	return nil
}

// DoubleClick is Click with two presses, the second carrying clickCount 2.
func (h *Humanoid) DoubleClick(ctx context.Context, target Vector2D) error {
	if err := h.clickWith(ctx, target, ButtonLeft, 2); err != nil {
		return err
	}
	h.record(Event{Type: EventDoubleClick, Target: target})
	return nil
}

// RightClick is Click with the right button.
func (h *Humanoid) RightClick(ctx context.Context, target Vector2D) error {
	if err := h.clickWith(ctx, target, ButtonRight, 1); err != nil {
		return err
	}
	h.record(Event{Type: EventRightClick, Target: target})
	return nil
}

// Drag presses at from, moves to to with the button held, and releases there.
// The button is released even if the move fails.
func (h *Humanoid) Drag(ctx context.Context, from, to Vector2D) error {
	if err := h.moveWithButton(ctx, from, ButtonNone); err != nil {
		return err
	}
	if err := h.pause(ctx, h.cfg.Delays.BeforeClick); err != nil {
		return err
	}
	down := MouseEvent{Type: MousePress, X: from.X, Y: from.Y, Button: ButtonLeft, ClickCount: 1}
	if err := h.executor.DispatchMouseEvent(ctx, down); err != nil {
		return wrap("drag", err)
	}
	if err := h.pause(ctx, h.cfg.Delays.Click); err != nil {
		_ = h.release(context.WithoutCancel(ctx), from, ButtonLeft, 1)
		return err
	}
	if err := h.moveWithButton(ctx, to, ButtonLeft); err != nil {
		_ = h.release(context.WithoutCancel(ctx), h.Position(), ButtonLeft, 1)
		return err
	}
	if err := h.release(ctx, to, ButtonLeft, 1); err != nil {
		return err
	}
	h.record(Event{Type: EventDrag, Target: to})
	return nil
}
