// Package run drives the game adapter frame by frame: it holds the
// frame-indexed input curves, the sparse snapshot ladder used to seek
// cheaply, and the background worker that keeps that ladder warm.
package run

import (
	"math"
	"sort"

	"github.com/massung/tasreplay/game"
)

// Interpolation selects how a Curve fills the gap between two keyframes.
type Interpolation int

const (
	Hold Interpolation = iota
	Linear
)

// Keyframe is one authored sample on a Curve.
type Keyframe struct {
	Frame         int
	Value         int64
	Interpolation Interpolation
}

// Curve is a function of frame number defined by keyframes: it takes a
// keyframe's value wherever one is present, and otherwise interpolates
// between the two nearest keyframes using the earlier one's interpolation
// method. Before the first keyframe the value is zero; after the last, it
// holds that keyframe's value.
type Curve struct {
	keyframes []Keyframe
	dirty     int
}

// NewCurve returns an empty curve whose dirty mark is cleared.
func NewCurve() *Curve {
	c := &Curve{}
	c.ClearDirty()
	return c
}

func (c *Curve) keyframeIndex(frame int) (int, bool) {
	i := sort.Search(len(c.keyframes), func(i int) bool { return c.keyframes[i].Frame >= frame })
	if i < len(c.keyframes) && c.keyframes[i].Frame == frame {
		return i, true
	}
	return i, false
}

// Keyframe returns the keyframe at frame, if one exists.
func (c *Curve) Keyframe(frame int) (Keyframe, bool) {
	i, ok := c.keyframeIndex(frame)
	if !ok {
		return Keyframe{}, false
	}
	return c.keyframes[i], true
}

func (c *Curve) firstKeyframe() (Keyframe, bool) {
	if len(c.keyframes) == 0 {
		return Keyframe{}, false
	}
	return c.keyframes[0], true
}

func (c *Curve) lastKeyframe() (Keyframe, bool) {
	if len(c.keyframes) == 0 {
		return Keyframe{}, false
	}
	return c.keyframes[len(c.keyframes)-1], true
}

// PrevKeyframe returns the keyframe immediately before frame, excluding any
// keyframe at frame itself.
func (c *Curve) PrevKeyframe(frame int) (Keyframe, bool) {
	i, _ := c.keyframeIndex(frame)
	if i == 0 {
		return Keyframe{}, false
	}
	return c.keyframes[i-1], true
}

// NextKeyframe returns the keyframe immediately after frame.
func (c *Curve) NextKeyframe(frame int) (Keyframe, bool) {
	i, exact := c.keyframeIndex(frame)
	if exact {
		i++
	}
	if i >= len(c.keyframes) {
		return Keyframe{}, false
	}
	return c.keyframes[i], true
}

// InsertKeyframe adds or replaces the keyframe at kf.Frame.
func (c *Curve) InsertKeyframe(kf Keyframe) {
	c.markDirty(kf.Frame)
	i, exact := c.keyframeIndex(kf.Frame)
	if exact {
		c.keyframes[i] = kf
		return
	}
	c.keyframes = append(c.keyframes, Keyframe{})
	copy(c.keyframes[i+1:], c.keyframes[i:])
	c.keyframes[i] = kf
}

// RemoveKeyframe deletes the keyframe at frame, if any, reporting whether
// one was present.
func (c *Curve) RemoveKeyframe(frame int) bool {
	i, exact := c.keyframeIndex(frame)
	if !exact {
		return false
	}
	c.keyframes = append(c.keyframes[:i], c.keyframes[i+1:]...)
	c.markDirty(frame)
	return true
}

// Eval samples the curve at frame.
func (c *Curve) Eval(frame int) int64 {
	first, ok := c.firstKeyframe()
	if !ok || frame < first.Frame {
		return 0
	}
	if last, ok := c.lastKeyframe(); ok && frame >= last.Frame {
		return last.Value
	}
	if kf, ok := c.Keyframe(frame); ok {
		return kf.Value
	}

	a, _ := c.PrevKeyframe(frame)
	b, _ := c.NextKeyframe(frame)

	switch a.Interpolation {
	case Linear:
		t := int64(frame - a.Frame)
		dt := int64(b.Frame - a.Frame)
		return a.Value + ((b.Value-a.Value)*t+dt/2)/dt
	default:
		return a.Value
	}
}

// EvalSmooth samples the curve at a fractional frame, linearly blending
// between keyframes regardless of their own interpolation mode — used for
// camera paths, not simulation input.
func (c *Curve) EvalSmooth(frame float64) float64 {
	first, ok := c.firstKeyframe()
	if !ok || int(frame) < first.Frame {
		return 0
	}
	if last, ok := c.lastKeyframe(); ok && int(frame) >= last.Frame {
		return float64(last.Value)
	}
	if kf, ok := c.Keyframe(int(frame)); ok {
		return float64(kf.Value)
	}

	a, _ := c.PrevKeyframe(int(frame))
	b, _ := c.NextKeyframe(int(frame))

	if a.Interpolation == Hold {
		return float64(a.Value)
	}
	t := (frame - float64(a.Frame)) / float64(b.Frame-a.Frame)
	return (1-t)*float64(a.Value) + t*float64(b.Value)
}

// Optimize collapses runs of equal-valued Hold keyframes down to their
// first sample.
func (c *Curve) Optimize() {
	last, ok := c.lastKeyframe()
	if !ok {
		return
	}
	for t := 0; t <= last.Frame; t++ {
		prev, okPrev := c.PrevKeyframe(t)
		cur, okCur := c.Keyframe(t)
		if okPrev && okCur &&
			prev.Interpolation == Hold && cur.Interpolation == Hold &&
			prev.Value == cur.Value {
			c.RemoveKeyframe(t)
		}
	}
}

// Dirty reports the earliest frame whose evaluated value may have changed
// since the last ClearDirty.
func (c *Curve) Dirty() int {
	return c.dirty
}

// noDirtyFrame is the Dirty() value of a curve with no pending edits.
const noDirtyFrame = math.MaxInt

// ClearDirty marks the curve as fully up to date.
func (c *Curve) ClearDirty() {
	c.dirty = noDirtyFrame
}

func (c *Curve) markDirty(frame int) {
	dirtyFrame := frame
	if prev, ok := c.PrevKeyframe(frame); ok && prev.Interpolation == Linear {
		dirtyFrame = prev.Frame + 1
	}
	if dirtyFrame < c.dirty {
		c.dirty = dirtyFrame
	}
}

// NumButtonChannels is how many independent button-bit curves Inputs
// tracks; each packs one bit of usercmd.buttons.
const NumButtonChannels = 16

// Inputs holds one curve per usercmd channel: three view-angle channels,
// NumButtonChannels button-bit channels, one weapon channel, and three
// signed movement channels.
type Inputs struct {
	Angles   [3]*Curve
	Buttons  [NumButtonChannels]*Curve
	Weapon   *Curve
	Movement [3]*Curve
}

// NewInputs returns an Inputs with all channel curves initialized empty.
func NewInputs() *Inputs {
	in := &Inputs{Weapon: NewCurve()}
	for i := range in.Angles {
		in.Angles[i] = NewCurve()
	}
	for i := range in.Buttons {
		in.Buttons[i] = NewCurve()
	}
	for i := range in.Movement {
		in.Movement[i] = NewCurve()
	}
	return in
}

// Usercmd evaluates every channel at frame and packs the result into a
// game.UserCmd (ServerTime is left zero; the adapter fixes it up per-call).
func (in *Inputs) Usercmd(frame int) game.UserCmd {
	var cmd game.UserCmd
	for i := 0; i < 3; i++ {
		cmd.Angles[i] = int32(int16(in.Angles[i].Eval(frame)))
	}
	var buttons int32
	for i, c := range in.Buttons {
		if c.Eval(frame) != 0 {
			buttons |= 1 << uint(i)
		}
	}
	cmd.Buttons = buttons
	cmd.Weapon = uint8(in.Weapon.Eval(frame))
	cmd.ForwardMove = int8(in.Movement[0].Eval(frame))
	cmd.RightMove = int8(in.Movement[1].Eval(frame))
	cmd.UpMove = int8(in.Movement[2].Eval(frame))
	return cmd
}

// SetUsercmd inserts one Hold keyframe per channel at frame, decomposing
// cmd back into its constituent curves.
func (in *Inputs) SetUsercmd(frame int, cmd game.UserCmd) {
	for i := 0; i < 3; i++ {
		in.Angles[i].InsertKeyframe(Keyframe{Frame: frame, Value: int64(cmd.Angles[i]), Interpolation: Hold})
	}
	for i := range in.Buttons {
		bit := int64(0)
		if cmd.Buttons&(1<<uint(i)) != 0 {
			bit = 1
		}
		in.Buttons[i].InsertKeyframe(Keyframe{Frame: frame, Value: bit, Interpolation: Hold})
	}
	in.Weapon.InsertKeyframe(Keyframe{Frame: frame, Value: int64(cmd.Weapon), Interpolation: Hold})
	in.Movement[0].InsertKeyframe(Keyframe{Frame: frame, Value: int64(cmd.ForwardMove), Interpolation: Hold})
	in.Movement[1].InsertKeyframe(Keyframe{Frame: frame, Value: int64(cmd.RightMove), Interpolation: Hold})
	in.Movement[2].InsertKeyframe(Keyframe{Frame: frame, Value: int64(cmd.UpMove), Interpolation: Hold})
}
