package reaction

import (
	"image"
	"math"
)

// LayoutMode selects how the source clip and the webcam share the canvas.
type LayoutMode int

const (
	LayoutSideBySide       LayoutMode = iota // Source left, webcam right (landscape)
	LayoutPictureInPicture                   // Webcam overlaid on the source
)

func (m LayoutMode) String() string {
	switch m {
	case LayoutSideBySide:
		return "side-by-side"
	case LayoutPictureInPicture:
		return "picture-in-picture"
	default:
		return "unknown"
	}
}

// ParseLayoutMode parses the String form of a LayoutMode.
func ParseLayoutMode(s string) (LayoutMode, bool) {
	switch s {
	case "side-by-side", "sbs":
		return LayoutSideBySide, true
	case "picture-in-picture", "pip":
		return LayoutPictureInPicture, true
	default:
		return LayoutSideBySide, false
	}
}

// Side-by-side split of a landscape canvas.
const (
	sideBySideSourceShare = 0.66
	sideBySideWebcamShare = 0.34
)

// PiP size bounds, in percent of the canvas width.
const (
	MinPipSizePercent = 10
	MaxPipSizePercent = 50
)

// CompositionLayout is the user-selected layout.
type CompositionLayout struct {
	Mode           LayoutMode
	PipPositionX   float64 // Percent of canvas width from the right edge
	PipPositionY   float64 // Percent of canvas height from the top edge
	PipSizePercent float64 // Overlay width in percent of canvas width
}

// DefaultCompositionLayout returns a side-by-side layout with a PiP preset
// ready for when the user switches modes.
func DefaultCompositionLayout() CompositionLayout {
	return CompositionLayout{
		Mode:           LayoutSideBySide,
		PipPositionX:   5,
		PipPositionY:   5,
		PipSizePercent: 25,
	}
}

// Normalize clamps positions to [0,100] and the PiP size to [10,50].
func (l CompositionLayout) Normalize() CompositionLayout {
	l.PipPositionX = clampFloat(l.PipPositionX, 0, 100)
	l.PipPositionY = clampFloat(l.PipPositionY, 0, 100)
	l.PipSizePercent = clampFloat(l.PipSizePercent, MinPipSizePercent, MaxPipSizePercent)
	return l
}

// Rect is an axis-aligned rectangle in canvas pixels.
type Rect struct {
	X, Y, W, H float64
}

func (r Rect) Right() float64  { return r.X + r.W }
func (r Rect) Bottom() float64 { return r.Y + r.H }
func (r Rect) Empty() bool     { return r.W <= 0 || r.H <= 0 }

// Image returns the rectangle rounded to integer pixels.
func (r Rect) Image() image.Rectangle {
	return image.Rect(
		int(math.Round(r.X)), int(math.Round(r.Y)),
		int(math.Round(r.Right())), int(math.Round(r.Bottom())),
	)
}

// Overlaps reports whether two rectangles share a non-empty area.
func (r Rect) Overlaps(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() && r.Y < o.Bottom() && o.Y < r.Bottom()
}

// CanvasGeometry is the size of the composite surface.
type CanvasGeometry struct {
	Width  int
	Height int
}

// Landscape reports whether the canvas is wider than tall.
func (g CanvasGeometry) Landscape() bool {
	return g.Width > g.Height
}

// CanvasFor returns the canvas for a clip of the given natural size, or
// fallback when the size is not known yet. Dimensions are rounded up to even
// numbers for 4:2:0 encoding.
func CanvasFor(clipWidth, clipHeight int, fallback CanvasGeometry) CanvasGeometry {
	g := fallback
	if clipWidth > 0 && clipHeight > 0 {
		g = CanvasGeometry{Width: clipWidth, Height: clipHeight}
	}
	g.Width = (g.Width + 1) &^ 1
	g.Height = (g.Height + 1) &^ 1
	return g
}

// LayoutInput is everything the layout depends on for one frame.
type LayoutInput struct {
	Canvas CanvasGeometry
	Layout CompositionLayout

	SourceReady  bool
	SourceWidth  int
	SourceHeight int

	WebcamReady  bool
	WebcamWidth  int
	WebcamHeight int

	// PipAspectFallback is the webcam width/height ratio used while the
	// webcam size is unknown.
	PipAspectFallback float64
}

// Placement tells the compositor where one input goes.
type Placement struct {
	Target      Rect // Area reserved for the input
	Draw        Rect // Where the frame is drawn (contain-fit inside Target)
	Placeholder bool // The input is not ready: fill Target with the placeholder color
}

// LayoutResult is the geometry of one composite frame.
type LayoutResult struct {
	Mode   LayoutMode
	Canvas CanvasGeometry
	Source Placement
	Webcam Placement
	Border bool // Stroke a border around Webcam.Target; PictureInPicture mode only
}

// ComputeLayout maps one frame's inputs to draw rectangles. It has no side
// effects.
func ComputeLayout(in LayoutInput) LayoutResult {
	W, H := float64(in.Canvas.Width), float64(in.Canvas.Height)
	layout := in.Layout.Normalize()
	res := LayoutResult{Mode: layout.Mode, Canvas: in.Canvas}

	if layout.Mode == LayoutSideBySide && in.Canvas.Landscape() {
		split := W * sideBySideSourceShare
		res.Source = place(Rect{X: 0, Y: 0, W: split, H: H}, in.SourceReady, in.SourceWidth, in.SourceHeight)
		res.Webcam = place(Rect{X: split, Y: 0, W: W * sideBySideWebcamShare, H: H}, in.WebcamReady, in.WebcamWidth, in.WebcamHeight)
		return res
	}

	res.Source = place(Rect{X: 0, Y: 0, W: W, H: H}, in.SourceReady, in.SourceWidth, in.SourceHeight)

	// Webcam aspect as a width:height pair.
	aw, ah := in.PipAspectFallback, 1.0
	if aw <= 0 {
		aw, ah = 4, 3
	}
	if in.WebcamReady && in.WebcamWidth > 0 && in.WebcamHeight > 0 {
		aw, ah = float64(in.WebcamWidth), float64(in.WebcamHeight)
	}
	aspect := aw / ah

	pipW := W * layout.PipSizePercent / 100
	pipH := pipW * ah / aw
	if pipH > H {
		pipH = H
		pipW = pipH * aspect
	}
	x := W - pipW - W*layout.PipPositionX/100
	y := H * layout.PipPositionY / 100
	x = clampFloat(x, 0, W-pipW)
	y = clampFloat(y, 0, H-pipH)

	overlay := Rect{X: x, Y: y, W: pipW, H: pipH}
	res.Webcam = Placement{Target: overlay, Draw: overlay, Placeholder: !in.WebcamReady}
	res.Border = layout.Mode == LayoutPictureInPicture
	return res
}

func place(target Rect, ready bool, w, h int) Placement {
	if !ready || w <= 0 || h <= 0 {
		return Placement{Target: target, Draw: target, Placeholder: true}
	}
	return Placement{Target: target, Draw: ContainFit(float64(w), float64(h), target)}
}

// ContainFit scales a srcW x srcH frame to fit entirely inside target,
// preserving aspect ratio, and centers it.
func ContainFit(srcW, srcH float64, target Rect) Rect {
	if srcW <= 0 || srcH <= 0 || target.Empty() {
		return target
	}
	scale := math.Min(target.W/srcW, target.H/srcH)
	w, h := srcW*scale, srcH*scale
	return Rect{
		X: target.X + (target.W-w)/2,
		Y: target.Y + (target.H-h)/2,
		W: w,
		H: h,
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
