package compositor

import (
	"image"
	"math"
)

// floorEpsilon absorbs float noise such as 1000*0.7 = 699.9999999999999 before
// flooring pixel counts.
const floorEpsilon = 1e-9

// Layout is the integer pixel geometry of one canvas.
type Layout struct {
	CanvasW  int
	CanvasH  int
	InnerW   int
	InnerH   int
	ContentW int
	ContentH int
	Left     int
	Top      int
}

// ContentRect is the rectangle the fitted source occupies on the canvas.
func (l Layout) ContentRect() image.Rectangle {
	return image.Rect(l.Left, l.Top, l.Left+l.ContentW, l.Top+l.ContentH)
}

// CanvasSize keeps the longer edge at maxEdge and rounds the shorter one.
func CanvasSize(ratio float64, maxEdge int) (int, int) {
	if ratio >= 1 {
		return maxEdge, max(1, int(math.Round(float64(maxEdge)/ratio)))
	}
	return max(1, int(math.Round(float64(maxEdge)*ratio))), maxEdge
}

// ContentArea is the canvas minus the matte on every side.
func ContentArea(canvasW, canvasH int, matte float64) (int, int) {
	keep := 1 - 2*matte
	innerW := int(math.Floor(float64(canvasW)*keep + floorEpsilon))
	innerH := int(math.Floor(float64(canvasH)*keep + floorEpsilon))
	return max(1, innerW), max(1, innerH)
}

// FitInside scales srcW x srcH to fit within boundW x boundH without cropping.
// The limiting axis lands exactly on its bound; enlargement is allowed.
func FitInside(srcW, srcH, boundW, boundH int) (int, int) {
	if srcW <= 0 || srcH <= 0 || boundW <= 0 || boundH <= 0 {
		return 0, 0
	}

	// Compare srcW/srcH against boundW/boundH without float error.
	if int64(srcW)*int64(boundH) >= int64(srcH)*int64(boundW) {
		h := int(math.Round(float64(srcH) * float64(boundW) / float64(srcW)))
		return boundW, clamp(h, 1, boundH)
	}
	w := int(math.Round(float64(srcW) * float64(boundH) / float64(srcH)))
	return clamp(w, 1, boundW), boundH
}

// CenterOffset floors the leftover space so both axes bias the odd pixel the
// same way.
func CenterOffset(outer, inner int) int {
	return floorDiv(outer-inner, 2)
}

// Plan computes the full layout for a source of srcW x srcH under spec.
func Plan(srcW, srcH int, spec CanvasSpec) (Layout, error) {
	if srcW <= 0 || srcH <= 0 {
		return Layout{}, &DecodeError{Err: errZeroDimensions(srcW, srcH)}
	}

	var l Layout
	l.CanvasW, l.CanvasH = CanvasSize(spec.Ratio, spec.MaxEdge)
	l.InnerW, l.InnerH = ContentArea(l.CanvasW, l.CanvasH, spec.Matte)
	l.ContentW, l.ContentH = FitInside(srcW, srcH, l.InnerW, l.InnerH)
	l.Left = CenterOffset(l.CanvasW, l.ContentW)
	l.Top = CenterOffset(l.CanvasH, l.ContentH)

	switch {
	case l.CanvasW < 1 || l.CanvasH < 1:
		return Layout{}, geometryErrorf("canvas %dx%d", l.CanvasW, l.CanvasH)
	case l.InnerW < 1 || l.InnerH < 1:
		return Layout{}, geometryErrorf("content area %dx%d", l.InnerW, l.InnerH)
	case l.ContentW < 1 || l.ContentH < 1:
		return Layout{}, geometryErrorf("content %dx%d", l.ContentW, l.ContentH)
	case l.ContentW > l.InnerW || l.ContentH > l.InnerH:
		return Layout{}, geometryErrorf("content %dx%d exceeds area %dx%d", l.ContentW, l.ContentH, l.InnerW, l.InnerH)
	case l.Left < 0 || l.Top < 0:
		return Layout{}, geometryErrorf("negative offset %d,%d", l.Left, l.Top)
	}

	return l, nil
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
