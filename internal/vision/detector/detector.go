// Package detector implements Detector (spec.md §4.1): rectifying a raw
// photograph of a Magic card into a canonical 488x680 face image.
package detector

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"
)

const (
	canonicalWidth  = 488
	canonicalHeight = 680
	jpegQuality     = 92

	cannyLow      = 50
	cannyHigh     = 150
	minContourArea = 0.05 // fraction of image area
)

// Config holds the tunables of the primary detection path. All fields have
// sensible defaults; a zero-value Config is not usable, use DefaultConfig.
type Config struct {
	CannyLow       float32
	CannyHigh      float32
	MinContourArea float64 // fraction of image area, e.g. 0.05 for 5%
}

// DefaultConfig returns the thresholds prescribed by spec.md §4.1.
func DefaultConfig() Config {
	return Config{
		CannyLow:       cannyLow,
		CannyHigh:      cannyHigh,
		MinContourArea: minContourArea,
	}
}

// Detector rectifies raw card photographs into the canonical frame.
type Detector struct {
	cfg Config
}

// New builds a Detector with the given configuration.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// DetectAndCrop implements the Detector contract of spec.md §4.1: total,
// never returns an error. raw is any decodable still image; the result is a
// JPEG-encoded 488x680 image, or — when the primary path fails — the
// fallback center crop. When raw cannot be decoded, or neither path yields
// an encodable image, the original bytes are returned unchanged.
func (d *Detector) DetectAndCrop(raw []byte) []byte {
	mat, err := decodeToMat(raw)
	if err != nil || mat.Empty() {
		return raw
	}
	defer mat.Close()

	if warped, ok := d.rectify(mat); ok {
		defer warped.Close()
		if out, ok := encodeJPEG(warped); ok {
			return out
		}
	}

	if cropped, ok := fallbackCrop(mat); ok {
		defer cropped.Close()
		if out, ok := encodeJPEG(cropped); ok {
			return out
		}
	}

	return raw
}

// decodeToMat decodes arbitrary image bytes (jpeg/png/gif/webp) into a BGR
// gocv.Mat. gocv's own IMDecode does not understand webp, so decoding goes
// through the standard library's image registry (the blank imports above
// register jpeg/png/gif/webp decoders) and the result is handed to gocv.
func decodeToMat(raw []byte) (gocv.Mat, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return gocv.NewMat(), err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), err
	}
	bgr := gocv.NewMat()
	gocv.CvtColor(mat, &bgr, gocv.ColorRGBToBGR)
	mat.Close()
	return bgr, nil
}

// rectify runs the primary perspective-rectification path of spec.md §4.1
// steps 2-9. ok is false whenever no suitable quadrilateral is found.
func (d *Detector) rectify(bgr gocv.Mat) (gocv.Mat, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(5, 5), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, d.cfg.CannyLow, d.cfg.CannyHigh)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	dilated := gocv.NewMat()
	defer dilated.Close()
	gocv.Dilate(edges, &dilated, kernel)

	contours := gocv.FindContours(dilated, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	imgArea := float64(bgr.Cols() * bgr.Rows())
	var best gocv.PointVector
	bestArea := -1.0
	haveBest := false

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		perimeter := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, 0.02*perimeter, true)

		area := math.Abs(gocv.ContourArea(approx))
		if approx.Size() != 4 || !gocv.IsContourConvex(approx) || area < d.cfg.MinContourArea*imgArea {
			approx.Close()
			continue
		}
		if area > bestArea {
			if haveBest {
				best.Close()
			}
			best = approx
			bestArea = area
			haveBest = true
		} else {
			approx.Close()
		}
	}

	if !haveBest {
		return gocv.NewMat(), false
	}
	defer best.Close()

	corners := orderCorners(best.ToPoints())
	warped := warpPerspective(bgr, corners)
	return warped, true
}

// orderCorners sorts 4 arbitrary-order points into [TL, TR, BR, BL] using
// spec.md §4.1 step 8's sum/difference rule.
func orderCorners(pts []image.Point) [4]image.Point {
	var tl, tr, br, bl image.Point
	minSum, maxSum := math.MaxInt64, math.MinInt64
	minDiff, maxDiff := math.MaxInt64, math.MinInt64

	for _, p := range pts {
		sum := p.X + p.Y
		diff := p.Y - p.X
		if sum < minSum {
			minSum = sum
			tl = p
		}
		if sum > maxSum {
			maxSum = sum
			br = p
		}
		if diff < minDiff {
			minDiff = diff
			tr = p
		}
		if diff > maxDiff {
			maxDiff = diff
			bl = p
		}
	}
	return [4]image.Point{tl, tr, br, bl}
}

func warpPerspective(bgr gocv.Mat, corners [4]image.Point) gocv.Mat {
	src := gocv.NewPointVectorFromPoints(corners[:])
	defer src.Close()

	dstPts := []image.Point{
		{X: 0, Y: 0},
		{X: canonicalWidth, Y: 0},
		{X: canonicalWidth, Y: canonicalHeight},
		{X: 0, Y: canonicalHeight},
	}
	dst := gocv.NewPointVectorFromPoints(dstPts)
	defer dst.Close()

	transform := gocv.GetPerspectiveTransform(src, dst)
	defer transform.Close()

	warped := gocv.NewMat()
	gocv.WarpPerspective(bgr, &warped, transform, image.Pt(canonicalWidth, canonicalHeight))
	return warped
}

// fallbackCrop implements spec.md §4.1's fallback path: a proportion-correct
// centered crop, mild contrast/brightness/sharpen, then a Lanczos resize to
// the canonical frame.
func fallbackCrop(bgr gocv.Mat) (gocv.Mat, bool) {
	w, h := bgr.Cols(), bgr.Rows()
	if w == 0 || h == 0 {
		return gocv.NewMat(), false
	}

	targetRatio := float64(canonicalWidth) / float64(canonicalHeight)
	srcRatio := float64(w) / float64(h)

	var cropW, cropH int
	if srcRatio > targetRatio {
		cropH = h
		cropW = int(float64(h) * targetRatio)
	} else {
		cropW = w
		cropH = int(float64(w) / targetRatio)
	}
	x := (w - cropW) / 2
	y := (h - cropH) / 2
	region := image.Rect(x, y, x+cropW, y+cropH)

	cropped := bgr.Region(region)
	defer cropped.Close()

	// Contrast x1.15 and brightness x1.05 combine into a single linear
	// scale (spec.md §4.1's fallback path applies them independently, but
	// on 8-bit BGR data contrast*scale and brightness*scale commute).
	adjusted := gocv.NewMat()
	cropped.ConvertToWithParams(&adjusted, -1, 1.15*1.05, 0)

	blurred := gocv.NewMat()
	gocv.GaussianBlur(adjusted, &blurred, image.Pt(0, 0), 3, 3, gocv.BorderDefault)
	sharpened := gocv.NewMat()
	gocv.AddWeighted(adjusted, 1.5, blurred, -0.5, 0, &sharpened)
	adjusted.Close()
	blurred.Close()

	resized := gocv.NewMat()
	gocv.Resize(sharpened, &resized, image.Pt(canonicalWidth, canonicalHeight), 0, 0, gocv.InterpolationLanczos4)
	sharpened.Close()

	return resized, true
}

func encodeJPEG(mat gocv.Mat) ([]byte, bool) {
	params := []int{gocv.IMWriteJpegQuality, jpegQuality}
	nbuf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, params)
	if err != nil {
		return nil, false
	}
	defer nbuf.Close()
	out := make([]byte, len(nbuf.GetBytes()))
	copy(out, nbuf.GetBytes())
	return out, true
}
