// Package ocr implements TitleReader (spec.md §4.3): reading the title band
// of a canonical card image via a process-global Tesseract engine.
package ocr

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"strings"
	"sync"

	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"

	"github.com/otiai10/gosseract/v2"

	"github.com/cardid/cardid/internal/domain"
)

const (
	titleBandXMin = 0.035
	titleBandXMax = 0.685
	titleBandYMin = 0.035
	titleBandYMax = 0.095

	upscaleFactor = 4

	minMeanConfidence = 0.35
	minCleanedLength  = 2

	whitelistChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" +
		"ÀÁÂÃÄÅàáâãäåÈÉÊËèéêëÌÍÎÏìíîïÒÓÔÕÖòóôõöÙÚÛÜùúûüÑñÇç '-"
)

var bracketedRe = regexp.MustCompile(`\{[^}]*\}|\[[^\]]*\]|\([^)]*\)`)
var whitespaceRe = regexp.MustCompile(`\s+`)
var disallowedRe = regexp.MustCompile(`[^A-Za-z ÀÁÂÃÄÅàáâãäåÈÉÊËèéêëÌÍÎÏìíîïÒÓÔÕÖòóôõöÙÚÛÜùúûüÑñÇç'\-]`)

// TitleReader wraps a single process-global *gosseract.Client. gosseract
// clients are not safe for concurrent Recognize-style calls (spec.md §5
// says calls to the engine are "serialized by the engine itself"), so every
// call takes the reader's mutex.
type TitleReader struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New builds a TitleReader backed by a Tesseract client configured for
// single-line, LSTM-only, whitelisted recognition (spec.md §4.3 step 5).
// Parameters:
//   - dataPath: directory containing the tessdata language files.
// Returns:
//   - *TitleReader: ready for concurrent ReadTitle calls.
func New(dataPath string) *TitleReader {
	client := gosseract.NewClient()
	client.TessdataPrefix = &dataPath
	_ = client.SetLanguage("eng")
	_ = client.SetPageSegMode(gosseract.PSM_SINGLE_LINE)
	_ = client.SetWhitelist(whitelistChars)
	_ = client.SetVariable(gosseract.OEM, "1") // LSTM-only engine mode

	return &TitleReader{client: client}
}

// Close releases the underlying Tesseract client.
func (t *TitleReader) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}

// ReadTitle implements the TitleReader contract of spec.md §4.3. Never
// panics; on any decode or OCR failure it returns the empty result.
func (t *TitleReader) ReadTitle(canonical []byte) domain.OcrResult {
	band, ok := extractTitleBand(canonical)
	if !ok {
		return domain.OcrResult{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(band); err != nil {
		return domain.OcrResult{}
	}

	raw, err := t.client.Text()
	if err != nil {
		return domain.OcrResult{}
	}

	score := meanConfidence(t.client)
	cleaned := postFilter(raw)

	if score < minMeanConfidence || len(cleaned) < minCleanedLength {
		return domain.OcrResult{Score: score}
	}
	return domain.OcrResult{Title: cleaned, Score: score}
}

// meanConfidence averages the per-word confidences gosseract reports for
// the most recent recognition, scaled to [0, 1].
func meanConfidence(client *gosseract.Client) float32 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return float32(sum / float64(len(boxes)) / 100.0)
}

// extractTitleBand implements spec.md §4.3 steps 1-4: crop the title band,
// upscale 4x, convert to grayscale, and apply contrast/brightness/sharpen,
// encoded lossless (PNG) for the OCR engine.
func extractTitleBand(raw []byte) ([]byte, bool) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, false
	}
	defer mat.Close()

	w, h := mat.Cols(), mat.Rows()
	if w == 0 || h == 0 {
		return nil, false
	}

	region := image.Rect(
		int(titleBandXMin*float64(w)), int(titleBandYMin*float64(h)),
		int(titleBandXMax*float64(w)), int(titleBandYMax*float64(h)),
	)
	band := mat.Region(region)
	defer band.Close()

	upscaled := gocv.NewMat()
	defer upscaled.Close()
	gocv.Resize(band, &upscaled, image.Pt(0, 0), float64(upscaleFactor), float64(upscaleFactor), gocv.InterpolationLanczos4)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(upscaled, &gray, gocv.ColorBGRToGray)

	contrasted := gocv.NewMat()
	defer contrasted.Close()
	gray.ConvertToWithParams(&contrasted, -1, 2.2*1.10, 0)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(contrasted, &blurred, image.Pt(0, 0), 1, 1, gocv.BorderDefault)

	sharpened := gocv.NewMat()
	defer sharpened.Close()
	gocv.AddWeighted(contrasted, 1.5, blurred, -0.5, 0, &sharpened)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, sharpened)
	if err != nil {
		return nil, false
	}
	defer buf.Close()
	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, true
}

// postFilter implements spec.md §4.3 step 6: drop bracketed mana-symbol
// substrings, collapse whitespace, and strip everything outside the
// whitelist.
func postFilter(raw string) string {
	s := bracketedRe.ReplaceAllString(raw, "")
	s = disallowedRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
