// Package embedder implements Embedder (spec.md §4.2): the canonical card
// image's art region to a 512-float L2-normalized vector via an ONNX model.
package embedder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"sync"

	_ "golang.org/x/image/webp"

	"gocv.io/x/gocv"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	artRegionXMin = 0.030
	artRegionXMax = 0.970
	artRegionYMin = 0.081
	artRegionYMax = 0.845

	modelInputSize = 224

	outputDimensions = 512
)

var imagenetMean = [3]float32{0.485, 0.456, 0.406}
var imagenetStd = [3]float32{0.229, 0.224, 0.225}

// Embedder wraps a single process-global ONNX session. The session's input
// and output tensors are shared, so the mutex serializes each Embed call's
// copy-in, Run and copy-out; decoding and preprocessing run outside it.
type Embedder struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// New loads the ONNX model at modelPath and prepares a reusable session.
// Parameters:
//   - modelPath: filesystem path to the 512-output image-embedding model.
// Returns:
//   - *Embedder: ready for concurrent Embed calls.
//   - error: non-nil if the runtime or model fails to initialize.
func New(modelPath string) (*Embedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	inputShape := ort.NewShape(1, 3, modelInputSize, modelInputSize)
	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}

	outputShape := ort.NewShape(1, outputDimensions)
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("allocate output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Embedder{session: session, input: input, output: output}, nil
}

// Close releases the ONNX session and tensors.
func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
	return ort.DestroyEnvironment()
}

// Embed implements the Embedder contract of spec.md §4.2. Returns nil, false
// if canonical cannot be decoded or the model invocation fails.
func (e *Embedder) Embed(canonical []byte) ([]float32, bool) {
	tensor, ok := buildInputTensor(canonical)
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.input.GetData(), tensor)
	if err := e.session.Run(); err != nil {
		return nil, false
	}

	out := e.output.GetData()
	vec := make([]float32, len(out))
	copy(vec, out)
	normalizeL2(vec)
	return vec, true
}

// buildInputTensor implements spec.md §4.2 steps 1-4: decode, crop to the
// art region, resize to 224x224, normalize with ImageNet statistics, and lay
// out channel-first.
func buildInputTensor(raw []byte) ([]float32, bool) {
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
		int(artRegionXMin*float64(w)), int(artRegionYMin*float64(h)),
		int(artRegionXMax*float64(w)), int(artRegionYMax*float64(h)),
	)
	art := mat.Region(region)
	defer art.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(art, &resized, image.Pt(modelInputSize, modelInputSize), 0, 0, gocv.InterpolationLinear)

	return toCHWTensor(resized), true
}

// toCHWTensor converts an RGB gocv.Mat into a channel-first float32 tensor
// normalized with ImageNet per-channel mean/std.
func toCHWTensor(mat gocv.Mat) []float32 {
	size := modelInputSize * modelInputSize
	tensor := make([]float32, 3*size)

	data, _ := mat.DataPtrUint8()
	channels := mat.Channels()

	for y := 0; y < modelInputSize; y++ {
		for x := 0; x < modelInputSize; x++ {
			pixelIdx := (y*modelInputSize + x) * channels
			planeIdx := y*modelInputSize + x
			for c := 0; c < 3; c++ {
				v := float32(data[pixelIdx+c]) / 255.0
				tensor[c*size+planeIdx] = (v - imagenetMean[c]) / imagenetStd[c]
			}
		}
	}
	return tensor
}

// normalizeL2 scales vec in place to unit length. The zero vector is left
// unchanged rather than producing NaN.
func normalizeL2(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return
	}
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
}
