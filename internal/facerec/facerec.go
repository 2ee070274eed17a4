// Package facerec defines the face detection and encoding capability consumed
// by the verification pipeline. The pipeline only depends on the Locator
// interface; the dlib-backed implementation lives alongside it so tests can
// run against deterministic stubs.
package facerec

import (
	"errors"

	"github.com/example/face-verify/internal/imagecodec"
)

var (
	// ErrNoFace is returned when the detector finds zero face regions.
	ErrNoFace = errors.New("No face detected in the image")

	// ErrEncodingFailed is returned when a region was found but no
	// embedding could be produced for it.
	ErrEncodingFailed = errors.New("Could not generate face encoding")
)

// Region is a face bounding box in pixel coordinates.
type Region struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Embedding is a fixed-length descriptor of one face. Embeddings are only
// comparable when produced by the same model version.
type Embedding []float32

// Detection pairs one located face region with its embedding.
type Detection struct {
	Region    Region
	Embedding Embedding
}

// Locator detects faces in a pixel buffer and encodes each into an
// embedding. Implementations must be deterministic for a fixed model and
// safe for concurrent use. An empty slice with a nil error is valid and
// means no face was found.
type Locator interface {
	LocateAndEncode(buf *imagecodec.PixelBuffer) ([]Detection, error)
}
