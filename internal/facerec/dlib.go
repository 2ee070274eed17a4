package facerec

import (
	"bytes"
	"fmt"
	"image/jpeg"

	face "github.com/Kagami/go-face"
	"go.uber.org/zap"

	"github.com/example/face-verify/internal/imagecodec"
)

// DlibLocator runs detection and encoding through the dlib ResNet model via
// go-face. The recognizer holds native resources and must be closed by the
// owner when the process shuts down.
type DlibLocator struct {
	rec    *face.Recognizer
	logger *zap.Logger
}

// NewDlibLocator loads the dlib model files from modelsDir. The directory
// must contain the shape predictor and the face recognition network that
// go-face expects.
func NewDlibLocator(modelsDir string, logger *zap.Logger) (*DlibLocator, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("init face recognizer from %s: %w", modelsDir, err)
	}
	return &DlibLocator{rec: rec, logger: logger.Named("dlib_locator")}, nil
}

// LocateAndEncode re-encodes the buffer as JPEG (the input format go-face
// accepts) and maps every recognized face to a Detection. Order is whatever
// dlib returns; callers choosing among multiple faces rely on that order.
func (l *DlibLocator) LocateAndEncode(buf *imagecodec.PixelBuffer) ([]Detection, error) {
	var encoded bytes.Buffer
	if err := jpeg.Encode(&encoded, buf.RGBA(), &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode pixel buffer: %w", err)
	}

	faces, err := l.rec.Recognize(encoded.Bytes())
	if err != nil {
		l.logger.Error("recognizer failed", zap.Error(err))
		return nil, fmt.Errorf("face detection error: %w", err)
	}

	detections := make([]Detection, 0, len(faces))
	for _, f := range faces {
		embedding := make(Embedding, len(f.Descriptor))
		copy(embedding, f.Descriptor[:])
		detections = append(detections, Detection{
			Region: Region{
				Top:    f.Rectangle.Min.Y,
				Right:  f.Rectangle.Max.X,
				Bottom: f.Rectangle.Max.Y,
				Left:   f.Rectangle.Min.X,
			},
			Embedding: embedding,
		})
	}
	return detections, nil
}

// Close releases the native dlib resources.
func (l *DlibLocator) Close() {
	l.rec.Close()
}
