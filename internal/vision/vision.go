// Package vision abstracts the computer-vision capabilities the attendance
// engine depends on: frame capture, face detection and the LBPH-style
// classifier. The OpenCV backend lives in opencv.go; the rest of the system
// only sees these interfaces.
package vision

import (
	"errors"
	"image"
)

// FaceSize is the square side length, in pixels, that face crops are
// normalized to before training and prediction.
const FaceSize = 200

var (
	ErrCascadeLoad  = errors.New("could not load face detector cascade")
	ErrModelLoad    = errors.New("could not load classifier model")
	ErrCameraOpen   = errors.New("could not open camera device")
	ErrImageDecode  = errors.New("could not decode image")
	ErrEmptyFrame   = errors.New("empty frame")
	ErrNoFaceInView = errors.New("no face detected")
)

// Image is a backend-native image handle. Callers must Close images they
// obtain from Greyscale, Region or Resized.
type Image interface {
	Bounds() image.Rectangle
	Greyscale() (Image, error)
	Region(r image.Rectangle) (Image, error)
	Resized(width, height int) (Image, error)
	Close() error
}

// FrameSource produces video frames from a capture device. Grab returns
// ErrEmptyFrame for transient empty reads; any other error is fatal to the
// session.
type FrameSource interface {
	Grab() (Image, error)
	Close() error
}

// Detector finds candidate face rectangles in a greyscale image.
type Detector interface {
	Detect(img Image) ([]image.Rectangle, error)
	Close() error
}

// Prediction is the classifier verdict for one face crop. Distance is the
// LBPH dissimilarity score: smaller means a better match.
type Prediction struct {
	Label    int
	Distance float64
}

// Recognizer is the trainable classifier capability.
type Recognizer interface {
	Train(samples []Image, labelIDs []int) error
	Predict(sample Image) (Prediction, error)
	Save(path string) error
	Load(path string) error
	Close() error
}

// FaceMark is one annotated face for display overlays.
type FaceMark struct {
	Rect  image.Rectangle
	Text  string
	Known bool
}

// Display presents annotated frames on a local surface. Implementations
// report closed=true once the surface is gone so the loop can fall back to
// headless pacing.
type Display interface {
	Present(frame Image, marks []FaceMark) (closed bool, err error)
	Close() error
}

// Backend constructs the concrete capabilities. Exactly one backend (the
// OpenCV one) exists in production; tests substitute fakes at the interface
// level instead.
type Backend interface {
	OpenFrameSource(device int) (FrameSource, error)
	NewDetector(cascadePath string) (Detector, error)
	NewRecognizer() (Recognizer, error)
	// NewDisplay returns (nil, nil) when no display surface is available.
	NewDisplay(title string) (Display, error)
	LoadGreyscale(path string) (Image, error)
}

// LargestFace picks the rectangle with the greatest area, first-wins on
// ties. Returns false for an empty slice.
func LargestFace(rects []image.Rectangle) (image.Rectangle, bool) {
	if len(rects) == 0 {
		return image.Rectangle{}, false
	}
	best := rects[0]
	bestArea := best.Dx() * best.Dy()
	for _, r := range rects[1:] {
		if area := r.Dx() * r.Dy(); area > bestArea {
			best, bestArea = r, area
		}
	}
	return best, true
}
