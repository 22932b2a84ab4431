package vision

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

// OpenCV is the production Backend: Haar cascade detection, LBPH
// recognition and webcam capture via gocv.
type OpenCV struct{}

func NewOpenCV() *OpenCV {
	return &OpenCV{}
}

type matImage struct {
	mat gocv.Mat
}

func (m *matImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.mat.Cols(), m.mat.Rows())
}

func (m *matImage) Greyscale() (Image, error) {
	if m.mat.Channels() == 1 {
		clone := m.mat.Clone()
		return &matImage{mat: clone}, nil
	}
	grey := gocv.NewMat()
	gocv.CvtColor(m.mat, &grey, gocv.ColorBGRToGray)
	return &matImage{mat: grey}, nil
}

func (m *matImage) Region(r image.Rectangle) (Image, error) {
	if !r.In(m.Bounds()) {
		r = r.Intersect(m.Bounds())
		if r.Empty() {
			return nil, fmt.Errorf("region outside image bounds")
		}
	}
	region := m.mat.Region(r)
	// The region shares the parent's storage; clone so the crop survives
	// the frame being closed.
	clone := region.Clone()
	region.Close()
	return &matImage{mat: clone}, nil
}

func (m *matImage) Resized(width, height int) (Image, error) {
	dst := gocv.NewMat()
	gocv.Resize(m.mat, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	return &matImage{mat: dst}, nil
}

func (m *matImage) Close() error {
	return m.mat.Close()
}

// LoadGreyscale reads an image file directly as greyscale, the form the
// detector and classifier consume.
func (b *OpenCV) LoadGreyscale(path string) (Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadGrayScale)
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: %s", ErrImageDecode, path)
	}
	return &matImage{mat: mat}, nil
}

type cascadeDetector struct {
	classifier gocv.CascadeClassifier
}

func (b *OpenCV) NewDetector(cascadePath string) (Detector, error) {
	if _, err := os.Stat(cascadePath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCascadeLoad, cascadePath)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cascadePath) {
		classifier.Close()
		return nil, fmt.Errorf("%w: %s", ErrCascadeLoad, cascadePath)
	}
	return &cascadeDetector{classifier: classifier}, nil
}

func (d *cascadeDetector) Detect(img Image) ([]image.Rectangle, error) {
	mi, ok := img.(*matImage)
	if !ok {
		return nil, fmt.Errorf("detector requires an OpenCV image")
	}
	return d.classifier.DetectMultiScale(mi.mat), nil
}

func (d *cascadeDetector) Close() error {
	return d.classifier.Close()
}

type lbphRecognizer struct {
	rec *contrib.LBPHFaceRecognizer
}

func (b *OpenCV) NewRecognizer() (Recognizer, error) {
	return &lbphRecognizer{rec: contrib.NewLBPHFaceRecognizer()}, nil
}

func (r *lbphRecognizer) Train(samples []Image, labelIDs []int) error {
	if len(samples) == 0 || len(samples) != len(labelIDs) {
		return fmt.Errorf("training requires matching samples and labels, got %d/%d", len(samples), len(labelIDs))
	}
	mats := make([]gocv.Mat, 0, len(samples))
	for _, s := range samples {
		mi, ok := s.(*matImage)
		if !ok {
			return fmt.Errorf("recognizer requires OpenCV images")
		}
		mats = append(mats, mi.mat)
	}
	r.rec.Train(mats, labelIDs)
	return nil
}

func (r *lbphRecognizer) Predict(sample Image) (Prediction, error) {
	mi, ok := sample.(*matImage)
	if !ok {
		return Prediction{}, fmt.Errorf("recognizer requires an OpenCV image")
	}
	resp := r.rec.PredictExtendedResponse(mi.mat)
	return Prediction{Label: int(resp.Label), Distance: float64(resp.Confidence)}, nil
}

func (r *lbphRecognizer) Save(path string) error {
	r.rec.SaveFile(path)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("model save produced no artifact at %s: %w", path, err)
	}
	return nil
}

func (r *lbphRecognizer) Load(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrModelLoad, path)
	}
	r.rec.LoadFile(path)
	return nil
}

func (r *lbphRecognizer) Close() error {
	return nil
}

type cameraSource struct {
	capture *gocv.VideoCapture
}

func (b *OpenCV) OpenFrameSource(device int) (FrameSource, error) {
	capture, err := gocv.VideoCaptureDevice(device)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", ErrCameraOpen, device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: device %d", ErrCameraOpen, device)
	}
	return &cameraSource{capture: capture}, nil
}

func (c *cameraSource) Grab() (Image, error) {
	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, ErrEmptyFrame
	}
	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}
	return &matImage{mat: mat}, nil
}

func (c *cameraSource) Close() error {
	return c.capture.Close()
}

type windowDisplay struct {
	window *gocv.Window
}

var (
	recognizedColor = color.RGBA{G: 255, A: 255}
	unknownColor    = color.RGBA{R: 255, A: 255}
)

// NewDisplay opens a preview window. Headless hosts get (nil, nil) and the
// recognition loop paces itself with a sleep instead.
func (b *OpenCV) NewDisplay(title string) (Display, error) {
	if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		return nil, nil
	}
	return &windowDisplay{window: gocv.NewWindow(title)}, nil
}

func (w *windowDisplay) Present(frame Image, marks []FaceMark) (bool, error) {
	mi, ok := frame.(*matImage)
	if !ok {
		return false, fmt.Errorf("display requires an OpenCV image")
	}
	for _, mark := range marks {
		clr := unknownColor
		if mark.Known {
			clr = recognizedColor
		}
		gocv.Rectangle(&mi.mat, mark.Rect, clr, 2)
		gocv.PutText(&mi.mat, mark.Text, image.Pt(mark.Rect.Min.X, mark.Rect.Min.Y-10),
			gocv.FontHersheySimplex, 0.7, clr, 2)
	}
	w.window.IMShow(mi.mat)
	w.window.WaitKey(1)
	return !w.window.IsOpen(), nil
}

func (w *windowDisplay) Close() error {
	return w.window.Close()
}
