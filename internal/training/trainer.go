package training

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/vision"
)

var (
	ErrNoStudents          = errors.New("no students registered")
	ErrNoFaces             = errors.New("no trainable faces found")
	ErrExternalUnavailable = errors.New("external recognizer is not available")
	ErrUnknownMode         = errors.New("unknown training mode")
)

// Mode selects the classifier implementation.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeNative   Mode = "native"
	ModeExternal Mode = "external"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAuto, Mode(""):
		return ModeAuto, nil
	case ModeNative:
		return ModeNative, nil
	case ModeExternal:
		return ModeExternal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Result reports what a training run produced.
type Result struct {
	TrainedCount   int
	Implementation string
}

type Lister interface {
	List(ctx context.Context) ([]*data.Student, error)
}

// ExternalTrainer is the optional higher-accuracy subprocess classifier.
type ExternalTrainer interface {
	Available() bool
	Train(ctx context.Context, students []*data.Student) (int, error)
}

// Trainer builds the classifier artifact from the registry. Subjects are
// processed in registry insertion order so repeated runs over the same
// registry produce the same model.
type Trainer struct {
	students Lister
	backend  vision.Backend
	external ExternalTrainer

	cascadePath string
	modelPath   string
	namesPath   string
}

func NewTrainer(students Lister, backend vision.Backend, external ExternalTrainer, cascadePath, modelPath, namesPath string) *Trainer {
	return &Trainer{
		students:    students,
		backend:     backend,
		external:    external,
		cascadePath: cascadePath,
		modelPath:   modelPath,
		namesPath:   namesPath,
	}
}

// Train runs one training pass. Mode auto prefers the external recognizer
// when it responds to a probe, otherwise falls back to the native LBPH
// implementation.
func (t *Trainer) Train(ctx context.Context, mode Mode) (*Result, error) {
	students, err := t.students.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(students) == 0 {
		return nil, ErrNoStudents
	}

	useExternal := false
	switch mode {
	case ModeExternal:
		if t.external == nil || !t.external.Available() {
			return nil, ErrExternalUnavailable
		}
		useExternal = true
	case ModeAuto:
		useExternal = t.external != nil && t.external.Available()
	case ModeNative:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	if useExternal {
		count, err := t.external.Train(ctx, students)
		if err != nil {
			return nil, err
		}
		log.Printf("[Trainer] External training complete: %d face(s)", count)
		return &Result{TrainedCount: count, Implementation: "external"}, nil
	}

	count, err := t.trainNative(students)
	if err != nil {
		return nil, err
	}
	return &Result{TrainedCount: count, Implementation: "native"}, nil
}

func (t *Trainer) trainNative(students []*data.Student) (int, error) {
	detector, err := t.backend.NewDetector(t.cascadePath)
	if err != nil {
		return 0, err
	}
	defer detector.Close()

	var samples []vision.Image
	var labelIDs []int
	defer func() {
		for _, s := range samples {
			s.Close()
		}
	}()

	for _, student := range students {
		log.Printf("[Trainer] Processing %s (%s)", student.Name, student.Department)

		crop, err := t.faceCrop(detector, student.ImagePath)
		if err != nil {
			log.Printf("[Trainer] Skipping %s: %v", student.Name, err)
			continue
		}
		samples = append(samples, crop)
		labelIDs = append(labelIDs, student.LabelID)
	}

	if len(samples) == 0 {
		return 0, ErrNoFaces
	}

	recognizer, err := t.backend.NewRecognizer()
	if err != nil {
		return 0, err
	}
	defer recognizer.Close()

	if err := recognizer.Train(samples, labelIDs); err != nil {
		return 0, err
	}

	modelPath, err := filepath.Abs(t.modelPath)
	if err != nil {
		return 0, err
	}
	if err := recognizer.Save(modelPath); err != nil {
		return 0, err
	}
	if err := t.writeNames(students); err != nil {
		return 0, err
	}

	log.Printf("[Trainer] Training complete: %d face(s) from %d student(s), model at %s",
		len(samples), len(students), modelPath)
	return len(samples), nil
}

// faceCrop loads the reference image as greyscale, detects faces, picks the
// largest and normalizes it to the classifier input size.
func (t *Trainer) faceCrop(detector vision.Detector, imagePath string) (vision.Image, error) {
	img, err := t.backend.LoadGreyscale(imagePath)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	rects, err := detector.Detect(img)
	if err != nil {
		return nil, err
	}
	rect, ok := vision.LargestFace(rects)
	if !ok {
		return nil, vision.ErrNoFaceInView
	}

	face, err := img.Region(rect)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	return face.Resized(vision.FaceSize, vision.FaceSize)
}

// writeNames emits the labelId=name side file for legacy consumers.
func (t *Trainer) writeNames(students []*data.Student) error {
	var b strings.Builder
	for _, s := range students {
		fmt.Fprintf(&b, "%d=%s\n", s.LabelID, s.Name)
	}
	if err := os.WriteFile(t.namesPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write label names: %w", err)
	}
	return nil
}
