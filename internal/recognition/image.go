package recognition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/technosupport/ts-attend/internal/extrec"
	"github.com/technosupport/ts-attend/internal/labels"
	"github.com/technosupport/ts-attend/internal/vision"
)

// uploadMaxDim bounds uploaded snapshots before they reach a classifier.
const uploadMaxDim = 1600

// ExternalRecognizer is the subprocess surface the snapshot path prefers
// when present.
type ExternalRecognizer interface {
	Available() bool
	Recognize(ctx context.Context, imagePath string) ([]extrec.Match, error)
}

// ImageMatch is one face identified in an uploaded snapshot. Score is the
// external recognizer's similarity (higher is better) or, for the native
// classifier, the LBPH distance (lower is better); Native tells them apart.
type ImageMatch struct {
	Name       string  `json:"name"`
	Department string  `json:"department"`
	Known      bool    `json:"known"`
	Score      float64 `json:"score"`
	Native     bool    `json:"native"`
}

// ImageService identifies faces in single uploaded images, outside any live
// session.
type ImageService struct {
	backend  vision.Backend
	labels   *labels.Mapper
	external ExternalRecognizer

	cascadePath string
	modelPath   string
	threshold   float64
}

func NewImageService(backend vision.Backend, mapper *labels.Mapper, external ExternalRecognizer, cascadePath, modelPath string, threshold float64) *ImageService {
	return &ImageService{
		backend:     backend,
		labels:      mapper,
		external:    external,
		cascadePath: cascadePath,
		modelPath:   modelPath,
		threshold:   threshold,
	}
}

// Identify normalizes the uploaded bytes to JPEG and classifies every face,
// preferring the external recognizer and falling back to the native
// classifier.
func (s *ImageService) Identify(ctx context.Context, imageData []byte) ([]ImageMatch, error) {
	jpegData, err := vision.NormalizeJPEG(imageData, uploadMaxDim)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp("", "snapshot_*.jpg")
	if err != nil {
		return nil, fmt.Errorf("stage snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(jpegData); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("stage snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}

	if s.external != nil && s.external.Available() {
		matches, err := s.external.Recognize(ctx, tmp.Name())
		if err == nil {
			out := make([]ImageMatch, 0, len(matches))
			for _, m := range matches {
				out = append(out, ImageMatch{
					Name:       m.Name,
					Department: m.Department,
					Known:      m.Name != "" && m.Name != "Unknown",
					Score:      m.Confidence,
				})
			}
			return out, nil
		}
		log.Printf("[ImageService] External recognize failed (%v), falling back to native", err)
	}

	return s.identifyNative(ctx, tmp.Name())
}

func (s *ImageService) identifyNative(ctx context.Context, path string) ([]ImageMatch, error) {
	modelPath, err := resolveModelPath(s.modelPath)
	if err != nil {
		return nil, err
	}

	detector, err := s.backend.NewDetector(s.cascadePath)
	if err != nil {
		return nil, err
	}
	defer detector.Close()

	recognizer, err := s.backend.NewRecognizer()
	if err != nil {
		return nil, err
	}
	defer recognizer.Close()
	if err := recognizer.Load(modelPath); err != nil {
		return nil, err
	}

	if err := s.labels.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh label map: %w", err)
	}

	img, err := s.backend.LoadGreyscale(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	rects, err := detector.Detect(img)
	if err != nil {
		return nil, err
	}
	if len(rects) == 0 {
		return nil, vision.ErrNoFaceInView
	}

	out := make([]ImageMatch, 0, len(rects))
	for _, rect := range rects {
		match := ImageMatch{Name: "Unknown", Native: true}

		face, err := img.Region(rect)
		if err != nil {
			continue
		}
		sample, err := face.Resized(vision.FaceSize, vision.FaceSize)
		face.Close()
		if err != nil {
			continue
		}
		pred, err := recognizer.Predict(sample)
		sample.Close()
		if err != nil {
			if !errors.Is(err, vision.ErrNoFaceInView) {
				log.Printf("[ImageService] Predict failed: %v", err)
			}
			continue
		}

		match.Score = pred.Distance
		if entry, ok := s.labels.Get(pred.Label); ok && pred.Distance < s.threshold {
			match.Name = entry.Name
			match.Department = entry.Department
			match.Known = true
		}
		out = append(out, match)
	}
	return out, nil
}
