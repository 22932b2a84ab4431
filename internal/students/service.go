package students

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/imagestore"
)

var (
	ErrNameRequired       = errors.New("student name is required")
	ErrDepartmentRequired = errors.New("department is required")
	ErrImageRequired      = errors.New("student image is required")
	ErrNameTaken          = errors.New("student name already exists")
	ErrNotFound           = errors.New("student not found")
)

type Repository interface {
	Create(ctx context.Context, s *data.Student) error
	List(ctx context.Context) ([]*data.Student, error)
	GetByID(ctx context.Context, id int64) (*data.Student, error)
	GetByName(ctx context.Context, name string) (*data.Student, error)
	GetByLabel(ctx context.Context, labelID int) (*data.Student, error)
	Delete(ctx context.Context, id int64) error
}

type ImageStore interface {
	Stage(name string, image []byte, mimeType string) (*imagestore.Staged, error)
	Remove(path string) error
}

// Service owns subject enrolment: validation, image persistence and label
// assignment. Label IDs are assigned by the repository inside a single
// transaction, so concurrent registrations never share a label.
type Service struct {
	repo   Repository
	images ImageStore
}

func NewService(repo Repository, images ImageStore) *Service {
	return &Service{repo: repo, images: images}
}

// Register enrols a new subject. The image is staged to a temp path first,
// the row is inserted referencing the final path, then the image is
// renamed into place. Any failure before the rename removes the temp file;
// a failed rename rolls the row back so registry and disk stay consistent.
func (s *Service) Register(ctx context.Context, name, department string, image []byte, mimeType string) (*data.Student, error) {
	name = strings.TrimSpace(name)
	department = strings.TrimSpace(department)

	if name == "" {
		return nil, ErrNameRequired
	}
	if department == "" {
		return nil, ErrDepartmentRequired
	}
	if len(image) == 0 {
		return nil, ErrImageRequired
	}

	staged, err := s.images.Stage(name, image, mimeType)
	if err != nil {
		return nil, err
	}

	student := &data.Student{
		Name:       name,
		Department: department,
		ImagePath:  staged.Path(),
	}
	if err := s.repo.Create(ctx, student); err != nil {
		staged.Abort()
		if errors.Is(err, data.ErrNameDuplicate) {
			return nil, ErrNameTaken
		}
		return nil, err
	}

	if err := staged.Commit(); err != nil {
		if delErr := s.repo.Delete(ctx, student.ID); delErr != nil {
			log.Printf("[Students] Rollback of student %d after image publish failure also failed: %v", student.ID, delErr)
		}
		return nil, err
	}

	log.Printf("[Students] Registered %s (label %d)", student.Name, student.LabelID)
	return student, nil
}

// List returns all subjects in insertion order.
func (s *Service) List(ctx context.Context) ([]*data.Student, error) {
	return s.repo.List(ctx)
}

func (s *Service) FindByName(ctx context.Context, name string) (*data.Student, error) {
	st, err := s.repo.GetByName(ctx, name)
	if errors.Is(err, data.ErrStudentNotFound) {
		return nil, ErrNotFound
	}
	return st, err
}

func (s *Service) FindByLabel(ctx context.Context, labelID int) (*data.Student, error) {
	st, err := s.repo.GetByLabel(ctx, labelID)
	if errors.Is(err, data.ErrStudentNotFound) {
		return nil, ErrNotFound
	}
	return st, err
}

// Delete removes the subject row, then its image artifact. A missing image
// file is tolerated.
func (s *Service) Delete(ctx context.Context, id int64) error {
	student, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, data.ErrStudentNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, data.ErrStudentNotFound) {
			return ErrNotFound
		}
		return err
	}
	if err := s.images.Remove(student.ImagePath); err != nil {
		return err
	}
	log.Printf("[Students] Deleted %s (label %d)", student.Name, student.LabelID)
	return nil
}
