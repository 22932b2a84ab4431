package labels_test

import (
	"context"
	"errors"
	"testing"

	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/labels"
)

type stubLister struct {
	students []*data.Student
	err      error
}

func (s *stubLister) List(ctx context.Context) ([]*data.Student, error) {
	return s.students, s.err
}

func TestRefresh_ProjectsRegistry(t *testing.T) {
	lister := &stubLister{students: []*data.Student{
		{Name: "Ada", Department: "CS", LabelID: 0},
		{Name: "Bo", Department: "EE", LabelID: 1},
	}}
	m := labels.NewMapper(lister)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2", m.Len())
	}

	e, ok := m.Get(1)
	if !ok || e.Name != "Bo" || e.Department != "EE" {
		t.Errorf("Get(1) = %+v, %v", e, ok)
	}
	if m.Contains(5) {
		t.Error("Contains(5) should be false")
	}
}

func TestRefresh_ErrorKeepsOldSnapshot(t *testing.T) {
	lister := &stubLister{students: []*data.Student{{Name: "Ada", LabelID: 0}}}
	m := labels.NewMapper(lister)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	lister.err = errors.New("db down")
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if !m.Contains(0) {
		t.Error("failed refresh should not clear the previous snapshot")
	}
}

func TestRefresh_DropsDeletedSubjects(t *testing.T) {
	lister := &stubLister{students: []*data.Student{
		{Name: "Ada", LabelID: 0},
		{Name: "Bo", LabelID: 1},
	}}
	m := labels.NewMapper(lister)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	lister.students = lister.students[:1]
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if m.Contains(1) {
		t.Error("deleted subject still resolvable")
	}
}
