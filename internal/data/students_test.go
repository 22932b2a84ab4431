package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func TestCreate_AssignsNextLabel(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO students").
		WithArgs("Ada", "CS", "student_images/Ada_1.jpg").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label_id", "created_at"}).
			AddRow(1, 0, time.Now()))

	m := StudentModel{DB: db}
	s := &Student{Name: "Ada", Department: "CS", ImagePath: "student_images/Ada_1.jpg"}
	if err := m.Create(context.Background(), s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.LabelID != 0 {
		t.Errorf("expected label 0 for first student, got %d", s.LabelID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_name_key"})

	m := StudentModel{DB: db}
	s := &Student{Name: "Ada", Department: "CS", ImagePath: "x.jpg"}
	if err := m.Create(context.Background(), s); !errors.Is(err, ErrNameDuplicate) {
		t.Errorf("expected ErrNameDuplicate, got %v", err)
	}
}

func TestCreate_RetriesLabelRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// A concurrent insert claimed the computed label; the retry recomputes.
	mock.ExpectQuery("INSERT INTO students").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "students_label_id_key"})
	mock.ExpectQuery("INSERT INTO students").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label_id", "created_at"}).
			AddRow(2, 3, time.Now()))

	m := StudentModel{DB: db}
	s := &Student{Name: "Bo", Department: "EE", ImagePath: "b.jpg"}
	if err := m.Create(context.Background(), s); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.LabelID != 3 {
		t.Errorf("label = %d, want 3", s.LabelID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetByName_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM students").
		WithArgs("Ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "department", "image_path", "label_id", "created_at"}))

	m := StudentModel{DB: db}
	if _, err := m.GetByName(context.Background(), "Ghost"); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("expected ErrStudentNotFound, got %v", err)
	}
}

func TestDelete_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("DELETE FROM students").
		WithArgs(int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	m := StudentModel{DB: db}
	if err := m.Delete(context.Background(), 42); !errors.Is(err, ErrStudentNotFound) {
		t.Errorf("expected ErrStudentNotFound, got %v", err)
	}
}

func TestList_InsertionOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM students").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "department", "image_path", "label_id", "created_at"}).
			AddRow(1, "Ada", "CS", "a.jpg", 0, now).
			AddRow(2, "Bo", "EE", "b.jpg", 1, now))

	m := StudentModel{DB: db}
	students, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(students) != 2 || students[0].Name != "Ada" || students[1].LabelID != 1 {
		t.Errorf("unexpected list result: %+v", students)
	}
}
