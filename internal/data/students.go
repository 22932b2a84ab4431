package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrNameDuplicate   = errors.New("student name already exists")
)

// Student is one enrolled subject. Rows are immutable after insert except
// via Delete. LabelID identifies the subject to the classifier.
type Student struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Department string    `json:"department"`
	ImagePath  string    `json:"image_path"`
	LabelID    int       `json:"label_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type StudentModel struct {
	DB DBTX
}

// Create inserts a student, assigning label_id = max(label_id)+1 (0 when
// empty) in the same statement. Two racing inserts can still compute the
// same max; the label_id unique constraint rejects the loser, which we
// retry. The name unique constraint backs the Conflict error.
func (m StudentModel) Create(ctx context.Context, s *Student) error {
	const maxAttempts = 3

	query := `
		INSERT INTO students (name, department, image_path, label_id)
		SELECT $1, $2, $3, COALESCE(MAX(label_id) + 1, 0) FROM students
		RETURNING id, label_id, created_at
	`

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = m.DB.QueryRowContext(ctx, query, s.Name, s.Department, s.ImagePath).Scan(
			&s.ID, &s.LabelID, &s.CreatedAt,
		)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == "students_name_key" {
				return ErrNameDuplicate
			}
			continue // lost a label race, recompute
		}
		return err
	}
	return err
}

// List returns all students in insertion order. Training depends on this
// ordering being stable.
func (m StudentModel) List(ctx context.Context) ([]*Student, error) {
	query := `
		SELECT id, name, department, image_path, label_id, created_at
		FROM students
		ORDER BY id
	`
	rows, err := m.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []*Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.Name, &s.Department, &s.ImagePath, &s.LabelID, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, &s)
	}
	return students, rows.Err()
}

func (m StudentModel) GetByID(ctx context.Context, id int64) (*Student, error) {
	query := `
		SELECT id, name, department, image_path, label_id, created_at
		FROM students
		WHERE id = $1
	`
	return m.scanOne(m.DB.QueryRowContext(ctx, query, id))
}

func (m StudentModel) GetByName(ctx context.Context, name string) (*Student, error) {
	query := `
		SELECT id, name, department, image_path, label_id, created_at
		FROM students
		WHERE name = $1
	`
	return m.scanOne(m.DB.QueryRowContext(ctx, query, name))
}

func (m StudentModel) GetByLabel(ctx context.Context, labelID int) (*Student, error) {
	query := `
		SELECT id, name, department, image_path, label_id, created_at
		FROM students
		WHERE label_id = $1
	`
	return m.scanOne(m.DB.QueryRowContext(ctx, query, labelID))
}

// Delete removes the row. The caller is responsible for the image artifact;
// the row goes first so a failed file delete never resurrects the subject.
func (m StudentModel) Delete(ctx context.Context, id int64) error {
	res, err := m.DB.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrStudentNotFound
	}
	return nil
}

func (m StudentModel) scanOne(row *sql.Row) (*Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.Name, &s.Department, &s.ImagePath, &s.LabelID, &s.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return &s, nil
}
