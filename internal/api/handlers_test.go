package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/technosupport/ts-attend/internal/api"
	"github.com/technosupport/ts-attend/internal/attendance"
	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/extrec"
	"github.com/technosupport/ts-attend/internal/imagestore"
	"github.com/technosupport/ts-attend/internal/labels"
	"github.com/technosupport/ts-attend/internal/metrics"
	"github.com/technosupport/ts-attend/internal/recognition"
	"github.com/technosupport/ts-attend/internal/students"
	"github.com/technosupport/ts-attend/internal/training"
	"github.com/technosupport/ts-attend/internal/vision"
)

// memRepo is an in-memory students.Repository with the registry's label
// assignment rule.
type memRepo struct {
	rows   []*data.Student
	nextID int64
}

func (m *memRepo) Create(_ context.Context, s *data.Student) error {
	for _, r := range m.rows {
		if r.Name == s.Name {
			return data.ErrNameDuplicate
		}
	}
	label := 0
	for _, r := range m.rows {
		if r.LabelID >= label {
			label = r.LabelID + 1
		}
	}
	m.nextID++
	s.ID = m.nextID
	s.LabelID = label
	m.rows = append(m.rows, s)
	return nil
}

func (m *memRepo) List(context.Context) ([]*data.Student, error) {
	return append([]*data.Student(nil), m.rows...), nil
}

func (m *memRepo) GetByID(_ context.Context, id int64) (*data.Student, error) {
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, data.ErrStudentNotFound
}

func (m *memRepo) GetByName(_ context.Context, name string) (*data.Student, error) {
	for _, r := range m.rows {
		if r.Name == name {
			return r, nil
		}
	}
	return nil, data.ErrStudentNotFound
}

func (m *memRepo) GetByLabel(_ context.Context, labelID int) (*data.Student, error) {
	for _, r := range m.rows {
		if r.LabelID == labelID {
			return r, nil
		}
	}
	return nil, data.ErrStudentNotFound
}

func (m *memRepo) Delete(_ context.Context, id int64) error {
	for i, r := range m.rows {
		if r.ID == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return data.ErrStudentNotFound
}

// stubBackend satisfies vision.Backend for paths the tests never reach.
type stubBackend struct{}

func (stubBackend) OpenFrameSource(int) (vision.FrameSource, error) {
	return nil, vision.ErrCameraOpen
}

func (stubBackend) NewDetector(string) (vision.Detector, error) {
	return nil, vision.ErrCascadeLoad
}

func (stubBackend) NewRecognizer() (vision.Recognizer, error) {
	return nil, errors.New("no recognizer in tests")
}

func (stubBackend) NewDisplay(string) (vision.Display, error) { return nil, nil }

func (stubBackend) LoadGreyscale(string) (vision.Image, error) {
	return nil, vision.ErrImageDecode
}

func newTestServer(t *testing.T) (http.Handler, *memRepo) {
	t.Helper()
	dir := t.TempDir()

	repo := &memRepo{}
	store := imagestore.New(filepath.Join(dir, "student_images"))
	svc := students.NewService(repo, store)
	mapper := labels.NewMapper(repo)
	collector := metrics.NewCollector()
	ledger := attendance.NewLedger(filepath.Join(dir, "attendance.xlsx"))

	modelPath := filepath.Join(dir, "trained_model.yml")
	backend := stubBackend{}
	trainer := training.NewTrainer(repo, backend, nil,
		filepath.Join(dir, "cascade.xml"), modelPath, filepath.Join(dir, "names.txt"))

	controller := recognition.NewController(backend, mapper, ledger, nil, collector, nil,
		recognition.WorkerConfig{
			CascadePath: filepath.Join(dir, "cascade.xml"),
			ModelPath:   modelPath,
			Threshold:   80,
		})
	adapter := extrec.NewAdapter(filepath.Join(dir, "missing.py"), 0)
	images := recognition.NewImageService(backend, mapper, adapter,
		filepath.Join(dir, "cascade.xml"), modelPath, 80)

	router := api.NewRouter(api.Deps{
		Students:    api.NewStudentHandler(svc),
		Training:    api.NewTrainingHandler(trainer, collector),
		Recognition: api.NewRecognitionHandler(controller, images),
		Attendance:  api.NewAttendanceHandler(ledger),
		Metrics:     collector.Handler(),
	})
	return router, repo
}

func multipartStudent(t *testing.T, name, department string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		mw.WriteField("name", name)
	}
	if department != "" {
		mw.WriteField("department", department)
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "face.png")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(image)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterStudent(t *testing.T) {
	h, repo := newTestServer(t)

	body, ct := multipartStudent(t, "Alice", "CS", pngBytes(t))
	rec := doRequest(t, h, http.MethodPost, "/api/v1/students", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var got data.Student
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Name != "Alice" || got.LabelID != 0 {
		t.Errorf("unexpected student %+v", got)
	}
	if len(repo.rows) != 1 {
		t.Errorf("expected one row, got %d", len(repo.rows))
	}
}

func TestRegisterStudent_Validation(t *testing.T) {
	h, _ := newTestServer(t)

	body, ct := multipartStudent(t, "", "CS", pngBytes(t))
	rec := doRequest(t, h, http.MethodPost, "/api/v1/students", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d", rec.Code)
	}

	body, ct = multipartStudent(t, "Bob", "CS", nil)
	rec = doRequest(t, h, http.MethodPost, "/api/v1/students", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing image: status = %d", rec.Code)
	}
}

func TestRegisterStudent_DuplicateName(t *testing.T) {
	h, _ := newTestServer(t)

	body, ct := multipartStudent(t, "Alice", "CS", pngBytes(t))
	doRequest(t, h, http.MethodPost, "/api/v1/students", body, ct)

	body, ct = multipartStudent(t, "Alice", "EE", pngBytes(t))
	rec := doRequest(t, h, http.MethodPost, "/api/v1/students", body, ct)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate name: status = %d, body %s", rec.Code, rec.Body)
	}

	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["kind"] != "conflict" {
		t.Errorf("kind = %q, want conflict", resp["kind"])
	}
}

func TestListAndDeleteStudents(t *testing.T) {
	h, _ := newTestServer(t)

	for _, name := range []string{"Alice", "Bob"} {
		body, ct := multipartStudent(t, name, "CS", pngBytes(t))
		doRequest(t, h, http.MethodPost, "/api/v1/students", body, ct)
	}

	rec := doRequest(t, h, http.MethodGet, "/api/v1/students", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listResp struct {
		Count    int            `json:"count"`
		Students []data.Student `json:"students"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatal(err)
	}
	if listResp.Count != 2 || listResp.Students[0].Name != "Alice" {
		t.Errorf("unexpected list %+v", listResp)
	}

	rec = doRequest(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/students/%d", listResp.Students[0].ID), nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/students/9999", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing: status = %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodDelete, "/api/v1/students/abc", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("delete bad id: status = %d", rec.Code)
	}
}

func TestTrain_EmptyRegistryIsPreconditionFailure(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/training/train",
		bytes.NewBufferString(`{"mode":"native"}`), "application/json")
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestTrain_UnknownMode(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/training/train",
		bytes.NewBufferString(`{"mode":"gpu"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestRecognitionStart_NoModel(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodPost, "/api/v1/recognition/start", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestRecognitionStatusAndStop_Idle(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/recognition/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st recognition.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Running {
		t.Error("fresh server should be idle")
	}

	rec = doRequest(t, h, http.MethodPost, "/api/v1/recognition/stop", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("stop status = %d", rec.Code)
	}
}

func TestRecognizeImage_Garbage(t *testing.T) {
	h, _ := newTestServer(t)

	body, ct := multipartStudent(t, "", "", []byte("not an image"))
	rec := doRequest(t, h, http.MethodPost, "/api/v1/recognition/image", body, ct)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestAttendanceFileInfo(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doRequest(t, h, http.MethodGet, "/api/v1/attendance/file", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Path   string `json:"path"`
		Exists bool   `json:"exists"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Exists {
		t.Error("ledger should not exist before first mark")
	}
	if resp.Path == "" {
		t.Error("path should always be reported")
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doRequest(t, h, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doRequest(t, h, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("attend_recognition_running")) {
		t.Error("expected recognition gauge in exposition")
	}
}
