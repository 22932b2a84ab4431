// Package extrec drives the optional out-of-process recognizer script. The
// script speaks a small CLI protocol: a verb plus one file argument, JSON on
// stdout, diagnostics on stderr.
package extrec

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/ts-attend/internal/data"
)

var (
	ErrUnavailable = errors.New("external recognizer interpreter not found")
	ErrBadOutput   = errors.New("external recognizer returned no valid JSON")
)

// Adapter runs the recognizer script through a Python interpreter. The
// interpreter probe happens once and is cached for the process lifetime.
type Adapter struct {
	script     string
	timeout    time.Duration
	candidates []string

	probeOnce sync.Once
	exe       string
}

func NewAdapter(script string, timeout time.Duration) *Adapter {
	return &Adapter{
		script:     script,
		timeout:    timeout,
		candidates: []string{"python3", "python", "py"},
	}
}

func (a *Adapter) executable() string {
	a.probeOnce.Do(func() {
		for _, cmd := range a.candidates {
			if exec.Command(cmd, "--version").Run() == nil {
				log.Printf("[ExtRec] Found interpreter: %s", cmd)
				a.exe = cmd
				return
			}
		}
		log.Printf("[ExtRec] No interpreter found, external recognizer disabled")
	})
	return a.exe
}

// Available reports whether both an interpreter and the script are present.
func (a *Adapter) Available() bool {
	if a.executable() == "" {
		return false
	}
	_, err := os.Stat(a.script)
	return err == nil
}

type studentRecord struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	ImagePath  string `json:"imagePath"`
	LabelID    int    `json:"labelId"`
}

type trainResult struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	TrainedCount int    `json:"trainedCount"`
}

// Match is one recognized face from the external recognizer. Location is
// top, right, bottom, left in pixels.
type Match struct {
	LabelID    int     `json:"labelId"`
	Name       string  `json:"name"`
	Department string  `json:"department"`
	Confidence float64 `json:"confidence"`
	Location   [4]int  `json:"location"`
}

type recognizeResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Faces   []Match `json:"faces"`
}

// Train hands the registry to the script as a temporary JSON file. Paths are
// normalized to forward slashes so the script behaves the same on every
// platform.
func (a *Adapter) Train(ctx context.Context, students []*data.Student) (int, error) {
	exe := a.executable()
	if exe == "" {
		return 0, ErrUnavailable
	}

	records := make([]studentRecord, 0, len(students))
	for _, s := range students {
		records = append(records, studentRecord{
			ID:         s.ID,
			Name:       s.Name,
			Department: s.Department,
			ImagePath:  filepath.ToSlash(s.ImagePath),
			LabelID:    s.LabelID,
		})
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return 0, fmt.Errorf("marshal students: %w", err)
	}

	tmp, err := os.CreateTemp("", "students_*.json")
	if err != nil {
		return 0, fmt.Errorf("create temp students file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write temp students file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}

	out, err := a.run(ctx, exe, a.script, "train", tmp.Name())
	if err != nil {
		return 0, err
	}

	var res trainResult
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}
	if !res.Success {
		return 0, fmt.Errorf("external training failed: %s", res.Message)
	}
	return res.TrainedCount, nil
}

// Recognize asks the script to classify every face in the given image file.
func (a *Adapter) Recognize(ctx context.Context, imagePath string) ([]Match, error) {
	exe := a.executable()
	if exe == "" {
		return nil, ErrUnavailable
	}
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("image file not found: %s", imagePath)
	}

	out, err := a.run(ctx, exe, a.script, "recognize", imagePath)
	if err != nil {
		return nil, err
	}

	var res recognizeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadOutput, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("external recognition failed: %s", res.Message)
	}
	return res.Faces, nil
}

// run executes one script invocation. Stdout and stderr are drained by
// separate goroutines so a chatty script cannot deadlock on a full pipe;
// stdout lines that do not look like JSON are discarded since libraries the
// script loads sometimes print warnings there. The last JSON line wins: the
// script prints its result as the final line, anything JSON-shaped before it
// is progress output.
func (a *Adapter) run(ctx context.Context, exe string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, exe, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", exe, err)
	}

	var jsonLine string
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stdout)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
				jsonLine = line
			}
		}
	}()
	go func() {
		defer wg.Done()
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Printf("[ExtRec] %s", sc.Text())
		}
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("external recognizer timed out after %s", a.timeout)
		}
		return nil, fmt.Errorf("external recognizer exited with error: %w", err)
	}

	if jsonLine == "" {
		return nil, ErrBadOutput
	}
	return []byte(jsonLine), nil
}
