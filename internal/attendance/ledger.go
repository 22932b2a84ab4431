package attendance

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	sheetName = "Attendance"

	colName       = 0
	colDepartment = 1
	colDate       = 2
	colStatus     = 3
)

var headerRow = []string{"Name", "Department", "Date", "Status"}

// Ledger is the durable at-most-once daily attendance store. One row per
// (name, calendar date); all writes are serialized through a single mutex
// and published via temp-file-then-rename so readers never observe a
// partially written workbook.
type Ledger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

// Path returns the absolute path of the ledger artifact.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) today() string {
	return l.now().Format("2006-01-02")
}

// MarkAttendance appends one (name, department, today, status) row. Returns
// false without writing when (name, today) is already present. The check
// runs twice: once against a fresh read, and again on the workbook that is
// actually rewritten, closing the race window between writers.
func (l *Ledger) MarkAttendance(name, department, status string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := l.today()

	// Cheap pre-check before any workbook is built.
	if marked, err := l.alreadyMarked(name, today); err != nil {
		return false, err
	} else if marked {
		log.Printf("[Ledger] %s already marked for %s - skipping", name, today)
		return false, nil
	}

	wb, err := l.openOrCreate()
	if err != nil {
		return false, err
	}
	defer wb.Close()

	rows, err := wb.GetRows(sheetName)
	if err != nil {
		return false, fmt.Errorf("read sheet: %w", err)
	}

	// Double-check on the workbook we are about to rewrite.
	if containsMark(rows, name, today) {
		log.Printf("[Ledger] %s already marked for %s (double-check) - skipping", name, today)
		return false, nil
	}

	rowNum := len(rows) + 1
	cells := []string{name, department, today, status}
	for col, v := range cells {
		cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
		if err != nil {
			return false, err
		}
		if err := wb.SetCellValue(sheetName, cell, v); err != nil {
			return false, fmt.Errorf("set cell: %w", err)
		}
	}

	if err := l.publish(wb); err != nil {
		return false, err
	}

	log.Printf("[Ledger] %s (%s) marked %s", name, department, status)
	return true, nil
}

// MarkedToday returns the set of names with a record dated today. A missing
// or empty ledger yields an empty set; an empty file is deleted so the next
// write starts fresh.
func (l *Ledger) MarkedToday() (map[string]struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	marked := make(map[string]struct{})
	today := l.today()

	rows, err := l.readRows()
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) > colDate && row[colDate] == today {
			marked[row[colName]] = struct{}{}
		}
	}
	return marked, nil
}

func (l *Ledger) alreadyMarked(name, today string) (bool, error) {
	rows, err := l.readRows()
	if err != nil {
		return false, err
	}
	return containsMark(rows, name, today), nil
}

// readRows returns all rows of the attendance sheet, or nil when the ledger
// does not exist yet. Recognizably corrupt files (zero-byte, unreadable
// container) are deleted so the next write recreates them.
func (l *Ledger) readRows() ([][]string, error) {
	info, err := os.Stat(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat ledger: %w", err)
	}
	if info.Size() == 0 {
		log.Printf("[Ledger] Empty ledger file detected, deleting for recreation")
		os.Remove(l.path)
		return nil, nil
	}

	wb, err := excelize.OpenFile(l.path)
	if err != nil {
		log.Printf("[Ledger] Ledger unreadable (%v), deleting for recreation", err)
		os.Remove(l.path)
		return nil, nil
	}
	defer wb.Close()

	rows, err := wb.GetRows(sheetName)
	if err != nil {
		// Workbook opened but the sheet is absent; treat as empty.
		return nil, nil
	}
	return rows, nil
}

func containsMark(rows [][]string, name, today string) bool {
	for i, row := range rows {
		if i == 0 {
			continue // header
		}
		if len(row) > colDate && row[colName] == name && row[colDate] == today {
			return true
		}
	}
	return false
}

// openOrCreate loads the existing workbook or builds a fresh one with the
// Attendance sheet and bold header. Corrupt files were already removed by
// the preceding readRows call, so an open failure here is a fresh create.
func (l *Ledger) openOrCreate() (*excelize.File, error) {
	if info, err := os.Stat(l.path); err == nil && info.Size() > 0 {
		wb, err := excelize.OpenFile(l.path)
		if err == nil {
			if idx, _ := wb.GetSheetIndex(sheetName); idx < 0 {
				if _, err := wb.NewSheet(sheetName); err != nil {
					wb.Close()
					return nil, err
				}
				if err := writeHeader(wb); err != nil {
					wb.Close()
					return nil, err
				}
			}
			return wb, nil
		}
		log.Printf("[Ledger] Ledger unreadable on open (%v), recreating", err)
		os.Remove(l.path)
	}

	wb := excelize.NewFile()
	if _, err := wb.NewSheet(sheetName); err != nil {
		wb.Close()
		return nil, err
	}
	// Drop the default sheet so the workbook holds only Attendance.
	if err := wb.DeleteSheet("Sheet1"); err != nil {
		wb.Close()
		return nil, err
	}
	if err := writeHeader(wb); err != nil {
		wb.Close()
		return nil, err
	}
	return wb, nil
}

func writeHeader(wb *excelize.File) error {
	styleID, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for col, title := range headerRow {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := wb.SetCellValue(sheetName, cell, title); err != nil {
			return err
		}
	}
	return wb.SetCellStyle(sheetName, "A1", "D1", styleID)
}

// publish serializes the workbook to a sibling temp file, syncs it to disk
// and renames it over the target. On POSIX the rename is atomic; elsewhere
// it degrades to replace-rename, which still never exposes a partial file.
func (l *Ledger) publish(wb *excelize.File) error {
	tmpPath := l.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}

	if err := wb.Write(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close ledger: %w", err)
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish ledger: %w", err)
	}
	return nil
}
