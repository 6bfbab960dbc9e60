package journal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/boyangli/homesense/models"
)

// Sink receives exactly one record per classified reading. It is owned by
// the session that writes to it.
type Sink interface {
	Append(rec models.Record) error
}

// CSVJournal appends records to a CSV file. Column titles are written
// when the file is new and again whenever the record shape changes.
type CSVJournal struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
	header []string
	count  int
}

// OpenCSV opens (or creates) an append-only journal at path. The header of
// an existing file is kept so appends of the same shape continue it.
func OpenCSV(path string) (*CSVJournal, error) {
	header, err := existingHeader(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &CSVJournal{
		path:   path,
		file:   file,
		writer: csv.NewWriter(file),
		header: header,
	}, nil
}

func existingHeader(path string) ([]string, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read journal header: %w", err)
	}
	return header, nil
}

// Append writes one record and flushes it to the file
func (j *CSVJournal) Append(rec models.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if header := rec.Header(); !slices.Equal(header, j.header) {
		if err := j.writer.Write(header); err != nil {
			return fmt.Errorf("failed to write journal header: %w", err)
		}
		j.header = header
	}
	if err := j.writer.Write(rec.Row()); err != nil {
		return fmt.Errorf("failed to write journal row: %w", err)
	}
	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	j.count++
	return nil
}

// Count returns the number of records appended through this journal
func (j *CSVJournal) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Path returns the journal file path
func (j *CSVJournal) Path() string { return j.path }

// Close flushes and closes the file
func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.writer.Flush()
	return errors.Join(j.writer.Error(), j.file.Close())
}

// Memory keeps records in memory, for tests and dry runs
type Memory struct {
	mu      sync.Mutex
	records []models.Record
}

func (m *Memory) Append(rec models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything appended so far
func (m *Memory) Records() []models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.records)
}

// Multi appends to every sink and joins their errors
type Multi []Sink

func (m Multi) Append(rec models.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
