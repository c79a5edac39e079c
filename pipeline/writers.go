package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-films/models"
)

// OutputWriter writes a local copy of the reconciled table. Writers are not
// safe for concurrent use.
type OutputWriter interface {
	Write(rows models.Table) error
	Close() error
	Validate() error
}

// NewWriter returns the writer for format, csv or json.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case "csv":
		w, err := NewCSVWriter(filename)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "json":
		w, err := NewJSONWriter(filename)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// Export writes table to filename in one go.
func Export(filename, format string, table models.Table) (err error) {
	w, err := NewWriter(format, filename)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := w.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := w.Write(table); err != nil {
		return err
	}
	if len(table) == 0 {
		return nil
	}
	return w.Validate()
}

// fileSink owns the output file shared by both writers.
type fileSink struct {
	kind string
	file *os.File
}

func openSink(kind, filename string) (fileSink, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fileSink{}, fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return fileSink{}, fmt.Errorf("create %s file: %w", kind, err)
	}
	return fileSink{kind: kind, file: f}, nil
}

// Validate reports an error when nothing reached the file.
func (s *fileSink) Validate() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat %s file: %w", s.kind, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%s file %s is empty", s.kind, s.file.Name())
	}
	return nil
}

// CSVWriter writes rows in the snapshot column layout.
type CSVWriter struct {
	fileSink
	csv *csv.Writer
}

// NewCSVWriter creates filename and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	sink, err := openSink("csv", filename)
	if err != nil {
		return nil, err
	}
	w := &CSVWriter{fileSink: sink, csv: csv.NewWriter(sink.file)}
	if err := w.emit(models.TableHeader); err != nil {
		sink.file.Close()
		return nil, err
	}
	return w, nil
}

func (w *CSVWriter) emit(records ...[]string) error {
	if err := w.csv.WriteAll(records); err != nil {
		return fmt.Errorf("write csv records: %w", err)
	}
	return nil
}

// Write appends rows to the CSV output.
func (w *CSVWriter) Write(rows models.Table) error {
	records := make([][]string, len(rows))
	for i, row := range rows {
		records[i] = row.Record()
	}
	return w.emit(records...)
}

// Close flushes and closes the file.
func (w *CSVWriter) Close() error {
	w.csv.Flush()
	return errors.Join(w.csv.Error(), w.file.Close())
}

// jsonRow renders missing values as null.
type jsonRow struct {
	ID        int64   `json:"id"`
	Rating    *int    `json:"rating"`
	Title     *string `json:"title"`
	Year      *int    `json:"year"`
	Director  *string `json:"director"`
	Actors    *string `json:"actors"`
	Countries *string `json:"countries"`
}

func toJSONRow(row models.Row) jsonRow {
	out := jsonRow{
		ID:        row.ID,
		Title:     optionalString(row.Title),
		Director:  optionalString(row.Director),
		Actors:    optionalString(row.Actors),
		Countries: optionalString(row.Countries),
	}
	if row.Rating != models.NoRating {
		rating := row.Rating
		out.Rating = &rating
	}
	if row.Year != models.UnknownYear {
		year := row.Year
		out.Year = &year
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// JSONWriter writes one JSON object per line.
type JSONWriter struct {
	fileSink
	buf *bufio.Writer
}

// NewJSONWriter creates filename.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	sink, err := openSink("json", filename)
	if err != nil {
		return nil, err
	}
	return &JSONWriter{fileSink: sink, buf: bufio.NewWriter(sink.file)}, nil
}

// Write appends rows as JSON lines.
func (w *JSONWriter) Write(rows models.Table) error {
	enc := json.NewEncoder(w.buf)
	for _, row := range rows {
		if err := enc.Encode(toJSONRow(row)); err != nil {
			return fmt.Errorf("encode json row %d: %w", row.ID, err)
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the file.
func (w *JSONWriter) Close() error {
	return errors.Join(w.buf.Flush(), w.file.Close())
}
