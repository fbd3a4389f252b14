// Package pkb reads platform knowledge-base extracts: dated, tab-delimited
// flat files shipped per platform, from which additional domains are derived
// via a named field.
package pkb

import (
	"bufio"
	"fmt"
	"io/fs"
	"iter"
	"path"
	"regexp"
	"strings"

	"github.com/annedurand/ezpaarse/internal/log"
)

// datedName matches knowledge-base extract file names: anything followed by
// an underscore, an ISO date, and a .txt extension.
var datedName = regexp.MustCompile(`.+_\d{4}-\d{2}-\d{2}\.txt$`)

// Record is one knowledge-base row, keyed by column name.
type Record map[string]string

// Options controls extraction.
type Options struct {
	// Silent suppresses diagnostics for malformed rows.
	Silent bool
	// Fields limits the columns copied into each Record. Empty keeps all.
	Fields []string
	// Delimiter separates columns. Zero means tab.
	Delimiter rune
}

// Extractor parses delimited text files into field-keyed records. The
// sequence is lazy and finite; it ends early with a non-nil error when a file
// cannot be read.
type Extractor interface {
	Extract(files []string, opts Options) iter.Seq2[Record, error]
}

// DatedFiles lists the knowledge-base extracts under dir: regular files named
// <anything>_<YYYY-MM-DD>.txt. Paths come back joined onto dir, in directory
// order.
func DatedFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("list knowledge base %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !datedName.MatchString(e.Name()) {
			continue
		}
		files = append(files, path.Join(dir, e.Name()))
	}
	return files, nil
}

// FileExtractor reads delimited knowledge-base files from a filesystem. The
// first line of each file names the columns; rows shorter than the header are
// padded with empty values.
type FileExtractor struct {
	fsys fs.FS
}

// NewFileExtractor creates an extractor reading from fsys. Callers pass
// os.DirFS rooted at the platform tree in production and an fstest.MapFS in
// tests.
func NewFileExtractor(fsys fs.FS) *FileExtractor {
	return &FileExtractor{fsys: fsys}
}

// Extract lazily yields one Record per data row, in file order then line
// order. Open and read failures end the sequence with an error; blank rows
// are skipped; rows wider than the header keep only the named columns and are
// reported unless opts.Silent.
func (x *FileExtractor) Extract(files []string, opts Options) iter.Seq2[Record, error] {
	delim := string(opts.Delimiter)
	if opts.Delimiter == 0 {
		delim = "\t"
	}

	return func(yield func(Record, error) bool) {
		for _, file := range files {
			if !x.extractFile(file, delim, opts, yield) {
				return
			}
		}
	}
}

// extractFile yields file's rows. Returns false when the consumer stopped or
// an error was yielded.
func (x *FileExtractor) extractFile(file, delim string, opts Options, yield func(Record, error) bool) bool {
	f, err := x.fsys.Open(file)
	if err != nil {
		yield(nil, fmt.Errorf("open %s: %w", file, err))
		return false
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			yield(nil, fmt.Errorf("read %s: %w", file, err))
			return false
		}
		return true // empty file: no header, no rows
	}
	header := strings.Split(scanner.Text(), delim)

	line := 1
	for scanner.Scan() {
		line++
		raw := scanner.Text()
		if raw == "" {
			continue
		}

		cols := strings.Split(raw, delim)
		if len(cols) > len(header) && !opts.Silent {
			log.Warn(log.CatPKB, "row wider than header", "file", file, "line", line, "columns", len(cols), "header", len(header))
		}

		record := make(Record, len(header))
		for i, name := range header {
			if i < len(cols) {
				record[name] = cols[i]
			} else {
				record[name] = ""
			}
		}
		if len(opts.Fields) > 0 {
			record = project(record, opts.Fields)
		}

		if !yield(record, nil) {
			return false
		}
	}
	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("read %s: %w", file, err))
		return false
	}
	return true
}

// project keeps only the named fields. A field absent from the row comes back
// empty.
func project(record Record, fields []string) Record {
	out := make(Record, len(fields))
	for _, f := range fields {
		out[f] = record[f]
	}
	return out
}
