// Package reader parses the two delimited source files into raw records.
// Row-level problems surface as per-record errors the orchestrator counts;
// only an unreadable file is fatal.
package reader

import (
	"encoding/csv"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/errors"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// RawMovie is one unparsed row of the movies file.
type RawMovie struct {
	Line   int    // 1-based line number in the source file
	ID     string // source movie id column
	Title  string
	Genres string // delimited genre list, may be empty
}

// RawRating is one unparsed row of the ratings file.
type RawRating struct {
	Line      int
	UserID    string
	MovieID   string
	Rating    string
	Timestamp string
}

// Reader opens the configured source files. Each call to Movies or Ratings
// returns a sequence that re-opens the file when iterated, so re-reading
// yields the same records.
type Reader struct {
	delimiter rune
	encoding  string
}

// New creates a Reader from the input settings.
func New(settings *conf.Settings) *Reader {
	delimiter := ','
	if settings.Input.Delimiter != "" {
		delimiter = []rune(settings.Input.Delimiter)[0]
	}
	return &Reader{
		delimiter: delimiter,
		encoding:  settings.Input.Encoding,
	}
}

// Movies yields the rows of the movies file. The first yielded error is
// fatal (CategoryFileIO) when the file cannot be opened; row errors are
// per-record and iteration continues past them.
func (r *Reader) Movies(path string) iter.Seq2[RawMovie, error] {
	return func(yield func(RawMovie, error) bool) {
		readRows(r, path, yield, func(line int, fields []string) (RawMovie, error) {
			if len(fields) < 2 {
				return RawMovie{}, rowError(path, line, "movie row needs at least id and title columns")
			}
			raw := RawMovie{
				Line:  line,
				ID:    strings.TrimSpace(fields[0]),
				Title: strings.TrimSpace(fields[1]),
			}
			if len(fields) > 2 {
				raw.Genres = strings.TrimSpace(fields[2])
			}
			if raw.Title == "" {
				return RawMovie{}, rowError(path, line, "movie row has an empty title")
			}
			return raw, nil
		})
	}
}

// Ratings yields the rows of the ratings file with the same error contract
// as Movies.
func (r *Reader) Ratings(path string) iter.Seq2[RawRating, error] {
	return func(yield func(RawRating, error) bool) {
		readRows(r, path, yield, func(line int, fields []string) (RawRating, error) {
			if len(fields) < 4 {
				return RawRating{}, rowError(path, line, "rating row needs user, movie, rating and timestamp columns")
			}
			raw := RawRating{
				Line:      line,
				UserID:    strings.TrimSpace(fields[0]),
				MovieID:   strings.TrimSpace(fields[1]),
				Rating:    strings.TrimSpace(fields[2]),
				Timestamp: strings.TrimSpace(fields[3]),
			}
			if raw.UserID == "" || raw.MovieID == "" || raw.Rating == "" {
				return RawRating{}, rowError(path, line, "rating row has empty required fields")
			}
			return raw, nil
		})
	}
}

func sourceUnavailable(path string, err error) error {
	return errors.New(err).
		Component("reader").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Build()
}

// readRows drives one pass over a source file: open, decode, parse rows,
// skip the header, map fields into records.
func readRows[T any](r *Reader, path string, yield func(T, error) bool, parse func(line int, fields []string) (T, error)) {
	var zero T

	f, err := os.Open(path)
	if err != nil {
		yield(zero, sourceUnavailable(path, err))
		return
	}
	defer f.Close()

	var src io.Reader = f
	if enc := r.decoder(); enc != nil {
		src = transform.NewReader(f, enc)
	}

	cr := csv.NewReader(src)
	cr.Comma = r.delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	first := true
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			// csv.Reader recovers at the next row, so a parse error is
			// per-record, not fatal.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				first = false
				if !yield(zero, rowError(path, parseErr.Line, err.Error())) {
					return
				}
				continue
			}
			yield(zero, sourceUnavailable(path, err))
			return
		}
		// Quoted fields can span physical lines, so the record's position
		// comes from the parser, not a record counter.
		line, _ := cr.FieldPos(0)
		if first {
			first = false
			if isHeader(fields) {
				continue
			}
		}
		rec, perr := parse(line, fields)
		if perr != nil {
			if !yield(zero, perr) {
				return
			}
			continue
		}
		if !yield(rec, nil) {
			return
		}
	}
}

// decoder returns a transformer for the configured encoding, or nil when the
// input is already UTF-8.
func (r *Reader) decoder() transform.Transformer {
	name := strings.ToLower(strings.TrimSpace(r.encoding))
	if name == "" || name == "utf-8" || name == "utf8" {
		return nil
	}
	enc, err := ianaindex.IANA.Encoding(r.encoding)
	if err != nil || enc == nil {
		// Unknown encoding name, read the bytes as-is.
		return nil
	}
	return enc.NewDecoder()
}

// isHeader reports whether the first row looks like a column header: the
// leading id column is not numeric.
func isHeader(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	first := strings.TrimSpace(fields[0])
	if first == "" {
		return false
	}
	for _, c := range first {
		if c < '0' || c > '9' {
			return true
		}
	}
	return false
}

func rowError(path string, line int, msg string) error {
	return errors.Newf("%s", msg).
		Component("reader").
		Category(errors.CategoryFileParsing).
		Context("path", path).
		Context("line", line).
		Build()
}
