package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune            // default ','
	Comment    rune            // 0 = none
	HasHeader  bool            // first row is not sent on the row channel
	HeaderCh   chan<- []string // optional: receives the header row
	LazyQuotes bool
	TrimSpace  bool
}

const utf8BOM = "\ufeff"

// StreamCSV parses r and sends each record on the returned row channel. A
// parse error or cancellation is sent on the error channel. Both channels are
// closed when parsing stops; the caller must drain the row channel.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.Comment = opts.Comment
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	send := func(ch chan<- []string, rec []string) bool {
		select {
		case ch <- rec:
			return true
		case <-ctx.Done():
			errCh <- eris.Wrap(ctx.Err(), "csv: cancelled")
			return false
		}
	}

	go func() {
		defer close(rowCh)
		defer close(errCh)

		for n := 0; ; n++ {
			if err := ctx.Err(); err != nil {
				errCh <- eris.Wrap(err, "csv: cancelled")
				return
			}

			rec, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if n == 0 && len(rec) > 0 {
				rec[0] = strings.TrimPrefix(rec[0], utf8BOM)
			}
			if opts.TrimSpace {
				for i := range rec {
					rec[i] = strings.TrimSpace(rec[i])
				}
			}

			if n == 0 && opts.HasHeader {
				if opts.HeaderCh != nil && !send(opts.HeaderCh, rec) {
					return
				}
				continue
			}
			if !send(rowCh, rec) {
				return
			}
		}
	}()

	return rowCh, errCh
}

// Collect drains a row and error channel pair into memory.
func Collect(rows <-chan []string, errs <-chan error) ([][]string, error) {
	var out [][]string
	for row := range rows {
		out = append(out, row)
	}
	if err := <-errs; err != nil {
		return out, err
	}
	return out, nil
}
