package fetcher

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the workbook reader.
type XLSXOptions struct {
	SheetIndex int             // default 0
	SheetName  string          // overrides SheetIndex when set
	HasHeader  bool            // first row is not sent on the row channel
	HeaderCh   chan<- []string // optional: receives the header row
}

// StreamXLSX reads one sheet of a workbook and sends its rows on the returned
// channel, with the same channel contract as StreamCSV. Fully empty rows are
// skipped.
func StreamXLSX(ctx context.Context, path string, opts XLSXOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "xlsx: open file")
			return
		}
		sheet, err := pickSheet(f, opts)
		if err != nil {
			errCh <- err
			return
		}

		header := opts.HasHeader
		for _, row := range sheet.Rows {
			cells := rowCells(row)
			if isBlank(cells) {
				continue
			}

			var out chan<- []string = rowCh
			if header {
				header = false
				if opts.HeaderCh == nil {
					continue
				}
				out = opts.HeaderCh
			}
			select {
			case out <- cells:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xlsx: cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func pickSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowCells(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if c != "" {
			return false
		}
	}
	return true
}
