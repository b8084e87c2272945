// Package dataset loads the diamonds table from a URL or local file and turns
// it into typed, cleaned training rows.
package dataset

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diamond-cli/internal/fetcher"
)

// Table is a raw tabular dataset: a header and string cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Options configures how remote sources are fetched.
type Options struct {
	TempDir    string
	Timeout    time.Duration
	MaxRetries int
}

// Load reads a dataset from source. Supported sources are http(s):// and
// ftp:// URLs and local paths; .zip archives holding one file and .xlsx
// workbooks are unpacked, anything else is parsed as CSV.
func Load(ctx context.Context, source string, opts Options) (*Table, error) {
	if source == "" {
		return nil, eris.New("dataset: source is required")
	}

	local, cleanup, err := localize(ctx, source, opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if strings.EqualFold(filepath.Ext(local), ".zip") {
		dir, err := os.MkdirTemp(opts.TempDir, "unzip-")
		if err != nil {
			return nil, eris.Wrap(err, "dataset: create unzip dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		local, err = fetcher.ExtractZIPSingle(local, dir)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	var t *Table
	if strings.EqualFold(filepath.Ext(local), ".xlsx") {
		t, err = readXLSX(ctx, local)
	} else {
		t, err = readCSVFile(ctx, local)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("dataset: loaded",
		zap.String("source", source),
		zap.Int("rows", len(t.Rows)),
		zap.Strings("columns", t.Header),
		zap.Duration("elapsed", time.Since(start)),
	)
	return t, nil
}

// localize returns a local path for source, downloading remote sources into
// opts.TempDir. The cleanup func removes anything it downloaded.
func localize(ctx context.Context, source string, opts Options) (string, func(), error) {
	noop := func() {}

	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path, including Windows drive letters.
		if _, statErr := os.Stat(source); statErr != nil {
			return "", noop, eris.Wrapf(statErr, "dataset: open %s", source)
		}
		return source, noop, nil
	}

	var f fetcher.Fetcher
	switch u.Scheme {
	case "http", "https":
		f = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Timeout: opts.Timeout, MaxRetries: opts.MaxRetries})
	case "ftp":
		f = fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: opts.Timeout})
	case "file":
		return u.Path, noop, nil
	default:
		return "", noop, eris.Errorf("dataset: unsupported scheme %q", u.Scheme)
	}

	if opts.TempDir != "" {
		if err := os.MkdirAll(opts.TempDir, 0o755); err != nil {
			return "", noop, eris.Wrap(err, "dataset: create temp dir")
		}
	}
	dir, err := os.MkdirTemp(opts.TempDir, "download-")
	if err != nil {
		return "", noop, eris.Wrap(err, "dataset: create download dir")
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "dataset.csv"
	}
	dest := filepath.Join(dir, name)

	n, err := fetcher.DownloadToFile(ctx, f, source, dest)
	if err != nil {
		cleanup()
		return "", noop, eris.Wrap(err, "dataset: download")
	}
	zap.L().Debug("dataset: downloaded", zap.String("url", source), zap.Int64("bytes", n))
	return dest, cleanup, nil
}

func readCSVFile(ctx context.Context, p string) (*Table, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open csv")
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(ctx, f)
}

// ReadCSV parses a CSV stream whose first row is the header.
func ReadCSV(ctx context.Context, r io.Reader) (*Table, error) {
	headerCh := make(chan []string, 1)
	rows, errs := fetcher.StreamCSV(ctx, r, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})
	return collect(rows, errs, headerCh)
}

func readXLSX(ctx context.Context, p string) (*Table, error) {
	headerCh := make(chan []string, 1)
	rows, errs := fetcher.StreamXLSX(ctx, p, fetcher.XLSXOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	return collect(rows, errs, headerCh)
}

func collect(rows <-chan []string, errs <-chan error, headerCh chan []string) (*Table, error) {
	data, err := fetcher.Collect(rows, errs)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: parse")
	}

	var header []string
	select {
	case header = <-headerCh:
	default:
	}
	if len(header) == 0 {
		return nil, eris.New("dataset: empty file, no header row")
	}
	return &Table{Header: header, Rows: data}, nil
}
