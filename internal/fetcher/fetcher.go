// Package fetcher downloads and parses tabular data from HTTP, FTP, CSV,
// XLSX and ZIP sources.
package fetcher

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a remote resource.
type Fetcher interface {
	// Download fetches rawURL and returns the body. The caller closes it.
	Download(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// DownloadToFile fetches rawURL with f and writes it to path. Returns bytes
// written.
func DownloadToFile(ctx context.Context, f Fetcher, rawURL, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}
