package storage

import (
	"errors"
	"io"

	"memorylane/internal/backend"
)

// progressReader reports bytes read to onProgress. A rewind for a retry
// restarts the count without reporting lower values.
type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	reported   int64
	onProgress backend.ProgressFunc
}

func newProgressReader(r io.Reader, total int64, onProgress backend.ProgressFunc) *progressReader {
	return &progressReader{r: r, total: total, onProgress: onProgress}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil && p.sent > p.reported {
			p.reported = p.sent
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	s, ok := p.r.(io.Seeker)
	if !ok {
		return 0, errors.New("progress reader: body is not seekable")
	}
	pos, err := s.Seek(offset, whence)
	if err == nil {
		p.sent = pos
	}
	return pos, err
}
