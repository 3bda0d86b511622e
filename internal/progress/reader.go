package progress

import "io"

// DefaultInterval is how many bytes pass between two progress reports.
const DefaultInterval = 1 << 20

// Reader wraps an io.Reader and reports cumulative progress via a callback.
// A report is made every interval bytes and once more when the total is reached.
type Reader struct {
	r          io.Reader
	total      int64
	interval   int64
	onProgress func(written, total int64)

	read       int64
	sinceLast  int64
	reportedAt int64
}

func NewReader(r io.Reader, total, interval int64, cb func(written, total int64)) *Reader {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Reader{r: r, total: total, interval: interval, onProgress: cb}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		done := pr.total > 0 && pr.read >= pr.total
		if pr.sinceLast >= pr.interval || (done && pr.reportedAt != pr.read) {
			pr.report()
		}
	}

	return n, err
}

// Written returns how many bytes went through the reader.
func (pr *Reader) Written() int64 {
	return pr.read
}

func (pr *Reader) report() {
	pr.sinceLast = 0
	pr.reportedAt = pr.read

	if pr.onProgress != nil {
		pr.onProgress(pr.read, pr.total)
	}
}

// Fraction converts a written/total pair into [0, 1]. An unknown total yields 0.
func Fraction(written, total int64) float64 {
	if total <= 0 {
		return 0
	}

	if written >= total {
		return 1
	}

	return float64(written) / float64(total)
}
