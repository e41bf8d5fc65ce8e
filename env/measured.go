package env

import "github.com/pdlfs/plfsio/metrics"

// Measured wraps an Appender with IoStats bookkeeping, the Go
// counterpart of the original's WritableFileStats hook on
// SynchronizableFile. IsIndex selects which pair of counters
// (index stream vs data stream) an append is attributed to.
type Measured struct {
	dst     Appender
	stats   *metrics.IoStats
	isIndex bool
}

func NewMeasured(dst Appender, stats *metrics.IoStats, isIndex bool) *Measured {
	return &Measured{dst: dst, stats: stats, isIndex: isIndex}
}

func (m *Measured) Append(p []byte) (n int, err error) {
	n, err = m.dst.Append(p)
	if err == nil {
		if m.isIndex {
			m.stats.AddIndex(n)
		} else {
			m.stats.AddData(n)
		}
	}
	return
}

func (m *Measured) Flush() error { return m.dst.Flush() }
func (m *Measured) Sync() error  { return m.dst.Sync() }
func (m *Measured) Close() error { return m.dst.Close() }

// MeasuredReaderAt wraps a ReaderAt with IoStats bookkeeping, the read
// counterpart of Measured.
type MeasuredReaderAt struct {
	dst     ReaderAt
	stats   *metrics.IoStats
	isIndex bool
}

func NewMeasuredReaderAt(dst ReaderAt, stats *metrics.IoStats, isIndex bool) *MeasuredReaderAt {
	return &MeasuredReaderAt{dst: dst, stats: stats, isIndex: isIndex}
}

func (m *MeasuredReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	n, err = m.dst.ReadAt(p, off)
	if err == nil {
		if m.isIndex {
			m.stats.AddIndex(n)
		} else {
			m.stats.AddData(n)
		}
	}
	return
}

func (m *MeasuredReaderAt) Size() (int64, error) { return m.dst.Size() }
func (m *MeasuredReaderAt) Close() error         { return m.dst.Close() }
