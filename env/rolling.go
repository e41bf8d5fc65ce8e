package env

import "fmt"

// Rolling wraps an Env so a LogSink can redirect future writes to a
// new numbered physical file without losing the logical offset it
// tracks itself, grounded on the original's RollingLogFile and
// LogSink::Lrotate.
type Rolling struct {
	env    Env
	prefix string
	index  int
	cur    Appender
}

// NewRolling opens the first physical file (index 0) for prefix.
func NewRolling(e Env, prefix string) (*Rolling, error) {
	r := &Rolling{env: e, prefix: prefix}
	a, err := e.Create(r.name(0))
	if err != nil {
		return nil, err
	}
	r.cur = a
	return r, nil
}

func (r *Rolling) name(index int) string {
	return fmt.Sprintf("%s.dat.%d", r.prefix, index)
}

func (r *Rolling) Append(p []byte) (int, error) { return r.cur.Append(p) }
func (r *Rolling) Flush() error                 { return r.cur.Flush() }
func (r *Rolling) Sync() error                  { return r.cur.Sync() }
func (r *Rolling) Close() error                 { return r.cur.Close() }

// Rotate closes the current physical file and opens the next numbered
// one. The caller's logical offset is untouched: only Ptell-style
// physical accounting resets.
func (r *Rolling) Rotate(sync bool) error {
	if sync {
		if err := r.cur.Sync(); err != nil {
			return err
		}
	}
	if err := r.cur.Close(); err != nil {
		return err
	}
	r.index++
	a, err := r.env.Create(r.name(r.index))
	if err != nil {
		return err
	}
	r.cur = a
	return nil
}

// Index is the number of rotations performed so far.
func (r *Rolling) Index() int { return r.index }
