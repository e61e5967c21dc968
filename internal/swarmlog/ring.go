package swarmlog

import (
	"container/ring"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ringTimeLayout mirrors the "2006/01/02 15:04:05 " prefix golog's
// LstdFlags puts on every io.Writer-backed logger's line, so a line
// retrieved from a Ring via Dump looks the same as one that went to
// stderr or a file.
const ringTimeLayout = "2006/01/02 15:04:05 "

// Ring is a fixed-size in-memory log sink, useful for exposing recent log
// lines on an admin/debug surface (a SIGHUP dump, a debug HTTP endpoint)
// without retaining unbounded history or touching disk.
type Ring struct {
	size int
	now  func() time.Time

	mu  sync.Mutex
	buf *ring.Ring
	n   int
}

// NewRing creates a Ring retaining the last size log lines.
func NewRing(size int) *Ring {
	return &Ring{
		buf:  ring.New(size),
		size: size,
		now:  time.Now,
	}
}

// Println implements the printer interface AddRingLogger wires into a
// logger: it timestamps v the way golog.LstdFlags would and stores it as
// the ring's newest entry, overwriting the oldest once the ring is full.
func (l *Ring) Println(v ...interface{}) {
	var b strings.Builder
	b.WriteString(l.now().Format(ringTimeLayout))
	fmt.Fprintln(&b, v...)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = l.buf.Next()
	l.buf.Value = b.String()
	if l.n < l.size {
		l.n++
	}
}

// Len reports how many lines are currently retained (at most size).
func (l *Ring) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Dump returns the retained log lines, oldest first.
func (l *Ring) Dump() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := make([]string, 0, l.n)
	l.buf.Next().Do(func(v interface{}) {
		if v == nil {
			return
		}
		res = append(res, v.(string))
	})
	return res
}
