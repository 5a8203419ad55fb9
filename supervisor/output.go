package supervisor

import (
	"bytes"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"

	maxLineBytes      = 64 * 1024
	subscriberBacklog = 256
)

// OutputLine is one line written by the sidecar.
// Seq increases by one per line across restarts, starting at 1.
type OutputLine struct {
	Seq    int64
	Time   time.Time
	Stream string
	PID    int
	Text   string
}

// Output keeps the most recent sidecar output lines and fans new lines out to subscribers.
// Slow subscribers miss lines rather than blocking the sidecar.
type Output struct {
	mut      sync.Mutex
	lines    []OutputLine
	capacity int
	next     int
	full     bool
	seq      int64
	subs     map[chan OutputLine]struct{}
}

func NewOutput(capacity int) *Output {
	if capacity <= 0 {
		capacity = defaultOutputLines
	}
	return &Output{
		lines:    make([]OutputLine, capacity),
		capacity: capacity,
		subs:     map[chan OutputLine]struct{}{},
	}
}

func (o *Output) Append(stream, text string, pid int) OutputLine {
	o.mut.Lock()
	defer o.mut.Unlock()

	o.seq++
	l := OutputLine{
		Seq:    o.seq,
		Time:   time.Now(),
		Stream: stream,
		PID:    pid,
		Text:   text,
	}
	o.lines[o.next] = l
	o.next = (o.next + 1) % o.capacity
	if o.next == 0 {
		o.full = true
	}

	for ch := range o.subs {
		select {
		case ch <- l:
		default:
		}
	}
	return l
}

// Since returns the retained lines with Seq greater than seq, oldest first.
func (o *Output) Since(seq int64) []OutputLine {
	o.mut.Lock()
	defer o.mut.Unlock()
	return o.since(seq)
}

func (o *Output) since(seq int64) []OutputLine {
	var ordered []OutputLine
	if o.full {
		ordered = append(ordered, o.lines[o.next:]...)
	}
	ordered = append(ordered, o.lines[:o.next]...)

	var out []OutputLine
	for _, l := range ordered {
		if l.Seq > seq {
			out = append(out, l)
		}
	}
	return out
}

// SubscribeSince atomically returns the backlog after seq and a channel of subsequent lines.
// The cancel func closes the channel and must be called once the caller is done.
func (o *Output) SubscribeSince(seq int64) ([]OutputLine, <-chan OutputLine, func()) {
	o.mut.Lock()
	defer o.mut.Unlock()

	backlog := o.since(seq)
	ch := make(chan OutputLine, subscriberBacklog)
	o.subs[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			o.mut.Lock()
			defer o.mut.Unlock()
			delete(o.subs, ch)
			close(ch)
		})
	}
	return backlog, ch, cancel
}

// lineWriter is an io.Writer that calls emit for each complete line.
// Unterminated output longer than maxLineBytes is split on a rune boundary.
type lineWriter struct {
	mut  sync.Mutex
	buf  []byte
	emit func(line string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mut.Lock()
	defer w.mut.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emitLocked(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	for len(w.buf) > maxLineBytes {
		cut := maxLineBytes
		for cut > 0 && !utf8.RuneStart(w.buf[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLineBytes
		}
		w.emitLocked(w.buf[:cut])
		w.buf = w.buf[cut:]
	}
	return len(p), nil
}

// flush emits any trailing partial line.
func (w *lineWriter) flush() {
	w.mut.Lock()
	defer w.mut.Unlock()
	if len(w.buf) > 0 {
		w.emitLocked(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emitLocked(b []byte) {
	w.emit(strings.TrimRight(string(b), "\r"))
}
