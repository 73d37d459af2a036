package shuffle

import (
	"bufio"
	"container/heap"
	"fmt"
	"io"
	"os"
)

// cursor holds one open sorted file and its next pending line. The merge
// never buffers more than this single line per file.
type cursor struct {
	file *os.File
	r    *bufio.Reader
	line string
}

// advance reads the cursor's next line. It reports false when the file is
// exhausted. Like sortFile, it terminates a final unterminated line.
func (c *cursor) advance() (bool, error) {
	line, err := c.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	if len(line) == 0 {
		return false, nil
	}
	if line[len(line)-1] != '\n' {
		line += "\n"
	}
	c.line = line
	return true, nil
}

// cursorHeap is a min-heap of cursors ordered by their pending lines, the
// peek/pop structure of a streaming k-way merge.
type cursorHeap []*cursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return h[i].line < h[j].line }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*cursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// merger yields the fully sorted concatenation of a set of individually
// sorted files, one line at a time. Zero files is a valid, empty merge.
type merger struct {
	h cursorHeap
}

func newMerger(paths []string) (*merger, error) {
	m := &merger{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			m.close()
			return nil, fmt.Errorf("open sorted partition: %w", err)
		}
		c := &cursor{file: f, r: bufio.NewReader(f)}
		ok, err := c.advance()
		if err != nil {
			f.Close()
			m.close()
			return nil, fmt.Errorf("read sorted partition %s: %w", p, err)
		}
		if !ok {
			f.Close()
			continue
		}
		m.h = append(m.h, c)
	}
	heap.Init(&m.h)
	return m, nil
}

// next returns the smallest pending line across all files. ok is false once
// every file is exhausted.
func (m *merger) next() (line string, ok bool, err error) {
	if m.h.Len() == 0 {
		return "", false, nil
	}
	c := m.h[0]
	line = c.line
	more, err := c.advance()
	if err != nil {
		return "", false, fmt.Errorf("read sorted partition %s: %w", c.file.Name(), err)
	}
	if more {
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
		c.file.Close()
	}
	return line, true, nil
}

// close releases any files still open, for abandoned merges.
func (m *merger) close() {
	for _, c := range m.h {
		c.file.Close()
	}
	m.h = nil
}
