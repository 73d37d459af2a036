// Package task runs one user executable per partition, map and reduce alike.
package task

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aarmaane/madoop/internal/logger"
	"github.com/aarmaane/madoop/internal/partition"
)

// ErrBadShebang reports that an executable's first line is not the required
// interpreter directive.
var ErrBadShebang = errors.New("invalid shebang")

// maxParallel bounds how many task subprocesses run at once within a stage.
const maxParallel = 4

// Runner executes one external program per partition ordinal, piping the
// input partition to stdin and capturing stdout to the matching output
// partition. The same runner shape serves the map and the reduce stage.
type Runner struct {
	Exe     string // absolute path to the user executable
	Shebang string // required first line of the executable
	Log     *logger.Logger
}

// CheckShebang reads only the first line of the executable and verifies it
// matches the required interpreter directive. Executing a script with a
// broken shebang produces confusing subprocess errors, so it is validated
// up front instead.
func (r *Runner) CheckShebang() error {
	f, err := os.Open(r.Exe)
	if err != nil {
		return fmt.Errorf("open executable: %w", err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read executable %s: %w", r.Exe, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line != r.Shebang {
		return fmt.Errorf("%w: %s: first line %q, expected %q", ErrBadShebang, r.Exe, line, r.Shebang)
	}
	return nil
}

// RunAll executes one task per ordinal 0..count-1. Tasks own disjoint files,
// so they run concurrently under a bounded semaphore; the call returns only
// after every task has finished. Any non-zero exit status fails the whole
// run; there are no retries.
func (r *Runner) RunAll(inputDir, outputDir string, count int) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	sem := make(chan struct{}, maxParallel)

	for i := 0; i < count; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := r.runOne(inputDir, outputDir, n); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(i)
	}

	wg.Wait()
	if firstErr == nil && r.Log != nil {
		r.Log.Debug("completed %d task(s) for %s", count, filepath.Base(r.Exe))
	}
	return firstErr
}

// runOne spawns the executable for a single partition. The subprocess
// inherits stderr so user scripts stay debuggable.
func (r *Runner) runOne(inputDir, outputDir string, n int) error {
	inPath := filepath.Join(inputDir, partition.Filename(n))
	outPath := filepath.Join(outputDir, partition.Filename(n))

	fmt.Printf("+ %s < %s > %s\n", filepath.Base(r.Exe), inPath, outPath)

	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("open task input: %w", err)
	}
	defer in.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create task output: %w", err)
	}
	defer out.Close()

	cmd := exec.Command(r.Exe)
	cmd.Stdin = in
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command returned non-zero: %s < %s > %s: %w", r.Exe, inPath, outPath, err)
	}
	return nil
}
