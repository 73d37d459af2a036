package mapreduce

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aarmaane/madoop/internal/partition"
	"github.com/aarmaane/madoop/internal/task"
)

const testShebang = "#!/bin/sh"

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script %s: %v", name, err)
	}
	return path
}

func writeInput(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write input %s: %v", name, err)
	}
}

// newTestJob builds a job with identity map/reduce scripts and a shell
// shebang so tests stay hermetic.
func newTestJob(t *testing.T, inputDir string) *Job {
	t.Helper()
	scriptDir := t.TempDir()
	mapExe := writeScript(t, scriptDir, "map.sh", "#!/bin/sh\ncat\n")
	reduceExe := writeScript(t, scriptDir, "reduce.sh", "#!/bin/sh\ncat\n")

	job := NewJob(inputDir, filepath.Join(t.TempDir(), "output"), mapExe, reduceExe)
	job.Shebang = testShebang
	return job
}

// outputLines gathers all lines across every published output partition.
func outputLines(t *testing.T, outputDir string) []string {
	t.Helper()
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("read output directory: %v", err)
	}
	var lines []string
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(outputDir, entry.Name()))
		if err != nil {
			t.Fatal(err)
		}
		for _, line := range strings.SplitAfter(string(data), "\n") {
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

func TestJobRunIdentityPipeline(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	inputDir := t.TempDir()
	writeInput(t, inputDir, "words.txt", "pear\napple\npear\nfig\n")

	job := newTestJob(t, inputDir)
	if err := job.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The fixed reducer ceiling worth of partitions is published.
	for i := 0; i < DefaultNumReducers; i++ {
		if _, err := os.Stat(filepath.Join(job.OutputDir, partition.Filename(i))); err != nil {
			t.Errorf("missing output partition %d: %v", i, err)
		}
	}

	got := outputLines(t, job.OutputDir)
	sort.Strings(got)
	want := []string{"apple\n", "fig\n", "pear\n", "pear\n"}
	if len(got) != len(want) {
		t.Fatalf("output lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("output lines = %v, want %v", got, want)
		}
	}

	// The scratch workspace is gone after a successful run.
	assertNoWorkspaceLeft(t)
}

func TestJobRunDeterminism(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	inputDir := t.TempDir()
	writeInput(t, inputDir, "a.txt", "cherry\t1\nbanana\t1\n")
	writeInput(t, inputDir, "b.txt", "apple\t1\ncherry\t1\n")

	run := func() []string {
		job := newTestJob(t, inputDir)
		if err := job.Run(); err != nil {
			t.Fatalf("Run: %v", err)
		}
		parts := make([]string, DefaultNumReducers)
		for i := range parts {
			data, err := os.ReadFile(filepath.Join(job.OutputDir, partition.Filename(i)))
			if err != nil {
				t.Fatal(err)
			}
			parts[i] = string(data)
		}
		return parts
	}

	first := run()
	second := run()
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("part-%05d differs between runs: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestJobRunSmallSplitSize(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	inputDir := t.TempDir()
	writeInput(t, inputDir, "words.txt", "delta\nalpha\ngamma\nbeta\n")

	job := newTestJob(t, inputDir)
	job.SplitSize = 6 // force several map partitions

	if err := job.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := outputLines(t, job.OutputDir)
	if len(got) != 4 {
		t.Fatalf("output has %d lines, want 4: %v", len(got), got)
	}
}

func TestJobRunEmptyInputDirectory(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	job := newTestJob(t, t.TempDir())
	if err := job.Run(); err != nil {
		t.Fatalf("Run over empty input: %v", err)
	}

	// Zero map tasks, but the reducer partitions still exist and are empty.
	for i := 0; i < DefaultNumReducers; i++ {
		data, err := os.ReadFile(filepath.Join(job.OutputDir, partition.Filename(i)))
		if err != nil {
			t.Fatalf("missing output partition %d: %v", i, err)
		}
		if len(data) != 0 {
			t.Errorf("partition %d = %q, want empty", i, data)
		}
	}
}

func TestJobRunOutputExists(t *testing.T) {
	inputDir := t.TempDir()
	writeInput(t, inputDir, "words.txt", "x\n")

	job := newTestJob(t, inputDir)
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := job.Run(); !errors.Is(err, ErrOutputExists) {
		t.Fatalf("err = %v, want ErrOutputExists", err)
	}
}

func TestJobRunMissingInput(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	job := newTestJob(t, filepath.Join(t.TempDir(), "nope"))
	if err := job.Run(); !errors.Is(err, partition.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	assertNoWorkspaceLeft(t)
}

func TestJobRunBadShebang(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	inputDir := t.TempDir()
	writeInput(t, inputDir, "words.txt", "x\n")

	job := newTestJob(t, inputDir)
	job.MapExe = writeScript(t, t.TempDir(), "bad.sh", "echo not a shebang\n")

	err := job.Run()
	if !errors.Is(err, task.ErrBadShebang) {
		t.Fatalf("err = %v, want ErrBadShebang", err)
	}

	// Validation failed before any task ran: the output directory exists but
	// holds nothing.
	entries, err := os.ReadDir(job.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output directory not empty after validation failure: %d entries", len(entries))
	}
	assertNoWorkspaceLeft(t)
}

func TestJobRunMapFailureSkipsReduce(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	inputDir := t.TempDir()
	writeInput(t, inputDir, "words.txt", "x\n")

	scriptDir := t.TempDir()
	marker := filepath.Join(scriptDir, "reduce-ran")

	job := newTestJob(t, inputDir)
	job.MapExe = writeScript(t, scriptDir, "map.sh", "#!/bin/sh\nexit 1\n")
	job.ReduceExe = writeScript(t, scriptDir, "reduce.sh",
		fmt.Sprintf("#!/bin/sh\ntouch %s\ncat\n", marker))

	if err := job.Run(); err == nil {
		t.Fatal("Run succeeded, want map failure")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("reduce task ran despite map failure")
	}

	entries, err := os.ReadDir(job.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output published despite map failure: %d entries", len(entries))
	}
	assertNoWorkspaceLeft(t)
}

// assertNoWorkspaceLeft verifies no madoop-* scratch directory survives in
// the test-scoped temp dir. Requires t.Setenv("TMPDIR", ...) beforehand.
func assertNoWorkspaceLeft(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(os.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "madoop-") {
			t.Errorf("scratch workspace left behind: %s", entry.Name())
		}
	}
}
