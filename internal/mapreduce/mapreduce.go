// Package mapreduce orchestrates the single-machine MapReduce pipeline:
// input preparation, the map stage, the group stage, the reduce stage, and
// publication of the results.
package mapreduce

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aarmaane/madoop/internal/logger"
	"github.com/aarmaane/madoop/internal/partition"
	"github.com/aarmaane/madoop/internal/shuffle"
	"github.com/aarmaane/madoop/internal/task"
)

// ErrOutputExists reports that the requested output directory already exists.
// Runs never merge into or overwrite existing output.
var ErrOutputExists = errors.New("output directory already exists")

const (
	// DefaultSplitSize is the input split threshold: larger input files are
	// divided into multiple map partitions.
	DefaultSplitSize = 1 << 20 // 1 MiB

	// DefaultNumReducers is the fixed ceiling on reducer partitions.
	DefaultNumReducers = 4

	// DefaultShebang is the interpreter directive required as the first
	// line of the map and reduce executables.
	DefaultShebang = "#!/usr/bin/env python3"
)

// Job describes one MapReduce run. It is immutable once Run is called and
// owns the scratch workspace for the run's duration. The tunables are
// explicit fields rather than process-wide constants so tests can run with
// tiny thresholds.
type Job struct {
	InputDir  string
	OutputDir string
	MapExe    string
	ReduceExe string

	SplitSize   int64
	NumReducers int
	Shebang     string

	Log *logger.Logger
}

// NewJob creates a Job with the default split threshold, reducer ceiling,
// and interpreter directive.
func NewJob(inputDir, outputDir, mapExe, reduceExe string) *Job {
	return &Job{
		InputDir:    inputDir,
		OutputDir:   outputDir,
		MapExe:      mapExe,
		ReduceExe:   reduceExe,
		SplitSize:   DefaultSplitSize,
		NumReducers: DefaultNumReducers,
		Shebang:     DefaultShebang,
		Log:         logger.New("INFO"),
	}
}

// Run executes the whole pipeline. Any error is fatal to the run; the
// scratch workspace is removed on every exit path.
func (j *Job) Run() error {
	if _, err := os.Stat(j.OutputDir); err == nil {
		return fmt.Errorf("%w: %s", ErrOutputExists, j.OutputDir)
	}
	if err := os.MkdirAll(j.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	mapExe, err := filepath.Abs(j.MapExe)
	if err != nil {
		return fmt.Errorf("resolve map executable: %w", err)
	}
	reduceExe, err := filepath.Abs(j.ReduceExe)
	if err != nil {
		return fmt.Errorf("resolve reduce executable: %w", err)
	}

	mapper := &task.Runner{Exe: mapExe, Shebang: j.Shebang, Log: j.Log}
	reducer := &task.Runner{Exe: reduceExe, Shebang: j.Shebang, Log: j.Log}

	// Validate both executables before anything is spawned or split.
	if err := mapper.CheckShebang(); err != nil {
		return err
	}
	if err := reducer.CheckShebang(); err != nil {
		return err
	}

	workspace := filepath.Join(os.TempDir(), "madoop-"+uuid.New().String()[:8])
	if err := os.Mkdir(workspace, 0o755); err != nil {
		return fmt.Errorf("create scratch workspace: %w", err)
	}
	defer os.RemoveAll(workspace)
	j.Log.Debug("scratch workspace: %s", workspace)

	mapInput := filepath.Join(workspace, "input")
	mapOutput := filepath.Join(workspace, "mapper-output")
	groupOutput := filepath.Join(workspace, "grouper-output")
	reduceOutput := filepath.Join(workspace, "reducer-output")
	for _, dir := range []string{mapInput, mapOutput, groupOutput, reduceOutput} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace subdirectory: %w", err)
		}
	}

	numMap, err := partition.PrepareInput(j.InputDir, mapInput, j.SplitSize)
	if err != nil {
		return err
	}
	j.Log.Info("prepared %d input split(s)", numMap)

	fmt.Println("Starting map stage")
	if err := mapper.RunAll(mapInput, mapOutput, numMap); err != nil {
		return err
	}

	fmt.Println("Starting group stage")
	numReduce, err := shuffle.Group(mapOutput, groupOutput, j.NumReducers, j.Log)
	if err != nil {
		return err
	}

	fmt.Println("Starting reduce stage")
	if err := reducer.RunAll(groupOutput, reduceOutput, numReduce); err != nil {
		return err
	}

	if err := publish(reduceOutput, j.OutputDir); err != nil {
		return err
	}

	fmt.Printf("Output directory: %s\n", j.OutputDir)
	return nil
}

// publish flat-copies every reduce-stage output file into the user-visible
// output directory, keeping names.
func publish(srcDir, dstDir string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return fmt.Errorf("read reducer output directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(srcDir, entry.Name())
		dst := filepath.Join(dstDir, entry.Name())
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("publish %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
