// Package partition names partition files and splits raw input into them.
package partition

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrInvalidInput reports that the input location is missing or not a directory.
var ErrInvalidInput = errors.New("invalid input directory")

// Filename returns the canonical name for partition ordinal n, e.g. part-00003.
// Lexicographic order of the names equals ordinal order.
func Filename(n int) string {
	return fmt.Sprintf("part-%05d", n)
}

// PrepareInput copies and splits the regular files of inputDir into partition
// files under outputDir. A file at or under splitSize becomes exactly one
// partition; a larger file is split into ceil(size/splitSize) partitions with
// its lines assigned round-robin by line index. Files are never combined, and
// ordinals are assigned contiguously across files in sorted name order. It
// returns the total number of partitions created, which is the number of map
// tasks.
func PrepareInput(inputDir, outputDir string, splitSize int64) (int, error) {
	if splitSize <= 0 {
		return 0, fmt.Errorf("split size must be positive, got %d", splitSize)
	}
	info, err := os.Stat(inputDir)
	if err != nil || !info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidInput, inputDir)
	}

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return 0, fmt.Errorf("read input directory: %w", err)
	}

	var files []fs.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	partNum := 0
	for _, entry := range files {
		fi, err := entry.Info()
		if err != nil {
			return 0, fmt.Errorf("stat input file %s: %w", entry.Name(), err)
		}
		numSplits := int((fi.Size() + splitSize - 1) / splitSize)
		if numSplits == 0 {
			// Empty file: nothing to split, no partition.
			continue
		}
		src := filepath.Join(inputDir, entry.Name())
		if err := splitFile(src, outputDir, partNum, numSplits); err != nil {
			return 0, fmt.Errorf("split input file %s: %w", src, err)
		}
		partNum += numSplits
	}

	return partNum, nil
}

// splitFile distributes the lines of src round-robin across numSplits new
// partition files starting at ordinal firstPart. Line terminators are kept,
// so the split is byte-lossless.
func splitFile(src, outputDir string, firstPart, numSplits int) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	outFiles := make([]*os.File, numSplits)
	outWriters := make([]*bufio.Writer, numSplits)
	for i := range outFiles {
		path := filepath.Join(outputDir, Filename(firstPart+i))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		outFiles[i] = f
		outWriters[i] = bufio.NewWriter(f)
	}

	reader := bufio.NewReader(in)
	for i := 0; ; i++ {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if _, werr := outWriters[i%numSplits].WriteString(line); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	for i, w := range outWriters {
		if err := w.Flush(); err != nil {
			return err
		}
		if err := outFiles[i].Sync(); err != nil {
			return err
		}
	}
	return nil
}
