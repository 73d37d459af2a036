// Package shuffle implements the group stage between map and reduce: an
// in-place sort of each mapper-output file, a streaming k-way merge across
// all of them, and hash partitioning of the merged stream into reducer
// inputs. Memory is bounded to one file during the sort and one pending
// line per file during the merge.
package shuffle

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aarmaane/madoop/internal/logger"
	"github.com/aarmaane/madoop/internal/partition"
)

// Group runs the group stage: every partition file in inputDir is sorted in
// place, the sorted files are merged, and each merged line is appended to
// the reducer-input file selected by hashing its key. All numReduce output
// files are created up front, so some may end up empty; an empty inputDir
// yields numReduce empty files and no error. Returns the number of reducer
// partitions, which is always numReduce.
func Group(inputDir, outputDir string, numReduce int, log *logger.Logger) (int, error) {
	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return 0, fmt.Errorf("read mapper output directory: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if !entry.IsDir() {
			paths = append(paths, filepath.Join(inputDir, entry.Name()))
		}
	}

	for _, p := range paths {
		if err := sortFile(p); err != nil {
			return 0, fmt.Errorf("sort %s: %w", p, err)
		}
	}

	outFiles := make([]*os.File, numReduce)
	outWriters := make([]*bufio.Writer, numReduce)
	for i := range outFiles {
		f, err := os.Create(filepath.Join(outputDir, partition.Filename(i)))
		if err != nil {
			return 0, fmt.Errorf("create reducer input: %w", err)
		}
		defer f.Close()
		outFiles[i] = f
		outWriters[i] = bufio.NewWriter(f)
	}

	merged, err := newMerger(paths)
	if err != nil {
		return 0, err
	}
	defer merged.close()

	// Consume the merge one line at a time, routing by key. Appending in
	// merge order keeps every reducer input sorted, and hashing only the
	// key keeps all records for a key in one file.
	records := 0
	firstKey := ""
	singleKey := true
	for {
		line, ok, err := merged.next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		key, _, _ := strings.Cut(line, "\t")
		if records == 0 {
			firstKey = key
		} else if key != firstKey {
			singleKey = false
		}
		records++
		idx := reducerIndex(key, numReduce)
		if _, err := outWriters[idx].WriteString(line); err != nil {
			return 0, fmt.Errorf("write reducer input: %w", err)
		}
	}

	for _, w := range outWriters {
		if err := w.Flush(); err != nil {
			return 0, fmt.Errorf("flush reducer input: %w", err)
		}
	}

	// A whole map stage collapsing onto one key usually means a buggy or
	// badly skewed mapper. Diagnostic only; the output is still correct.
	if records > 0 && singleKey && log != nil {
		log.Warn("single key detected across all %d mapper output record(s): %q", records, strings.TrimRight(firstKey, "\n"))
	}

	return numReduce, nil
}

// reducerIndex routes a key to a reducer: the md5 digest of the key taken as
// an unsigned integer, modulo the reducer count. md5 keeps routing stable
// across runs and platforms.
func reducerIndex(key string, numReduce int) int {
	sum := md5.Sum([]byte(key))
	n := new(big.Int).SetBytes(sum[:])
	return int(n.Mod(n, big.NewInt(int64(numReduce))).Int64())
}

// sortFile rewrites path with its lines in whole-line lexicographic order.
// Files are bounded by the input split threshold, so reading one fully is
// the memory bound of the whole stage. A final line missing its newline is
// terminated so reordering cannot fuse it with a neighbor.
func sortFile(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}

	var lines []string
	reader := bufio.NewReader(in)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			lines = append(lines, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			in.Close()
			return err
		}
	}
	if err := in.Close(); err != nil {
		return err
	}

	sort.Strings(lines)

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			out.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
