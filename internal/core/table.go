package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"unicode/utf8"

	"github.com/JonMunkholm/wis2box-migrate/internal/failure"
	"github.com/JonMunkholm/wis2box-migrate/internal/logging"
)

// TableJob describes one pass over the station registry file.
type TableJob struct {
	Path      string // station_list.csv
	Version   string // suffix of the committed copy, e.g. "v1.0b7"
	Codelists *CodelistSet
	DryRun    bool
	Out       io.Writer // dry-run destination
}

// OutputPath returns the file a commit writes: path suffixed with version.
// The source file itself is never modified or deleted.
func OutputPath(path, version string) string {
	return path + "." + version
}

// MigrateTable streams the station file through the codelists. In dry-run
// mode the header and every transformed row go to job.Out; otherwise they
// are written to OutputPath(job.Path, job.Version). Both modes produce the
// same CSV bytes, quoted where a value needs it, with the line ending of the
// source file's first line.
//
// Any read or write problem fails with failure.IOError naming the file. A
// field that is not valid UTF-8 is such a problem: the file is rejected with
// its line and column rather than copied with altered bytes.
func MigrateTable(ctx context.Context, job TableJob) (TableResult, error) {
	logger := logging.WithFields(ctx, "file", job.Path, "dry_run", job.DryRun)

	src, err := os.Open(job.Path)
	if err != nil {
		return TableResult{}, failure.New(failure.IOError, job.Path, err)
	}
	defer src.Close()

	input := newStationReader(src)
	reader := csv.NewReader(input)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return TableResult{}, failure.Newf(failure.IOError, job.Path, "empty file: no header row")
	}
	if err != nil {
		return TableResult{}, failure.New(failure.IOError, job.Path, fmt.Errorf("invalid csv header: %w", err))
	}
	if err := checkUTF8(job.Path, reader, header, header); err != nil {
		return TableResult{}, err
	}

	result := TableResult{Missing: job.Codelists.MissingColumns(header)}
	for _, name := range result.Missing {
		logger.Debug("no matching column for codelist", "codelist", name)
	}

	var (
		dst    io.Writer = job.Out
		commit *pendingFile
	)
	if dst == nil {
		dst = os.Stdout
	}
	if !job.DryRun {
		commit, err = createPending(OutputPath(job.Path, job.Version), src)
		if err != nil {
			return TableResult{}, err
		}
		defer commit.abort()
		dst = commit.file
	}

	writer := csv.NewWriter(dst)
	writer.UseCRLF = input.CRLF()
	if err := writer.Write(header); err != nil {
		return TableResult{}, writeFailure(commit, err)
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return TableResult{}, failure.New(failure.IOError, job.Path, fmt.Errorf("invalid csv: %w", err))
		}
		if err := checkUTF8(job.Path, reader, header, row); err != nil {
			return TableResult{}, err
		}

		mapped := job.Codelists.ApplyRow(header, row)
		result.Rows++
		if !slices.Equal(row, mapped) {
			result.Changed++
		}

		if err := writer.Write(mapped); err != nil {
			return TableResult{}, writeFailure(commit, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return TableResult{}, writeFailure(commit, err)
	}

	if commit != nil {
		if err := commit.finish(); err != nil {
			return TableResult{}, err
		}
		result.OutputPath = commit.target
	}

	logger.Info("station file migrated",
		"rows", result.Rows,
		"changed", result.Changed,
		"output", result.OutputPath,
	)
	return result, nil
}

// checkUTF8 rejects the first field of row that is not valid UTF-8, naming
// the line it starts on and its column.
func checkUTF8(path string, reader *csv.Reader, header, row []string) error {
	for i, field := range row {
		if utf8.ValidString(field) {
			continue
		}
		line, _ := reader.FieldPos(i)
		column := fmt.Sprintf("#%d", i+1)
		if i < len(header) && utf8.ValidString(header[i]) {
			column = header[i]
		}
		return failure.Newf(failure.IOError, path, "line %d: column %q is not valid UTF-8", line, column)
	}
	return nil
}

func writeFailure(commit *pendingFile, err error) error {
	if commit != nil {
		return failure.New(failure.IOError, commit.target, err)
	}
	return failure.New(failure.IOError, "dry-run output", err)
}

// pendingFile is a temp file in the target's directory that is renamed over
// the target once completely written, so a failed run never leaves a
// truncated output behind.
type pendingFile struct {
	file   *os.File
	target string
	done   bool
}

func createPending(target string, src *os.File) (*pendingFile, error) {
	f, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, failure.New(failure.IOError, target, err)
	}

	// Keep the source file's permissions on the copy.
	if info, err := src.Stat(); err == nil {
		_ = f.Chmod(info.Mode().Perm())
	}

	return &pendingFile{file: f, target: target}, nil
}

func (p *pendingFile) finish() error {
	if err := p.file.Close(); err != nil {
		return failure.New(failure.IOError, p.target, err)
	}
	if err := os.Rename(p.file.Name(), p.target); err != nil {
		return failure.New(failure.IOError, p.target, err)
	}
	p.done = true
	return nil
}

// abort removes the temp file unless finish succeeded.
func (p *pendingFile) abort() {
	if p.done {
		return
	}
	_ = p.file.Close()
	_ = os.Remove(p.file.Name())
}
