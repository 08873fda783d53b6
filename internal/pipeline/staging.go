package pipeline

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/alchemsub/pkg/errors"
)

// staging holds the artifacts of a job until every one of them has been
// produced. Files go to temporary files next to their targets and are
// renamed into place by commit; stdout output is buffered and copied last.
type staging struct {
	files  []stagedFile
	stream io.Writer
	buf    *bytes.Buffer
}

type stagedFile struct {
	tmp  string
	path string
}

// create opens a temporary file in the directory of path.
func (s *staging) create(path string) (*os.File, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create output file").WithDetail("path", path)
	}
	s.files = append(s.files, stagedFile{tmp: f.Name(), path: path})
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to set output file mode").WithDetail("path", path)
	}
	return f, nil
}

// reserve returns a temporary path in the directory of path for writers
// that open files themselves.
func (s *staging) reserve(path string) (string, error) {
	f, err := s.create(path)
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to close output file").WithDetail("path", path)
	}
	return f.Name(), nil
}

// writeFile stages data for path.
func (s *staging) writeFile(path string, data []byte) error {
	f, err := s.create(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write output file").WithDetail("path", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close output file").WithDetail("path", path)
	}
	return nil
}

// stdout returns a buffer whose content is copied to w on commit.
func (s *staging) stdout(w io.Writer) io.Writer {
	s.stream = w
	s.buf = &bytes.Buffer{}
	return s.buf
}

// commit moves every staged file into place, then flushes the buffered
// stream. If any step fails the files already moved are removed again.
func (s *staging) commit() error {
	var done []string
	undo := func() {
		for _, p := range done {
			os.Remove(p)
		}
	}
	for i, f := range s.files {
		if err := os.Rename(f.tmp, f.path); err != nil {
			undo()
			s.files = s.files[i:]
			s.discard()
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to move output file into place").WithDetail("path", f.path)
		}
		done = append(done, f.path)
	}
	s.files = nil
	if s.stream != nil {
		if _, err := s.stream.Write(s.buf.Bytes()); err != nil {
			undo()
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write output stream")
		}
	}
	return nil
}

// discard removes every staged file that was not committed.
func (s *staging) discard() {
	for _, f := range s.files {
		os.Remove(f.tmp)
	}
	s.files = nil
	s.buf = nil
	s.stream = nil
}
