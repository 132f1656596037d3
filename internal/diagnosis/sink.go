package diagnosis

import (
	"fmt"
	"io"
	"os"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
)

// Sink receives the finished tree in test mode instead of a front end.
// Open is called when the session starts so an unusable destination
// refuses the session up front. Close releases the destination whether or
// not a tree was saved, and may be called more than once.
type Sink interface {
	Open() error
	Save(tree aet.Tree) error
	Close() error
}

// DOTSink writes the tree as DOT to w.
type DOTSink struct {
	w io.Writer
}

func NewDOTSink(w io.Writer) *DOTSink { return &DOTSink{w: w} }

func (s *DOTSink) Open() error {
	if s.w == nil {
		return fmt.Errorf("no writer")
	}
	return nil
}

func (s *DOTSink) Save(tree aet.Tree) error {
	return aet.WriteDOT(s.w, tree)
}

func (s *DOTSink) Close() error { return nil }

// FileSink writes the tree as DOT to a file, created on Open and closed
// after the tree is saved. A file closed before any tree was saved is
// removed.
type FileSink struct {
	path string
	f    *os.File
}

func NewFileSink(path string) *FileSink { return &FileSink{path: path} }

func (s *FileSink) Open() error {
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("cannot open file `%s' for output: %w", s.path, err)
	}
	s.f = f
	return nil
}

func (s *FileSink) Save(tree aet.Tree) error {
	if s.f == nil {
		return fmt.Errorf("file sink %s is not open", s.path)
	}
	werr := aet.WriteDOT(s.f, tree)
	cerr := s.f.Close()
	s.f = nil
	if werr != nil {
		return werr
	}
	return cerr
}

func (s *FileSink) Close() error {
	if s.f == nil {
		return nil
	}
	f := s.f
	s.f = nil
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing unsaved output %s: %w", s.path, err)
	}
	return nil
}
