package maildir

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"lukechampine.com/blake3"
)

var ErrSpoolClosed = errors.New("maildir: spool closed")

var crlf = []byte("\r\n")

// Spool is a message being written into tmp/. Every byte written is also
// fed to a BLAKE3 hasher so the digest is known once the file is closed.
type Spool struct {
	name   string
	file   *os.File
	w      *bufio.Writer
	hasher *blake3.Hasher
	size   int64
	closed bool
}

func newSpool(name string, f *os.File) *Spool {
	return &Spool{
		name:   name,
		file:   f,
		w:      bufio.NewWriter(f),
		hasher: blake3.New(32, nil),
	}
}

// Name returns the file name shared by tmp/, cur/ and relay/.
func (s *Spool) Name() string {
	return s.name
}

// Size returns the number of bytes written so far.
func (s *Spool) Size() int64 {
	return s.size
}

func (s *Spool) Write(p []byte) (int, error) {
	if s.closed {
		return 0, ErrSpoolClosed
	}
	n, err := s.w.Write(p)
	s.hasher.Write(p[:n])
	s.size += int64(n)
	return n, err
}

// WriteLine writes line followed by CRLF.
func (s *Spool) WriteLine(line []byte) error {
	if _, err := s.Write(line); err != nil {
		return err
	}
	_, err := s.Write(crlf)
	return err
}

// Digest returns the hex BLAKE3-256 of the bytes written so far.
func (s *Spool) Digest() string {
	return hex.EncodeToString(s.hasher.Sum(nil))
}

// Close flushes and syncs the file. The spool cannot be written afterwards.
func (s *Spool) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.w.Flush()
	if err == nil {
		err = s.file.Sync()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("maildir: closing %s: %w", s.name, err)
	}
	return nil
}

// Abort closes the file without flushing buffered data.
func (s *Spool) Abort() {
	if s.closed {
		return
	}
	s.closed = true
	s.file.Close()
}
