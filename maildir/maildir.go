// Package maildir manages the spool directory tree that accepted messages
// are written to: tmp/ while a message is being received, cur/ once it is
// delivered locally and relay/ while it waits for forwarding.
package maildir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DirTmp   = "tmp"
	DirCur   = "cur"
	DirRelay = "relay"
	DirEnv   = "env"
)

var (
	ErrInvalidName = errors.New("maildir: invalid file name")
	ErrNoEnvelopes = errors.New("maildir: envelope directory not enabled")
)

// Maildir is a handle on an opened spool tree. It holds only immutable
// paths, so one handle may be shared by every worker.
type Maildir struct {
	root      string
	envelopes bool
}

// Options tunes Open.
type Options struct {
	// Envelopes creates env/ and enables WriteEnvelope.
	Envelopes bool
	// Perm is the mode for created directories. Default 0o755.
	Perm os.FileMode
}

// Open creates root and its subdirectories if they are missing.
func Open(root string, opts Options) (*Maildir, error) {
	if root == "" {
		return nil, fmt.Errorf("maildir: root path cannot be empty")
	}
	if opts.Perm == 0 {
		opts.Perm = 0o755
	}

	dirs := []string{DirTmp, DirCur, DirRelay}
	if opts.Envelopes {
		dirs = append(dirs, DirEnv)
	}
	for _, dir := range dirs {
		path := filepath.Join(root, dir)
		if err := os.MkdirAll(path, opts.Perm); err != nil {
			return nil, fmt.Errorf("maildir: creating %s: %w", path, err)
		}
	}

	return &Maildir{root: root, envelopes: opts.Envelopes}, nil
}

// Root returns the path passed to Open.
func (m *Maildir) Root() string {
	return m.root
}

// Path returns the location of name inside dir.
func (m *Maildir) Path(dir, name string) string {
	return filepath.Join(m.root, dir, name)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// CreateTemp creates tmp/<name> for writing. The file must not exist yet.
func (m *Maildir) CreateTemp(name string) (*Spool, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	path := m.Path(DirTmp, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("maildir: creating %s: %w", path, err)
	}
	return newSpool(name, f), nil
}

// MoveToLocal delivers tmp/<name> into cur/.
func (m *Maildir) MoveToLocal(name string) error {
	return m.move(name, DirCur)
}

// MoveToRelay hands tmp/<name> over to relay/.
func (m *Maildir) MoveToRelay(name string) error {
	return m.move(name, DirRelay)
}

// LinkToLocal adds cur/<name> as a hard link while keeping tmp/<name>, for
// messages that also go to relay/.
func (m *Maildir) LinkToLocal(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Link(m.Path(DirTmp, name), m.Path(DirCur, name)); err != nil {
		return fmt.Errorf("maildir: linking %s into %s: %w", name, DirCur, err)
	}
	return nil
}

// Discard removes tmp/<name>. A missing file is not an error.
func (m *Maildir) Discard(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Remove(m.Path(DirTmp, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("maildir: discarding %s: %w", name, err)
	}
	return nil
}

func (m *Maildir) move(name, dir string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Rename(m.Path(DirTmp, name), m.Path(dir, name)); err != nil {
		return fmt.Errorf("maildir: moving %s into %s: %w", name, dir, err)
	}
	return nil
}

// WriteEnvelope stores env as env/<name>. The record is written to a
// temporary file first and renamed into place.
func (m *Maildir) WriteEnvelope(name string, env *Envelope) error {
	if !m.envelopes {
		return ErrNoEnvelopes
	}
	if err := validName(name); err != nil {
		return err
	}

	data, err := env.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("maildir: encoding envelope %s: %w", name, err)
	}

	dir := filepath.Join(m.root, DirEnv)
	tmp, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("maildir: writing envelope %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("maildir: writing envelope %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("maildir: writing envelope %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("maildir: writing envelope %s: %w", name, err)
	}
	return nil
}

// ReadEnvelope loads env/<name>.
func (m *Maildir) ReadEnvelope(name string) (*Envelope, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.Path(DirEnv, name))
	if err != nil {
		return nil, fmt.Errorf("maildir: reading envelope %s: %w", name, err)
	}
	env := new(Envelope)
	if _, err := env.UnmarshalMsg(data); err != nil {
		return nil, fmt.Errorf("maildir: decoding envelope %s: %w", name, err)
	}
	return env, nil
}
