// Package checkpoint persists the single cursor value which marks how far a
// polling capture has progressed through its source table.
package checkpoint

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	cerrors "github.com/logshipper/connectors/go/connector-errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Checkpoint is the durable cursor of a capture. MarkerValue is the textual
// value of CursorColumn in the last row which was handed off downstream.
type Checkpoint struct {
	CursorColumn string `yaml:"cursor_column,omitempty"`
	MarkerValue  string `yaml:"marker_value"`
}

// Store reads and writes a Checkpoint as a small YAML document. A Store has a
// single writer; running two connectors against the same file is unsupported.
type Store struct {
	path string

	// rename replaces the live checkpoint with a fully written temporary file.
	rename func(oldpath, newpath string) error
}

// NewStore returns a Store backed by the file at path, creating its parent
// directory if it does not exist yet.
func NewStore(path string) (*Store, error) {
	var abs, err = filepath.Abs(path)
	if err != nil {
		return nil, cerrors.NewPersistenceError(fmt.Errorf("resolving checkpoint path %q: %w", path, err))
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, cerrors.NewPersistenceError(fmt.Errorf("creating checkpoint directory: %w", err))
	}
	return &Store{path: abs, rename: os.Rename}, nil
}

// Path returns the absolute location of the checkpoint file.
func (s *Store) Path() string { return s.path }

// Load reads the stored checkpoint. A missing file is not an error and yields
// a nil Checkpoint. A file which cannot be parsed, or which lacks a
// marker_value, is a PersistenceError.
func (s *Store) Load() (*Checkpoint, error) {
	var bs, err = os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		log.WithField("path", s.path).Info("no checkpoint found")
		return nil, nil
	} else if err != nil {
		return nil, cerrors.NewPersistenceError(fmt.Errorf("reading checkpoint %q: %w", s.path, err))
	}

	var doc struct {
		CursorColumn string  `yaml:"cursor_column"`
		MarkerValue  *string `yaml:"marker_value"`
	}
	if len(bytes.TrimSpace(bs)) == 0 {
		return nil, cerrors.NewPersistenceError(fmt.Errorf("checkpoint %q is empty", s.path))
	} else if err := yaml.Unmarshal(bs, &doc); err != nil {
		return nil, cerrors.NewPersistenceError(fmt.Errorf("parsing checkpoint %q: %w", s.path, err))
	} else if doc.MarkerValue == nil {
		return nil, cerrors.NewPersistenceError(fmt.Errorf("checkpoint %q has no marker_value", s.path))
	}

	var cp = &Checkpoint{CursorColumn: doc.CursorColumn, MarkerValue: *doc.MarkerValue}
	log.WithFields(log.Fields{
		"path":   s.path,
		"column": cp.CursorColumn,
		"value":  cp.MarkerValue,
	}).Info("loaded checkpoint")
	return cp, nil
}

// Persist replaces the stored checkpoint. The document is written to a
// temporary file in the same directory, synced, and renamed over the previous
// checkpoint, so a crash at any point leaves either the old or the new
// checkpoint intact.
func (s *Store) Persist(cp Checkpoint) error {
	var bs, err = yaml.Marshal(&cp)
	if err != nil {
		return cerrors.NewPersistenceError(fmt.Errorf("serializing checkpoint: %w", err))
	}

	var dir = filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return cerrors.NewPersistenceError(fmt.Errorf("creating temporary checkpoint: %w", err))
	}
	var tmpName = tmp.Name()
	var committed bool
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(bs); err != nil {
		return cerrors.NewPersistenceError(fmt.Errorf("writing temporary checkpoint: %w", err))
	} else if err := tmp.Sync(); err != nil {
		return cerrors.NewPersistenceError(fmt.Errorf("syncing temporary checkpoint: %w", err))
	} else if err := tmp.Close(); err != nil {
		return cerrors.NewPersistenceError(fmt.Errorf("closing temporary checkpoint: %w", err))
	} else if err := s.rename(tmpName, s.path); err != nil {
		return cerrors.NewPersistenceError(fmt.Errorf("replacing checkpoint %q: %w", s.path, err))
	}
	committed = true

	// Make the rename itself durable. Not every platform supports syncing a
	// directory, so a failure here is only logged.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			log.WithFields(log.Fields{"dir": dir, "err": err}).Debug("unable to sync checkpoint directory")
		}
		d.Close()
	}

	log.WithFields(log.Fields{
		"column": cp.CursorColumn,
		"value":  cp.MarkerValue,
	}).Debug("persisted checkpoint")
	return nil
}
