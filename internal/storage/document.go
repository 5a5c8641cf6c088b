package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pberezin/tutor/internal/model"
)

const (
	docPrefix = "user_"
	docSuffix = ".json"
)

// DocumentStore keeps one JSON document per user under a root
// directory. Writes go to a temp file in the same directory and are
// renamed into place, so a crash mid-write never leaves a partially
// written record visible.
type DocumentStore struct {
	dir string
}

// NewDocumentStore creates the root directory if needed.
func NewDocumentStore(dir string) (*DocumentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioErr("mkdir", err)
	}
	return &DocumentStore{dir: dir}, nil
}

func (d *DocumentStore) path(userID string) (string, error) {
	if userID == "" || strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return "", &StorageError{Op: "path", Err: fmt.Errorf("invalid user id %q", userID)}
	}
	return filepath.Join(d.dir, docPrefix+userID+docSuffix), nil
}

func (d *DocumentStore) Get(userID string) (*model.UserRecord, error) {
	path, err := d.path(userID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ioErr("read", err)
	}
	var rec model.UserRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ioErr("decode", err)
	}
	if rec.Objectives == nil {
		rec.Objectives = make(map[string]*model.LearningObjective)
	}
	return &rec, nil
}

func (d *DocumentStore) Put(userID string, rec *model.UserRecord) error {
	path, err := d.path(userID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return ioErr("encode", err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+docPrefix+userID+".*")
	if err != nil {
		return ioErr("create temp", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("sync", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ioErr("close", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return ioErr("chmod", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ioErr("rename", err)
	}
	return nil
}

func (d *DocumentStore) Delete(userID string) error {
	path, err := d.path(userID)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return ioErr("remove", err)
}

func (d *DocumentStore) ListUsers() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, ioErr("list", err)
	}
	var users []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, docPrefix) || !strings.HasSuffix(name, docSuffix) {
			continue
		}
		users = append(users, strings.TrimSuffix(strings.TrimPrefix(name, docPrefix), docSuffix))
	}
	sort.Strings(users)
	return users, nil
}

func (d *DocumentStore) Close() error { return nil }
