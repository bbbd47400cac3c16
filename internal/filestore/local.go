package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type localConfig struct {
	Dir string `json:"dir"`
}

// localStore serves documents from a directory on disk. Meant for tests
// and single-node deployments.
type localStore struct {
	dir string
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(args interface{}) (Store, error) {
	config := &localConfig{}
	if err := decodeConfig(args, config); err != nil {
		return nil, err
	}
	if config.Dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	return &localStore{dir: config.Dir}, nil
}

func (s *localStore) Type() string {
	return "local"
}

func (s *localStore) URI(bucket, key string) string {
	_ = bucket // a directory store has no bucket dimension
	return "file://" + filepath.Join(s.dir, filepath.Clean("/"+key))
}

func (s *localStore) Exists(ctx context.Context, uri string) (bool, error) {
	_ = ctx
	path, err := s.resolve(uri)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *localStore) Fetch(ctx context.Context, uri string) (string, error) {
	_ = ctx
	path, err := s.resolve(uri)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *localStore) resolve(uri string) (string, error) {
	path := strings.TrimPrefix(uri, "file://")
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(s.dir)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("uri escapes store dir: %s", uri)
	}
	return abs, nil
}
