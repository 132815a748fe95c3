package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LocalStore serves a file from disk.  When the file is missing and
// placeholders are enabled, a small text file is written in its place so a
// fresh deployment can exercise the download flow end to end.
type LocalStore struct {
	path        string
	name        string
	placeholder bool
	logger      zerolog.Logger

	mu sync.Mutex // guards placeholder creation
}

// NewLocalStore returns a LocalStore for path.  name is the filename
// offered to clients; the base name of path is used when empty.
func NewLocalStore(path, name string, placeholder bool, logger zerolog.Logger) *LocalStore {
	if name == "" {
		name = filepath.Base(path)
	}
	return &LocalStore{
		path:        path,
		name:        name,
		placeholder: placeholder,
		logger:      logger.With().Str("component", "artifact").Logger(),
	}
}

// Open implements Store.
func (s *LocalStore) Open(ctx context.Context) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) && s.placeholder {
		if err := s.writePlaceholder(); err != nil {
			return nil, err
		}
		f, err = os.Open(s.path)
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat artifact: %w", err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, ErrNotFound
	}
	return &Object{
		Body:        f,
		Name:        s.name,
		Size:        st.Size(),
		ContentType: contentType(s.name),
		ModTime:     st.ModTime(),
	}, nil
}

func (s *LocalStore) writePlaceholder() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	body := fmt.Sprintf("Placeholder for %s\nGenerated %s. Replace this file with the real bundle.\n",
		s.name, time.Now().UTC().Format(time.RFC3339))
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write placeholder: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write placeholder: %w", err)
	}
	s.logger.Warn().Str("path", s.path).Msg("artifact missing, placeholder written")
	return nil
}
