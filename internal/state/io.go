package state

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

type FullReader interface {
	Normalize(path string) string
	ReadAll(path string) ([]byte, error)
}

type OsFullReader struct {
	base string
}

func NewOsFullReader() *OsFullReader { return &OsFullReader{} }

func (fr *OsFullReader) SetBase(dir string) { fr.base = dir }

func (fr *OsFullReader) Normalize(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(fr.base, path)
}

// Not-found is reported as errors.IsNotFound so Config.read can honor
// optional includes; any other IO failure is a hard error.
func (fr *OsFullReader) ReadAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("config path=%s", path)
		}
		return nil, errors.Annotatef(err, "state.ReadAll path=%s", path)
	}
	defer f.Close()
	b, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, errors.Annotatef(err, "state.ReadAll path=%s", path)
	}
	return b, nil
}

type MockFullReader struct {
	Map map[string]string
}

func NewMockFullReader(m map[string]string) *MockFullReader {
	return &MockFullReader{Map: m}
}

func (fr *MockFullReader) Normalize(path string) string { return path }

func (fr *MockFullReader) ReadAll(path string) ([]byte, error) {
	if s, ok := fr.Map[path]; ok {
		return []byte(s), nil
	}
	return nil, errors.NotFoundf("config path=%s", path)
}
