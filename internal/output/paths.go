package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// VersionedPath returns path if nothing exists there yet, otherwise the first
// free "path.N" (N from 1), so earlier results are never overwritten.
func VersionedPath(path string) (string, error) {
	for n := 0; ; n++ {
		candidate := path
		if n > 0 {
			candidate = fmt.Sprintf("%s.%d", path, n)
		}
		_, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
}
