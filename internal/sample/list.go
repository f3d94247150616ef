package sample

import (
	"bufio"
	"os"
	"strings"

	"github.com/sptensor/tnsample/internal/pkg/errors"
)

// ReadList reads a tensor list file. Each non-blank line contributes its last
// whitespace-separated token, so "name path" and bare "path" lines both work.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("tensor list " + path).WithDetail("path", path)
		}
		return nil, errors.IOError(path, err)
	}
	defer f.Close()

	var paths []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		paths = append(paths, fields[len(fields)-1])
	}
	if err := sc.Err(); err != nil {
		return nil, errors.IOError(path, err)
	}

	return paths, nil
}
