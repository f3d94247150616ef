package tensor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Write serializes t in the text format read by Parse. The header always
// carries the nonzero count. Values use the shortest representation that
// round-trips exactly.
func Write(w io.Writer, t *Sparse3D, indexBase int) error {
	bw := bufio.NewWriter(w)

	if _, err := fmt.Fprintf(bw, "%d %d %d %d\n", t.Shape[0], t.Shape[1], t.Shape[2], t.NNZ()); err != nil {
		return err
	}

	buf := make([]byte, 0, 64)
	for _, e := range t.Entries {
		buf = buf[:0]
		for m := 0; m < Order; m++ {
			buf = strconv.AppendInt(buf, int64(e.I[m]+indexBase), 10)
			buf = append(buf, ' ')
		}
		buf = strconv.AppendFloat(buf, e.Value, 'g', -1, 64)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Save writes t to path, replacing any existing file.
func Save(path string, t *Sparse3D, indexBase int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Write(f, t, indexBase); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
