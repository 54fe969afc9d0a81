package naming

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// CreateNew creates path for writing and fails if anything already exists
// there.
func CreateNew(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// WriteNew creates path exclusively and fills it through write. If any step
// fails the partial file is removed; an existing file is never touched.
func WriteNew(path string, write func(w io.Writer) error) (err error) {
	f, err := CreateNew(path)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	bw := bufio.NewWriter(f)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("could not write %s: %w", path, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("could not sync %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("could not close %s: %w", path, err)
	}
	return nil
}
