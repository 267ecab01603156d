package publish

import (
	"fmt"
	"os"
)

// AppendLog adds line to the transcript log, creating the file if needed.
// The file is closed again before returning.
func AppendLog(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %w", ErrLog, path, err)
	}

	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to write %s: %w", ErrLog, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %w", ErrLog, path, err)
	}
	return nil
}
