package transport

import (
	"io"
	"os"
	"sync"
)

// Stdio returns the process standard streams as one ReadWriteCloser,
// suitable for running the daemon under an IDE that owns the pipes.
func Stdio() io.ReadWriteCloser {
	return &stdioPipe{}
}

type stdioPipe struct {
	closeOnce sync.Once
}

func (s *stdioPipe) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (s *stdioPipe) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func (s *stdioPipe) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = os.Stdin.Close()
	})
	return err
}
