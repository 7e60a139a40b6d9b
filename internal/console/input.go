package console

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// ReadInput scans lines from in and delivers them on the returned channel,
// which is closed at end of input. Trailing CR and LF are removed. The
// scanning goroutine stops delivering once ctx is done.
func ReadInput(ctx context.Context, in io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 4096), 64*1024)
		for sc.Scan() {
			select {
			case out <- strings.TrimRight(sc.Text(), "\r\n"):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
