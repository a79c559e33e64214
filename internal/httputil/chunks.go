package httputil

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Warmaster-Hoshino/findshop-go/internal/errutil"
)

const readBufferSize = 32 * 1024

// Progress describes one arrived chunk. ReceivedBytes is the running total
// including this chunk and never decreases across a read.
type Progress struct {
	ReceivedBytes int64
	Chunk         []byte
}

// ReadChunks pulls resp.Body chunk by chunk until the stream ends, invoking
// onChunk synchronously before each subsequent read so the callback can apply
// backpressure by delaying its return. A non-nil error from onChunk aborts
// the read. Returns the fully assembled body.
//
// A non-2xx status fails with StatusError before any chunk is delivered.
func ReadChunks(resp *http.Response, onChunk func(Progress) error) ([]byte, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := resp.StatusCode
		DrainBody(resp)
		return nil, &errutil.StatusError{Code: code}
	}
	defer resp.Body.Close()

	var (
		assembled []byte
		total     int64
		buf       = make([]byte, readBufferSize)
	)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			assembled = append(assembled, chunk...)
			total += int64(n)
			if onChunk != nil {
				if cbErr := onChunk(Progress{ReceivedBytes: total, Chunk: chunk}); cbErr != nil {
					return assembled, cbErr
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return assembled, nil
			}
			return assembled, classifyReadError(err)
		}
	}
}

func classifyReadError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errutil.ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return &errutil.TransportError{Op: "read", Err: err}
}
