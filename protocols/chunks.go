// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package protocols

import (
	"io"
	"os"
)

// copies src to dst in chunks of at most ChunkSize bytes, calling progress
// after every chunk with offset plus the bytes moved so far. Returns the
// number of bytes moved.
func copyChunks(dst io.Writer, src io.Reader, offset, total int64,
	progress ProgressFunc) (int64, error) {
	buf := make([]byte, ChunkSize)
	var moved int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return moved, err
			}
			moved += int64(n)
			if progress != nil {
				if err := progress(offset+moved, total); err != nil {
					return moved, err
				}
			}
		}
		if readErr == io.EOF {
			return moved, nil
		}
		if readErr != nil {
			return moved, readErr
		}
	}
}

// a reader that reports progress for every read, used where a library pulls
// data from us
type progressReader struct {
	inner       io.Reader
	transferred int64 // includes the resume offset
	total       int64
	progress    ProgressFunc
	abort       error // set if progress asked us to stop
}

func (r *progressReader) Read(p []byte) (int, error) {
	if r.abort != nil {
		return 0, r.abort
	}
	if len(p) > ChunkSize {
		p = p[:ChunkSize]
	}
	n, err := r.inner.Read(p)
	if n > 0 {
		r.transferred += int64(n)
		if r.progress != nil {
			if perr := r.progress(r.transferred, r.total); perr != nil {
				r.abort = perr
				return n, perr
			}
		}
	}
	return n, err
}

// opens a local file for upload, positioned at offset, along with its size
func openLocalSource(path string, offset int64) (*os.File, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			file.Close()
			return nil, 0, err
		}
	}
	return file, info.Size(), nil
}

// opens a local file for download: truncated if offset is 0, otherwise opened
// for writing (it must exist) and positioned at offset
func openLocalDestination(path string, offset int64) (*os.File, error) {
	if offset == 0 {
		return os.Create(path)
	}
	file, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, err
	}
	return file, nil
}

// returns the first non-nil error
func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
