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

// This package implements clients for the remote file protocols (FTP and
// SFTP) behind a single Client interface.
package protocols

import (
	"time"

	"github.com/skyferry/xfer/hosts"
)

// number of bytes moved between progress notifications
const ChunkSize = 32 * 1024

// an entry in a remote directory listing
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	// modification time as reported by the server (format varies by protocol)
	Modified string `json:"modified,omitempty"`
}

// A ProgressFunc is called after every chunk of a transfer with the number of
// bytes of the file now represented at the destination (including any resume
// offset) and the total size of the file. Returning an error stops the
// transfer at that chunk boundary; the error is returned by Upload/Download.
type ProgressFunc func(transferred, total int64) error

// Client is the interface every remote file protocol implements. A Client is
// not safe for concurrent use; callers serialize access (see the connections
// package).
type Client interface {
	// establishes an authenticated session
	Connect() error
	// ends the session; a no-op if the client isn't connected
	Disconnect() error
	// returns true if a session is established
	IsConnected() bool
	// lists the entries in the given remote directory (excluding "." and "..")
	ListDir(path string) ([]FileEntry, error)
	// returns the size of the given remote file in bytes
	FileSize(path string) (int64, error)
	// returns true if the given remote path exists; lookup failures report
	// false rather than an error
	FileExists(path string) (bool, error)
	// sends the local file to the remote path starting at the given byte
	// offset, returning the number of bytes moved (excluding the offset)
	Upload(localPath, remotePath string, offset int64, progress ProgressFunc) (int64, error)
	// fetches the remote file into the local path starting at the given byte
	// offset, returning the number of bytes moved (excluding the offset)
	Download(remotePath, localPath string, offset int64, progress ProgressFunc) (int64, error)
	// creates the given remote directory
	Mkdir(path string) error
	// removes the given remote file
	RemoveFile(path string) error
	// removes the given (empty) remote directory
	RemoveDir(path string) error
	// renames a remote file or directory
	Rename(from, to string) error
}

// options that apply to every client
type Options struct {
	// timeout for establishing the underlying TCP connection (0 for none)
	ConnectTimeout time.Duration
	// OpenSSH known_hosts file for verifying SFTP host keys; if empty, host
	// keys are not verified
	KnownHostsFile string
}

// creates an unconnected client for the given host
func NewClient(host hosts.Host, options Options) (Client, error) {
	switch host.Protocol {
	case hosts.FTP:
		return NewFTPClient(host, options), nil
	case hosts.SFTP:
		return NewSFTPClient(host, options), nil
	}
	return nil, hosts.InvalidProtocolError{Protocol: string(host.Protocol)}
}
