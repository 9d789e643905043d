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

package xfertest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/skyferry/xfer/hosts"
	"github.com/skyferry/xfer/protocols"
)

// error returned by a mock transfer that reaches MockServer.FailAt
var ErrSimulatedFailure = errors.New("simulated transfer failure")

//------------------------
// Mock server
//------------------------

// A MockServer is an in-memory remote file system shared by the MockClients it
// creates. Its knobs shape how transfers behave.
type MockServer struct {
	mutex sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	// bytes moved per chunk (defaults to protocols.ChunkSize)
	ChunkSize int
	// time spent on every chunk
	ChunkDelay time.Duration
	// if positive, transfers fail once this absolute byte position is reached
	FailAt int64
	// if set, Connect returns this error
	ConnectErr error

	connects    int
	disconnects int
	offsets     []int64
}

// creates an empty mock server with a root directory
func NewMockServer() *MockServer {
	return &MockServer{
		files:     make(map[string][]byte),
		dirs:      map[string]bool{"/": true},
		ChunkSize: protocols.ChunkSize,
	}
}

// creates a client for the given host backed by this server; its signature
// matches connections.ClientFactory
func (s *MockServer) NewClient(host hosts.Host, options protocols.Options) (protocols.Client, error) {
	return &MockClient{Server: s, Host: host}, nil
}

// stores a remote file
func (s *MockServer) PutFile(remotePath string, data []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.files[remotePath] = slices.Clone(data)
}

// returns the content of a remote file
func (s *MockServer) File(remotePath string) ([]byte, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, found := s.files[remotePath]
	return slices.Clone(data), found
}

// returns the number of successful Connect calls
func (s *MockServer) Connects() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.connects
}

// returns the number of Disconnect calls on connected clients
func (s *MockServer) Disconnects() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.disconnects
}

// returns the offsets passed to every Upload/Download, in call order
func (s *MockServer) Offsets() []int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return slices.Clone(s.offsets)
}

func (s *MockServer) settings() (int, time.Duration, int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = protocols.ChunkSize
	}
	return chunkSize, s.ChunkDelay, s.FailAt
}

func (s *MockServer) recordOffset(offset int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.offsets = append(s.offsets, offset)
}

// writes data into a remote file at the given position, extending it
func (s *MockServer) writeAt(remotePath string, pos int64, data []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	content := s.files[remotePath]
	if end := pos + int64(len(data)); end > int64(len(content)) {
		content = append(content, make([]byte, end-int64(len(content)))...)
	}
	copy(content[pos:], data)
	s.files[remotePath] = content
}

//------------------------
// Mock client
//------------------------

// A MockClient implements protocols.Client against a MockServer.
type MockClient struct {
	Server    *MockServer
	Host      hosts.Host
	connected bool
}

func (c *MockClient) Connect() error {
	c.Server.mutex.Lock()
	defer c.Server.mutex.Unlock()
	if c.Server.ConnectErr != nil {
		return c.Server.ConnectErr
	}
	c.connected = true
	c.Server.connects++
	return nil
}

func (c *MockClient) Disconnect() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	c.Server.mutex.Lock()
	c.Server.disconnects++
	c.Server.mutex.Unlock()
	return nil
}

func (c *MockClient) IsConnected() bool {
	return c.connected
}

// Listings are rendered as classic Unix listing lines and parsed back, the way
// a real FTP server's LIST output is.
func (c *MockClient) ListDir(dir string) ([]protocols.FileEntry, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.Server.mutex.Lock()
	defer c.Server.mutex.Unlock()
	if !c.Server.dirs[dir] {
		return nil, fmt.Errorf("No such directory: %s", dir)
	}
	lines := []string{
		"drwxr-xr-x 2 owner group 4096 Jan 01 12:00 .",
		"drwxr-xr-x 2 owner group 4096 Jan 01 12:00 ..",
	}
	for d := range c.Server.dirs {
		if d != dir && path.Dir(d) == path.Clean(dir) {
			lines = append(lines, fmt.Sprintf("drwxr-xr-x 2 owner group 4096 Jan 01 12:00 %s", path.Base(d)))
		}
	}
	for f, data := range c.Server.files {
		if path.Dir(f) == path.Clean(dir) {
			lines = append(lines, fmt.Sprintf("-rw-r--r-- 1 owner group %d Jan 01 12:00 %s", len(data), path.Base(f)))
		}
	}
	slices.Sort(lines)
	return protocols.ParseListing(lines, dir), nil
}

func (c *MockClient) FileSize(remotePath string) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	data, found := c.Server.File(remotePath)
	if !found {
		return 0, fmt.Errorf("No such file: %s", remotePath)
	}
	return int64(len(data)), nil
}

func (c *MockClient) FileExists(remotePath string) (bool, error) {
	if err := c.check(); err != nil {
		return false, err
	}
	c.Server.mutex.Lock()
	defer c.Server.mutex.Unlock()
	_, isFile := c.Server.files[remotePath]
	return isFile || c.Server.dirs[remotePath], nil
}

func (c *MockClient) Upload(localPath, remotePath string, offset int64,
	progress protocols.ProgressFunc) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	c.Server.recordOffset(offset)
	data, err := os.ReadFile(localPath)
	if err != nil {
		return 0, err
	}
	if offset == 0 {
		c.Server.PutFile(remotePath, nil)
	}
	total := int64(len(data))
	return c.move(offset, total, progress, func(pos int64, n int) {
		c.Server.writeAt(remotePath, pos, data[pos:pos+int64(n)])
	})
}

func (c *MockClient) Download(remotePath, localPath string, offset int64,
	progress protocols.ProgressFunc) (int64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	c.Server.recordOffset(offset)
	data, found := c.Server.File(remotePath)
	if !found {
		return 0, fmt.Errorf("No such file: %s", remotePath)
	}
	flags := os.O_WRONLY | os.O_CREATE
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(localPath, flags, 0644)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	var writeErr error
	moved, err := c.move(offset, int64(len(data)), progress, func(pos int64, n int) {
		if writeErr == nil {
			_, writeErr = file.Write(data[pos : pos+int64(n)])
		}
	})
	if err == nil {
		err = writeErr
	}
	return moved, err
}

func (c *MockClient) Mkdir(dir string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.Server.mutex.Lock()
	defer c.Server.mutex.Unlock()
	if !c.Server.dirs[path.Dir(dir)] {
		return fmt.Errorf("No such directory: %s", path.Dir(dir))
	}
	c.Server.dirs[dir] = true
	return nil
}

func (c *MockClient) RemoveFile(remotePath string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.Server.mutex.Lock()
	defer c.Server.mutex.Unlock()
	if _, found := c.Server.files[remotePath]; !found {
		return fmt.Errorf("No such file: %s", remotePath)
	}
	delete(c.Server.files, remotePath)
	return nil
}

func (c *MockClient) RemoveDir(dir string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.Server.mutex.Lock()
	defer c.Server.mutex.Unlock()
	if !c.Server.dirs[dir] {
		return fmt.Errorf("No such directory: %s", dir)
	}
	for f := range c.Server.files {
		if strings.HasPrefix(f, dir+"/") {
			return fmt.Errorf("Directory not empty: %s", dir)
		}
	}
	delete(c.Server.dirs, dir)
	return nil
}

func (c *MockClient) Rename(from, to string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.Server.mutex.Lock()
	defer c.Server.mutex.Unlock()
	if data, found := c.Server.files[from]; found {
		delete(c.Server.files, from)
		c.Server.files[to] = data
		return nil
	}
	if c.Server.dirs[from] {
		delete(c.Server.dirs, from)
		c.Server.dirs[to] = true
		return nil
	}
	return fmt.Errorf("No such file or directory: %s", from)
}

func (c *MockClient) check() error {
	if !c.connected {
		return protocols.NotConnectedError{Protocol: "mock"}
	}
	return nil
}

// moves bytes from offset to total in chunks, calling write for each chunk
// and then progress with the absolute position
func (c *MockClient) move(offset, total int64, progress protocols.ProgressFunc,
	write func(pos int64, n int)) (int64, error) {
	chunkSize, delay, failAt := c.Server.settings()
	pos := offset
	for pos < total {
		if failAt > 0 && pos >= failAt {
			return pos - offset, ErrSimulatedFailure
		}
		n := int64(chunkSize)
		if pos+n > total {
			n = total - pos
		}
		if failAt > 0 && pos < failAt && pos+n > failAt {
			n = failAt - pos
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		write(pos, int(n))
		pos += n
		if progress != nil {
			if err := progress(pos, total); err != nil {
				return pos - offset, err
			}
		}
	}
	return pos - offset, nil
}
