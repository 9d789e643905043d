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
	"fmt"
	"log/slog"

	"github.com/jlaffaye/ftp"

	"github.com/skyferry/xfer/hosts"
)

// layout used for modification times in FTP listings
const ftpTimeLayout = "Jan 02 15:04"

// FTPClient speaks plain FTP (no TLS) in binary mode.
type FTPClient struct {
	Host    hosts.Host
	Options Options
	conn    *ftp.ServerConn
}

// creates an unconnected FTP client for the given host
func NewFTPClient(host hosts.Host, options Options) *FTPClient {
	return &FTPClient{
		Host:    host,
		Options: options,
	}
}

func (c *FTPClient) Connect() error {
	if c.conn != nil {
		return nil
	}
	// LIST only: MLSD facts don't carry the classic listing's link targets
	dialOptions := []ftp.DialOption{ftp.DialWithDisabledMLSD(true)}
	if c.Options.ConnectTimeout > 0 {
		dialOptions = append(dialOptions, ftp.DialWithTimeout(c.Options.ConnectTimeout))
	}
	conn, err := ftp.Dial(c.Host.Addr(), dialOptions...)
	if err != nil {
		return ProtocolError{Op: "connect", Path: c.Host.Addr(), Err: err}
	}
	if err := conn.Login(c.Host.Username, c.Host.Password); err != nil {
		conn.Quit()
		return ProtocolError{Op: "login", Path: c.Host.Addr(), Err: err}
	}
	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		conn.Quit()
		return ProtocolError{Op: "binary mode", Path: c.Host.Addr(), Err: err}
	}
	c.conn = conn
	slog.Debug(fmt.Sprintf("FTP session established with %s as %s", c.Host.Addr(), c.Host.Username))
	return nil
}

func (c *FTPClient) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	if err != nil {
		return ProtocolError{Op: "quit", Path: c.Host.Addr(), Err: err}
	}
	return nil
}

func (c *FTPClient) IsConnected() bool {
	return c.conn != nil
}

func (c *FTPClient) ListDir(path string) ([]FileEntry, error) {
	conn, err := c.session()
	if err != nil {
		return nil, err
	}
	// the library drops lines it can't parse
	entries, err := conn.List(path)
	if err != nil {
		return nil, ProtocolError{Op: "list", Path: path, Err: err}
	}
	files := make([]FileEntry, 0, len(entries))
	for _, entry := range entries {
		if file, ok := listedFile(entry, path); ok {
			files = append(files, file)
		}
	}
	return files, nil
}

func (c *FTPClient) FileSize(path string) (int64, error) {
	conn, err := c.session()
	if err != nil {
		return 0, err
	}
	size, err := conn.FileSize(path)
	if err != nil {
		return 0, ProtocolError{Op: "size", Path: path, Err: err}
	}
	return size, nil
}

func (c *FTPClient) FileExists(path string) (bool, error) {
	conn, err := c.session()
	if err != nil {
		return false, err
	}
	_, err = conn.FileSize(path)
	return err == nil, nil
}

func (c *FTPClient) Upload(localPath, remotePath string, offset int64,
	progress ProgressFunc) (int64, error) {
	conn, err := c.session()
	if err != nil {
		return 0, err
	}
	file, total, err := openLocalSource(localPath, offset)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := &progressReader{
		inner:       file,
		transferred: offset,
		total:       total,
		progress:    progress,
	}
	// StorFrom issues REST <offset> before STOR when offset > 0
	err = conn.StorFrom(remotePath, reader, uint64(offset))
	moved := reader.transferred - offset
	if err != nil {
		return moved, ProtocolError{Op: "upload", Path: remotePath, Err: firstError(reader.abort, err)}
	}
	return moved, nil
}

func (c *FTPClient) Download(remotePath, localPath string, offset int64,
	progress ProgressFunc) (int64, error) {
	conn, err := c.session()
	if err != nil {
		return 0, err
	}
	total, err := conn.FileSize(remotePath)
	if err != nil {
		return 0, ProtocolError{Op: "size", Path: remotePath, Err: err}
	}
	file, err := openLocalDestination(localPath, offset)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	response, err := conn.RetrFrom(remotePath, uint64(offset))
	if err != nil {
		return 0, ProtocolError{Op: "download", Path: remotePath, Err: err}
	}
	moved, copyErr := copyChunks(file, response, offset, total, progress)
	closeErr := response.Close()
	if err := firstError(copyErr, closeErr); err != nil {
		return moved, ProtocolError{Op: "download", Path: remotePath, Err: err}
	}
	return moved, nil
}

func (c *FTPClient) Mkdir(path string) error {
	conn, err := c.session()
	if err != nil {
		return err
	}
	if err := conn.MakeDir(path); err != nil {
		return ProtocolError{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

func (c *FTPClient) RemoveFile(path string) error {
	conn, err := c.session()
	if err != nil {
		return err
	}
	if err := conn.Delete(path); err != nil {
		return ProtocolError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (c *FTPClient) RemoveDir(path string) error {
	conn, err := c.session()
	if err != nil {
		return err
	}
	if err := conn.RemoveDir(path); err != nil {
		return ProtocolError{Op: "rmdir", Path: path, Err: err}
	}
	return nil
}

func (c *FTPClient) Rename(from, to string) error {
	conn, err := c.session()
	if err != nil {
		return err
	}
	if err := conn.Rename(from, to); err != nil {
		return ProtocolError{Op: "rename", Path: from, Err: err}
	}
	return nil
}

func (c *FTPClient) session() (*ftp.ServerConn, error) {
	if c.conn == nil {
		return nil, NotConnectedError{Protocol: "FTP"}
	}
	return c.conn, nil
}

// converts a parsed LIST entry into a FileEntry the way ParseListLine reads
// the raw line: a symbolic link keeps its " -> target" suffix in its name
func listedFile(entry *ftp.Entry, parent string) (FileEntry, bool) {
	name := entry.Name
	if entry.Type == ftp.EntryTypeLink && entry.Target != "" {
		name = name + " -> " + entry.Target
	}
	if name == "." || name == ".." {
		return FileEntry{}, false
	}
	return FileEntry{
		Name:     name,
		Path:     joinRemotePath(parent, name),
		IsDir:    entry.Type == ftp.EntryTypeFolder,
		Size:     int64(entry.Size),
		Modified: entry.Time.Format(ftpTimeLayout),
	}, true
}
