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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/skyferry/xfer/hosts"
)

// SFTPClient speaks SFTP over an SSH session authenticated by private key or
// password.
type SFTPClient struct {
	Host    hosts.Host
	Options Options
	conn    *ssh.Client
	client  *sftp.Client
}

// creates an unconnected SFTP client for the given host
func NewSFTPClient(host hosts.Host, options Options) *SFTPClient {
	return &SFTPClient{
		Host:    host,
		Options: options,
	}
}

func (c *SFTPClient) Connect() error {
	if c.client != nil {
		return nil
	}
	auth, err := c.authMethods()
	if err != nil {
		return err
	}
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return err
	}
	config := &ssh.ClientConfig{
		User:            c.Host.Username,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.Options.ConnectTimeout,
	}
	conn, err := ssh.Dial("tcp", c.Host.Addr(), config)
	if err != nil {
		return ProtocolError{Op: "connect", Path: c.Host.Addr(), Err: err}
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return ProtocolError{Op: "start sftp subsystem", Path: c.Host.Addr(), Err: err}
	}
	c.conn = conn
	c.client = client
	slog.Debug(fmt.Sprintf("SFTP session established with %s as %s", c.Host.Addr(), c.Host.Username))
	return nil
}

func (c *SFTPClient) Disconnect() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	if c.conn != nil {
		err = firstError(err, c.conn.Close())
	}
	c.client = nil
	c.conn = nil
	if err != nil {
		return ProtocolError{Op: "disconnect", Path: c.Host.Addr(), Err: err}
	}
	return nil
}

func (c *SFTPClient) IsConnected() bool {
	return c.client != nil
}

func (c *SFTPClient) ListDir(path string) ([]FileEntry, error) {
	client, err := c.session()
	if err != nil {
		return nil, err
	}
	infos, err := client.ReadDir(path)
	if err != nil {
		return nil, ProtocolError{Op: "list", Path: path, Err: err}
	}
	files := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if name == "." || name == ".." {
			continue
		}
		files = append(files, FileEntry{
			Name:     name,
			Path:     joinRemotePath(path, name),
			IsDir:    info.IsDir(),
			Size:     info.Size(),
			Modified: strconv.FormatInt(info.ModTime().Unix(), 10),
		})
	}
	return files, nil
}

func (c *SFTPClient) FileSize(path string) (int64, error) {
	client, err := c.session()
	if err != nil {
		return 0, err
	}
	info, err := client.Stat(path)
	if err != nil {
		return 0, ProtocolError{Op: "stat", Path: path, Err: err}
	}
	return info.Size(), nil
}

func (c *SFTPClient) FileExists(path string) (bool, error) {
	client, err := c.session()
	if err != nil {
		return false, err
	}
	_, err = client.Stat(path)
	return err == nil, nil
}

func (c *SFTPClient) Upload(localPath, remotePath string, offset int64,
	progress ProgressFunc) (int64, error) {
	client, err := c.session()
	if err != nil {
		return 0, err
	}
	file, total, err := openLocalSource(localPath, offset)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var remote *sftp.File
	if offset > 0 {
		// resume into the existing remote file
		remote, err = client.OpenFile(remotePath, os.O_WRONLY)
		if err == nil {
			_, err = remote.Seek(offset, io.SeekStart)
			if err != nil {
				remote.Close()
			}
		}
	} else {
		remote, err = client.Create(remotePath)
	}
	if err != nil {
		return 0, ProtocolError{Op: "open", Path: remotePath, Err: err}
	}

	moved, copyErr := copyChunks(remote, file, offset, total, progress)
	closeErr := remote.Close()
	if err := firstError(copyErr, closeErr); err != nil {
		return moved, ProtocolError{Op: "upload", Path: remotePath, Err: err}
	}
	return moved, nil
}

func (c *SFTPClient) Download(remotePath, localPath string, offset int64,
	progress ProgressFunc) (int64, error) {
	client, err := c.session()
	if err != nil {
		return 0, err
	}
	info, err := client.Stat(remotePath)
	if err != nil {
		return 0, ProtocolError{Op: "stat", Path: remotePath, Err: err}
	}
	remote, err := client.Open(remotePath)
	if err != nil {
		return 0, ProtocolError{Op: "open", Path: remotePath, Err: err}
	}
	defer remote.Close()
	if offset > 0 {
		if _, err := remote.Seek(offset, io.SeekStart); err != nil {
			return 0, ProtocolError{Op: "seek", Path: remotePath, Err: err}
		}
	}

	file, err := openLocalDestination(localPath, offset)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	moved, err := copyChunks(file, remote, offset, info.Size(), progress)
	if err != nil {
		return moved, ProtocolError{Op: "download", Path: remotePath, Err: err}
	}
	return moved, nil
}

func (c *SFTPClient) Mkdir(path string) error {
	client, err := c.session()
	if err != nil {
		return err
	}
	if err := client.Mkdir(path); err != nil {
		return ProtocolError{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

func (c *SFTPClient) RemoveFile(path string) error {
	client, err := c.session()
	if err != nil {
		return err
	}
	if err := client.Remove(path); err != nil {
		return ProtocolError{Op: "delete", Path: path, Err: err}
	}
	return nil
}

func (c *SFTPClient) RemoveDir(path string) error {
	client, err := c.session()
	if err != nil {
		return err
	}
	if err := client.RemoveDirectory(path); err != nil {
		return ProtocolError{Op: "rmdir", Path: path, Err: err}
	}
	return nil
}

func (c *SFTPClient) Rename(from, to string) error {
	client, err := c.session()
	if err != nil {
		return err
	}
	if err := client.Rename(from, to); err != nil {
		return ProtocolError{Op: "rename", Path: from, Err: err}
	}
	return nil
}

//-----------
// Internals
//-----------

func (c *SFTPClient) session() (*sftp.Client, error) {
	if c.client == nil {
		return nil, NotConnectedError{Protocol: "SFTP"}
	}
	return c.client, nil
}

// A private key takes precedence over a password; if both are given, the
// password unlocks the key.
func (c *SFTPClient) authMethods() ([]ssh.AuthMethod, error) {
	if c.Host.KeyPath != "" {
		pemBytes, err := os.ReadFile(c.Host.KeyPath)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(pemBytes)
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) && c.Host.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(c.Host.Password))
		}
		if err != nil {
			return nil, fmt.Errorf("Couldn't load private key %s: %w", c.Host.KeyPath, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if c.Host.Password != "" {
		return []ssh.AuthMethod{ssh.Password(c.Host.Password)}, nil
	}
	return nil, NoAuthMethodError{Username: c.Host.Username}
}

func (c *SFTPClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.Options.KnownHostsFile != "" {
		callback, err := knownhosts.New(c.Options.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("Couldn't read known_hosts file %s: %w",
				c.Options.KnownHostsFile, err)
		}
		return callback, nil
	}
	return ssh.InsecureIgnoreHostKey(), nil
}
