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
	"io"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyferry/xfer/hosts"
)

// a minimal FTP server holding its files in memory, enough for FTPClient to
// log in, list, and move data over passive (EPSV) connections
type ftpServer struct {
	listener net.Listener
	password string

	mutex sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	extra map[string][]string // raw LIST lines added to a directory's listing
	rests []int64             // every REST offset received
}

// starts a server on the loopback interface, stopped when the test ends
func newFTPServer(t *testing.T) *ftpServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err, "Couldn't start FTP server.")
	server := &ftpServer{
		listener: listener,
		password: "secret",
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
		extra:    make(map[string][]string),
	}
	go server.accept()
	t.Cleanup(func() { listener.Close() })
	return server
}

// returns a host entry pointing at the server
func (s *ftpServer) host() hosts.Host {
	port := s.listener.Addr().(*net.TCPAddr).Port
	return hosts.Host{
		Id:       1,
		Address:  "127.0.0.1",
		Port:     port,
		Protocol: hosts.FTP,
		Username: "tester",
		Password: s.password,
	}
}

func (s *ftpServer) put(name string, data []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.files[name] = append([]byte(nil), data...)
}

func (s *ftpServer) file(name string) ([]byte, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, found := s.files[name]
	return data, found
}

func (s *ftpServer) restOffsets() []int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]int64(nil), s.rests...)
}

// adds a raw line to the listing of the given directory
func (s *ftpServer) addListLine(dir, line string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.extra[dir] = append(s.extra[dir], line)
}

// returns the LIST lines for a directory, "." and ".." included
func (s *ftpServer) listing(dir string) []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	lines := []string{
		"drwxr-xr-x   2 tester staff   4096 Jan 01 12:00 .",
		"drwxr-xr-x   2 tester staff   4096 Jan 01 12:00 ..",
	}
	var names []string
	for name := range s.dirs {
		if name != "/" && path.Dir(name) == dir {
			names = append(names, name)
		}
	}
	for name := range s.files {
		if path.Dir(name) == dir {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if data, isFile := s.files[name]; isFile {
			lines = append(lines, fmt.Sprintf("-rw-r--r--   1 tester staff %6d Jan 01 12:00 %s",
				len(data), path.Base(name)))
		} else {
			lines = append(lines, fmt.Sprintf("drwxr-xr-x   2 tester staff   4096 Jan 01 12:00 %s",
				path.Base(name)))
		}
	}
	return append(lines, s.extra[dir]...)
}

func (s *ftpServer) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.serve(conn)
	}
}

// one control connection
type ftpSession struct {
	server   *ftpServer
	proto    *textproto.Conn
	passive  net.Listener
	rest     int64
	renaming string
}

func (s *ftpServer) serve(conn net.Conn) {
	defer conn.Close()
	session := &ftpSession{server: s, proto: textproto.NewConn(conn)}
	defer session.closePassive()
	session.reply("220 xfer test server ready")
	for {
		line, err := session.proto.ReadLine()
		if err != nil {
			return
		}
		command, arg, _ := strings.Cut(line, " ")
		if !session.handle(strings.ToUpper(command), arg) {
			return
		}
	}
}

// handles a single command, returning false when the session ends
func (c *ftpSession) handle(command, arg string) bool {
	s := c.server
	switch command {
	case "USER":
		c.reply("331 Password required")
	case "PASS":
		if arg != s.password {
			c.reply("530 Login incorrect")
		} else {
			c.reply("230 Logged in")
		}
	case "FEAT":
		// MLST is advertised so that listings exercise the LIST fallback
		c.reply("211-Features:\r\n SIZE\r\n EPSV\r\n REST STREAM\r\n MLST type*;size*;modify*;\r\n211 End")
	case "TYPE", "NOOP":
		c.reply("200 OK")
	case "EPSV":
		c.closePassive()
		passive, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			c.reply("425 Can't open data connection")
			break
		}
		c.passive = passive
		c.reply(fmt.Sprintf("229 Entering Extended Passive Mode (|||%d|)",
			passive.Addr().(*net.TCPAddr).Port))
	case "REST":
		offset, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			c.reply("501 Bad offset")
			break
		}
		c.rest = offset
		s.mutex.Lock()
		s.rests = append(s.rests, offset)
		s.mutex.Unlock()
		c.reply(fmt.Sprintf("350 Restarting at %d", offset))
	case "STOR":
		c.store(arg)
	case "RETR":
		c.retrieve(arg)
	case "LIST":
		c.list(arg)
	case "SIZE":
		if data, found := s.file(arg); found {
			c.reply(fmt.Sprintf("213 %d", len(data)))
		} else {
			c.reply("550 No such file")
		}
	case "MKD":
		s.mutex.Lock()
		s.dirs[arg] = true
		s.mutex.Unlock()
		c.reply(fmt.Sprintf("257 \"%s\" created", arg))
	case "RMD":
		if c.removeDir(arg) {
			c.reply("250 Directory removed")
		} else {
			c.reply("550 Can't remove directory")
		}
	case "DELE":
		s.mutex.Lock()
		_, found := s.files[arg]
		delete(s.files, arg)
		s.mutex.Unlock()
		if found {
			c.reply("250 File removed")
		} else {
			c.reply("550 No such file")
		}
	case "RNFR":
		c.renaming = arg
		c.reply("350 Ready for destination")
	case "RNTO":
		if c.rename(c.renaming, arg) {
			c.reply("250 Renamed")
		} else {
			c.reply("550 Rename failed")
		}
		c.renaming = ""
	case "QUIT":
		c.reply("221 Bye")
		return false
	default:
		c.reply("502 Command not implemented")
	}
	return true
}

func (c *ftpSession) store(name string) {
	data, ok := c.openData()
	if !ok {
		return
	}
	c.reply("150 Ready to receive")
	received, err := io.ReadAll(data)
	data.Close()
	if err != nil {
		c.reply("426 Transfer aborted")
		return
	}
	s := c.server
	s.mutex.Lock()
	existing := s.files[name]
	if c.rest > int64(len(existing)) {
		c.rest = int64(len(existing))
	}
	s.files[name] = append(append([]byte(nil), existing[:c.rest]...), received...)
	s.mutex.Unlock()
	c.rest = 0
	c.reply("226 Transfer complete")
}

func (c *ftpSession) retrieve(name string) {
	content, found := c.server.file(name)
	if !found {
		c.closePassive()
		c.rest = 0
		c.reply("550 No such file")
		return
	}
	data, ok := c.openData()
	if !ok {
		return
	}
	c.reply("150 Sending")
	if c.rest < int64(len(content)) {
		data.Write(content[c.rest:])
	}
	data.Close()
	c.rest = 0
	c.reply("226 Transfer complete")
}

func (c *ftpSession) list(dir string) {
	data, ok := c.openData()
	if !ok {
		return
	}
	c.reply("150 Here comes the listing")
	for _, line := range c.server.listing(path.Clean(dir)) {
		fmt.Fprintf(data, "%s\r\n", line)
	}
	data.Close()
	c.reply("226 Listing sent")
}

func (c *ftpSession) removeDir(dir string) bool {
	s := c.server
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.dirs[dir] {
		return false
	}
	for name := range s.files {
		if path.Dir(name) == dir {
			return false
		}
	}
	delete(s.dirs, dir)
	return true
}

func (c *ftpSession) rename(from, to string) bool {
	s := c.server
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if data, found := s.files[from]; found {
		delete(s.files, from)
		s.files[to] = data
		return true
	}
	if s.dirs[from] {
		delete(s.dirs, from)
		s.dirs[to] = true
		return true
	}
	return false
}

// accepts the data connection opened by the last EPSV
func (c *ftpSession) openData() (net.Conn, bool) {
	if c.passive == nil {
		c.reply("425 Use EPSV first")
		return nil, false
	}
	data, err := c.passive.Accept()
	c.closePassive()
	if err != nil {
		c.reply("425 Can't open data connection")
		return nil, false
	}
	return data, true
}

func (c *ftpSession) closePassive() {
	if c.passive != nil {
		c.passive.Close()
		c.passive = nil
	}
}

func (c *ftpSession) reply(line string) {
	c.proto.PrintfLine("%s", line)
}
