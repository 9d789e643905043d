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

// This package describes the remote servers the client talks to and resolves
// their credentials.
package hosts

import (
	"fmt"
	"strings"
)

// the wire protocol spoken by a remote host
type Protocol string

const (
	FTP  Protocol = "ftp"
	SFTP Protocol = "sftp"
)

// parses a protocol tag ("ftp" or "sftp", case-insensitive)
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(s) {
	case "ftp":
		return FTP, nil
	case "sftp":
		return SFTP, nil
	}
	return "", InvalidProtocolError{Protocol: s}
}

// a remote server with resolved (plain text) credentials
type Host struct {
	Id       int64    `json:"id"`
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	Username string   `json:"username"`
	// password, or passphrase for the private key at KeyPath if given
	Password string `json:"-"`
	KeyPath  string `json:"key_path,omitempty"`
}

// returns the host:port address used to dial the host
func (h Host) Addr() string {
	return fmt.Sprintf("%s:%d", h.Address, h.Port)
}

// A Resolver produces a Host (with usable credentials) for an identifier.
type Resolver interface {
	Host(id int64) (Host, error)
}
