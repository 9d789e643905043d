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
)

// indicates that an operation was attempted on a client with no session
type NotConnectedError struct {
	Protocol string
}

func (e NotConnectedError) Error() string {
	return fmt.Sprintf("The %s client is not connected.", e.Protocol)
}

// indicates that a remote operation failed at the protocol level
type ProtocolError struct {
	Op   string
	Path string
	Err  error
}

func (e ProtocolError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Err.Error())
	}
	return fmt.Sprintf("%s %s failed: %s", e.Op, e.Path, e.Err.Error())
}

func (e ProtocolError) Unwrap() error {
	return e.Err
}

// indicates that an SFTP host offers no usable authentication method
type NoAuthMethodError struct {
	Username string
}

func (e NoAuthMethodError) Error() string {
	return fmt.Sprintf("No authentication method was provided for user %s (need a password or key_path)", e.Username)
}
