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

package hosts

import (
	"fmt"
)

// indicates that no host exists with the given identifier
type NotFoundError struct {
	Id int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("No host was found with ID %d", e.Id)
}

// indicates that a protocol tag is neither "ftp" nor "sftp"
type InvalidProtocolError struct {
	Protocol string
}

func (e InvalidProtocolError) Error() string {
	return fmt.Sprintf("Invalid protocol: '%s' (must be ftp or sftp)", e.Protocol)
}

// indicates that an encrypted host password could not be decrypted
type DecryptionError struct {
	Id      int64
	Message string
}

func (e DecryptionError) Error() string {
	return fmt.Sprintf("Couldn't decrypt the password for host %d: %s", e.Id, e.Message)
}
