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

package journal

import (
	"fmt"
)

// indicates that the journal is not open and cannot respond to the given request
type NotOpenError struct {
}

func (e NotOpenError) Error() string {
	return "The transfer journal is not open for reading or writing."
}

// indicates that the journal's database couldn't be opened or initialized
type CantOpenError struct {
	Path    string
	Message string
}

func (e CantOpenError) Error() string {
	return fmt.Sprintf("Couldn't open the transfer journal at %s: %s", e.Path, e.Message)
}

// indicates that no transfer history record exists with the given ID
type RecordNotFoundError struct {
	Id int64
}

func (e RecordNotFoundError) Error() string {
	return fmt.Sprintf("No transfer record was found with ID %d", e.Id)
}

// indicates that a statement against the journal failed
type StorageError struct {
	Op      string
	Message string
}

func (e StorageError) Error() string {
	return fmt.Sprintf("Couldn't %s: %s", e.Op, e.Message)
}

// indicates an unrecognized transfer direction
type InvalidDirectionError struct {
	Direction string
}

func (e InvalidDirectionError) Error() string {
	return fmt.Sprintf("Invalid direction: '%s' (must be upload or download)", e.Direction)
}

// indicates an unrecognized transfer status
type InvalidStatusError struct {
	Status string
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("Invalid status: '%s'", e.Status)
}
