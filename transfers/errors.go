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

package transfers

import (
	"fmt"

	"github.com/google/uuid"
)

// indicates that a transfer is not among the active tasks
type NotFoundError struct {
	Id uuid.UUID
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("The transfer %s was not found.", e.Id.String())
}

// indicates that a task was submitted with the identifier of an active task
type AlreadyActiveError struct {
	Id uuid.UUID
}

func (e AlreadyActiveError) Error() string {
	return fmt.Sprintf("The transfer %s is already active.", e.Id.String())
}

// indicates that a task lacks something it needs to run
type InvalidTaskError struct {
	Message string
}

func (e InvalidTaskError) Error() string {
	return fmt.Sprintf("Invalid transfer task: %s", e.Message)
}

// returned from the progress callback to stop a cancelled transfer
type CancelledError struct {
	Id uuid.UUID
}

func (e CancelledError) Error() string {
	return fmt.Sprintf("The transfer %s was cancelled.", e.Id.String())
}

// indicates that a transfer worker panicked
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("Transfer worker panicked: %v", e.Value)
}
