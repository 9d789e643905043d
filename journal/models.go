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
	"time"

	"github.com/google/uuid"
)

// the direction of a transfer relative to the local machine
type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// parses a direction ("upload" or "download")
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case Upload, Download:
		return Direction(s), nil
	}
	return "", InvalidDirectionError{Direction: s}
}

// the lifecycle status of a transfer:
// pending -> transferring -> success | failed | cancelled
type Status string

const (
	Pending      Status = "pending"
	Transferring Status = "transferring"
	Success      Status = "success"
	Failed       Status = "failed"
	Cancelled    Status = "cancelled"
)

// parses a status string
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case Pending, Transferring, Success, Failed, Cancelled:
		return Status(s), nil
	}
	return "", InvalidStatusError{Status: s}
}

// returns true if no further transitions are possible from this status
func (s Status) Terminal() bool {
	return s == Success || s == Failed || s == Cancelled
}

// a persisted row describing one transfer attempt
type TransferHistory struct {
	// row identifier (assigned on insert)
	Id     int64 `json:"id"`
	HostId int64 `json:"host_id"`
	// file name for display
	Filename   string    `json:"filename"`
	RemotePath string    `json:"remote_path"`
	LocalPath  string    `json:"local_path"`
	Direction  Direction `json:"direction"`
	// declared size of the file in bytes
	FileSize int64 `json:"file_size"`
	// bytes of the file represented at the destination when the attempt ended
	TransferredSize int64  `json:"transferred_size"`
	Status          Status `json:"status"`
	// empty unless the attempt failed
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	// zero until the attempt reaches a terminal status
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// a persisted checkpoint from which an interrupted transfer can resume
type ResumeRecord struct {
	// row identifier (assigned on save)
	Id int64 `json:"id"`
	// identifier of the transfer task that wrote the checkpoint
	TransferId       uuid.UUID `json:"transfer_id"`
	HostId           int64     `json:"host_id"`
	RemotePath       string    `json:"remote_path"`
	LocalPath        string    `json:"local_path"`
	Direction        Direction `json:"direction"`
	FileSize         int64     `json:"file_size"`
	TransferredBytes int64     `json:"transferred_bytes"`
	// reserved; never populated
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
