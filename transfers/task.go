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
	"github.com/google/uuid"

	"github.com/skyferry/xfer/journal"
)

// A Task describes a single file moving between the local machine and a
// remote host.
type Task struct {
	// unique identifier (assigned on submission if nil)
	Id         uuid.UUID         `json:"id"`
	HostId     int64             `json:"host_id"`
	Filename   string            `json:"filename"`
	LocalPath  string            `json:"local_path"`
	RemotePath string            `json:"remote_path"`
	Direction  journal.Direction `json:"direction"`
	// size declared by the caller, used for percentages and resume records
	FileSize int64 `json:"file_size"`
}

// creates a task with a fresh identifier
func NewTask(hostId int64, filename, localPath, remotePath string,
	direction journal.Direction, fileSize int64) Task {
	return Task{
		Id:         uuid.New(),
		HostId:     hostId,
		Filename:   filename,
		LocalPath:  localPath,
		RemotePath: remotePath,
		Direction:  direction,
		FileSize:   fileSize,
	}
}

// a progress report for a running task
type Progress struct {
	TransferId       uuid.UUID `json:"transfer_id"`
	Filename         string    `json:"filename"`
	TotalBytes       int64     `json:"total_bytes"`
	TransferredBytes int64     `json:"transferred_bytes"`
	// bytes moved in this attempt divided by its elapsed time
	SpeedBytesPerSec float64 `json:"speed_bytes_per_sec"`
	// seconds remaining at the current speed (0 if unknown)
	EtaSeconds float64 `json:"eta_seconds"`
	Percentage float64 `json:"percentage"`
}
