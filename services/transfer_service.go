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

// This package exposes the transfer core over HTTP: host sessions, remote
// file operations, transfers, history, and a server-sent event stream of
// transfer progress.
package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/skyferry/xfer/journal"
)

type ServiceInfoResponse struct {
	Name          string `json:"name" example:"xfer" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

type ConnectionResponse struct {
	HostId    int64 `json:"host_id" example:"1" doc:"the host's identifier"`
	Connected bool  `json:"connected" doc:"true if the pool holds a session for the host"`
}

type TestConnectionResponse struct {
	HostId  int64  `json:"host_id" example:"1" doc:"the host's identifier"`
	Success bool   `json:"success" doc:"true if a session could be established"`
	Message string `json:"message,omitempty" doc:"the reason the test failed, if it did"`
}

type StatResponse struct {
	Path   string `json:"path" example:"/pub/data.bin" doc:"the remote path"`
	Exists bool   `json:"exists" doc:"true if the path exists on the host"`
	Size   int64  `json:"size" doc:"the size of the remote file in bytes (0 for directories)"`
}

type DirectoryRequest struct {
	Path string `json:"path" example:"/pub/new" doc:"the remote directory to create"`
}

type RenameRequest struct {
	From string `json:"from" example:"/pub/old.txt" doc:"the current remote path"`
	To   string `json:"to" example:"/pub/new.txt" doc:"the new remote path"`
}

type TransferRequest struct {
	HostId     int64  `json:"host_id" example:"1" doc:"the host on the remote end of the transfer"`
	Filename   string `json:"filename,omitempty" example:"data.bin" doc:"(Optional) a display name (defaults to the remote file's name)"`
	LocalPath  string `json:"local_path" example:"/home/me/data.bin" doc:"the file on the local machine"`
	RemotePath string `json:"remote_path" example:"/pub/data.bin" doc:"the file on the host"`
	Direction  string `json:"direction" example:"upload" doc:"upload (local to remote) or download (remote to local)"`
	FileSize   int64  `json:"file_size,omitempty" doc:"(Optional) the size of the file in bytes (looked up if omitted)"`
}

type TransferResponse struct {
	// transfer job ID
	Id uuid.UUID `json:"id" doc:"a UUID for the requested transfer"`
}

type ClearHistoryResponse struct {
	Deleted int `json:"deleted" doc:"the number of history rows deleted"`
}

type HistoryResponse = journal.TransferHistory

type TransferService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service, letting transfers finish and closing
	// all host sessions.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}
