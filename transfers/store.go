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
	"time"

	"github.com/google/uuid"

	"github.com/skyferry/xfer/connections"
	"github.com/skyferry/xfer/journal"
)

// Store persists transfer history and resume records. *journal.Journal
// satisfies it.
type Store interface {
	InsertHistory(record journal.TransferHistory) (int64, error)
	UpdateHistoryStatus(id int64, status journal.Status, transferred int64,
		errorMessage string, finishedAt time.Time) (bool, error)
	History(id int64) (journal.TransferHistory, error)
	FindResume(hostId int64, remotePath, localPath string,
		direction journal.Direction) (*journal.ResumeRecord, error)
	SaveResumeRecord(record journal.ResumeRecord) (int64, error)
	DeleteResumeRecord(transferId uuid.UUID) (int, error)
	DeleteResumeRecordsFor(hostId int64, remotePath, localPath string,
		direction journal.Direction) (int, error)
}

// ConnectionSource hands out pooled connections by host. *connections.Pool
// satisfies it.
type ConnectionSource interface {
	Get(hostId int64) (*connections.Conn, error)
}
