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

// This package implements the transfer journal, which persists the history of
// every transfer attempt along with the resume checkpoints of interrupted
// transfers. The journal is a single SQLite database with two tables
// (transfer_history and resume_records).
package journal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/skyferry/xfer/config"
)

// layout of timestamps stored in the journal (always UTC)
const TimeLayout = "2006-01-02 15:04:05"

// name of the journal's database file within the data directory
const Filename = "xfer.db"

// A Journal owns a single database connection; every statement runs under its
// mutex, so callers never observe a partially applied change.
type Journal struct {
	Path  string
	mutex sync.Mutex
	conn  *sqlite.Conn
}

// opens (creating if necessary) the journal in the configured data directory
func OpenFromConfig() (*Journal, error) {
	if err := os.MkdirAll(config.Service.DataDirectory, 0755); err != nil {
		return nil, CantOpenError{Path: config.Service.DataDirectory, Message: err.Error()}
	}
	return Open(filepath.Join(config.Service.DataDirectory, Filename))
}

// opens (creating if necessary) the journal at the given path
func Open(path string) (*Journal, error) {
	conn, err := sqlite.OpenConn(path)
	if err != nil {
		return nil, CantOpenError{Path: path, Message: err.Error()}
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	if err != nil {
		conn.Close()
		return nil, CantOpenError{Path: path, Message: err.Error()}
	}
	slog.Info(fmt.Sprintf("Opened transfer journal at %s", path))
	return &Journal{
		Path: path,
		conn: conn,
	}, nil
}

// closes the journal; further calls return NotOpenError
func (j *Journal) Close() error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	if j.conn == nil {
		return nil
	}
	err := j.conn.Close()
	j.conn = nil
	return err
}

// returns true if the journal is open for reading and writing
func (j *Journal) IsOpen() bool {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.conn != nil
}

//--------------------
// Transfer history
//--------------------

// inserts a history row, returning its new identifier
func (j *Journal) InsertHistory(record TransferHistory) (int64, error) {
	var id int64
	err := j.execute("insert transfer history", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO transfer_history (host_id, filename, remote_path, local_path,
			 direction, file_size, transferred_size, status, error_message, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					record.HostId, record.Filename, record.RemotePath, record.LocalPath,
					string(record.Direction), record.FileSize, record.TransferredSize,
					string(record.Status), nullableText(record.ErrorMessage),
					nullableTime(record.StartedAt), nullableTime(record.FinishedAt),
				},
			})
		if err != nil {
			return err
		}
		id = conn.LastInsertRowID()
		return nil
	})
	return id, err
}

// updates the status, byte count, error message, and finish time of the
// history row with the given identifier, returning false if no such row exists
func (j *Journal) UpdateHistoryStatus(id int64, status Status, transferred int64,
	errorMessage string, finishedAt time.Time) (bool, error) {
	var changed bool
	err := j.execute("update transfer history", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`UPDATE transfer_history SET status = ?, transferred_size = ?,
			 error_message = ?, finished_at = ? WHERE id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{
					string(status), transferred, nullableText(errorMessage),
					nullableTime(finishedAt), id,
				},
			})
		if err != nil {
			return err
		}
		changed = conn.Changes() > 0
		return nil
	})
	return changed, err
}

// returns the history row with the given identifier
func (j *Journal) History(id int64) (TransferHistory, error) {
	records, err := j.queryHistory("WHERE id = ?", id)
	if err != nil {
		return TransferHistory{}, err
	}
	if len(records) == 0 {
		return TransferHistory{}, RecordNotFoundError{Id: id}
	}
	return records[0], nil
}

// returns all history rows for the given host, most recent first
func (j *Journal) HistoryByHost(hostId int64) ([]TransferHistory, error) {
	return j.queryHistory("WHERE host_id = ? ORDER BY id DESC", hostId)
}

// returns all history rows, most recent first
func (j *Journal) AllHistory() ([]TransferHistory, error) {
	return j.queryHistory("ORDER BY id DESC")
}

// deletes every history row, returning the number deleted
func (j *Journal) ClearHistory() (int, error) {
	return j.delete("clear transfer history", "DELETE FROM transfer_history")
}

// deletes the history rows for the given host, returning the number deleted
func (j *Journal) ClearHistoryByHost(hostId int64) (int, error) {
	return j.delete("clear transfer history", "DELETE FROM transfer_history WHERE host_id = ?", hostId)
}

//----------------
// Resume records
//----------------

// returns the most recently created resume record matching the given host,
// paths, and direction, or nil if there is none
func (j *Journal) FindResume(hostId int64, remotePath, localPath string,
	direction Direction) (*ResumeRecord, error) {
	records, err := j.queryResume(
		`WHERE host_id = ? AND remote_path = ? AND local_path = ? AND direction = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		hostId, remotePath, localPath, string(direction))
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// saves a new resume record, returning its identifier. A zero CreatedAt is
// replaced with the current time.
func (j *Journal) SaveResumeRecord(record ResumeRecord) (int64, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	var id int64
	err := j.execute("save resume record", func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			`INSERT INTO resume_records (transfer_id, host_id, remote_path, local_path,
			 direction, file_size, transferred_bytes, checksum, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					record.TransferId.String(), record.HostId, record.RemotePath,
					record.LocalPath, string(record.Direction), record.FileSize,
					record.TransferredBytes, nullableText(record.Checksum),
					nullableTime(record.CreatedAt),
				},
			})
		if err != nil {
			return err
		}
		id = conn.LastInsertRowID()
		return nil
	})
	return id, err
}

// deletes all resume records written by the given transfer, returning the
// number deleted
func (j *Journal) DeleteResumeRecord(transferId uuid.UUID) (int, error) {
	return j.delete("delete resume records",
		"DELETE FROM resume_records WHERE transfer_id = ?", transferId.String())
}

// deletes every resume record for the given host, paths, and direction,
// returning the number deleted
func (j *Journal) DeleteResumeRecordsFor(hostId int64, remotePath, localPath string,
	direction Direction) (int, error) {
	return j.delete("delete resume records",
		`DELETE FROM resume_records WHERE host_id = ? AND remote_path = ?
		 AND local_path = ? AND direction = ?`,
		hostId, remotePath, localPath, string(direction))
}

// deletes the resume record with the given row identifier, returning false if
// no such record exists
func (j *Journal) DeleteResumeRecordById(id int64) (bool, error) {
	n, err := j.delete("delete resume record", "DELETE FROM resume_records WHERE id = ?", id)
	return n > 0, err
}

// returns the resume records for the given host, most recent first
func (j *Journal) ResumeRecords(hostId int64) ([]ResumeRecord, error) {
	return j.queryResume("WHERE host_id = ? ORDER BY created_at DESC, id DESC", hostId)
}

//-----------
// Internals
//-----------

// runs f against the connection under the journal's mutex
func (j *Journal) execute(op string, f func(conn *sqlite.Conn) error) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	if j.conn == nil {
		return NotOpenError{}
	}
	if err := f(j.conn); err != nil {
		return StorageError{Op: op, Message: err.Error()}
	}
	return nil
}

func (j *Journal) delete(op, query string, args ...any) (int, error) {
	var n int
	err := j.execute(op, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
		if err != nil {
			return err
		}
		n = conn.Changes()
		return nil
	})
	return n, err
}

func (j *Journal) queryHistory(clause string, args ...any) ([]TransferHistory, error) {
	records := make([]TransferHistory, 0)
	err := j.execute("query transfer history", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT id, host_id, filename, remote_path, local_path, direction, file_size,
			 transferred_size, status, error_message, started_at, finished_at
			 FROM transfer_history `+clause,
			&sqlitex.ExecOptions{
				Args: args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					records = append(records, TransferHistory{
						Id:              stmt.ColumnInt64(0),
						HostId:          stmt.ColumnInt64(1),
						Filename:        stmt.ColumnText(2),
						RemotePath:      stmt.ColumnText(3),
						LocalPath:       stmt.ColumnText(4),
						Direction:       Direction(stmt.ColumnText(5)),
						FileSize:        stmt.ColumnInt64(6),
						TransferredSize: stmt.ColumnInt64(7),
						Status:          Status(stmt.ColumnText(8)),
						ErrorMessage:    stmt.ColumnText(9),
						StartedAt:       parseTime(stmt.ColumnText(10)),
						FinishedAt:      parseTime(stmt.ColumnText(11)),
					})
					return nil
				},
			})
	})
	return records, err
}

func (j *Journal) queryResume(clause string, args ...any) ([]ResumeRecord, error) {
	records := make([]ResumeRecord, 0)
	err := j.execute("query resume records", func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT id, transfer_id, host_id, remote_path, local_path, direction,
			 file_size, transferred_bytes, checksum, created_at
			 FROM resume_records `+clause,
			&sqlitex.ExecOptions{
				Args: args,
				ResultFunc: func(stmt *sqlite.Stmt) error {
					transferId, err := uuid.Parse(stmt.ColumnText(1))
					if err != nil {
						return err
					}
					records = append(records, ResumeRecord{
						Id:               stmt.ColumnInt64(0),
						TransferId:       transferId,
						HostId:           stmt.ColumnInt64(2),
						RemotePath:       stmt.ColumnText(3),
						LocalPath:        stmt.ColumnText(4),
						Direction:        Direction(stmt.ColumnText(5)),
						FileSize:         stmt.ColumnInt64(6),
						TransferredBytes: stmt.ColumnInt64(7),
						Checksum:         stmt.ColumnText(8),
						CreatedAt:        parseTime(stmt.ColumnText(9)),
					})
					return nil
				},
			})
	})
	return records, err
}

// empty strings are stored as NULL
func nullableText(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// zero times are stored as NULL
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(TimeLayout)
}

// NULL and unparseable times are read as zero
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
