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

// This package runs file transfers between the local machine and connected
// remote hosts. Each submitted task runs in its own goroutine, records its
// lifecycle in a Store, checkpoints resumable progress, and reports what it
// does through an EventSink.
package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skyferry/xfer/connections"
	"github.com/skyferry/xfer/journal"
	"github.com/skyferry/xfer/protocols"
)

// default time between resume checkpoints of a running transfer
const DefaultCheckpointInterval = 3 * time.Second

// An Engine runs transfer tasks concurrently. Tasks on the same host share
// that host's pooled connection and so run one at a time; tasks on different
// hosts run in parallel.
type Engine struct {
	pool  ConnectionSource
	store Store

	mutex    sync.Mutex
	active   map[uuid.UUID]*atomic.Bool // cancellation flags of running tasks
	sink     EventSink
	interval time.Duration

	workers sync.WaitGroup
}

// creates an engine that takes connections from the given source and records
// transfers in the given store
func NewEngine(pool ConnectionSource, store Store) *Engine {
	return &Engine{
		pool:     pool,
		store:    store,
		active:   make(map[uuid.UUID]*atomic.Bool),
		interval: DefaultCheckpointInterval,
	}
}

// sets the sink that receives transfer events; with no sink, events are
// dropped
func (e *Engine) SetEventSink(sink EventSink) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.sink = sink
}

// sets the minimum time between resume checkpoints for tasks submitted after
// this call (0 checkpoints on every chunk)
func (e *Engine) SetCheckpointInterval(interval time.Duration) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if interval < 0 {
		interval = 0
	}
	e.interval = interval
}

// Submit starts the given task in the background and returns its identifier
// immediately. A task with a nil identifier is assigned a fresh one.
func (e *Engine) Submit(task Task) (uuid.UUID, error) {
	if _, err := journal.ParseDirection(string(task.Direction)); err != nil {
		return uuid.Nil, InvalidTaskError{Message: err.Error()}
	}
	if task.LocalPath == "" || task.RemotePath == "" {
		return uuid.Nil, InvalidTaskError{Message: "local and remote paths are required"}
	}
	if task.Id == uuid.Nil {
		task.Id = uuid.New()
	}
	if task.Filename == "" {
		task.Filename = path.Base(task.RemotePath)
	}

	e.mutex.Lock()
	if _, found := e.active[task.Id]; found {
		e.mutex.Unlock()
		return uuid.Nil, AlreadyActiveError{Id: task.Id}
	}
	cancelled := new(atomic.Bool)
	e.active[task.Id] = cancelled
	interval := e.interval
	e.workers.Add(1)
	e.mutex.Unlock()

	slog.Info(fmt.Sprintf("Transfer %s: submitted %s of %s for host %d",
		task.Id.String(), task.Direction, task.Filename, task.HostId))
	go e.run(task, cancelled, interval)
	return task.Id, nil
}

// Cancel requests that the active task with the given identifier stop. The
// request takes effect at the task's next chunk boundary.
func (e *Engine) Cancel(id uuid.UUID) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	cancelled, found := e.active[id]
	if !found {
		return NotFoundError{Id: id}
	}
	cancelled.Store(true)
	slog.Info(fmt.Sprintf("Transfer %s: received cancellation request", id.String()))
	return nil
}

// requests that every active task stop, returning the number of tasks
// signalled
func (e *Engine) CancelAll() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	for _, cancelled := range e.active {
		cancelled.Store(true)
	}
	return len(e.active)
}

// returns the identifiers of all active tasks
func (e *Engine) ActiveIds() []uuid.UUID {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	ids := make([]uuid.UUID, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	return ids
}

// returns true if the task with the given identifier is active
func (e *Engine) IsActive(id uuid.UUID) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	_, found := e.active[id]
	return found
}

// Retry submits a new task repeating the transfer recorded in the history row
// with the given identifier. The new task resumes from the latest checkpoint
// for the same file, if any.
func (e *Engine) Retry(historyId int64) (uuid.UUID, error) {
	record, err := e.store.History(historyId)
	if err != nil {
		return uuid.Nil, err
	}
	return e.Submit(NewTask(record.HostId, record.Filename, record.LocalPath,
		record.RemotePath, record.Direction, record.FileSize))
}

// Wait blocks until every submitted task has finished or the context is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

//-----------
// Internals
//-----------

// runs a single task to completion on its own goroutine
func (e *Engine) run(task Task, cancelled *atomic.Bool, interval time.Duration) {
	defer e.workers.Done()
	defer e.deregister(task.Id)

	var historyId int64
	var err error
	defer func() {
		if r := recover(); r != nil {
			e.fail(task, historyId, 0, false, PanicError{Value: r})
		}
	}()

	startedAt := time.Now()
	historyId, err = e.store.InsertHistory(journal.TransferHistory{
		HostId:     task.HostId,
		Filename:   task.Filename,
		RemotePath: task.RemotePath,
		LocalPath:  task.LocalPath,
		Direction:  task.Direction,
		FileSize:   task.FileSize,
		Status:     journal.Pending,
		StartedAt:  startedAt,
	})
	if err != nil {
		slog.Error(fmt.Sprintf("Transfer %s: couldn't record history: %s",
			task.Id.String(), err.Error()))
		e.emit(EventFailed, TransferFailedEvent{
			TransferId: task.Id,
			Filename:   task.Filename,
			Error:      err.Error(),
		})
		return
	}

	if _, err := e.store.UpdateHistoryStatus(historyId, journal.Transferring, 0, "",
		time.Time{}); err != nil {
		slog.Warn(fmt.Sprintf("Transfer %s: couldn't update history: %s",
			task.Id.String(), err.Error()))
	}

	var offset int64
	record, err := e.store.FindResume(task.HostId, task.RemotePath, task.LocalPath,
		task.Direction)
	if err != nil {
		slog.Warn(fmt.Sprintf("Transfer %s: couldn't look up resume records: %s",
			task.Id.String(), err.Error()))
	} else if record != nil {
		offset = record.TransferredBytes
		slog.Info(fmt.Sprintf("Transfer %s: resuming at byte %d (checkpoint of %s)",
			task.Id.String(), offset, record.TransferId.String()))
	}

	conn, err := e.pool.Get(task.HostId)
	if err != nil {
		e.fail(task, historyId, offset, true, err)
		return
	}

	if task.Direction == journal.Upload && offset > 0 {
		offset = storedOffset(conn, task, offset)
	}

	// absolute position of the last reported chunk
	transferred := offset
	callStart := time.Now()
	lastCheckpoint := callStart
	progress := func(current, total int64) error {
		transferred = current
		e.emit(EventProgress, measure(task, offset, current, total, time.Since(callStart)))
		if time.Since(lastCheckpoint) >= interval {
			e.checkpoint(task, current)
			lastCheckpoint = time.Now()
		}
		if cancelled.Load() {
			return CancelledError{Id: task.Id}
		}
		return nil
	}

	moved, err := transfer(conn, task, offset, progress)

	if cancelled.Load() {
		if _, err := e.store.UpdateHistoryStatus(historyId, journal.Cancelled, 0, "",
			time.Now()); err != nil {
			slog.Warn(fmt.Sprintf("Transfer %s: couldn't update history: %s",
				task.Id.String(), err.Error()))
		}
		slog.Info(fmt.Sprintf("Transfer %s cancelled.", task.Id.String()))
		e.emit(EventCancelled, TransferEvent{TransferId: task.Id, Filename: task.Filename})
		return
	}

	if err != nil {
		e.fail(task, historyId, transferred, true, err)
		return
	}

	if _, err := e.store.UpdateHistoryStatus(historyId, journal.Success, offset+moved, "",
		time.Now()); err != nil {
		slog.Warn(fmt.Sprintf("Transfer %s: couldn't update history: %s",
			task.Id.String(), err.Error()))
	}
	if _, err := e.store.DeleteResumeRecord(task.Id); err != nil {
		slog.Warn(fmt.Sprintf("Transfer %s: couldn't delete resume record: %s",
			task.Id.String(), err.Error()))
	}
	if _, err := e.store.DeleteResumeRecordsFor(task.HostId, task.RemotePath,
		task.LocalPath, task.Direction); err != nil {
		slog.Warn(fmt.Sprintf("Transfer %s: couldn't delete resume records: %s",
			task.Id.String(), err.Error()))
	}
	slog.Info(fmt.Sprintf("Transfer %s completed (%d bytes).", task.Id.String(),
		offset+moved))
	e.emit(EventComplete, TransferEvent{TransferId: task.Id, Filename: task.Filename})
}

// moves the task's file over a pooled connection, holding it for the whole
// call
func transfer(conn *connections.Conn, task Task, offset int64,
	progress protocols.ProgressFunc) (int64, error) {
	conn.Lock()
	defer conn.Unlock()
	client := conn.Client()
	if task.Direction == journal.Upload {
		return client.Upload(task.LocalPath, task.RemotePath, offset, progress)
	}
	return client.Download(task.RemotePath, task.LocalPath, offset, progress)
}

// limits an upload's resume offset to the size of the remote file: a
// checkpoint counts bytes handed to the connection, not bytes the server kept
func storedOffset(conn *connections.Conn, task Task, offset int64) int64 {
	conn.Lock()
	defer conn.Unlock()
	size, err := conn.Client().FileSize(task.RemotePath)
	if err != nil {
		slog.Warn(fmt.Sprintf("Transfer %s: couldn't check the size of %s, restarting upload: %s",
			task.Id.String(), task.RemotePath, err.Error()))
		return 0
	}
	if size < offset {
		slog.Info(fmt.Sprintf("Transfer %s: server holds %d of %d checkpointed bytes",
			task.Id.String(), size, offset))
		return size
	}
	return offset
}

// computes a progress report from an absolute position; speed counts only
// the bytes moved since the call started at offset
func measure(task Task, offset, current, total int64, elapsed time.Duration) Progress {
	size := task.FileSize
	if size <= 0 {
		size = total
	}
	p := Progress{
		TransferId:       task.Id,
		Filename:         task.Filename,
		TotalBytes:       size,
		TransferredBytes: current,
	}
	if seconds := elapsed.Seconds(); seconds > 0 {
		p.SpeedBytesPerSec = float64(current-offset) / seconds
	}
	if p.SpeedBytesPerSec > 0 && size > current {
		p.EtaSeconds = float64(size-current) / p.SpeedBytesPerSec
	}
	if size > 0 {
		p.Percentage = float64(current) / float64(size) * 100
	}
	return p
}

// marks a task failed, optionally leaving a resume record at the given
// absolute position
func (e *Engine) fail(task Task, historyId, transferred int64, resumable bool, err error) {
	slog.Error(fmt.Sprintf("Transfer %s: %s", task.Id.String(), err.Error()))
	if historyId > 0 {
		if _, updateErr := e.store.UpdateHistoryStatus(historyId, journal.Failed,
			transferred, err.Error(), time.Now()); updateErr != nil {
			slog.Warn(fmt.Sprintf("Transfer %s: couldn't update history: %s",
				task.Id.String(), updateErr.Error()))
		}
	}
	if resumable {
		e.checkpoint(task, transferred)
	}
	e.emit(EventFailed, TransferFailedEvent{
		TransferId: task.Id,
		Filename:   task.Filename,
		Error:      err.Error(),
	})
}

// saves a resume record for the task at the given absolute position
func (e *Engine) checkpoint(task Task, transferred int64) {
	_, err := e.store.SaveResumeRecord(journal.ResumeRecord{
		TransferId:       task.Id,
		HostId:           task.HostId,
		RemotePath:       task.RemotePath,
		LocalPath:        task.LocalPath,
		Direction:        task.Direction,
		FileSize:         task.FileSize,
		TransferredBytes: transferred,
	})
	if err != nil {
		slog.Warn(fmt.Sprintf("Transfer %s: couldn't save resume record: %s",
			task.Id.String(), err.Error()))
	}
}

func (e *Engine) deregister(id uuid.UUID) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	delete(e.active, id)
}

func (e *Engine) emit(name string, payload any) {
	e.mutex.Lock()
	sink := e.sink
	e.mutex.Unlock()
	if sink != nil {
		sink.Emit(name, payload)
	}
}
