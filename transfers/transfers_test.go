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
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyferry/xfer/connections"
	"github.com/skyferry/xfer/hosts"
	"github.com/skyferry/xfer/journal"
	"github.com/skyferry/xfer/protocols"
	"github.com/skyferry/xfer/xfertest"
)

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}

// this function gets called at the begіnning of a test session
func setup() {
	xfertest.EnableDebugLogging()

	log.Print("Creating testing directory...\n")
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "xfer-transfers-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

// this function gets called after all tests have been run
func breakdown() {
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

func TestUploadSucceeds(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)

	local := f.localPath("upload.dat")
	data, err := xfertest.WriteFile(local, 100)
	require.Nil(t, err)

	id, err := f.engine.Submit(NewTask(1, "upload.dat", local, "/upload.dat",
		journal.Upload, 100))
	assert.Nil(err)
	assert.NotEqual(uuid.Nil, id)
	f.wait()

	uploaded, found := f.server.File("/upload.dat")
	assert.True(found)
	assert.Equal(data, uploaded)

	history, err := f.journal.AllHistory()
	assert.Nil(err)
	require.Len(t, history, 1)
	assert.Equal(journal.Success, history[0].Status)
	assert.Equal(int64(100), history[0].TransferredSize)
	assert.Equal("", history[0].ErrorMessage)
	assert.False(history[0].FinishedAt.IsZero())

	assert.Len(f.sink.named(EventComplete), 1)
	assert.Empty(f.sink.named(EventFailed))
	assert.Empty(f.engine.ActiveIds())

	records, err := f.journal.ResumeRecords(1)
	assert.Nil(err)
	assert.Empty(records)
}

func TestDownloadReportsProgress(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)

	data := make([]byte, 100000)
	for i := range data {
		data[i] = byte(i % 7)
	}
	f.server.PutFile("/big.bin", data)
	local := f.localPath("big.bin")

	id, err := f.engine.Submit(NewTask(1, "big.bin", local, "/big.bin",
		journal.Download, int64(len(data))))
	assert.Nil(err)
	f.wait()

	downloaded, err := os.ReadFile(local)
	assert.Nil(err)
	assert.Equal(data, downloaded)

	// 32 KiB chunks: 3 full ones and a remainder
	progress := f.sink.progress(id)
	require.Len(t, progress, 4)
	var last int64
	for _, p := range progress {
		assert.Greater(p.TransferredBytes, last)
		assert.Equal(int64(len(data)), p.TotalBytes)
		last = p.TransferredBytes
	}
	assert.Equal(int64(protocols.ChunkSize), progress[0].TransferredBytes)
	assert.Equal(int64(len(data)), last)
	assert.InDelta(100.0, progress[3].Percentage, 1e-9)
	assert.Equal(0.0, progress[3].EtaSeconds)
}

func TestNoConnectionFails(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t) // no hosts connected

	local := f.localPath("orphan.dat")
	_, err := xfertest.WriteFile(local, 50)
	require.Nil(t, err)

	id, err := f.engine.Submit(NewTask(7, "orphan.dat", local, "/orphan.dat",
		journal.Upload, 50))
	assert.Nil(err)
	f.wait()

	history, err := f.journal.AllHistory()
	assert.Nil(err)
	require.Len(t, history, 1)
	assert.Equal(journal.Failed, history[0].Status)
	assert.Contains(history[0].ErrorMessage, "No active connection")

	// a resume record lets the caller retry later
	record, err := f.journal.FindResume(7, "/orphan.dat", local, journal.Upload)
	assert.Nil(err)
	require.NotNil(t, record)
	assert.Equal(id, record.TransferId)
	assert.Equal(int64(50), record.FileSize)
	assert.Equal(int64(0), record.TransferredBytes)

	failed := f.sink.named(EventFailed)
	require.Len(t, failed, 1)
	payload := failed[0].Payload.(TransferFailedEvent)
	assert.Equal(id, payload.TransferId)
	assert.Equal("orphan.dat", payload.Filename)
	assert.NotEmpty(payload.Error)
}

func TestFailedTransferResumes(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)
	f.server.ChunkSize = 10
	f.server.FailAt = 40

	local := f.localPath("resume.dat")
	data, err := xfertest.WriteFile(local, 100)
	require.Nil(t, err)

	first, err := f.engine.Submit(NewTask(1, "resume.dat", local, "/resume.dat",
		journal.Upload, 100))
	assert.Nil(err)
	f.wait()

	history, err := f.journal.AllHistory()
	assert.Nil(err)
	require.Len(t, history, 1)
	assert.Equal(journal.Failed, history[0].Status)
	assert.Equal(xfertest.ErrSimulatedFailure.Error(), history[0].ErrorMessage)
	assert.Equal(int64(40), history[0].TransferredSize)

	record, err := f.journal.FindResume(1, "/resume.dat", local, journal.Upload)
	assert.Nil(err)
	require.NotNil(t, record)
	assert.Equal(first, record.TransferId)
	assert.Equal(int64(100), record.FileSize)
	assert.Equal(int64(40), record.TransferredBytes)

	// the second attempt picks up where the first left off
	f.server.FailAt = 0
	second, err := f.engine.Submit(NewTask(1, "resume.dat", local, "/resume.dat",
		journal.Upload, 100))
	assert.Nil(err)
	f.wait()

	assert.Equal([]int64{0, 40}, f.server.Offsets())
	uploaded, _ := f.server.File("/resume.dat")
	assert.Equal(data, uploaded)

	history, err = f.journal.AllHistory()
	assert.Nil(err)
	require.Len(t, history, 2)
	assert.Equal(journal.Success, history[0].Status)
	assert.Equal(int64(100), history[0].TransferredSize)

	// progress is reported from the resumed position
	progress := f.sink.progress(second)
	require.Len(t, progress, 6)
	assert.Equal(int64(50), progress[0].TransferredBytes)
	assert.InDelta(50.0, progress[0].Percentage, 1e-9)

	records, err := f.journal.ResumeRecords(1)
	assert.Nil(err)
	assert.Empty(records)
}

func TestUploadResumeLimitedToStoredBytes(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)
	f.server.ChunkSize = 10

	local := f.localPath("short.dat")
	data, err := xfertest.WriteFile(local, 100)
	require.Nil(t, err)
	missing := f.localPath("missing.dat")
	_, err = xfertest.WriteFile(missing, 50)
	require.Nil(t, err)

	// checkpoints claim more than the server kept
	f.server.PutFile("/short.dat", data[:30])
	checkpoint := func(localPath, remotePath string) {
		_, err := f.journal.SaveResumeRecord(journal.ResumeRecord{
			TransferId:       uuid.New(),
			HostId:           1,
			RemotePath:       remotePath,
			LocalPath:        localPath,
			Direction:        journal.Upload,
			FileSize:         100,
			TransferredBytes: 70,
		})
		require.Nil(t, err)
	}
	checkpoint(local, "/short.dat")
	checkpoint(missing, "/missing.dat")

	_, err = f.engine.Submit(NewTask(1, "short.dat", local, "/short.dat",
		journal.Upload, 100))
	assert.Nil(err)
	f.wait()
	_, err = f.engine.Submit(NewTask(1, "missing.dat", missing, "/missing.dat",
		journal.Upload, 50))
	assert.Nil(err)
	f.wait()

	assert.Equal([]int64{30, 0}, f.server.Offsets())
	uploaded, _ := f.server.File("/short.dat")
	assert.Equal(data, uploaded, "Upload resumed past the bytes the server kept.")
	uploaded, _ = f.server.File("/missing.dat")
	assert.Len(uploaded, 50)

	history, err := f.journal.AllHistory()
	assert.Nil(err)
	require.Len(t, history, 2)
	assert.Equal(journal.Success, history[1].Status)
	assert.Equal(int64(100), history[1].TransferredSize)
}

func TestCheckpointsWhileTransferring(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)
	f.engine.SetCheckpointInterval(0)
	f.server.ChunkSize = 10
	f.server.FailAt = 30

	local := f.localPath("checkpoint.dat")
	_, err := xfertest.WriteFile(local, 60)
	require.Nil(t, err)

	_, err = f.engine.Submit(NewTask(1, "checkpoint.dat", local, "/checkpoint.dat",
		journal.Upload, 60))
	assert.Nil(err)
	f.wait()

	// one checkpoint per chunk plus one at the failure
	records, err := f.journal.ResumeRecords(1)
	assert.Nil(err)
	assert.Len(records, 4)

	record, err := f.journal.FindResume(1, "/checkpoint.dat", local, journal.Upload)
	assert.Nil(err)
	require.NotNil(t, record)
	assert.Equal(int64(30), record.TransferredBytes)
}

func TestCancelTransfer(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)
	f.server.ChunkSize = 10
	f.server.ChunkDelay = 20 * time.Millisecond

	local := f.localPath("slow.dat")
	_, err := xfertest.WriteFile(local, 1000)
	require.Nil(t, err)

	id, err := f.engine.Submit(NewTask(1, "slow.dat", local, "/slow.dat",
		journal.Upload, 1000))
	assert.Nil(err)
	assert.True(f.engine.IsActive(id))
	assert.Equal([]uuid.UUID{id}, f.engine.ActiveIds())

	time.Sleep(100 * time.Millisecond)
	err = f.engine.Cancel(id)
	assert.Nil(err)
	f.wait()

	history, err := f.journal.AllHistory()
	assert.Nil(err)
	require.Len(t, history, 1)
	assert.Equal(journal.Cancelled, history[0].Status)
	assert.Equal(int64(0), history[0].TransferredSize)

	cancelled := f.sink.named(EventCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(TransferEvent{TransferId: id, Filename: "slow.dat"}, cancelled[0].Payload)
	assert.Empty(f.sink.named(EventComplete))

	// the transfer stopped well short of the end
	uploaded, _ := f.server.File("/slow.dat")
	assert.Less(len(uploaded), 1000)

	// once finished, the task can no longer be cancelled
	assert.False(f.engine.IsActive(id))
	err = f.engine.Cancel(id)
	assert.IsType(NotFoundError{}, err)
}

func TestCancelUnknownTransfer(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Cancel(uuid.New())
	assert.IsType(t, NotFoundError{}, err)
	assert.Equal(t, 0, f.engine.CancelAll())
}

func TestHostsTransferInParallel(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1, 2)
	f.server.ChunkSize = 10
	f.server.ChunkDelay = 30 * time.Millisecond

	var ids []uuid.UUID
	for _, hostId := range []int64{1, 2} {
		local := f.localPath(fmt.Sprintf("parallel%d.dat", hostId))
		_, err := xfertest.WriteFile(local, 100)
		require.Nil(t, err)
		id, err := f.engine.Submit(NewTask(hostId, "parallel.dat", local,
			fmt.Sprintf("/parallel%d.dat", hostId), journal.Upload, 100))
		assert.Nil(err)
		ids = append(ids, id)
	}
	assert.Len(f.engine.ActiveIds(), 2)
	f.wait()

	// both tasks report progress before either completes
	seen := map[uuid.UUID]bool{}
	for _, event := range f.sink.all() {
		if event.Name == EventComplete {
			break
		}
		if p, ok := event.Payload.(Progress); ok {
			seen[p.TransferId] = true
		}
	}
	assert.True(seen[ids[0]])
	assert.True(seen[ids[1]])
	assert.Len(f.sink.named(EventComplete), 2)
}

func TestSameHostTransfersSerialize(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)
	f.server.ChunkSize = 10
	f.server.ChunkDelay = 10 * time.Millisecond

	for _, name := range []string{"a.dat", "b.dat"} {
		local := f.localPath(name)
		_, err := xfertest.WriteFile(local, 50)
		require.Nil(t, err)
		_, err = f.engine.Submit(NewTask(1, name, local, "/"+name, journal.Upload, 50))
		assert.Nil(err)
	}
	f.wait()

	// progress events from the two tasks never interleave
	var order []uuid.UUID
	for _, event := range f.sink.named(EventProgress) {
		id := event.Payload.(Progress).TransferId
		if len(order) == 0 || order[len(order)-1] != id {
			order = append(order, id)
		}
	}
	assert.Len(order, 2)
	assert.Len(f.sink.named(EventComplete), 2)
}

func TestRetryFromHistory(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t)

	local := f.localPath("retry.dat")
	data, err := xfertest.WriteFile(local, 64)
	require.Nil(t, err)

	_, err = f.engine.Submit(NewTask(1, "retry.dat", local, "/retry.dat",
		journal.Upload, 64))
	assert.Nil(err)
	f.wait()

	history, err := f.journal.AllHistory()
	require.Nil(t, err)
	require.Len(t, history, 1)
	assert.Equal(journal.Failed, history[0].Status)

	// connect the host and try again
	require.Nil(t, f.pool.Connect(testHost(1)))
	id, err := f.engine.Retry(history[0].Id)
	assert.Nil(err)
	assert.NotEqual(uuid.Nil, id)
	f.wait()

	history, err = f.journal.AllHistory()
	assert.Nil(err)
	require.Len(t, history, 2)
	assert.Equal(journal.Success, history[0].Status)
	uploaded, _ := f.server.File("/retry.dat")
	assert.Equal(data, uploaded)

	_, err = f.engine.Retry(9999)
	assert.IsType(journal.RecordNotFoundError{}, err)
}

func TestInvalidTasksAreRejected(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, 1)

	_, err := f.engine.Submit(NewTask(1, "x", "/tmp/x", "/x", journal.Direction("sideways"), 1))
	assert.IsType(InvalidTaskError{}, err)
	_, err = f.engine.Submit(NewTask(1, "x", "", "/x", journal.Upload, 1))
	assert.IsType(InvalidTaskError{}, err)

	// a duplicate identifier is refused while the first task runs
	f.server.ChunkDelay = 20 * time.Millisecond
	local := f.localPath("dup.dat")
	_, err = xfertest.WriteFile(local, 100)
	require.Nil(t, err)
	task := NewTask(1, "dup.dat", local, "/dup.dat", journal.Upload, 100)
	_, err = f.engine.Submit(task)
	assert.Nil(err)
	_, err = f.engine.Submit(task)
	assert.IsType(AlreadyActiveError{}, err)
	f.wait()
}

func TestWorkerPanicIsReported(t *testing.T) {
	assert := assert.New(t)
	store := openJournal(t)
	engine := NewEngine(panickingSource{}, store)
	sink := &recordingSink{}
	engine.SetEventSink(sink)

	_, err := engine.Submit(NewTask(1, "boom.dat", "/tmp/boom.dat", "/boom.dat",
		journal.Download, 10))
	assert.Nil(err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	assert.Nil(engine.Wait(ctx))

	history, err := store.AllHistory()
	assert.Nil(err)
	require.Len(t, history, 1)
	assert.Equal(journal.Failed, history[0].Status)
	assert.Contains(history[0].ErrorMessage, "panicked")
	assert.Len(sink.named(EventFailed), 1)
	assert.Empty(engine.ActiveIds())
}

func TestMeasureProgress(t *testing.T) {
	assert := assert.New(t)
	task := Task{Id: uuid.New(), Filename: "f", FileSize: 200}

	p := measure(task, 50, 100, 200, time.Second)
	assert.Equal(int64(200), p.TotalBytes)
	assert.Equal(int64(100), p.TransferredBytes)
	assert.InDelta(50.0, p.SpeedBytesPerSec, 1e-9)
	assert.InDelta(2.0, p.EtaSeconds, 1e-9)
	assert.InDelta(50.0, p.Percentage, 1e-9)

	// no elapsed time means no speed or estimate
	p = measure(task, 0, 10, 200, 0)
	assert.Equal(0.0, p.SpeedBytesPerSec)
	assert.Equal(0.0, p.EtaSeconds)

	// without a declared size the reported total is used
	task.FileSize = 0
	p = measure(task, 0, 25, 100, time.Second)
	assert.Equal(int64(100), p.TotalBytes)
	assert.InDelta(25.0, p.Percentage, 1e-9)
}

func TestEventBus(t *testing.T) {
	assert := assert.New(t)
	bus := NewEventBus()

	everything, stopAll := bus.Subscribe(10)
	failures, stopFailures := bus.Subscribe(1, EventFailed)
	assert.Equal(2, bus.Subscribers())

	bus.Emit(EventProgress, Progress{TransferredBytes: 1})
	bus.Emit(EventFailed, TransferFailedEvent{Error: "first"})
	bus.Emit(EventFailed, TransferFailedEvent{Error: "dropped"})

	assert.Equal(EventProgress, (<-everything).Name)
	assert.Equal(EventFailed, (<-everything).Name)
	assert.Equal(EventFailed, (<-everything).Name)

	// the filtered subscriber's buffer holds only the first failure
	event := <-failures
	assert.Equal(TransferFailedEvent{Error: "first"}, event.Payload)
	select {
	case <-failures:
		assert.Fail("expected the second failure to be dropped")
	default:
	}

	stopFailures()
	stopFailures()
	_, open := <-failures
	assert.False(open)
	assert.Equal(1, bus.Subscribers())
	stopAll()
	assert.Equal(0, bus.Subscribers())
}

//-----------
// Internals
//-----------

// temporary testing directory
var TESTING_DIR string

// everything an engine test needs
type fixture struct {
	t       *testing.T
	server  *xfertest.MockServer
	pool    *connections.Pool
	journal *journal.Journal
	engine  *Engine
	sink    *recordingSink
	dir     string
}

// creates an engine backed by a mock server, with the given hosts connected
func newFixture(t *testing.T, hostIds ...int64) *fixture {
	f := &fixture{
		t:      t,
		server: xfertest.NewMockServer(),
		pool:   connections.NewPool(protocols.Options{}),
		sink:   &recordingSink{},
	}
	f.pool.SetClientFactory(f.server.NewClient)
	for _, id := range hostIds {
		require.Nil(t, f.pool.Connect(testHost(id)))
	}
	f.journal = openJournal(t)
	f.dir = filepath.Join(TESTING_DIR, t.Name())
	require.Nil(t, os.MkdirAll(f.dir, 0755))
	f.engine = NewEngine(f.pool, f.journal)
	f.engine.SetEventSink(f.sink)
	t.Cleanup(f.pool.DisconnectAll)
	return f
}

func (f *fixture) localPath(name string) string {
	return filepath.Join(f.dir, name)
}

// waits for all submitted tasks to finish
func (f *fixture) wait() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.Nil(f.t, f.engine.Wait(ctx))
}

// opens a fresh journal for a test
func openJournal(t *testing.T) *journal.Journal {
	j, err := journal.Open(filepath.Join(TESTING_DIR, t.Name()+".db"))
	require.Nil(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func testHost(id int64) hosts.Host {
	return hosts.Host{
		Id:       id,
		Name:     "mock",
		Address:  "localhost",
		Port:     2121,
		Protocol: hosts.FTP,
		Username: "tester",
		Password: "secret",
	}
}

// an EventSink that remembers everything emitted
type recordingSink struct {
	mutex  sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(name string, payload any) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.events = append(s.events, Event{Name: name, Payload: payload})
}

func (s *recordingSink) all() []Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *recordingSink) named(name string) []Event {
	var events []Event
	for _, event := range s.all() {
		if event.Name == name {
			events = append(events, event)
		}
	}
	return events
}

func (s *recordingSink) progress(id uuid.UUID) []Progress {
	var reports []Progress
	for _, event := range s.named(EventProgress) {
		if p := event.Payload.(Progress); p.TransferId == id {
			reports = append(reports, p)
		}
	}
	return reports
}

// a ConnectionSource whose lookups panic
type panickingSource struct{}

func (panickingSource) Get(hostId int64) (*connections.Conn, error) {
	panic("connection table corrupted")
}
