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

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/net/netutil"

	"github.com/skyferry/xfer/config"
	"github.com/skyferry/xfer/connections"
	"github.com/skyferry/xfer/core"
	"github.com/skyferry/xfer/hosts"
	"github.com/skyferry/xfer/journal"
	"github.com/skyferry/xfer/protocols"
	"github.com/skyferry/xfer/transfers"
)

// number of events buffered for each event stream subscriber
const eventBufferSize = 256

// This type implements the TransferService interface over a transfer engine,
// a connection pool, and a journal.
type transferService struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	engine  *transfers.Engine
	pool    *connections.Pool
	hosts   hosts.Resolver
	journal *journal.Journal
	events  *transfers.EventBus
	// closed on shutdown to end event streams
	done chan struct{}
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root
func (service *transferService) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(core.Uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type ConnectionsOutput struct {
	Body []int64 `doc:"identifiers of hosts with open sessions, in ascending order"`
}

func (service *transferService) getConnections(ctx context.Context,
	input *struct{}) (*ConnectionsOutput, error) {
	return &ConnectionsOutput{
		Body: service.pool.ActiveConnections(),
	}, nil
}

type HostInput struct {
	Id int64 `path:"id" example:"1" doc:"the host's identifier"`
}

type ConnectionOutput struct {
	Body ConnectionResponse `doc:"the state of the host's session"`
}

// handler method for opening a session with a host
func (service *transferService) connectHost(ctx context.Context,
	input *HostInput) (*ConnectionOutput, error) {

	host, err := service.hosts.Host(input.Id)
	if err != nil {
		return nil, statusError(err)
	}
	slog.Info(fmt.Sprintf("Connecting to host %d...", input.Id))
	if err := service.pool.Connect(host); err != nil {
		return nil, statusError(err)
	}
	return &ConnectionOutput{
		Body: ConnectionResponse{HostId: input.Id, Connected: true},
	}, nil
}

// handler method for closing a session with a host (closing a session that
// isn't open is not an error)
func (service *transferService) disconnectHost(ctx context.Context,
	input *HostInput) (*ConnectionOutput, error) {

	if err := service.pool.Disconnect(input.Id); err != nil {
		slog.Warn(fmt.Sprintf("Host %d: %s", input.Id, err.Error()))
	}
	return &ConnectionOutput{
		Body: ConnectionResponse{HostId: input.Id, Connected: false},
	}, nil
}

type TestConnectionOutput struct {
	Body TestConnectionResponse `doc:"the result of the connection test"`
}

// handler method for checking a host's credentials without pooling a session
func (service *transferService) testHost(ctx context.Context,
	input *HostInput) (*TestConnectionOutput, error) {

	host, err := service.hosts.Host(input.Id)
	if err != nil {
		return nil, statusError(err)
	}
	output := &TestConnectionOutput{
		Body: TestConnectionResponse{HostId: input.Id, Success: true},
	}
	if err := service.pool.TestConnection(host); err != nil {
		output.Body.Success = false
		output.Body.Message = err.Error()
	}
	return output, nil
}

type RemotePathInput struct {
	Id   int64  `path:"id" example:"1" doc:"the host's identifier"`
	Path string `query:"path" default:"/" example:"/pub" doc:"a path on the host"`
}

type FilesOutput struct {
	Body []protocols.FileEntry `doc:"the entries of the remote directory"`
}

// handler method for listing a remote directory
func (service *transferService) listFiles(ctx context.Context,
	input *RemotePathInput) (*FilesOutput, error) {

	var entries []protocols.FileEntry
	err := service.withClient(input.Id, func(client protocols.Client) error {
		var err error
		entries, err = client.ListDir(input.Path)
		return err
	})
	if err != nil {
		return nil, statusError(err)
	}
	if entries == nil {
		entries = []protocols.FileEntry{}
	}
	return &FilesOutput{Body: entries}, nil
}

type StatOutput struct {
	Body StatResponse `doc:"whether the remote path exists, and its size"`
}

// handler method for checking a remote path
func (service *transferService) statFile(ctx context.Context,
	input *RemotePathInput) (*StatOutput, error) {

	output := &StatOutput{Body: StatResponse{Path: input.Path}}
	err := service.withClient(input.Id, func(client protocols.Client) error {
		exists, err := client.FileExists(input.Path)
		if err != nil || !exists {
			return err
		}
		output.Body.Exists = true
		if size, err := client.FileSize(input.Path); err == nil {
			output.Body.Size = size
		}
		return nil
	})
	if err != nil {
		return nil, statusError(err)
	}
	return output, nil
}

type StatusOutput struct {
	Status int
}

// handler method for creating a remote directory
func (service *transferService) createDirectory(ctx context.Context,
	input *struct {
		Id   int64            `path:"id" example:"1" doc:"the host's identifier"`
		Body DirectoryRequest `doc:"the directory to create"`
	}) (*StatusOutput, error) {

	err := service.withClient(input.Id, func(client protocols.Client) error {
		return client.Mkdir(input.Body.Path)
	})
	if err != nil {
		return nil, statusError(err)
	}
	return &StatusOutput{Status: http.StatusCreated}, nil
}

// handler method for removing a remote file or (empty) directory
func (service *transferService) deleteFile(ctx context.Context,
	input *struct {
		Id   int64  `path:"id" example:"1" doc:"the host's identifier"`
		Path string `query:"path" required:"true" example:"/pub/old.txt" doc:"the remote path to remove"`
		Dir  bool   `query:"dir" doc:"true if the path is a directory"`
	}) (*StatusOutput, error) {

	err := service.withClient(input.Id, func(client protocols.Client) error {
		if input.Dir {
			return client.RemoveDir(input.Path)
		}
		return client.RemoveFile(input.Path)
	})
	if err != nil {
		return nil, statusError(err)
	}
	return &StatusOutput{Status: http.StatusNoContent}, nil
}

// handler method for renaming a remote file or directory
func (service *transferService) renameFile(ctx context.Context,
	input *struct {
		Id   int64         `path:"id" example:"1" doc:"the host's identifier"`
		Body RenameRequest `doc:"the old and new remote paths"`
	}) (*StatusOutput, error) {

	err := service.withClient(input.Id, func(client protocols.Client) error {
		return client.Rename(input.Body.From, input.Body.To)
	})
	if err != nil {
		return nil, statusError(err)
	}
	return &StatusOutput{Status: http.StatusNoContent}, nil
}

type TransferOutput struct {
	Body   TransferResponse `doc:"A UUID for the requested transfer"`
	Status int
}

// handler method for initiating a file transfer
func (service *transferService) createTransfer(ctx context.Context,
	input *struct {
		Body TransferRequest `doc:"The body of a POST request for a file transfer"`
	}) (*TransferOutput, error) {

	request := input.Body
	direction, err := journal.ParseDirection(request.Direction)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	if request.FileSize <= 0 {
		request.FileSize, err = service.fileSize(request, direction)
		if err != nil {
			return nil, statusError(err)
		}
	}
	task := transfers.NewTask(request.HostId, request.Filename, request.LocalPath,
		request.RemotePath, direction, request.FileSize)
	taskId, err := service.engine.Submit(task)
	if err != nil {
		return nil, statusError(err)
	}
	return &TransferOutput{
		Body:   TransferResponse{Id: taskId},
		Status: http.StatusCreated,
	}, nil
}

type TransfersOutput struct {
	Body []uuid.UUID `doc:"identifiers of active transfers"`
}

func (service *transferService) getTransfers(ctx context.Context,
	input *struct{}) (*TransfersOutput, error) {
	return &TransfersOutput{
		Body: service.engine.ActiveIds(),
	}, nil
}

// handler method for cancelling an active transfer
func (service *transferService) deleteTransfer(ctx context.Context,
	input *struct {
		Id uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the requested transfer"`
	}) (*StatusOutput, error) {

	if err := service.engine.Cancel(input.Id); err != nil {
		return nil, statusError(err)
	}
	return &StatusOutput{
		Status: http.StatusAccepted,
	}, nil
}

type HistoryInput struct {
	HostId int64 `query:"host_id" example:"1" doc:"(Optional) restricts the request to a single host"`
}

type HistoryOutput struct {
	Body []HistoryResponse `doc:"transfer history, most recent first"`
}

func (service *transferService) getHistory(ctx context.Context,
	input *HistoryInput) (*HistoryOutput, error) {

	var records []journal.TransferHistory
	var err error
	if input.HostId > 0 {
		records, err = service.journal.HistoryByHost(input.HostId)
	} else {
		records, err = service.journal.AllHistory()
	}
	if err != nil {
		return nil, statusError(err)
	}
	if records == nil {
		records = []journal.TransferHistory{}
	}
	return &HistoryOutput{Body: records}, nil
}

type ClearHistoryOutput struct {
	Body ClearHistoryResponse `doc:"the number of history rows deleted"`
}

func (service *transferService) deleteHistory(ctx context.Context,
	input *HistoryInput) (*ClearHistoryOutput, error) {

	var deleted int
	var err error
	if input.HostId > 0 {
		deleted, err = service.journal.ClearHistoryByHost(input.HostId)
	} else {
		deleted, err = service.journal.ClearHistory()
	}
	if err != nil {
		return nil, statusError(err)
	}
	slog.Info(fmt.Sprintf("Cleared %d history record(s)", deleted))
	return &ClearHistoryOutput{
		Body: ClearHistoryResponse{Deleted: deleted},
	}, nil
}

// handler method for repeating a recorded transfer
func (service *transferService) retryTransfer(ctx context.Context,
	input *struct {
		Id int64 `path:"id" example:"12" doc:"the identifier of a history record"`
	}) (*TransferOutput, error) {

	taskId, err := service.engine.Retry(input.Id)
	if err != nil {
		return nil, statusError(err)
	}
	return &TransferOutput{
		Body:   TransferResponse{Id: taskId},
		Status: http.StatusCreated,
	}, nil
}

type ResumeRecordsOutput struct {
	Body []journal.ResumeRecord `doc:"resume checkpoints for the host, most recent first"`
}

func (service *transferService) getResumeRecords(ctx context.Context,
	input *HostInput) (*ResumeRecordsOutput, error) {

	records, err := service.journal.ResumeRecords(input.Id)
	if err != nil {
		return nil, statusError(err)
	}
	if records == nil {
		records = []journal.ResumeRecord{}
	}
	return &ResumeRecordsOutput{Body: records}, nil
}

// event stream message types, one per event name
type ProgressMessage transfers.Progress
type CompleteMessage transfers.TransferEvent
type CancelledMessage transfers.TransferEvent
type FailedMessage transfers.TransferFailedEvent

type EventsInput struct {
	Names []string `query:"names" doc:"(Optional) restricts the stream to the given event names"`
}

// streams transfer events to the client until it disconnects or the service
// shuts down
func (service *transferService) streamEvents(ctx context.Context, input *EventsInput,
	send sse.Sender) {

	events, unsubscribe := service.events.Subscribe(eventBufferSize, input.Names...)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-service.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if message := eventMessage(event); message != nil {
				if err := send.Data(message); err != nil {
					return
				}
			}
		}
	}
}

// constructs a transfer service given our configuration and the transfer core
func NewService(engine *transfers.Engine, pool *connections.Pool,
	resolver hosts.Resolver, store *journal.Journal) (TransferService, error) {

	if engine == nil || pool == nil || resolver == nil || store == nil {
		return nil, fmt.Errorf("The transfer service needs an engine, a pool, hosts, and a journal.")
	}
	if !store.IsOpen() {
		return nil, journal.NotOpenError{}
	}

	service := &transferService{
		Name:    "xfer",
		Version: core.Version,
		Port:    -1,
		engine:  engine,
		pool:    pool,
		hosts:   resolver,
		journal: store,
		events:  transfers.NewEventBus(),
		done:    make(chan struct{}),
	}
	engine.SetEventSink(service.events)

	// set up routing
	service.Router = mux.NewRouter()
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	service.API = api
	huma.Get(api, "/", service.getRoot)

	// API v1
	huma.Get(api, "/api/v1/connections", service.getConnections)
	huma.Post(api, "/api/v1/hosts/{id}/connection", service.connectHost)
	huma.Delete(api, "/api/v1/hosts/{id}/connection", service.disconnectHost)
	huma.Post(api, "/api/v1/hosts/{id}/test", service.testHost)
	huma.Get(api, "/api/v1/hosts/{id}/files", service.listFiles)
	huma.Delete(api, "/api/v1/hosts/{id}/files", service.deleteFile)
	huma.Get(api, "/api/v1/hosts/{id}/stat", service.statFile)
	huma.Post(api, "/api/v1/hosts/{id}/directories", service.createDirectory)
	huma.Post(api, "/api/v1/hosts/{id}/rename", service.renameFile)
	huma.Get(api, "/api/v1/hosts/{id}/resume-records", service.getResumeRecords)
	huma.Post(api, "/api/v1/transfers", service.createTransfer)
	huma.Get(api, "/api/v1/transfers", service.getTransfers)
	huma.Delete(api, "/api/v1/transfers/{id}", service.deleteTransfer)
	huma.Get(api, "/api/v1/history", service.getHistory)
	huma.Delete(api, "/api/v1/history", service.deleteHistory)
	huma.Post(api, "/api/v1/history/{id}/retry", service.retryTransfer)
	sse.Register(api, huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        "/api/v1/events",
		Summary:     "Stream transfer events",
	}, map[string]any{
		transfers.EventProgress:  ProgressMessage{},
		transfers.EventComplete:  CompleteMessage{},
		transfers.EventCancelled: CancelledMessage{},
		transfers.EventFailed:    FailedMessage{},
	}, service.streamEvents)

	return service, nil
}

// returns the service's HTTP handler, which applies the configured CORS
// policy to the router
func (service *transferService) Handler() http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: config.Service.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(service.Router)
}

// starts the transfer service
func (service *transferService) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", config.Service.MaxConnections))

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, config.Service.MaxConnections)

	// start the server
	service.Server = &http.Server{
		Handler:           service.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service, waiting for transfers to finish before
// closing host sessions
func (service *transferService) Shutdown(ctx context.Context) error {
	service.stopStreams()
	var err error
	if service.Server != nil {
		err = service.Server.Shutdown(ctx)
	}
	if waitErr := service.engine.Wait(ctx); waitErr != nil {
		n := service.engine.CancelAll()
		slog.Warn(fmt.Sprintf("Cancelled %d unfinished transfer(s)", n))
	}
	service.pool.DisconnectAll()
	return err
}

// closes down the service abruptly, freeing all resources
func (service *transferService) Close() {
	service.stopStreams()
	service.engine.CancelAll()
	if service.Server != nil {
		service.Server.Close()
	}
}

//-----------
// Internals
//-----------

func (service *transferService) stopStreams() {
	select {
	case <-service.done:
	default:
		close(service.done)
	}
}

// runs f on the host's pooled client while holding the session's lock
func (service *transferService) withClient(hostId int64, f func(protocols.Client) error) error {
	conn, err := service.pool.Get(hostId)
	if err != nil {
		return err
	}
	conn.Lock()
	defer conn.Unlock()
	return f(conn.Client())
}

// determines the size of the file a transfer request will move
func (service *transferService) fileSize(request TransferRequest,
	direction journal.Direction) (int64, error) {
	if direction == journal.Upload {
		info, err := os.Stat(request.LocalPath)
		if err != nil {
			return 0, huma.Error400BadRequest(err.Error())
		}
		return info.Size(), nil
	}
	var size int64
	err := service.withClient(request.HostId, func(client protocols.Client) error {
		var err error
		size, err = client.FileSize(request.RemotePath)
		return err
	})
	return size, err
}

// converts an engine event into its stream message
func eventMessage(event transfers.Event) any {
	switch payload := event.Payload.(type) {
	case transfers.Progress:
		return ProgressMessage(payload)
	case transfers.TransferEvent:
		if event.Name == transfers.EventCancelled {
			return CancelledMessage(payload)
		}
		return CompleteMessage(payload)
	case transfers.TransferFailedEvent:
		return FailedMessage(payload)
	}
	return nil
}

// maps errors from the transfer core to HTTP status errors
func statusError(err error) error {
	var statusErr huma.StatusError
	var hostNotFound hosts.NotFoundError
	var noConnection connections.NotFoundError
	var transferNotFound transfers.NotFoundError
	var recordNotFound journal.RecordNotFoundError
	var invalidTask transfers.InvalidTaskError
	var alreadyActive transfers.AlreadyActiveError
	var storageErr journal.StorageError
	switch {
	case errors.As(err, &statusErr):
		return err
	case errors.As(err, &hostNotFound), errors.As(err, &noConnection),
		errors.As(err, &transferNotFound), errors.As(err, &recordNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.As(err, &invalidTask):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &alreadyActive):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &storageErr):
		return huma.Error500InternalServerError(err.Error())
	}
	// anything else came from the remote host
	return huma.Error502BadGateway(err.Error())
}
