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

// This package maintains at most one live protocol session per remote host
// and hands out shared, lockable handles to it.
package connections

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/skyferry/xfer/hosts"
	"github.com/skyferry/xfer/protocols"
)

// A Conn is a pooled session. Hold its lock for the duration of any remote
// operation; it serializes all use of the session.
type Conn struct {
	sync.Mutex
	HostId int64
	client protocols.Client
}

// returns the session's protocol client (lock the Conn before using it)
func (c *Conn) Client() protocols.Client {
	return c.client
}

// creates an unconnected protocol client for a host
type ClientFactory func(host hosts.Host, options protocols.Options) (protocols.Client, error)

// A Pool maps host identifiers to live sessions. The pool's own lock is never
// held across network I/O.
type Pool struct {
	Options   protocols.Options
	mutex     sync.Mutex
	conns     map[int64]*Conn
	newClient ClientFactory
}

// creates an empty pool whose clients use the given options
func NewPool(options protocols.Options) *Pool {
	return &Pool{
		Options:   options,
		conns:     make(map[int64]*Conn),
		newClient: protocols.NewClient,
	}
}

// replaces the function used to create protocol clients
func (p *Pool) SetClientFactory(factory ClientFactory) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.newClient = factory
}

// establishes a session with the given host unless one already exists
func (p *Pool) Connect(host hosts.Host) error {
	p.mutex.Lock()
	_, found := p.conns[host.Id]
	newClient := p.newClient
	p.mutex.Unlock()
	if found {
		return nil
	}

	client, err := newClient(host, p.Options)
	if err != nil {
		return err
	}
	if err := client.Connect(); err != nil {
		return err
	}

	p.mutex.Lock()
	if _, found := p.conns[host.Id]; found {
		// another caller connected first; keep theirs
		p.mutex.Unlock()
		if err := client.Disconnect(); err != nil {
			slog.Debug(fmt.Sprintf("Host %d: discarding duplicate session: %s", host.Id, err.Error()))
		}
		return nil
	}
	p.conns[host.Id] = &Conn{HostId: host.Id, client: client}
	p.mutex.Unlock()

	slog.Info(fmt.Sprintf("Connected to host %d (%s, %s)", host.Id, host.Protocol, host.Addr()))
	return nil
}

// ends the session with the given host, if any
func (p *Pool) Disconnect(hostId int64) error {
	p.mutex.Lock()
	conn, found := p.conns[hostId]
	delete(p.conns, hostId)
	p.mutex.Unlock()
	if !found {
		return nil
	}

	// wait for any in-flight operation on the session to finish
	conn.Lock()
	defer conn.Unlock()
	err := conn.client.Disconnect()
	slog.Info(fmt.Sprintf("Disconnected from host %d", hostId))
	return err
}

// returns the pooled session for the given host
func (p *Pool) Get(hostId int64) (*Conn, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if conn, found := p.conns[hostId]; found {
		return conn, nil
	}
	return nil, NotFoundError{HostId: hostId}
}

// returns true if the pool holds a session for the given host
func (p *Pool) IsConnected(hostId int64) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	_, found := p.conns[hostId]
	return found
}

// returns the identifiers of all hosts with sessions, in ascending order
func (p *Pool) ActiveConnections() []int64 {
	p.mutex.Lock()
	ids := make([]int64, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mutex.Unlock()
	slices.Sort(ids)
	return ids
}

// ends every session in parallel; failures are logged and otherwise ignored
func (p *Pool) DisconnectAll() {
	p.mutex.Lock()
	conns := p.conns
	p.conns = make(map[int64]*Conn)
	p.mutex.Unlock()

	var group errgroup.Group
	for hostId, conn := range conns {
		hostId, conn := hostId, conn
		group.Go(func() error {
			conn.Lock()
			defer conn.Unlock()
			if err := conn.client.Disconnect(); err != nil {
				slog.Error(fmt.Sprintf("Host %d: disconnect failed: %s", hostId, err.Error()))
			}
			return nil
		})
	}
	group.Wait()
	if len(conns) > 0 {
		slog.Info(fmt.Sprintf("Disconnected from %d host(s)", len(conns)))
	}
}

// checks that a session with the given host can be established, using a
// throwaway client that never enters the pool
func (p *Pool) TestConnection(host hosts.Host) error {
	p.mutex.Lock()
	newClient := p.newClient
	p.mutex.Unlock()

	client, err := newClient(host, p.Options)
	if err != nil {
		return err
	}
	if err := client.Connect(); err != nil {
		return err
	}
	return client.Disconnect()
}
