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

package connections

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skyferry/xfer/hosts"
	"github.com/skyferry/xfer/protocols"
	"github.com/skyferry/xfer/xfertest"
)

func testHost(id int64) hosts.Host {
	return hosts.Host{
		Id:       id,
		Address:  "files.example.com",
		Port:     21,
		Protocol: hosts.FTP,
		Username: "tester",
		Password: "secret",
	}
}

// creates a pool whose clients talk to the given mock server
func newMockPool(server *xfertest.MockServer) *Pool {
	pool := NewPool(protocols.Options{})
	pool.SetClientFactory(server.NewClient)
	return pool
}

func TestConnectIsIdempotent(t *testing.T) {
	server := xfertest.NewMockServer()
	pool := newMockPool(server)

	assert.Nil(t, pool.Connect(testHost(1)))
	assert.Nil(t, pool.Connect(testHost(1)))
	assert.Equal(t, 1, server.Connects(), "Second Connect opened another session.")
	assert.True(t, pool.IsConnected(1))
	assert.Equal(t, []int64{1}, pool.ActiveConnections())
}

func TestConcurrentConnectsKeepOneSession(t *testing.T) {
	server := xfertest.NewMockServer()
	pool := newMockPool(server)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Nil(t, pool.Connect(testHost(3)))
		}()
	}
	wg.Wait()
	assert.Equal(t, []int64{3}, pool.ActiveConnections())
	// every losing session was closed again
	assert.Equal(t, server.Connects()-1, server.Disconnects())
}

func TestConnectFailureLeavesPoolUnchanged(t *testing.T) {
	server := xfertest.NewMockServer()
	server.ConnectErr = errors.New("530 Login incorrect")
	pool := newMockPool(server)

	err := pool.Connect(testHost(1))
	assert.NotNil(t, err)
	assert.False(t, pool.IsConnected(1))
	assert.Equal(t, 0, len(pool.ActiveConnections()))
}

func TestDisconnectIsIdempotent(t *testing.T) {
	server := xfertest.NewMockServer()
	pool := newMockPool(server)

	assert.Nil(t, pool.Connect(testHost(2)))
	assert.Nil(t, pool.Disconnect(2))
	assert.False(t, pool.IsConnected(2))
	assert.Nil(t, pool.Disconnect(2), "Disconnecting an absent host failed.")
	assert.Nil(t, pool.Disconnect(99), "Disconnecting an unknown host failed.")
	assert.Equal(t, 1, server.Disconnects())
}

func TestGet(t *testing.T) {
	server := xfertest.NewMockServer()
	pool := newMockPool(server)

	_, err := pool.Get(4)
	assert.Equal(t, NotFoundError{HostId: 4}, err)

	assert.Nil(t, pool.Connect(testHost(4)))
	conn, err := pool.Get(4)
	assert.Nil(t, err)
	assert.Equal(t, int64(4), conn.HostId)

	conn.Lock()
	assert.True(t, conn.Client().IsConnected())
	conn.Unlock()

	// handles are shared
	again, _ := pool.Get(4)
	assert.Same(t, conn, again)
}

func TestActiveConnectionsAreSorted(t *testing.T) {
	pool := newMockPool(xfertest.NewMockServer())
	for _, id := range []int64{9, 2, 5} {
		assert.Nil(t, pool.Connect(testHost(id)))
	}
	assert.Equal(t, []int64{2, 5, 9}, pool.ActiveConnections())
}

func TestDisconnectAll(t *testing.T) {
	server := xfertest.NewMockServer()
	pool := newMockPool(server)
	for id := int64(1); id <= 4; id++ {
		assert.Nil(t, pool.Connect(testHost(id)))
	}
	pool.DisconnectAll()
	assert.Equal(t, 0, len(pool.ActiveConnections()))
	assert.Equal(t, 4, server.Disconnects())

	// and again, with nothing to do
	pool.DisconnectAll()
	assert.Equal(t, 4, server.Disconnects())
}

func TestTestConnectionDoesNotPool(t *testing.T) {
	server := xfertest.NewMockServer()
	pool := newMockPool(server)

	assert.Nil(t, pool.TestConnection(testHost(7)))
	assert.False(t, pool.IsConnected(7))
	assert.Equal(t, 1, server.Connects())
	assert.Equal(t, 1, server.Disconnects())

	server.ConnectErr = errors.New("connection refused")
	assert.NotNil(t, pool.TestConnection(testHost(7)))
}

func TestUnknownProtocolIsRejected(t *testing.T) {
	pool := NewPool(protocols.Options{})
	host := testHost(1)
	host.Protocol = "gopher"
	assert.NotNil(t, pool.Connect(host))
	assert.False(t, pool.IsConnected(1))
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	xfertest.EnableDebugLogging()
	status := m.Run()
	os.Exit(status)
}
