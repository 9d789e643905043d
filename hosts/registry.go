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

package hosts

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fernet/fernet-go"

	"github.com/skyferry/xfer/config"
)

// prefix marking a host password as a fernet token
const encryptedPrefix = "fernet:"

// A Registry resolves hosts defined in the configuration, decrypting any
// encrypted passwords with the service's secret key. Its hosts are fixed at
// construction, so lookups need no locking.
type Registry struct {
	hosts map[int64]Host
}

// creates a registry from the hosts in the configuration (config.Init must
// have been called)
func NewRegistryFromConfig() (*Registry, error) {
	var keys []*fernet.Key
	if config.Service.SecretKey != "" {
		var err error
		keys, err = fernet.DecodeKeys(config.Service.SecretKey)
		if err != nil {
			return nil, fmt.Errorf("Invalid secret_key: %s", err.Error())
		}
	}

	registry := &Registry{
		hosts: make(map[int64]Host),
	}
	for _, h := range config.Hosts {
		protocol, err := ParseProtocol(h.Protocol)
		if err != nil {
			return nil, err
		}
		password, err := decryptPassword(h.Id, h.Password, keys)
		if err != nil {
			return nil, err
		}
		registry.hosts[h.Id] = Host{
			Id:       h.Id,
			Name:     h.Name,
			Address:  h.Address,
			Port:     h.Port,
			Protocol: protocol,
			Username: h.Username,
			Password: password,
			KeyPath:  h.KeyPath,
		}
	}
	slog.Info(fmt.Sprintf("Registered %d host(s)", len(registry.hosts)))
	return registry, nil
}

// creates a registry holding exactly the given hosts
func NewRegistry(hosts ...Host) *Registry {
	registry := &Registry{
		hosts: make(map[int64]Host),
	}
	for _, h := range hosts {
		registry.hosts[h.Id] = h
	}
	return registry
}

// returns the host with the given identifier
func (r *Registry) Host(id int64) (Host, error) {
	if h, found := r.hosts[id]; found {
		return h, nil
	}
	return Host{}, NotFoundError{Id: id}
}

// returns all registered hosts, in no particular order
func (r *Registry) Hosts() []Host {
	hosts := make([]Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		hosts = append(hosts, h)
	}
	return hosts
}

func decryptPassword(id int64, password string, keys []*fernet.Key) (string, error) {
	if !strings.HasPrefix(password, encryptedPrefix) {
		return password, nil
	}
	if len(keys) == 0 {
		return "", DecryptionError{Id: id, Message: "no secret_key is configured"}
	}
	token := strings.TrimPrefix(password, encryptedPrefix)
	plaintext := fernet.VerifyAndDecrypt([]byte(token), 0, keys)
	if plaintext == nil {
		return "", DecryptionError{Id: id, Message: "invalid or tampered token"}
	}
	return string(plaintext), nil
}
