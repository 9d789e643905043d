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

package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// a type with service configuration parameters
type serviceConfig struct {
	// port on which the control service listens
	Port int `json:"port" yaml:"port"`
	// maximum number of allowed incoming connections
	MaxConnections int `json:"max_connections" yaml:"max_connections"`
	// directory in which the transfer journal (history and resume records) lives
	DataDirectory string `json:"data_dir" yaml:"data_dir"`
	// interval between periodic resume checkpoints for an active transfer (seconds)
	CheckpointInterval int `json:"checkpoint_interval" yaml:"checkpoint_interval"`
	// timeout for establishing FTP/SFTP sessions (seconds, 0 for none)
	ConnectTimeout int `json:"connect_timeout" yaml:"connect_timeout"`
	// fernet key used to decrypt host passwords of the form "fernet:<token>"
	SecretKey string `json:"-" yaml:"secret_key"`
	// OpenSSH known_hosts file used to verify SFTP host keys (optional)
	KnownHosts string `json:"known_hosts" yaml:"known_hosts"`
	// origins allowed to call the control service from a browser
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
}

// global config variables
var Service serviceConfig
var Hosts []hostConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Service serviceConfig `yaml:"service"`
	Hosts   []hostConfig  `yaml:"hosts"`
}

// This helper reads configuration data, returning an error indicating success
// or failure. All environment variables of the form ${ENV_VAR} are expanded.
func readConfig(bytes []byte) error {
	// Before we do anything else, expand any provided environment variables.
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.Service.Port = 8080
	conf.Service.MaxConnections = 100
	conf.Service.DataDirectory = "."
	conf.Service.CheckpointInterval = 3
	conf.Service.ConnectTimeout = 30
	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't parse configuration data: %s", err))
		return err
	}

	// default ports depend on the protocol
	for i, host := range conf.Hosts {
		if host.Port == 0 {
			switch host.Protocol {
			case "ftp":
				conf.Hosts[i].Port = 21
			case "sftp":
				conf.Hosts[i].Port = 22
			}
		}
	}

	// copy the config data into place
	Service = conf.Service
	Hosts = conf.Hosts

	return err
}

// This helper validates the given service parameters, returning an
// error indicating success or failure.
func validateServiceParameters(params serviceConfig) error {
	if params.Port < 0 || params.Port > 65535 {
		return fmt.Errorf("Invalid port: %d (must be 0-65535)", params.Port)
	}
	if params.MaxConnections <= 0 {
		return fmt.Errorf("Invalid max_connections: %d (must be positive)",
			params.MaxConnections)
	}
	if params.CheckpointInterval < 0 {
		return fmt.Errorf("Invalid checkpoint_interval: %d (must be non-negative)",
			params.CheckpointInterval)
	}
	if params.ConnectTimeout < 0 {
		return fmt.Errorf("Invalid connect_timeout: %d (must be non-negative)",
			params.ConnectTimeout)
	}
	if params.DataDirectory == "" {
		return fmt.Errorf("No data_dir was provided!")
	}
	return nil
}

// This helper validates a single host entry.
func validateHost(host hostConfig) error {
	if host.Id <= 0 {
		return fmt.Errorf("Invalid host id: %d (must be positive)", host.Id)
	}
	if host.Protocol != "ftp" && host.Protocol != "sftp" {
		return fmt.Errorf("Host %d has invalid protocol '%s' (must be ftp or sftp)",
			host.Id, host.Protocol)
	}
	if host.Address == "" {
		return fmt.Errorf("Host %d has no address", host.Id)
	}
	if host.Port <= 0 || host.Port > 65535 {
		return fmt.Errorf("Host %d has invalid port: %d", host.Id, host.Port)
	}
	if host.Username == "" {
		return fmt.Errorf("Host %d has no username", host.Id)
	}
	return nil
}

// This helper validates the configuration, returning an error that indicates
// success or failure.
func validateConfig() error {
	err := validateServiceParameters(Service)
	if err != nil {
		return err
	}

	// hosts are optional, but their ids must be unique
	ids := make(map[int64]bool)
	for _, host := range Hosts {
		if err := validateHost(host); err != nil {
			return err
		}
		if ids[host.Id] {
			return fmt.Errorf("Host id %d appears more than once", host.Id)
		}
		ids[host.Id] = true
	}
	return nil
}

// Initializes the transfer service configuration using the given YAML byte
// data.
func Init(yamlData []byte) error {

	// Read the configuration from our YAML file.
	err := readConfig(yamlData)
	if err != nil {
		return err
	}

	// Validate the configuration.
	err = validateConfig()
	return err
}
