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

// A host is a remote FTP or SFTP server the client transfers files to and from.
type hostConfig struct {
	// unique integer identifier for the host
	Id int64 `yaml:"id"`
	// descriptive name of the host
	Name string `yaml:"name"`
	// hostname or IP address of the server
	Address string `yaml:"address"`
	// TCP port (defaults to 21 for FTP and 22 for SFTP)
	Port int `yaml:"port"`
	// the protocol spoken by the server ("ftp" or "sftp")
	Protocol string `yaml:"protocol"`
	// name of the remote account
	Username string `yaml:"username"`
	// password for the account, or passphrase for KeyPath if given. Values of
	// the form "fernet:<token>" are decrypted with the service's secret key.
	// DO NOT STORE PLAIN PASSWORDS IN A CONFIG FILE! Use an environment variable
	// or an encrypted token instead
	Password string `yaml:"password,omitempty"`
	// path to a private key file (SFTP only)
	KeyPath string `yaml:"key_path,omitempty"`
}
