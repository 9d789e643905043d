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

package protocols

import (
	"strconv"
	"strings"
)

// Parses a single line of a classic Unix-style FTP listing, e.g.
//
//	-rw-r--r--   1 user group   1024 Jan 01 12:00 test.txt
//
// returning false for lines with fewer than nine fields and for the "." and
// ".." entries. The name is everything after the eighth field, rejoined with
// single spaces. Unparseable sizes are reported as 0.
func ParseListLine(line, parent string) (FileEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return FileEntry{}, false
	}
	name := strings.Join(fields[8:], " ")
	if name == "." || name == ".." {
		return FileEntry{}, false
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		size = 0
	}
	return FileEntry{
		Name:     name,
		Path:     joinRemotePath(parent, name),
		IsDir:    strings.HasPrefix(line, "d"),
		Size:     size,
		Modified: strings.Join(fields[5:8], " "),
	}, true
}

// Parses every line of a classic FTP listing, skipping lines that don't parse.
func ParseListing(lines []string, parent string) []FileEntry {
	entries := make([]FileEntry, 0, len(lines))
	for _, line := range lines {
		if entry, ok := ParseListLine(line, parent); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// joins a remote directory and an entry name with exactly one "/"
func joinRemotePath(parent, name string) string {
	if strings.HasSuffix(parent, "/") {
		return parent + name
	}
	return parent + "/" + name
}
