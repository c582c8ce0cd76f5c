/*
 * bootcore - Configuration file parser
 *
 * Copyright 2025, HSS Boot Core Contributors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package bootcfg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <switch> | <switch> '=' <value>
 * <switch> ::= <letter> *(<letter> | <number> | '-')
 * <value> ::= <number> | 'true' | 'false'
 */

var switches = map[string]func(*Config, string) error{
	"signing-check":     func(c *Config, v string) error { return setBool(&c.SigningCheck, v) },
	"bundle-dtb":         func(c *Config, v string) error { return setBool(&c.BundleDTB, v) },
	"remoteproc-boot":    func(c *Config, v string) error { return setBool(&c.RemoteprocBoot, v) },
	"custom-mmode-flow":  func(c *Config, v string) error { return setBool(&c.CustomMModeFlow, v) },
	"chunk-trace":        func(c *Config, v string) error { return setBool(&c.ChunkTrace, v) },
	"gpio-ui":            func(c *Config, v string) error { return setBool(&c.GPIOStatusUI, v) },
	"sub-chunk-size":     func(c *Config, v string) error { return setInt(&c.SubChunkSize, v) },
	"pmp-ack-timeout-ms":  func(c *Config, v string) error { return setInt(&c.PMPAckTimeoutMillis, v) },
	"entry-ack-timeout-ms": func(c *Config, v string) error { return setInt(&c.EntryAckTimeoutMillis, v) },
}

func setBool(dst *bool, v string) error {
	if v == "" {
		*dst = true
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid boolean value %q", v)
	}
	*dst = b
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer value %q", v)
	}
	*dst = n
	return nil
}

// Load reads a switch config file, starting from Default(), and
// returns the populated Config.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	lineNumber := 0
	for {
		line, err := reader.ReadString('\n')
		lineNumber++
		if len(line) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return cfg, err
		}
		if parseErr := parseLine(&cfg, line); parseErr != nil {
			return cfg, fmt.Errorf("bootcfg: line %d: %w", lineNumber, parseErr)
		}
	}
	return cfg, nil
}

func parseLine(cfg *Config, raw string) error {
	line := raw
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	name := line
	value := ""
	if idx := strings.IndexByte(line, '='); idx >= 0 {
		name = strings.TrimSpace(line[:idx])
		value = strings.TrimSpace(line[idx+1:])
	}
	name = strings.ToLower(name)

	if !validSwitchName(name) {
		return fmt.Errorf("invalid switch name %q", name)
	}
	set, ok := switches[name]
	if !ok {
		return fmt.Errorf("unknown switch %q", name)
	}
	return set(cfg, value)
}

func validSwitchName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		case r == '-' && i > 0:
		default:
			return false
		}
	}
	return true
}
