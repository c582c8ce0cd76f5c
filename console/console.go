/*
 * bootcore - Interactive management console
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

// Package console is a liner-backed interactive REPL over a running
// core.Core, the management surface a developer drives a simulated
// boot from by hand. Commands are dispatched through a small
// table (name, minimum accepted prefix length, handler), the same
// shape the teacher's command parser uses for its device commands.
// A prefix shared by several commands selects the first of them in
// table order.
package console

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/mpfs-hss/bootcore/bootimage"
	"github.com/mpfs-hss/bootcore/core"
	"github.com/mpfs-hss/bootcore/events"
	"github.com/mpfs-hss/bootcore/targetsim"
)

type cmdLine struct {
	args []string
}

func (l *cmdLine) hartArg(idx int) (bootimage.HartID, error) {
	if idx >= len(l.args) {
		return 0, errors.New("missing hart argument")
	}
	n, err := strconv.Atoi(l.args[idx])
	if err != nil || n < 1 || n > bootimage.NumHarts {
		return 0, fmt.Errorf("invalid hart %q", l.args[idx])
	}
	return bootimage.HartID(n), nil
}

type cmd struct {
	Name    string
	Min     int
	Process func(*cmdLine, *core.Core, *targetsim.Platform) (bool, error)
}

var cmdList = []cmd{
	{Name: "status", Min: 2, Process: status},
	{Name: "validate", Min: 3, Process: validate},
	{Name: "restart", Min: 3, Process: restart},
	{Name: "train-ddr", Min: 6, Process: trainDDR},
	{Name: "startup-complete", Min: 2, Process: startupComplete},
	{Name: "step", Min: 2, Process: step},
	{Name: "help", Min: 1, Process: help},
	{Name: "quit", Min: 1, Process: quit},
}

func status(line *cmdLine, c *core.Core, p *targetsim.Platform) (bool, error) {
	for hart := bootimage.HartID(1); int(hart) <= bootimage.NumHarts; hart++ {
		st, err := c.State(hart)
		if err != nil {
			return false, err
		}
		latched := ""
		if p != nil {
			if tgt, ok := p.Targets[uint8(hart)]; ok && tgt.PMPLatched() {
				latched = " pmp-latched"
			}
		}
		fmt.Printf("u54_%d: %s%s\n", hart, st, latched)
	}
	return false, nil
}

func validate(line *cmdLine, c *core.Core, p *targetsim.Platform) (bool, error) {
	ok, err := c.ValidateImage()
	if !ok {
		return false, fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("image OK")
	return false, nil
}

func restart(line *cmdLine, c *core.Core, p *targetsim.Platform) (bool, error) {
	if len(line.args) > 0 && line.args[0] == "all" {
		c.RestartCore(bootimage.HartAll)
		return false, nil
	}
	hart, err := line.hartArg(0)
	if err != nil {
		return false, err
	}
	c.RestartCore(hart)
	return false, nil
}

func trainDDR(line *cmdLine, c *core.Core, p *targetsim.Platform) (bool, error) {
	c.Bus().Fire(events.DDRTrained)
	fmt.Println("DDR_TRAINED fired")
	return false, nil
}

func startupComplete(line *cmdLine, c *core.Core, p *targetsim.Platform) (bool, error) {
	c.Bus().Fire(events.StartupComplete)
	fmt.Println("STARTUP_COMPLETE fired")
	return false, nil
}

func step(line *cmdLine, c *core.Core, p *targetsim.Platform) (bool, error) {
	n := 1
	if len(line.args) > 0 {
		if v, err := strconv.Atoi(line.args[0]); err == nil {
			n = v
		}
	}
	for i := 0; i < n; i++ {
		c.Step()
	}
	fmt.Printf("stepped %d tick(s)\n", n)
	return false, nil
}

func help(line *cmdLine, c *core.Core, p *targetsim.Platform) (bool, error) {
	fmt.Println("commands: status, validate, restart <hart|all>, train-ddr, startup-complete, step [n], quit")
	return false, nil
}

func quit(line *cmdLine, c *core.Core, p *targetsim.Platform) (bool, error) {
	return true, nil
}

func lookup(name string) (cmd, bool) {
	for _, c := range cmdList {
		if len(name) >= c.Min && strings.HasPrefix(c.Name, name) {
			return c, true
		}
	}
	return cmd{}, false
}

func completer(line string) []string {
	var out []string
	for _, c := range cmdList {
		if strings.HasPrefix(c.Name, line) {
			out = append(out, c.Name)
		}
	}
	return out
}

func process(input string, c *core.Core, p *targetsim.Platform) (bool, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return false, nil
	}
	found, ok := lookup(strings.ToLower(fields[0]))
	if !ok {
		return false, fmt.Errorf("unknown command %q", fields[0])
	}
	return found.Process(&cmdLine{args: fields[1:]}, c, p)
}

// Run opens a liner-backed console over c, driving the simulation one
// command at a time until the operator quits or aborts the prompt.
func Run(c *core.Core, p *targetsim.Platform, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(completer)

	for {
		input, err := line.Prompt("bootcore> ")
		if err == nil {
			line.AppendHistory(input)
			quit, procErr := process(input, c, p)
			if procErr != nil {
				fmt.Println("error: " + procErr.Error())
			}
			if quit {
				return nil
			}
			continue
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return nil
		}
		log.Error("console: reading line", "err", err)
		time.Sleep(10 * time.Millisecond)
	}
}
