/*
 * bootcore - Boot orchestration core simulator
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

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mpfs-hss/bootcore/bootcfg"
	"github.com/mpfs-hss/bootcore/bootimage"
	"github.com/mpfs-hss/bootcore/bootlog"
	"github.com/mpfs-hss/bootcore/console"
	"github.com/mpfs-hss/bootcore/copyengine"
	"github.com/mpfs-hss/bootcore/events"
	"github.com/mpfs-hss/bootcore/permission"
	"github.com/mpfs-hss/bootcore/core"
	"github.com/mpfs-hss/bootcore/targetsim"
)

var (
	flagConfig  string
	flagImage   string
	flagLogFile string
	flagDebug   bool
)

func main() {
	root := &cobra.Command{
		Use:   "bootcoresim",
		Short: "Simulates the Hart Software Services boot orchestration core",
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "switch config file")
	root.PersistentFlags().StringVarP(&flagImage, "image", "i", "", "Boot Image file to register")
	root.PersistentFlags().StringVarP(&flagLogFile, "log", "l", "", "log file")
	root.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug tracing to stderr")

	root.AddCommand(runCmd(), validateCmd(), restartCmd(), consoleCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var file *os.File
	if flagLogFile != "" {
		f, err := os.Create(flagLogFile)
		if err == nil {
			file = f
		}
	}
	level := new(slog.LevelVar)
	level.Set(slog.LevelDebug)
	h := bootlog.NewHandler(file, &slog.HandlerOptions{Level: level}, flagDebug)
	return slog.New(h)
}

func loadConfig() bootcfg.Config {
	if flagConfig == "" {
		return bootcfg.Default()
	}
	cfg, err := bootcfg.Load(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootcoresim: loading config %s: %v\n", flagConfig, err)
		os.Exit(1)
	}
	return cfg
}

// buildCore assembles a Core over a fresh simulated physical memory
// window and a loopback target platform, the zero-to-aha setup a
// single-process simulation run needs.
func buildCore(log *slog.Logger) (*core.Core, *targetsim.Platform, error) {
	cfg := loadConfig()

	mem, err := copyengine.New(0x8000_0000, 256<<20)
	if err != nil {
		return nil, nil, fmt.Errorf("allocating simulated physical memory: %w", err)
	}

	ddrBus := events.NewBus()
	oracle := permission.New(map[uint8][]permission.Window{
		1: {{Start: 0x8000_0000, End: 0x9000_0000, InDDR: true}},
		2: {{Start: 0x8000_0000, End: 0x9000_0000, InDDR: true}},
		3: {{Start: 0x8000_0000, End: 0x9000_0000, InDDR: true}},
		4: {{Start: 0x8000_0000, End: 0x9000_0000, InDDR: true}},
	}, permission.Window{Start: 0x8000_0000, End: 0x9000_0000}, ddrBus)

	platform := targetsim.NewPlatform(bootimage.NumHarts, 0)

	c := core.New(cfg, mem, oracle, platform.Transport, bootimage.NewPKCS7Signer(), log)
	c.Bus().Fire(events.DDRTrained)
	ddrBus.Fire(events.DDRTrained)
	c.Bus().Fire(events.StartupComplete)
	return c, platform, nil
}

func registerImageFromFlag(c *core.Core, log *slog.Logger) error {
	if flagImage == "" {
		return fmt.Errorf("no --image specified")
	}
	raw, err := os.ReadFile(flagImage)
	if err != nil {
		return fmt.Errorf("reading %s: %w", flagImage, err)
	}
	if err := c.RegisterImage(raw); err != nil {
		return err
	}
	if ok, err := c.ValidateImage(); !ok {
		log.Warn("boot image validation failed", "err", err)
	}
	return nil
}

func runCmd() *cobra.Command {
	var ticks int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Register an image and drive every hart to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			c, _, err := buildCore(log)
			if err != nil {
				return err
			}
			if err := registerImageFromFlag(c, log); err != nil {
				return err
			}
			c.RestartCore(bootimage.HartAll)
			for i := 0; i < ticks; i++ {
				c.Step()
			}
			for hart := bootimage.HartID(1); int(hart) <= bootimage.NumHarts; hart++ {
				st, _ := c.State(hart)
				fmt.Printf("u54_%d: %s\n", hart, st)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&ticks, "ticks", 1000, "scheduler ticks to run")
	return cmd
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a Boot Image's magic, signature and CRC without booting",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			c, _, err := buildCore(log)
			if err != nil {
				return err
			}
			if flagImage == "" {
				return fmt.Errorf("no --image specified")
			}
			raw, err := os.ReadFile(flagImage)
			if err != nil {
				return err
			}
			if err := c.RegisterImage(raw); err != nil {
				return err
			}
			ok, err := c.ValidateImage()
			if !ok {
				fmt.Printf("INVALID: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("OK")
			return nil
		},
	}
}

func restartCmd() *cobra.Command {
	var mask uint8
	var all bool
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Force a restart of one or more harts by bitmask",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			c, _, err := buildCore(log)
			if err != nil {
				return err
			}
			if err := registerImageFromFlag(c, log); err != nil {
				return err
			}
			if all {
				c.RestartCore(bootimage.HartAll)
			} else {
				c.RestartCoresByBitmask(mask)
			}
			return nil
		},
	}
	cmd.Flags().Uint8Var(&mask, "mask", 0, "bitmask of harts to restart")
	cmd.Flags().BoolVar(&all, "all", false, "restart every hart")
	return cmd
}

func consoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Open an interactive console over a running simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			c, platform, err := buildCore(log)
			if err != nil {
				return err
			}
			if flagImage != "" {
				if err := registerImageFromFlag(c, log); err != nil {
					log.Error("registering image", "err", err)
				}
			}
			return console.Run(c, platform, log)
		},
	}
}
