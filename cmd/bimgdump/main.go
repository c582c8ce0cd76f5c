/*
 * bootcore - Boot Image dumper
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

// bimgdump is a standalone dumper for Boot Image files: header,
// per-hart descriptors, and optionally the load/zero-init chunk
// tables, without booting anything.
package main

import (
	"fmt"
	"os"

	getopt "github.com/pborman/getopt/v2"
	"github.com/dustin/go-humanize"

	"github.com/mpfs-hss/bootcore/bootimage"
)

func main() {
	optChunks := getopt.BoolLong("chunks", 'c', "Dump load and zero-init chunk tables")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()
	args := getopt.Args()

	if *optHelp || len(args) == 0 {
		getopt.Usage()
		os.Exit(0)
	}

	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bimgdump: %v\n", err)
		os.Exit(1)
	}

	img, err := bootimage.ParseImage(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bimgdump: %v\n", err)
		os.Exit(1)
	}

	dumpHeader(img)
	if *optChunks {
		dumpChunks(img)
	}
}

func dumpHeader(img *bootimage.Image) {
	magic := "unrecognized"
	switch img.Header.Magic {
	case bootimage.PlainMagic:
		magic = "plain"
	case bootimage.CompressedMagic:
		magic = "compressed"
	}
	fmt.Printf("set name:   %s\n", img.SetName())
	fmt.Printf("magic:      0x%08x (%s)\n", img.Header.Magic, magic)
	fmt.Printf("version:    %d\n", img.Header.Version)
	fmt.Printf("header crc: 0x%08x\n", img.Header.HeaderCRC)
	fmt.Println()

	for i, h := range img.Header.Hart {
		fmt.Printf("u54_%d:\n", i+1)
		fmt.Printf("  entry point:  0x%016x\n", h.EntryPoint)
		fmt.Printf("  priv mode:    %d\n", h.PrivMode)
		fmt.Printf("  num chunks:   %d (first=%d last=%d)\n", h.NumChunks, h.FirstChunk, h.LastChunk)
		fmt.Printf("  flags:        0x%08x\n", h.Flags)
	}
}

func dumpChunks(img *bootimage.Image) {
	for i, h := range img.Header.Hart {
		if h.NumChunks == 0 {
			continue
		}
		fmt.Printf("\nu54_%d load chunks:\n", i+1)
		chunks, err := img.LoadChunks(h)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  error: %v\n", err)
			continue
		}
		for idx, c := range chunks {
			anc := ""
			if c.IsAncillary() {
				anc = " (ancillary)"
			}
			fmt.Printf("  [%d] owner=%d exec=0x%x size=%s%s\n", idx, c.HartOwner(), c.ExecAddr, humanize.Bytes(uint64(c.Size)), anc)
		}

		zi, err := img.ZIChunks(h)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  zi error: %v\n", err)
			continue
		}
		fmt.Printf("u54_%d zero-init chunks:\n", i+1)
		for idx, c := range zi {
			fmt.Printf("  [%d] owner=%d exec=0x%x size=%s\n", idx, c.HartOwner(), c.ExecAddr, humanize.Bytes(uint64(c.Size)))
		}
	}
}
