/* Copyright (c) 2017 Jeffrey Massung
 *
 * This software is provided 'as-is', without any express or implied
 * warranty.  In no event will the authors be held liable for any damages
 * arising from the use of this software.
 *
 * Permission is granted to anyone to use this software for any purpose,
 * including commercial applications, and to alter it and redistribute it
 * freely, subject to the following restrictions:
 *
 * 1. The origin of this software must not be misrepresented; you must not
 *    claim that you wrote the original software. If you use this software
 *    in a product, an acknowledgment in the product documentation would be
 *    appreciated but is not required.
 *
 * 2. Altered source versions must be plainly marked as such, and must not be
 *    misrepresented as being the original software.
 *
 * 3. This notice may not be removed or altered from any source distribution.
 */

package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/massung/tasreplay/game"
	"github.com/massung/tasreplay/run"
	"github.com/massung/tasreplay/vm"
)

func main() {
	vmPath := flag.String("vm", "", "Path to a compiled QVM bytecode file.")
	usercmdsPath := flag.String("usercmds", "", "Path to a recorded usercmd track (one frame per line).")
	seekFrame := flag.Int("seek", -1, "Frame to seek to and report (-1 means the last recorded frame).")
	disasm := flag.Bool("disasm", false, "Disassemble the bytecode and exit instead of running it.")
	metricsAddr := flag.String("metrics", "", "If set, serve Prometheus metrics on this address (e.g. 127.0.0.1:9090).")
	flag.Parse()

	if *vmPath == "" {
		fmt.Fprintln(os.Stderr, "tasreplay: -vm is required")
		os.Exit(1)
	}

	f, err := os.Open(*vmPath)
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	if *disasm {
		loaded, err := vm.Load(f)
		if err != nil {
			fatal(err)
		}
		fmt.Print(vm.Disassemble(loaded.Code))
		return
	}

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Printf("tasreplay: metrics server: %v", err)
			}
		}()
	}

	logger := NewLog(200)

	controller, err := run.NewController(f, game.NullTracer{}, nil)
	if err != nil {
		fatal(err)
	}
	controller.Game.Log = logger

	var cmds []game.UserCmd
	if *usercmdsPath != "" {
		cmds, err = loadUsercmds(*usercmdsPath)
		if err != nil {
			fatal(err)
		}
		controller.SetUsercmds(0, cmds)
	}

	frame := *seekFrame
	if frame < 0 {
		frame = len(cmds) - 1
	}
	if frame < 0 {
		frame = 0
	}
	controller.Seek(frame)

	ps := controller.Game.PlayerState(0)
	fmt.Printf("frame %d: origin=%v velocity=%v ground=%d\n", frame, ps.Origin, ps.Velocity, ps.GroundEntityNum)
	fmt.Printf("snapshot ladder covers %d frames\n", controller.NumFramesWithValidSnapshot())

	for _, line := range logger.Tail() {
		fmt.Println(line)
	}
}

// loadUsercmds reads one game.UserCmd per non-blank line, whitespace
// separated: forwardmove rightmove upmove buttons weapon anglesX anglesY
// anglesZ.
func loadUsercmds(path string) ([]game.UserCmd, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cmds []game.UserCmd
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var cmd game.UserCmd
		var forward, right, up, buttons, weapon int
		n, err := fmt.Sscan(line, &forward, &right, &up, &buttons, &weapon,
			&cmd.Angles[0], &cmd.Angles[1], &cmd.Angles[2])
		if err != nil || n != 8 {
			return nil, fmt.Errorf("tasreplay: parse usercmd line %q: %w", line, err)
		}
		cmd.ForwardMove = int8(forward)
		cmd.RightMove = int8(right)
		cmd.UpMove = int8(up)
		cmd.Buttons = int32(buttons)
		cmd.Weapon = uint8(weapon)
		cmds = append(cmds, cmd)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cmds, nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "tasreplay:", err)
	os.Exit(1)
}
