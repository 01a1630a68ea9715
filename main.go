/*
 * PC386 - Main process.
 *
 * Copyright 2024, Richard Cornwell
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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"
	"github.com/rcornwell/PC386/command/reader"
	core "github.com/rcornwell/PC386/emu/core"
	"github.com/rcornwell/PC386/emu/master"
	logger "github.com/rcornwell/PC386/util/logger"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "PC386.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optDebug := getopt.BoolLong("debug", 'd', "Mirror debug logging to stderr")
	optAutotest := getopt.BoolLong("autotest", 'a', "Autotest mode")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	log := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, optDebug))
	slog.SetDefault(log)

	log.Info("PC386 started")

	if *optConfig != "" {
		if _, err := os.Stat(*optConfig); os.IsNotExist(err) {
			log.Error("Configuration file " + *optConfig + " can't be found")
			os.Exit(1)
		}
	}

	machine, err := core.NewMachine(*optConfig, *optAutotest)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	machine.Start()
	machine.Post(master.Packet{Msg: master.Start})

	// Wait for a SIGINT or SIGTERM signal to gracefully shut down.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	consoleDone := make(chan struct{})
	go func() {
		reader.ConsoleReader(machine)
		close(consoleDone)
	}()

	select {
	case <-sigChan:
		log.Info("got quit signal")
	case <-consoleDone:
	}

	log.Info("shutting down CPU")
	machine.Stop()
	log.Info("stopped")
}
