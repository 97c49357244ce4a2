package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/config"
	"github.com/ad-sdlc/pipeline-core/internal/obslog"
)

func cmdLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	agentID := fs.String("agent", "", "only entries from this agent role")
	level := fs.String("level", "", "only entries at this level (debug|info|warn|error)")
	follow := fs.Bool("follow", false, "keep streaming new entries")
	if err := fs.Parse(args); err != nil {
		return userError{err}
	}

	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return userError{err}
	}
	path := operationalLogPath(cfg)
	filter := obslog.Filter{Agent: *agentID, Level: *level}

	printed := 0
	emit := func() error {
		entries, err := obslog.Tail(path, filter)
		if err != nil {
			return err
		}
		for _, e := range entries[printed:] {
			printEntry(e)
		}
		printed = len(entries)
		return nil
	}
	if err := emit(); err != nil {
		return err
	}
	if !*follow {
		return nil
	}
	for {
		time.Sleep(time.Second)
		if err := emit(); err != nil {
			return err
		}
	}
}

func printEntry(e obslog.Entry) {
	line := fmt.Sprintf("%s %-5s %s", e.Timestamp, e.Level, e.Message)
	if e.Agent != "" {
		line += " agent=" + e.Agent
	}
	if e.Stage != "" {
		line += " stage=" + e.Stage
	}
	if e.WorkOrder != "" {
		line += " work_order=" + e.WorkOrder
	}
	if e.Correlation != "" {
		line += " correlation=" + e.Correlation
	}
	fmt.Println(line)
}
