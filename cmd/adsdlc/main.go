// cmd/adsdlc is the pipeline CLI: init scaffolds a project, start runs a
// new session, resume continues a prior one, status and logs inspect a
// running or paused pipeline.
package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes per the CLI contract: 0 success, 1 user error, 2 pipeline
// failed (session paused, resumable), 3 internal error.
const (
	exitOK       = 0
	exitUser     = 1
	exitPipeline = 2
	exitInternal = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUser)
	}
	var err error
	switch os.Args[1] {
	case "init":
		err = cmdInit(os.Args[2:])
	case "start":
		err = cmdStart(os.Args[2:])
	case "resume":
		err = cmdResume(os.Args[2:])
	case "status":
		err = cmdStatus(os.Args[2:])
	case "logs":
		err = cmdLogs(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "adsdlc: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(exitUser)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "adsdlc: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: adsdlc <command> [options]

Commands:
  init [project-name]                     scaffold the .ad-sdlc tree (idempotent)
  start [--file F | --url U | --text T]   run a new pipeline session
        [--skip-approval] [--name NAME]
  resume <session-id> [--start-from S]    resume or fast-forward a session
        [--project P]
  status [project-id] [--watch]           print session + worker pool state
  logs [--agent ID] [--level L] [--follow] stream operational logs
`)
}

// userError marks a failure caused by the invocation, not the pipeline.
type userError struct{ err error }

func (e userError) Error() string { return e.err.Error() }
func (e userError) Unwrap() error { return e.err }

// pipelineError marks a paused/failed session: resumable, exit code 2.
type pipelineError struct{ err error }

func (e pipelineError) Error() string { return e.err.Error() }
func (e pipelineError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	var ue userError
	if errors.As(err, &ue) {
		return exitUser
	}
	var pe pipelineError
	if errors.As(err, &pe) {
		return exitPipeline
	}
	return exitInternal
}
