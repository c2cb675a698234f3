package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	cli "github.com/spf13/pflag"

	"aide/internal/ipc"
)

const usage = `usage: aide-ctl [--socket PATH] <command> [args]

commands:
  trigger                      start listening as if the wake word was heard
  say TEXT...                  speak TEXT
  add --date D --start HH:MM --task T [--stop HH:MM] [--remind MIN]
  list                         show all scheduled events
  reset                        make every reminder pending again
  silence [MINUTES]            mute reminders (default 30)
  status                       show daemon state
`

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Daemon control socket")
	date := cli.String("date", "", "Event date (YYYY-MM-DD or MM/DD/YY)")
	start := cli.String("start", "", "Start time HH:MM")
	stop := cli.String("stop", "", "Stop time HH:MM")
	task := cli.String("task", "", "Event description")
	remind := cli.Int("remind", 15, "Minutes before start to remind")
	timeout := cli.Duration("timeout", 10*time.Second, "Request timeout")
	cli.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		cli.PrintDefaults()
	}
	cli.Parse()

	args := cli.Args()
	if len(args) == 0 {
		cli.Usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: args[0], Args: map[string]string{}}
	switch msg.Cmd {
	case "say":
		msg.Args["text"] = strings.Join(args[1:], " ")
	case "add":
		msg.Args["date"] = *date
		msg.Args["start"] = *start
		msg.Args["stop"] = *stop
		msg.Args["task"] = *task
		if *task == "" && len(args) > 1 {
			msg.Args["task"] = strings.Join(args[1:], " ")
		}
		if cli.CommandLine.Changed("remind") {
			msg.Args["remind"] = fmt.Sprint(*remind)
		}
	case "silence":
		if len(args) > 1 {
			msg.Args["minutes"] = args[1]
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := ipc.Send(ctx, *socket, msg)
	if err != nil {
		fmt.Println("aide-daemon not running:", err)
		os.Exit(1)
	}
	fmt.Println(reply.Message)
	if !reply.OK {
		os.Exit(1)
	}
}
