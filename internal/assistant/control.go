package assistant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aide/internal/ipc"
	"aide/internal/schedule"
)

const defaultSilence = 30 * time.Minute

// HandleControl serves one aide-ctl request.
func (a *Assistant) HandleControl(ctx context.Context, msg ipc.ControlMessage) ipc.ControlReply {
	switch msg.Cmd {
	case "trigger":
		if !a.Trigger() {
			return ipc.Ok("trigger already pending")
		}
		return ipc.Ok("triggered")

	case "say":
		text := strings.TrimSpace(msg.Args["text"])
		if text == "" {
			return ipc.Fail("nothing to say")
		}
		if err := a.Say(text); err != nil {
			return ipc.Fail("say: %v", err)
		}
		return ipc.Ok("queued")

	case "add":
		return a.addEvent(ctx, msg.Args)

	case "list":
		return a.listEvents(ctx)

	case "reset":
		if err := a.d.Store.ResetAllNotified(ctx); err != nil {
			return ipc.Fail("reset: %v", err)
		}
		return ipc.Ok("all reminders are pending again")

	case "silence":
		d := defaultSilence
		if v := msg.Args["minutes"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return ipc.Fail("minutes must be a positive number, got %q", v)
			}
			d = time.Duration(n) * time.Minute
		}
		until := a.d.Monitor.SilenceFor(d)
		return ipc.Ok("reminders silenced until %s", until.Format(time.Kitchen))

	case "status":
		return a.status()

	default:
		return ipc.Fail("unknown command %q", msg.Cmd)
	}
}

func (a *Assistant) addEvent(ctx context.Context, args map[string]string) ipc.ControlReply {
	ev := schedule.Event{
		Date:  args["date"],
		Start: args["start"],
		Stop:  args["stop"],
		Task:  args["task"],

		ReminderMinutes: schedule.DefaultReminderMinutes,
	}
	if v := args["remind"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return ipc.Fail("remind must be a number of minutes, got %q", v)
		}
		ev.ReminderMinutes = n
	}

	id, err := a.d.Store.Save(ctx, ev)
	switch {
	case errors.Is(err, schedule.ErrInvalidEvent):
		return ipc.Fail("%v", err)
	case err != nil:
		a.logger.Error("Failed to save event", "err", err)
		return ipc.Fail("save: %v", err)
	}
	a.logger.Info("Event added", "id", id, "task", ev.Task, "date", ev.Date, "start", ev.Start)
	return ipc.Ok("added #%d %s on %s at %s", id, strings.TrimSpace(ev.Task), strings.TrimSpace(ev.Date), strings.TrimSpace(ev.Start))
}

func (a *Assistant) listEvents(ctx context.Context) ipc.ControlReply {
	events, err := a.d.Store.ListAll(ctx)
	if err != nil {
		return ipc.Fail("list: %v", err)
	}
	if len(events) == 0 {
		return ipc.Ok("no events")
	}

	var b strings.Builder
	for i, ev := range events {
		if i > 0 {
			b.WriteByte('\n')
		}
		mark := " "
		if ev.Notified {
			mark = "x"
		}
		fmt.Fprintf(&b, "[%s] #%d %s %s", mark, ev.ID, ev.Date, ev.Start)
		if ev.Stop != "" {
			fmt.Fprintf(&b, "-%s", ev.Stop)
		}
		fmt.Fprintf(&b, " %s (%d min)", ev.Task, ev.ReminderMinutes)
	}
	return ipc.Ok("%s", b.String())
}

func (a *Assistant) status() ipc.ControlReply {
	speech := "idle"
	if !a.d.Speech.Idle() {
		speech = fmt.Sprintf("speaking, %d queued", a.d.Speech.Pending())
	}
	reminders := "active"
	if until := a.d.Monitor.Silenced(); !until.IsZero() {
		reminders = "silenced until " + until.Format(time.Kitchen)
	}
	return ipc.Ok("wake: %s, speech: %s, reminders: %s", a.d.Gate.State(), speech, reminders)
}
