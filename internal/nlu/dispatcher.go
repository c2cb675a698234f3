package nlu

import (
	"context"
	"fmt"

	"aide/pkg/protocol"
)

// Hub sends one frame and waits for the reply.
type Hub interface {
	TransmitReceive(ctx context.Context, v any) (*protocol.Message, error)
}

type target struct {
	to   string
	noun string
}

var devices = map[string]target{
	"lamp": {to: "VERTEX", noun: "LAMP"},
}

// Dispatch forwards a classified command to the hub and returns a sentence
// describing the outcome.
func Dispatch(ctx context.Context, cmd Result, hub Hub) (string, error) {
	var verb, state string
	switch cmd.Intent {
	case "turn_on":
		verb, state = "ON", "on"
	case "turn_off":
		verb, state = "OFF", "off"
	default:
		return "", fmt.Errorf("unknown intent %q", cmd.Intent)
	}

	device := cmd.Entities["device"]
	t, ok := devices[device]
	if !ok {
		return "", fmt.Errorf("unknown device %q", device)
	}

	msg, err := hub.TransmitReceive(ctx, []string{t.to, t.noun, verb})
	if err != nil {
		return "", err
	}

	if msg.Verb == "ERR" {
		return fmt.Sprintf("The %s reported an error: %s.", device, msg.Noun), nil
	}
	return fmt.Sprintf("The %s is %s.", device, state), nil
}
