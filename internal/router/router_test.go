package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type speakerSpy struct{ said []string }

func (s *speakerSpy) Enqueue(text string) error {
	s.said = append(s.said, text)
	return nil
}

type recorder struct {
	calls []string
}

func (r *recorder) handler(name string, result bool, err error) Handler {
	return HandlerFunc(func(_ context.Context, cmd Command) (bool, error) {
		r.calls = append(r.calls, name+":"+cmd.Text)
		return result, err
	})
}

func TestNewCommand_Normalizes(t *testing.T) {
	assert.Equal(t, "what's next?", NewCommand("  What’s   NEXT? \n").Text)
	assert.True(t, NewCommand(" \t ").Empty())
}

func TestRoute_FirstMatchWins(t *testing.T) {
	spy := &speakerSpy{}
	rec := &recorder{}
	r := New(spy, nil,
		Binding{Name: "view", Keywords: []string{"view schedule", "show schedule"}, Handler: rec.handler("view", true, nil)},
		Binding{Name: "create", Keywords: []string{"schedule"}, Handler: rec.handler("create", true, nil)},
	)

	assert.True(t, r.Route(context.Background(), NewCommand("please view schedule")))
	assert.True(t, r.Route(context.Background(), NewCommand("Schedule a dentist visit")))
	assert.Equal(t, []string{"view:please view schedule", "create:schedule a dentist visit"}, rec.calls)
	assert.Empty(t, spy.said)
}

func TestRoute_NoMatch(t *testing.T) {
	spy := &speakerSpy{}
	rec := &recorder{}
	r := New(spy, nil, Binding{Name: "clock", Keywords: []string{"what time"}, Handler: rec.handler("clock", true, nil)})

	assert.False(t, r.Route(context.Background(), NewCommand("play some jazz")))
	assert.Equal(t, []string{NotRecognized}, spy.said)
	assert.Empty(t, rec.calls)
}

func TestRoute_ReturnsHandlerResult(t *testing.T) {
	spy := &speakerSpy{}
	rec := &recorder{}
	r := New(spy, nil, Binding{Name: "delete", Keywords: []string{"cancel"}, Handler: rec.handler("delete", false, nil)})

	assert.False(t, r.Route(context.Background(), NewCommand("cancel nothing")))
	assert.Empty(t, spy.said)
}

func TestRoute_ErrorAndPanicBecomeApology(t *testing.T) {
	spy := &speakerSpy{}
	rec := &recorder{}
	r := New(spy, nil,
		Binding{Name: "broken", Keywords: []string{"broken"}, Handler: rec.handler("broken", true, errors.New("db locked"))},
		Binding{Name: "panics", Keywords: []string{"panic"}, Handler: HandlerFunc(func(context.Context, Command) (bool, error) {
			panic("nil map")
		})},
	)

	assert.False(t, r.Route(context.Background(), NewCommand("broken thing")))
	assert.False(t, r.Route(context.Background(), NewCommand("panic now")))
	assert.Equal(t, []string{Apology, Apology}, spy.said)
}

func TestRoute_IgnoresGreetingAndEmpty(t *testing.T) {
	spy := &speakerSpy{}
	rec := &recorder{}
	r := New(spy, nil, Binding{Name: "any", Keywords: []string{"help"}, Handler: rec.handler("any", true, nil)})

	assert.True(t, r.Route(context.Background(), NewCommand("At your service. How may I help?")))
	assert.False(t, r.Route(context.Background(), Command{}))
	assert.Empty(t, rec.calls)
	assert.Empty(t, spy.said)
}

func TestNew_SkipsNilHandlersAndNormalizesKeywords(t *testing.T) {
	rec := &recorder{}
	r := New(&speakerSpy{}, nil,
		Binding{Name: "hub", Keywords: []string{"turn on"}},
		Binding{Name: "upcoming", Keywords: []string{" What's  Next ", ""}, Handler: rec.handler("upcoming", true, nil)},
	)

	b, kw, ok := r.Match(NewCommand("what's next today"))
	require.True(t, ok)
	assert.Equal(t, "upcoming", b.Name)
	assert.Equal(t, "what's next", kw)

	_, _, ok = r.Match(NewCommand("turn on the lamp"))
	assert.False(t, ok)
}
