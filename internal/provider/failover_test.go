package provider

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scripted struct {
	name   string
	tokens []string
	// failAt fails the stream before token failAt; -1 never fails.
	failAt int
	calls  int
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Generate(context.Context, []Message, GenerationConfig) (iter.Seq2[string, error], error) {
	s.calls++
	return func(yield func(string, error) bool) {
		for i, tok := range s.tokens {
			if i == s.failAt {
				yield("", errors.New(s.name+" down"))
				return
			}
			if !yield(tok, nil) {
				return
			}
		}
	}, nil
}

func drain(t *testing.T, g Generator) (string, error) {
	t.Helper()
	seq, err := g.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationConfig{})
	require.NoError(t, err)
	var b strings.Builder
	for tok, err := range seq {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

func TestFailoverUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &scripted{name: "a", tokens: []string{"one ", "two"}, failAt: -1}
	fallback := &scripted{name: "b", tokens: []string{"x"}, failAt: -1}
	f := NewFailover(primary, fallback)

	got, err := drain(t, f)
	require.NoError(t, err)
	assert.Equal(t, "one two", got)
	assert.Equal(t, 0, fallback.calls)
	assert.Equal(t, "a+b", f.Name())
}

func TestFailoverSwitchesAndSticks(t *testing.T) {
	primary := &scripted{name: "a", tokens: []string{"one"}, failAt: 0}
	fallback := &scripted{name: "b", tokens: []string{"backup"}, failAt: -1}
	f := NewFailover(primary, fallback)

	got, err := drain(t, f)
	require.NoError(t, err)
	assert.Equal(t, "backup", got)
	assert.True(t, f.FallbackActive())

	_, err = drain(t, f)
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls, "primary skipped while fallback is active")

	// Fallback breaks; primary recovered.
	fallback.failAt = 0
	primary.failAt = -1
	got, err = drain(t, f)
	require.NoError(t, err)
	assert.Equal(t, "one", got)
	assert.False(t, f.FallbackActive())
}

func TestFailoverKeepsMidStreamErrors(t *testing.T) {
	primary := &scripted{name: "a", tokens: []string{"one ", "two"}, failAt: 1}
	fallback := &scripted{name: "b", tokens: []string{"x"}, failAt: -1}
	f := NewFailover(primary, fallback)

	got, err := drain(t, f)
	require.Error(t, err)
	assert.Equal(t, "one ", got)
	assert.Equal(t, 0, fallback.calls)
}

func TestFailoverReportsBothFailures(t *testing.T) {
	f := NewFailover(&scripted{name: "a", tokens: []string{"x"}, failAt: 0}, &scripted{name: "b", tokens: []string{"y"}, failAt: 0})
	_, err := drain(t, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "b down")
}
