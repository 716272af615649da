package event

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type detailErr struct{}

func (detailErr) Error() string  { return "tool exited 2" }
func (detailErr) Detail() string { return "bad option --foo" }
func (detailErr) Code() string   { return CodeToolFailed }

func TestOperationEmitsSingleTerminal(t *testing.T) {
	rec := &Recorder{}
	op := Begin(rec, "createGCode", "starting")
	op.Progress("running", map[string]any{"step": 1})
	op.Done("ok", nil)
	op.Done("again", nil)
	_ = op.Fail(errors.New("late"))

	got := rec.Envelopes()
	require.Len(t, got, 3)
	assert.Equal(t, StatusStart, got[0].Status)
	assert.Equal(t, StatusRun, got[1].Status)
	assert.Equal(t, StatusDone, got[2].Status)
	assert.True(t, op.Finished())
}

func TestFailCarriesCodeAndDetail(t *testing.T) {
	rec := &Recorder{}
	op := Begin(rec, "createGCode", "")
	err := fmt.Errorf("convert: %w", detailErr{})
	assert.Same(t, err, op.Fail(err))

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, StatusError, last.Status)
	assert.Equal(t, "convert: tool exited 2", last.Msg)
	assert.Equal(t, ErrorData{Code: CodeToolFailed, Detail: "bad option --foo"}, last.Data)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("disk full")))
	assert.Equal(t, CodeNotFound, CodeOf(fmt.Errorf("wrap: %w", WithCode(CodeNotFound, errors.New("x")))))
	assert.Equal(t, CodeInvalidArgument, CodeOf(Invalid("bad %s", "key")))
	assert.Nil(t, WithCode(CodeInternal, nil))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusStart.Terminal())
	assert.False(t, StatusRun.Terminal())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusError.Terminal())
}
