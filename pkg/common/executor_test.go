package common

import (
	"context"
	"fmt"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failWith(err error) Executor {
	return func(_ context.Context) error {
		return err
	}
}

func TestNewWorkflow(t *testing.T) {
	assert := assert.New(t)

	ctx := context.Background()

	// empty
	emptyWorkflow := NewPipelineExecutor()
	assert.Nil(emptyWorkflow(ctx))

	// error case
	errorWorkflow := NewPipelineExecutor(failWith(fmt.Errorf("test error")))
	assert.NotNil(errorWorkflow(ctx))

	// multiple success case
	runcount := 0
	successWorkflow := NewPipelineExecutor(
		func(_ context.Context) error {
			runcount++
			return nil
		},
		func(_ context.Context) error {
			runcount++
			return nil
		})
	assert.Nil(successWorkflow(ctx))
	assert.Equal(2, runcount)
}

func TestExecutorWarningDoesNotStopPipeline(t *testing.T) {
	ran := false
	logger, hook := logtest.NewNullLogger()
	ctx := WithLogger(context.Background(), logger)
	err := NewPipelineExecutor(
		failWith(Warningf("remote cache %s", "unavailable")),
		func(_ context.Context) error {
			ran = true
			return nil
		},
		NewDebugExecutor("done"),
	)(ctx)
	assert.NoError(t, err)
	assert.True(t, ran)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "remote cache unavailable", hook.Entries[0].Message)

	err = NewPipelineExecutor(failWith(fmt.Errorf("hard failure")), func(_ context.Context) error {
		t.Fatal("must not run after an error")
		return nil
	})(ctx)
	assert.EqualError(t, err, "hard failure")
}

func TestExecutorFinally(t *testing.T) {
	finallyRan := false
	err := failWith(fmt.Errorf("main failed")).Finally(func(_ context.Context) error {
		finallyRan = true
		return nil
	})(context.Background())
	assert.EqualError(t, err, "main failed")
	assert.True(t, finallyRan)

	err = NewPipelineExecutor().Finally(failWith(fmt.Errorf("post failed")))(context.Background())
	assert.EqualError(t, err, "Error occurred running finally: post failed (original error: <nil>)")
}

func TestExecutorIfBool(t *testing.T) {
	count := 0
	inc := Executor(func(_ context.Context) error {
		count++
		return nil
	})
	assert.NoError(t, inc.IfBool(false)(context.Background()))
	assert.NoError(t, inc.IfBool(true)(context.Background()))
	assert.Equal(t, 1, count)
}
