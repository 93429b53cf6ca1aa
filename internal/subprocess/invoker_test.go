package subprocess

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecInvokerRunsRealCommand(t *testing.T) {
	inv := NewExecInvoker(nil)
	out, err := inv.Invoke(context.Background(), Command{Path: "cat"}, "hello agent")
	require.NoError(t, err)
	require.Equal(t, "hello agent", out.Text)
}

func TestExecInvokerPropagatesFailure(t *testing.T) {
	inv := NewExecInvoker(nil)
	_, err := inv.Invoke(context.Background(), Command{Path: "false"}, "")
	require.Error(t, err)
}

func TestStubInvoker(t *testing.T) {
	stub := NewStubInvoker().
		WithOutput("implementer", "Wrote main.go").
		WithError("tester", errors.New("boom"))

	out, err := stub.Invoke(context.Background(), Command{Path: "implementer"}, "")
	require.NoError(t, err)
	require.Equal(t, "Wrote main.go", out.Text)

	_, err = stub.Invoke(context.Background(), Command{Path: "tester"}, "")
	require.Error(t, err)
}

func TestExecInvokerStream(t *testing.T) {
	inv := NewExecInvoker(nil)
	ch, err := inv.Stream(context.Background(), Command{Path: "cat"}, "streamed")
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		require.NoError(t, chunk.Err)
		text += chunk.Text
	}
	require.Equal(t, "streamed", text)
}
