package pipeline_test

import (
	"os/exec"
	"testing"
	"time"

	"github.com/launchpadhq/launchpad/internal/pipeline"

	"github.com/stretchr/testify/require"
)

func TestExec(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	t.Run("failure exit surfaces as error", func(t *testing.T) {
		t.Parallel()
		e := pipeline.NewExec("crashy", pipeline.Command{
			Path: sh,
			Args: []string{"-c", "exit 3"},
		})
		err := e.Run(time.Second)
		require.Error(t, err)
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		require.Equal(t, 3, exitErr.ExitCode())
	})

	t.Run("zero exit returns nil", func(t *testing.T) {
		t.Parallel()
		e := pipeline.NewExec("quitter", pipeline.Command{
			Path: sh,
			Args: []string{"-c", "echo one iteration"},
		})
		require.NoError(t, e.Run(time.Second))
	})

	t.Run("pause reaches the child", func(t *testing.T) {
		t.Parallel()
		e := pipeline.NewExec("pausey", pipeline.Command{
			Path: sh,
			Args: []string{"-c", `test "$PIPELINE_PAUSE" = "5"`},
		})
		require.NoError(t, e.Run(5*time.Second))
	})

	t.Run("missing binary", func(t *testing.T) {
		t.Parallel()
		e := pipeline.NewExec("ghost", pipeline.Command{
			Path: "does-not-exist-anywhere",
		})
		err := e.Run(time.Second)
		require.Error(t, err)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
	})
}
