package agent

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/reujab/ramon/internal/rules"
)

// execTimeout bounds a single exec action.
const execTimeout = time.Minute

// execRunner returns the runner for exec actions: the command runs under
// `sh -c` with the match context joined onto the process environment.
func execRunner(log zerolog.Logger) rules.ExecRunner {
	return func(command string, env map[string]string) {
		ctx, cancel := context.WithTimeout(context.Background(), execTimeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}

		out, err := cmd.CombinedOutput()
		if err != nil {
			log.Error().
				Str("command", command).
				Err(err).
				Bytes("output", out).
				Msg("exec action failed")
			return
		}
		log.Debug().Str("command", command).Msg("exec action completed")
	}
}
