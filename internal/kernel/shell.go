package kernel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/ehrlich-b/codeboxd/internal/chunk"
)

// execShell runs code as a subshell command, generalizing
// internal/tools.BashRunner from a single CombinedOutput call to two
// goroutines streaming stdout/stderr separately into txt/err chunks. Each
// output line is sent as its own chunk as soon as it is read; a stream's
// output is not gathered into a single chunk when the child exits. No
// truncation applies here (spec §4.1).
func (d *Driver) execShell(ctx context.Context, command string, timeout time.Duration, dir string) (*ExecStream, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)

	shellName, shellArgs := shellCommand(command)
	cmd, err := d.spawner.Spawn(execCtx, dir, shellName, shellArgs...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("spawn shell: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("shell stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("shell stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	stream := newExecStream(ctx)
	go func() {
		defer cancel()
		var wg sync.WaitGroup
		wg.Add(2)
		go pipeShellOutput(&wg, stream, stdout, chunk.Text)
		go pipeShellOutput(&wg, stream, stderr, chunk.Error)
		wg.Wait()

		err := cmd.Wait()
		if execCtx.Err() != nil {
			stream.send(chunk.ExecChunk{Type: chunk.Error, Content: "Execution timed out"})
			stream.close(ErrTimeout)
			return
		}
		stream.close(err)
	}()
	return stream, nil
}

func pipeShellOutput(wg *sync.WaitGroup, stream *ExecStream, r io.Reader, typ chunk.Type) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		stream.send(chunk.ExecChunk{Type: typ, Content: scanner.Text() + "\n"})
	}
}

func shellCommand(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	return "/bin/sh", []string{"-c", command}
}
