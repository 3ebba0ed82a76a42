package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// PTYBackend spawns the agent command behind a pseudo-terminal so the
// backend sees a real terminal and line-buffers its output, grounded on
// re-cinq-detergent's engine.go (pty.Open, cmd.Stdout/Stderr = pts,
// io.Copy(output, ptmx) tolerating EIO at process exit). Unlike the
// teacher's two-pipe ClaudeProcess, stdout and stderr share one stream
// once multiplexed through the pty — every line is reported as "stdout"
// to the Team Launcher's watchdog and ring buffer.
type PTYBackend struct {
	Command string
	Args    []string
}

// NewPTYBackend returns a pty-backed backend invoking Command with Args.
func NewPTYBackend(command string, args []string) *PTYBackend {
	if command == "" {
		command = "claude"
	}
	return &PTYBackend{Command: command, Args: args}
}

func (b *PTYBackend) Spawn(ctx context.Context, workDir, prompt string, env []string) (Process, error) {
	ctx, cancel := context.WithCancel(ctx)

	args := append(append([]string{}, b.Args...), "-p", prompt)
	cmd := exec.CommandContext(ctx, b.Command, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open pty: %w", err)
	}

	p := &ptyProcess{
		cmd:    cmd,
		ptmx:   ptmx,
		ctx:    ctx,
		cancel: cancel,
		lines:  make(chan Line, 256),
		done:   make(chan struct{}),
	}
	go p.drain()
	return p, nil
}

type ptyProcess struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	ctx    context.Context
	cancel context.CancelFunc
	lines  chan Line
	done   chan struct{}
	once   sync.Once
}

func (p *ptyProcess) Lines() <-chan Line { return p.lines }

func (p *ptyProcess) drain() {
	defer close(p.lines)
	defer close(p.done)
	defer p.ptmx.Close()

	scanner := bufio.NewScanner(p.ptmx)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		select {
		case p.lines <- Line{Stream: "stdout", Data: line}:
		case <-p.ctx.Done():
			return
		}
	}
	// A pty read returns EIO once the child exits; this is expected and
	// not surfaced as a stream error.
	var pathErr *os.PathError
	if err := scanner.Err(); err != nil && !(errors.As(err, &pathErr) && pathErr.Err == syscall.EIO) {
		select {
		case p.lines <- Line{Stream: "stderr", Data: fmt.Sprintf("pty read error: %v", err)}:
		default:
		}
	}
}

func (p *ptyProcess) Wait() error {
	<-p.done
	return p.cmd.Wait()
}

func (p *ptyProcess) Signal() error {
	if p.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)
}

func (p *ptyProcess) Kill() error {
	var err error
	p.once.Do(func() {
		p.cancel()
		if p.cmd.Process != nil {
			err = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
		}
	})
	return err
}

func (p *ptyProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
