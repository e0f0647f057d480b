// Package zfs invokes the ZFS command-line tools, optionally over ssh.
package zfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ErrDatasetNotFound is returned by ListSnapshots when the dataset itself
// does not exist. Callers distinguish this from a dataset with zero
// snapshots.
var ErrDatasetNotFound = errors.New("dataset does not exist")

// Stream is the source side of a transfer: the raw send byte stream plus the
// completion status of the process producing it.
type Stream interface {
	io.Reader
	// Wait blocks until the sending process exits and reports its status,
	// with captured stderr attached on failure.
	Wait() error
	// Close aborts the transfer, terminating the sending process. Without
	// it a sender blocked writing to an unread stream would keep Wait from
	// ever returning.
	Close() error
}

// Backend is the storage capability consumed by replicas. Implementations
// must report failures with the invoked command's diagnostic output.
type Backend interface {
	ListDatasets(ctx context.Context) ([]string, error)
	ListSnapshots(ctx context.Context, dataset string) ([]string, error)
	CreateSnapshot(ctx context.Context, name string, recursive bool) error
	DestroySnapshot(ctx context.Context, name string) error
	// Send starts a transfer of the named snapshot. A non-empty from makes
	// it incremental against that snapshot; otherwise the stream carries the
	// complete snapshot state.
	Send(ctx context.Context, to, from string) (Stream, error)
	// Receive consumes a send stream into the named snapshot, blocking until
	// the receiving process exits.
	Receive(ctx context.Context, into string, stream io.Reader) error
}

// CLI runs zfs commands through a transport.
type CLI struct {
	transport Transport
}

func New(t Transport) *CLI {
	return &CLI{transport: t}
}

func (c *CLI) command(ctx context.Context, args ...string) *exec.Cmd {
	argv := c.transport.wrap(args)
	return exec.CommandContext(ctx, argv[0], argv[1:]...)
}

// run executes a zfs command to completion, capturing both output streams.
func (c *CLI) run(ctx context.Context, args ...string) (stdout, stderr []byte, err error) {
	cmd := c.command(ctx, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return outBuf.Bytes(), errBuf.Bytes(), fmt.Errorf("%s (%s): %w: %s",
			strings.Join(args, " "), c.transport, err, strings.TrimSpace(errBuf.String()))
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

// parseNameList parses `zfs list -o name` output. The first line must be the
// NAME column header; anything else means the backend is not speaking the
// protocol we expect.
func parseNameList(output []byte) ([]string, error) {
	lines := strings.Split(string(output), "\n")
	if len(lines) == 0 || lines[0] != "NAME" {
		return nil, fmt.Errorf("unexpected zfs list output: missing NAME header")
	}
	var names []string
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names, nil
}

func (c *CLI) ListDatasets(ctx context.Context) ([]string, error) {
	out, _, err := c.run(ctx, "zfs", "list", "-o", "name")
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	return parseNameList(out)
}

func (c *CLI) ListSnapshots(ctx context.Context, dataset string) ([]string, error) {
	out, stderr, err := c.run(ctx, "zfs", "list", "-t", "snapshot", dataset, "-o", "name")
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return nil, fmt.Errorf("%s: %w", dataset, ErrDatasetNotFound)
		}
		return nil, fmt.Errorf("listing snapshots of %s: %w", dataset, err)
	}
	// Older zfs releases report an empty result on stderr with exit 0.
	if strings.TrimSpace(string(stderr)) == "no datasets available" {
		return nil, nil
	}
	return parseNameList(out)
}

func (c *CLI) CreateSnapshot(ctx context.Context, name string, recursive bool) error {
	args := []string{"zfs", "snapshot", name}
	if recursive {
		args = append(args, "-r")
	}
	if _, _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("creating snapshot %s: %w", name, err)
	}
	return nil
}

func (c *CLI) DestroySnapshot(ctx context.Context, name string) error {
	// Refuse anything that is not snapshot-shaped: a bare dataset name here
	// would destroy the dataset itself.
	if !strings.Contains(name, "@") {
		return fmt.Errorf("refusing to destroy %q: not a snapshot name", name)
	}
	if _, _, err := c.run(ctx, "zfs", "destroy", name); err != nil {
		return fmt.Errorf("destroying snapshot %s: %w", name, err)
	}
	return nil
}

// sendStream wraps a running `zfs send` process.
type sendStream struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr *bytes.Buffer
	desc   string
}

func (s *sendStream) Read(p []byte) (int, error) { return s.out.Read(p) }

func (s *sendStream) Wait() error {
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w: %s", s.desc, err, strings.TrimSpace(s.stderr.String()))
	}
	return nil
}

func (s *sendStream) Close() error {
	s.out.Close()
	return s.cmd.Process.Kill()
}

func (c *CLI) Send(ctx context.Context, to, from string) (Stream, error) {
	args := []string{"zfs", "send"}
	if from != "" {
		args = append(args, "-i", from)
	}
	args = append(args, "--raw", to)

	cmd := c.command(ctx, args...)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("zfs send %s: %w", to, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("zfs send %s: %w", to, err)
	}
	return &sendStream{
		cmd:    cmd,
		out:    out,
		stderr: &errBuf,
		desc:   fmt.Sprintf("zfs send %s (%s)", to, c.transport),
	}, nil
}

func (c *CLI) Receive(ctx context.Context, into string, stream io.Reader) error {
	cmd := c.command(ctx, "zfs", "recv", into)
	cmd.Stdin = stream
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("zfs recv %s (%s): %w: %s",
			into, c.transport, err, strings.TrimSpace(errBuf.String()))
	}
	return nil
}
