// Package console plays the bot in a terminal: stdin lines in, text and PNG
// files out.
package console

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const Room = "console"

// Egress prints text replies and writes board images into a directory.
type Egress struct {
	mu       sync.Mutex
	out      io.Writer
	imageDir string
	seq      int
}

// NewEgress writes to out. With an empty imageDir boards are only announced.
func NewEgress(out io.Writer, imageDir string) *Egress {
	return &Egress{out: out, imageDir: imageDir}
}

func (e *Egress) SendText(_ context.Context, _ string, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := fmt.Fprintln(e.out, message)
	return err
}

func (e *Egress) SendImage(_ context.Context, _ string, imageBase64 string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	if e.imageDir == "" {
		_, err := fmt.Fprintf(e.out, "[board #%d]\n", e.seq)
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(imageBase64)
	if err != nil {
		return fmt.Errorf("decode board image: %w", err)
	}
	if err := os.MkdirAll(e.imageDir, 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(e.imageDir, fmt.Sprintf("board-%03d.png", e.seq))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write board image: %w", err)
	}
	_, err = fmt.Fprintf(e.out, "[board: %s]\n", path)
	return err
}

// Accept receives one line of console input.
type Accept func(room, conversationID, text string) error

// Run feeds each non-empty line from in to accept until EOF, "quit" or ctx
// cancellation. Errors from accept are reported and do not stop the loop.
func Run(ctx context.Context, in io.Reader, errOut io.Writer, conversationID string, accept Accept) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
				return nil
			}
			if err := accept(Room, conversationID, line); err != nil {
				fmt.Fprintf(errOut, "error: %v\n", err)
			}
		}
	}
}
