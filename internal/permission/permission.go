// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package permission decides whether the program may access the location of the device and
// whether the location settings of the system satisfy the requested accuracy.
package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Request codes used to correlate a prompt with its answer in the logs.
const (
	RequestCodeSettings   = 10
	RequestCodePermission = 20
)

// ErrPromptClosed is returned when the prompt input ended before an answer was given.
var ErrPromptClosed = errors.New("permission prompt closed without an answer")

// Status is the state of the location permission.
type Status int

const (
	Undetermined Status = iota
	Granted
	Denied
)

func (s Status) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Authorizer grants or denies access to the location of the device.
type Authorizer interface {
	// Check returns the current permission state without asking the user.
	Check(ctx context.Context) (Status, error)
	// Request asks the user for the permission and blocks until the answer is known.
	Request(ctx context.Context) (Status, error)
}

// Static is an Authorizer with a fixed answer.
type Static struct {
	Allow bool
}

func (s Static) Check(context.Context) (Status, error) {
	if s.Allow {
		return Granted, nil
	}
	return Denied, nil
}

func (s Static) Request(ctx context.Context) (Status, error) {
	return s.Check(ctx)
}

// Prompt asks the user on a terminal. The answers are read line by line from a channel, so the
// terminal input can be shared with other consumers. The answer is remembered for the lifetime
// of the Prompt.
type Prompt struct {
	question string
	in       <-chan string
	out      io.Writer

	mu     sync.Mutex
	status Status
}

// NewPrompt returns a Prompt that writes question to out and takes the answer from in. A closed
// channel means that no more input will arrive.
func NewPrompt(in <-chan string, out io.Writer, question string) *Prompt {
	return &Prompt{
		question: question,
		in:       in,
		out:      out,
	}
}

func (p *Prompt) Check(context.Context) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

// Request asks the question unless it was answered before. Only "y" and "yes" (or the German "j" and "ja") grant the
// permission.
func (p *Prompt) Request(ctx context.Context) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != Undetermined {
		return p.status, nil
	}

	answer, err := ask(ctx, p.in, p.out, p.question+" [y/N] ")
	if err != nil {
		return Undetermined, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "j", "ja":
		p.status = Granted
	default:
		p.status = Denied
	}
	return p.status, nil
}

// ask writes question to out and waits for the next line on in or for ctx to be cancelled.
func ask(ctx context.Context, in <-chan string, out io.Writer, question string) (string, error) {
	if _, err := fmt.Fprint(out, question); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-in:
		if !ok {
			return "", ErrPromptClosed
		}
		return strings.TrimSpace(line), nil
	}
}

// ReadLines forwards the lines read from r until r is exhausted, then closes the returned
// channel.
func ReadLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
