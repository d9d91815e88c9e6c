// Package console carries the text command interface over a line-oriented
// stream: the process's stdin/stdout or a serial UART.
package console

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sweeney/charge-controller/internal/logger"
)

// maxLine bounds a single command line.
const maxLine = 256

// errLineTooLong is the response to a line longer than maxLine.
const errLineTooLong = "Error: line too long"

// lineSplitter is a bufio.SplitFunc source that drops oversized lines
// instead of failing the scan.
type lineSplitter struct {
	discarding bool
	tooLong    bool
}

func (s *lineSplitter) split(data []byte, atEOF bool) (int, []byte, error) {
	if s.discarding {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			s.discarding = false
			s.tooLong = true
			return i + 1, []byte{}, nil
		}
		if atEOF {
			s.discarding = false
			s.tooLong = true
			return len(data), []byte{}, nil
		}
		return len(data), nil, nil
	}
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= maxLine {
		s.discarding = true
		return len(data), nil, nil
	}
	if len(token) >= maxLine {
		s.tooLong = true
		return advance, []byte{}, err
	}
	return advance, token, err
}

type input struct {
	line    string
	tooLong bool
}

// Handler turns one command line into a response.
type Handler interface {
	Handle(line string) string
}

// Console reads commands from r and writes responses to w.
type Console struct {
	r       io.Reader
	w       io.Writer
	handler Handler
	eol     string
	log     *logger.Logger
}

// Option customizes a Console.
type Option func(*Console)

// WithEOL sets the line terminator written after each response.
func WithEOL(eol string) Option {
	return func(c *Console) { c.eol = eol }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Console) { c.log = l }
}

// New creates a Console.
func New(r io.Reader, w io.Writer, h Handler, opts ...Option) *Console {
	c := &Console{r: r, w: w, handler: h, eol: "\n", log: logger.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run processes lines until the reader is exhausted or ctx is cancelled.
// Blank lines are ignored and lines longer than maxLine are answered with
// an error and skipped. A clean end of input returns nil.
//
// The read happens on its own goroutine; if ctx is cancelled while a read is
// blocked, Run returns and the goroutine exits once the reader is closed.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan input)
	errc := make(chan error, 1)

	go func() {
		var ls lineSplitter
		sc := bufio.NewScanner(c.r)
		sc.Buffer(make([]byte, 0, maxLine), maxLine)
		sc.Split(ls.split)
		for sc.Scan() {
			in := input{line: sc.Text(), tooLong: ls.tooLong}
			ls.tooLong = false
			select {
			case lines <- in:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read console: %w", err)
			}
			return nil
		case in := <-lines:
			var resp string
			if in.tooLong {
				c.log.Warnw("console line too long, dropped", "max", maxLine)
				resp = errLineTooLong
			} else {
				line := strings.TrimSpace(in.line)
				if line == "" {
					continue
				}
				resp = c.handler.Handle(line)
				c.log.Debugw("console command", "command", line, "response", resp)
			}
			if _, err := io.WriteString(c.w, resp+c.eol); err != nil {
				return fmt.Errorf("write console: %w", err)
			}
		}
	}
}
