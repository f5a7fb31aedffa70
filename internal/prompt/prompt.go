// Package prompt asks the operator for confirmation on the terminal.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers from In and writes questions to Out.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	// Interactive is false when In is not a terminal. A non-interactive
	// Prompter never blocks: Confirm returns false and Pause returns at once.
	Interactive bool

	reader *bufio.Reader
}

// New returns a Prompter bound to the process' stdin and stdout.
func New() *Prompter {
	return &Prompter{
		In:          os.Stdin,
		Out:         os.Stdout,
		Interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
}

// Confirm asks a yes/no question. Anything other than "y" or "yes" is a no.
func (p *Prompter) Confirm(question string) bool {
	fmt.Fprintf(p.Out, "%s [y/N]: ", question)
	if !p.Interactive {
		fmt.Fprintln(p.Out)
		return false
	}
	line, err := p.readLine()
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// Pause prints msg and waits for the operator to press Enter.
func (p *Prompter) Pause(msg string) {
	fmt.Fprintln(p.Out, msg)
	if !p.Interactive {
		return
	}
	p.readLine()
}

func (p *Prompter) readLine() (string, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	line, err := p.reader.ReadString('\n')
	if err == io.EOF && line != "" {
		return line, nil
	}
	return line, err
}
