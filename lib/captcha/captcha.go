// Package captcha defines the contract for the opaque CAPTCHA image
// classifier. The core makes no accuracy assumptions: adapters detect
// backend rejection and retry with a fresh challenge.
package captcha

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Classifier turns a CAPTCHA image into a best-effort text guess.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (string, error)
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, image []byte) (string, error)

func (f Func) Classify(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Normalize strips everything but ASCII letters and digits from a
// guess. Every carrier modeled here uses alphanumeric challenges.
func Normalize(guess string) string {
	return nonAlnum.ReplaceAllString(guess, "")
}

// Command is a Classifier backed by an external program: the image is
// written to its stdin and the guess read from its stdout.
type Command struct {
	Name string
	Args []string
}

func NewCommand(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

func (c Command) Classify(ctx context.Context, image []byte) (string, error) {
	if c.Name == "" {
		return "", fmt.Errorf("no captcha classifier configured")
	}
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = bytes.NewReader(image)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("captcha classifier %q: %w", c.Name, err)
	}
	return strings.TrimSpace(string(out)), nil
}
