package local

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Permission is the consent state for on-device recognition.
type Permission int

const (
	PermissionNotDetermined Permission = iota
	PermissionAuthorized
	PermissionDenied
	PermissionRestricted
)

func (p Permission) String() string {
	switch p {
	case PermissionNotDetermined:
		return "not-determined"
	case PermissionAuthorized:
		return "authorized"
	case PermissionDenied:
		return "denied"
	case PermissionRestricted:
		return "restricted"
	default:
		return fmt.Sprintf("Permission(%d)", int(p))
	}
}

// ParseConsent maps the configured consent value to an initial state.
// Disabled recognition is restricted regardless of consent.
func ParseConsent(enabled bool, consent string) Permission {
	if !enabled {
		return PermissionRestricted
	}
	switch strings.ToLower(strings.TrimSpace(consent)) {
	case "granted", "authorized", "yes", "true":
		return PermissionAuthorized
	case "denied", "no", "false":
		return PermissionDenied
	default:
		return PermissionNotDetermined
	}
}

// Authorizer asks the user once whether on-device recognition may run.
type Authorizer func(ctx context.Context) (bool, error)

// StaticAuthorizer answers every prompt with granted.
func StaticAuthorizer(granted bool) Authorizer {
	return func(context.Context) (bool, error) { return granted, nil }
}

// TerminalAuthorizer prompts on out and reads a y/N answer from in.
func TerminalAuthorizer(in io.Reader, out io.Writer) Authorizer {
	return func(ctx context.Context) (bool, error) {
		fmt.Fprint(out, "Allow on-device speech recognition for failed segments? [y/N] ")
		answer := make(chan string, 1)
		go func() {
			line, _ := bufio.NewReader(in).ReadString('\n')
			answer <- line
		}()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case line := <-answer:
			line = strings.ToLower(strings.TrimSpace(line))
			return line == "y" || line == "yes", nil
		}
	}
}
