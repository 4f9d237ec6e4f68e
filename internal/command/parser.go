// Package command implements the CommandParser: parsing line-oriented text
// commands from a TCP (or local console) connection and mutating SystemState
// or invoking an Orchestrator action. Grammar and path resolution follow
// Intan-RHX's commandparser.cpp for the exact resolution order and error
// phrasing the command grammar otherwise leaves unstated.
package command

import (
	"fmt"
	"strings"

	"github.com/acquicore/daqcore/internal/daqerr"
	"github.com/acquicore/daqcore/internal/state"
)

// Executor runs an "execute <action> [<parameter>]" command,
// implemented by the Orchestrator so this package never imports it
// directly (avoiding an import cycle; the Orchestrator owns the Parser).
type Executor interface {
	Execute(action, parameter string) (payload string, err error)
}

// NoteRecorder inserts a live annotation into the current recording.
type NoteRecorder interface {
	// InsertLiveNote returns an error when not recording.
	InsertLiveNote(text string) error
}

// PseudoItems resolves the hard-coded pseudo-paths:
// runmode, availablexpulist, usedxpuindex, and the TCP endpoint
// host/port/status fields — none of which live in the ordinary SystemState
// registry because they're either derived (availablexpulist) or owned by
// a different subsystem (TCP endpoints).
type PseudoItems interface {
	// Get returns (value, true) if name is a known pseudo-path.
	Get(name string) (string, bool)
	// Set returns (true, err) if name is a known pseudo-path; ok=false
	// means "not a pseudo-path, try elsewhere".
	Set(name, value string) (ok bool, err error)
}

// Response is one reply to a single parsed command.
type Response struct {
	// Text is the literal line to send back on the command socket, e.g.
	// "Return: sampleratehertz 20000" or "Error: Unrecognized parameter".
	Text string
	// IsError is true for "Error:" replies.
	IsError bool
}

// Parser parses and dispatches commands against a SystemState registry,
// an Orchestrator Executor, a NoteRecorder, and pseudo-items.
type Parser struct {
	Registry *state.Registry
	Exec     Executor
	Notes    NoteRecorder
	Pseudo   PseudoItems
}

// ParseLine splits line on ';' and dispatches each non-empty segment, in order, returning
// one Response per segment.
func (p *Parser) ParseLine(line string) []Response {
	segments := strings.Split(line, ";")
	var out []Response
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		out = append(out, p.dispatch(seg))
	}
	return out
}

func (p *Parser) dispatch(cmd string) Response {
	verb, rest := splitFirstToken(cmd)
	switch strings.ToLower(verb) {
	case "set":
		return p.doSet(rest)
	case "get":
		return p.doGet(rest)
	case "execute":
		return p.doExecute(rest)
	case "livenotes":
		return p.doLiveNotes(rest)
	default:
		return errorResponse(daqerr.ErrUnrecognizedParameter.Error())
	}
}

func (p *Parser) doGet(rest string) Response {
	path := strings.TrimSpace(rest)
	if path == "" {
		return errorResponse(daqerr.ErrUnrecognizedParameter.Error())
	}
	value, err := p.get(path)
	if err != nil {
		return errorResponse(err.Error())
	}
	if value == "" {
		return Response{Text: fmt.Sprintf("Return: Empty %s", path)}
	}
	return Response{Text: fmt.Sprintf("Return: %s %s", path, value)}
}

func (p *Parser) doSet(rest string) Response {
	path, value := splitFirstToken(rest)
	value = strings.TrimSpace(value)
	if path == "" {
		return errorResponse(daqerr.ErrUnrecognizedParameter.Error())
	}
	if err := p.set(path, value); err != nil {
		return errorResponse(err.Error())
	}
	return Response{Text: fmt.Sprintf("Return: %s %s", path, value)}
}

func (p *Parser) doExecute(rest string) Response {
	action, parameter := splitFirstToken(rest)
	parameter = strings.TrimSpace(parameter)
	if action == "" {
		return errorResponse(daqerr.ErrUnrecognizedParameter.Error())
	}
	if p.Exec == nil {
		return errorResponse("no executor configured")
	}
	payload, err := p.Exec.Execute(strings.ToLower(action), parameter)
	if err != nil {
		return errorResponse(err.Error())
	}
	return Response{Text: fmt.Sprintf("Return: %s %s", strings.ToLower(action), payload)}
}

func (p *Parser) doLiveNotes(rest string) Response {
	text := strings.TrimSpace(rest)
	if p.Notes == nil {
		return errorResponse("no note recorder configured")
	}
	if err := p.Notes.InsertLiveNote(text); err != nil {
		return errorResponse(err.Error())
	}
	return Response{Text: "Return: livenotes " + text}
}

// get resolves path in a fixed priority order: filename item,
// channel item, port item, global item, pseudo-item.
func (p *Parser) get(path string) (string, error) {
	if owner, key, ok := splitFilenamePath(path); ok {
		if it, found := p.Registry.Locate(owner); found {
			if v, found := it.Sub(key); found {
				return v, nil
			}
		}
		return "", daqerr.ErrUnrecognizedParameter
	}
	if it, ok := p.Registry.Locate(path); ok {
		return it.String(), nil
	}
	if p.Pseudo != nil {
		if v, ok := p.Pseudo.Get(strings.ToLower(path)); ok {
			return v, nil
		}
	}
	return "", daqerr.ErrUnrecognizedParameter
}

// set mirrors get's resolution order for mutation.
func (p *Parser) set(path, value string) error {
	if owner, key, ok := splitFilenamePath(path); ok {
		it, found := p.Registry.Locate(owner)
		if !found {
			return daqerr.ErrUnrecognizedParameter
		}
		return p.Registry.SetFilenameSub(it, key, value)
	}
	if _, ok := p.Registry.Locate(path); ok {
		return p.Registry.Set(path, value)
	}
	if p.Pseudo != nil {
		if ok, err := p.Pseudo.Set(strings.ToLower(path), value); ok {
			return err
		}
	}
	return daqerr.ErrUnrecognizedParameter
}

// splitFilenamePath recognizes "filename.path", "filename.basefilename",
// "impedancefilename.path", "impedancefilename.basefilename"
// and returns the owning registry item's name plus the sub-key.
func splitFilenamePath(path string) (owner, key string, ok bool) {
	lower := strings.ToLower(path)
	for _, prefix := range []string{"filename.", "impedancefilename."} {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSuffix(prefix, "."), path[len(prefix):], true
		}
	}
	return "", "", false
}

// splitFirstToken splits s into its first whitespace-delimited token and
// the (trimmed-at-the-front) remainder, tolerating arbitrary internal
// whitespace between tokens.
func splitFirstToken(s string) (first, rest string) {
	s = strings.TrimLeft(s, " \t")
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimLeft(s[idx+1:], " \t")
}

func errorResponse(msg string) Response {
	return Response{Text: "Error: " + msg, IsError: true}
}
