// Package admin implements the Admin API: a namespaced, permission-gated
// RPC surface served over a local Unix socket, plus the admin.Events
// streaming mode, per spec.md §4.4.
package admin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// frameSep is the NUL byte separating fields within a request/response
// frame, exactly as spec.md §4.4/§6 specifies.
const frameSep = 0x00

// Request is one decoded Admin API call.
//
//	<source>\0<method>\0<dest>\0<argument>\0<payload>
//
// source is the caller's Domain name (trusted, supplied by the qrexec
// transport — or, locally, read off SO_PEERCRED and resolved to a name).
// argument carries a property name or other method-specific qualifier
// (e.g. "netvm" in admin.vm.property.Set+netvm); payload is the request
// body, the bytes after the fourth separator up to the next NUL or EOF,
// so a payload cannot itself contain a NUL.
type Request struct {
	Source   string
	Method   string
	Dest     string
	Argument string
	Payload  []byte
}

// ReadRequest parses one frame from r. It does not consume a trailing
// newline; framing on the wire is length-implicit (the connection sends
// exactly one request and waits for exactly one response per call).
func ReadRequest(r *bufio.Reader) (Request, error) {
	fields := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		s, err := r.ReadString(frameSep)
		if err != nil {
			return Request{}, fmt.Errorf("admin: read request field %d: %w", i, err)
		}
		fields = append(fields, s[:len(s)-1])
	}
	payload, err := r.ReadBytes(frameSep)
	if err != nil && len(payload) == 0 && !errors.Is(err, io.EOF) {
		// payload may legitimately be empty and unterminated at EOF for
		// the last frame on a connection that's being torn down; only a
		// genuine read error with no bytes at all is fatal here.
		return Request{}, fmt.Errorf("admin: read request payload: %w", err)
	}
	if len(payload) > 0 && payload[len(payload)-1] == frameSep {
		payload = payload[:len(payload)-1]
	}
	return Request{
		Source:   fields[0],
		Method:   fields[1],
		Dest:     fields[2],
		Argument: fields[3],
		Payload:  payload,
	}, nil
}

// Response is the wire-encoded outcome of a Request: either success
// (Output, no Err) or a typed exception.
type Response struct {
	Output []byte

	Err         bool
	ExcType     string
	Traceback   string
	ExcMessage  string
}

// EncodeSuccess builds "0\0<output>".
func EncodeSuccess(output []byte) Response { return Response{Output: output} }

// EncodeException builds "2\0<exception-type>\0<traceback>\0<message>\0".
func EncodeException(excType, traceback, message string) Response {
	return Response{Err: true, ExcType: excType, Traceback: traceback, ExcMessage: message}
}

// Bytes renders the response frame for writing to the connection.
func (r Response) Bytes() []byte {
	if !r.Err {
		out := make([]byte, 0, len(r.Output)+2)
		out = append(out, '0', frameSep)
		out = append(out, r.Output...)
		return out
	}
	out := append([]byte{'2', frameSep}, r.ExcType...)
	out = append(out, frameSep)
	out = append(out, r.Traceback...)
	out = append(out, frameSep)
	out = append(out, r.ExcMessage...)
	out = append(out, frameSep)
	return out
}
