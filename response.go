package maildrop

import (
	"fmt"
	"strconv"
)

// SMTPCode represents SMTP reply codes (RFC 5321).
// 2yz: Success, 3yz: Continue, 4yz: Transient failure, 5yz: Permanent failure.
type SMTPCode int

const (
	// 2xx - Success
	CodeServiceReady            SMTPCode = 220
	CodeServiceClosing          SMTPCode = 221
	CodeOK                      SMTPCode = 250
	CodeUserNotLocalWillForward SMTPCode = 251

	// 3xx - Intermediate
	CodeStartMailInput SMTPCode = 354

	// 4xx - Transient Failure
	CodeServiceUnavailable  SMTPCode = 421
	CodeLocalError          SMTPCode = 451
	CodeInsufficientStorage SMTPCode = 452

	// 5xx - Permanent Failure
	CodeCommandUnrecognized   SMTPCode = 500
	CodeSyntaxError           SMTPCode = 501
	CodeCommandNotImplemented SMTPCode = 502
	CodeBadSequence           SMTPCode = 503
	CodeMailboxNotFound       SMTPCode = 550
)

// Response is a server reply. Lines beyond the first are sent as a
// multi-line reply, with every line but the last using the "code-" form.
type Response struct {
	Code    SMTPCode
	Message string
	More    []string
}

// String returns the reply without the trailing CRLF, lines joined by CRLF.
func (r Response) String() string {
	return string(r.appendLines(nil, false))
}

// AppendTo appends the wire form of r, every line CRLF terminated.
func (r Response) AppendTo(b []byte) []byte {
	return r.appendLines(b, true)
}

func (r Response) appendLines(b []byte, trailing bool) []byte {
	lines := 1 + len(r.More)
	for i := range lines {
		text := r.Message
		if i > 0 {
			text = r.More[i-1]
		}
		b = strconv.AppendInt(b, int64(r.Code), 10)
		if i < lines-1 {
			b = append(b, '-')
		} else {
			b = append(b, ' ')
		}
		b = append(b, text...)
		if i < lines-1 || trailing {
			b = append(b, '\r', '\n')
		}
	}
	return b
}

func (r Response) IsError() bool {
	return r.Code >= 400
}

func (r Response) IsSuccess() bool {
	return r.Code >= 200 && r.Code < 300
}

func ResponseServiceReady(hostname string) Response {
	return Response{Code: CodeServiceReady, Message: hostname + " Service ready"}
}

func ResponseServiceClosing(hostname string) Response {
	return Response{Code: CodeServiceClosing, Message: hostname + " Service closing transmission channel"}
}

func ResponseOK() Response {
	return Response{Code: CodeOK, Message: "OK"}
}

func ResponseHelo(hostname, client string) Response {
	return Response{Code: CodeOK, Message: fmt.Sprintf("%s greets %s", hostname, client)}
}

// ResponseEhlo lists the supported extensions after the greeting line.
func ResponseEhlo(hostname, client string) Response {
	return Response{
		Code:    CodeOK,
		Message: fmt.Sprintf("%s greets %s", hostname, client),
		More:    []string{"VRFY"},
	}
}

func ResponseUserNotLocal(forwardPath string) Response {
	return Response{Code: CodeUserNotLocalWillForward, Message: fmt.Sprintf("User not local; will proceed to <%s>", forwardPath)}
}

func ResponseStartMailInput() Response {
	return Response{Code: CodeStartMailInput, Message: "Start mail input; end with <CRLF>.<CRLF>"}
}

// ResponseClosingChannel is sent on timeouts and rejected clients before
// the connection is closed.
func ResponseClosingChannel() Response {
	return Response{Code: CodeServiceUnavailable, Message: "Closing transmission channel"}
}

func ResponseLineTooLong() Response {
	return Response{Code: CodeServiceUnavailable, Message: "Line too long, closing transmission channel"}
}

func ResponseLocalError() Response {
	return Response{Code: CodeLocalError, Message: "Requested action aborted: error in processing"}
}

func ResponseTooManyRecipients() Response {
	return Response{Code: CodeInsufficientStorage, Message: "Too many recipients"}
}

func ResponseCommandUnrecognized() Response {
	return Response{Code: CodeCommandUnrecognized, Message: "Syntax error, command unrecognized"}
}

func ResponseSyntaxError() Response {
	return Response{Code: CodeSyntaxError, Message: "Syntax error in parameters or arguments"}
}

func ResponseCommandNotImplemented() Response {
	return Response{Code: CodeCommandNotImplemented, Message: "Command not implemented"}
}

func ResponseBadSequence() Response {
	return Response{Code: CodeBadSequence, Message: "Bad sequence of commands"}
}

func ResponseNoSuchUser() Response {
	return Response{Code: CodeMailboxNotFound, Message: "No such user here"}
}
