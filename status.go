package docchat

import "fmt"

// Codes that mark a client-initiated cancellation rather than a failure.
// 20 is the abort code browsers report for an aborted fetch.
const (
	CodeCanceled = 0
	CodeAborted  = 20
)

// Codes used by the streaming path when a response cannot be streamed.
const (
	CodeNoStreamHandler = 701
	CodeNoStreamBody    = 702
)

// CodeSuccess is the envelope code of a successful application response.
const CodeSuccess = 200

var statusMessages = map[int]string{
	CodeCanceled:        "request canceled.",
	CodeAborted:         "request canceled.",
	400:                 "request failed! the request was not submitted to the server.",
	401:                 "session expired! the user is not authorized (token, username or password invalid).",
	403:                 "the current account is not allowed to access this resource!",
	404:                 "the requested resource does not exist!",
	405:                 "request method not allowed!",
	406:                 "the requested format is not available.",
	408:                 "request timed out! please retry later.",
	422:                 "request failed! unprocessable content.",
	500:                 "internal server error, please check the server.",
	502:                 "bad gateway!",
	503:                 "service unavailable, the server is overloaded or under maintenance.",
	504:                 "gateway timeout!",
	CodeNoStreamHandler: "stream failed, no callback is registered to handle it!",
	CodeNoStreamBody:    "stream failed, the response has no body!",
}

const fallbackStatusMessage = "request failed!"

// Status is a normalized code and its human readable message.
type Status struct {
	Code    int
	Message string
}

// IsCancelCode reports whether code denotes a client-initiated cancellation.
func IsCancelCode(code int) bool {
	return code == CodeCanceled || code == CodeAborted
}

// StatusMessage maps a transport or application code to its message.
// Unmapped codes get the generic fallback.
func StatusMessage(code int) string {
	if msg, ok := statusMessages[code]; ok {
		return msg
	}
	return fallbackStatusMessage
}

// Notifier receives user-facing notifications raised by the translator.
type Notifier interface {
	Info(message string)
	Error(message string)
}

// NotifierFunc adapts a function to Notifier. cancel is true for
// informational cancellation notices.
type NotifierFunc func(message string, cancel bool)

func (f NotifierFunc) Info(message string)  { f(message, true) }
func (f NotifierFunc) Error(message string) { f(message, false) }

// LogNotifier routes notifications to a Logger.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) Info(message string) {
	if n.Logger != nil {
		n.Logger.Info(message)
	}
}

func (n LogNotifier) Error(message string) {
	if n.Logger != nil {
		n.Logger.Error(message)
	}
}

// Translator turns codes into Status values and optionally notifies the user.
// A nil Notifier makes it a pure mapper.
type Translator struct {
	Notifier Notifier
}

// Check translates code. extra is appended to the message; alert controls
// whether a notification is emitted. Cancellation codes are never reported
// as errors.
func (t Translator) Check(code int, extra string, alert bool) Status {
	message := StatusMessage(code)
	if IsCancelCode(code) {
		if alert && t.Notifier != nil {
			t.Notifier.Info(message)
		}
		return Status{Code: code, Message: message}
	}

	if extra != "" {
		message += " " + extra
	}
	if alert && t.Notifier != nil {
		t.Notifier.Error(fmt.Sprintf("request failed! status code: %d, %s", code, message))
	}
	return Status{Code: code, Message: message}
}
