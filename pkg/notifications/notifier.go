// Package notifications delivers sweep outcomes through Shoutrrr service URLs
// (slack://..., discord://..., and friends). The sweep sends one summary
// message before scanning and one outcome message per completed scan; the
// send subcommand reuses the same sender for ad-hoc messages and report files.
package notifications

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/sirupsen/logrus"

	shoutrrrTypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// maxFileMessageRunes caps how much of a report file is embedded into a
// single message; Slack rejects larger payloads.
const maxFileMessageRunes = 28000

// LocalLog is a logrus entry used for logging around notification delivery
// itself, kept distinct so delivery problems are visible in local logs.
var LocalLog = logrus.WithField("notify", "no")

// errSendFailed aggregates per-service delivery failures.
var errSendFailed = errors.New("failed to send notification")

// router is the sending interface implemented by the Shoutrrr service router.
// It is abstracted so tests can capture messages.
type router interface {
	Send(message string, params *shoutrrrTypes.Params) []error
}

// Notifier sends messages to every configured service URL. A Notifier built
// with no URLs degrades to local logging, keeping callers free of nil checks.
type Notifier struct {
	urls   []string
	router router
	params *shoutrrrTypes.Params
}

// New creates a Notifier for the given Shoutrrr URLs. The title, when set, is
// passed to services that support titled messages.
func New(urls []string, title string) (*Notifier, error) {
	params := &shoutrrrTypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	notifier := &Notifier{urls: urls, params: params}

	if len(urls) == 0 {
		logrus.Debug("No notification URLs configured, outcomes are logged locally only")

		return notifier, nil
	}

	logger := log.New(logrus.StandardLogger().WriterLevel(logrus.TraceLevel), "Shoutrrr: ", 0)

	sender, err := shoutrrr.NewSender(logger, urls...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize notification sender: %w", err)
	}

	notifier.router = sender

	return notifier, nil
}

// Names returns the service names (URL schemes) of the configured sinks.
func (n *Notifier) Names() []string {
	names := make([]string, len(n.urls))
	for i, u := range n.urls {
		names[i] = GetScheme(u)
	}

	return names
}

// SendMessage delivers one text message to every configured service.
func (n *Notifier) SendMessage(message string) error {
	if n.router == nil {
		LocalLog.Info(message)

		return nil
	}

	return n.send(message, n.params)
}

// SendFile delivers the contents of a report file as a titled, fenced
// message, truncating oversized reports to fit service limits.
func (n *Notifier) SendFile(path, title string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read report file: %w", err)
	}

	body := strings.TrimRight(string(contents), "\n")
	if runes := []rune(body); len(runes) > maxFileMessageRunes {
		body = string(runes[:maxFileMessageRunes]) + "\n... (truncated)"
	}

	message := fmt.Sprintf("%s\n```\n%s\n```", title, body)

	params := &shoutrrrTypes.Params{}
	params.SetTitle(title)

	if n.router == nil {
		LocalLog.WithField("file", path).Info(message)

		return nil
	}

	return n.send(message, params)
}

// send pushes one message through the router, aggregating per-service errors.
func (n *Notifier) send(message string, params *shoutrrrTypes.Params) error {
	var failures []error

	for i, err := range n.router.Send(message, params) {
		if err == nil {
			continue
		}

		service := "unknown"
		if i < len(n.urls) {
			service = GetScheme(n.urls[i])
		}

		LocalLog.WithError(err).WithField("service", service).Error("Failed to send notification")
		failures = append(failures, fmt.Errorf("%s: %w", service, err))
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: %w", errSendFailed, errors.Join(failures...))
	}

	return nil
}

// GetScheme extracts the scheme part of a Shoutrrr URL.
// It returns "invalid" if no scheme is found.
func GetScheme(url string) string {
	schemeEnd := strings.Index(url, ":")
	if schemeEnd <= 0 {
		return "invalid"
	}

	return url[:schemeEnd]
}
