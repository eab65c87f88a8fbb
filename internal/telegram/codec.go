package telegram

import (
	"errors"
	"fmt"
	"strings"

	"github.com/anatolio-deb/joinbot/internal/workflow"
)

// Callback data prefixes. Telegram limits callback data to 64 bytes; plan ids
// are at most 32 and request ids are uuids.
const (
	planPrefix   = "plan:"
	decidePrefix = "decide:"
)

var errBadCallback = errors.New("malformed callback data")

func planCallback(planID string) string {
	return planPrefix + planID
}

func parsePlanCallback(data string) (string, error) {
	id, ok := strings.CutPrefix(data, planPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %q", errBadCallback, data)
	}
	return id, nil
}

func decideCallback(d workflow.Decision, requestID string) string {
	return decidePrefix + string(d) + ":" + requestID
}

func parseDecideCallback(data string) (workflow.Decision, string, error) {
	rest, ok := strings.CutPrefix(data, decidePrefix)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", errBadCallback, data)
	}
	decision, requestID, ok := strings.Cut(rest, ":")
	d := workflow.Decision(decision)
	if !ok || requestID == "" || !d.Valid() {
		return "", "", fmt.Errorf("%w: %q", errBadCallback, data)
	}
	return d, requestID, nil
}

type receiptKind string

const (
	receiptPhoto    receiptKind = "photo"
	receiptDocument receiptKind = "document"
)

// A receipt reference is the Telegram file id prefixed with its media kind,
// which is what forwarding it to the reviewer needs.
func encodeReceipt(kind receiptKind, fileID string) string {
	return string(kind) + ":" + fileID
}

func decodeReceipt(ref string) (receiptKind, string, bool) {
	kind, fileID, ok := strings.Cut(ref, ":")
	if !ok || fileID == "" {
		return "", "", false
	}
	switch receiptKind(kind) {
	case receiptPhoto, receiptDocument:
		return receiptKind(kind), fileID, true
	}
	return "", "", false
}
