package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/jhillyerd/enmime"

	y2g_errors "github.com/mailfwd/y2g/errors"
	"github.com/mailfwd/y2g/internal/utils"
)

const (
	HeaderSource      = "X-Y2G-Source"
	HeaderMailbox     = "X-Y2G-Mailbox"
	HeaderUIDValidity = "X-Y2G-UIDValidity"
	HeaderUID         = "X-Y2G-UID"
	HeaderSHA256      = "X-Y2G-RFC822-SHA256"

	sourceName = "yahoo"
)

// SHA256Hex returns the lowercase hex digest of the raw message bytes.
func SHA256Hex(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// PrepareRawMessage verifies the body against the digest captured at fetch
// time and injects the trace headers. Any drift between fetch and delivery is
// a permanent failure.
func PrepareRawMessage(raw []byte, mailbox string, uidvalidity, uid uint32, expectedSHA string) ([]byte, error) {
	if SHA256Hex(raw) != expectedSHA {
		return nil, y2g_errors.NewPipelineError("RFC822 SHA256 mismatch")
	}
	return AddTraceHeaders(raw, mailbox, uidvalidity, uid, expectedSHA)
}

// AddTraceHeaders appends the provenance headers to the end of the header
// section, using the message's own line ending. The body bytes are unchanged.
func AddTraceHeaders(raw []byte, mailbox string, uidvalidity, uid uint32, shaHex string) ([]byte, error) {
	eol := "\r\n"
	idx := bytes.Index(raw, []byte("\r\n\r\n"))
	if idx < 0 {
		eol = "\n"
		idx = bytes.Index(raw, []byte("\n\n"))
	}
	if idx < 0 {
		return nil, y2g_errors.NewPipelineError("no header/body separator in message")
	}

	var block bytes.Buffer
	for _, header := range [][2]string{
		{HeaderSource, sourceName},
		{HeaderMailbox, mailbox},
		{HeaderUIDValidity, fmt.Sprintf("%d", uidvalidity)},
		{HeaderUID, fmt.Sprintf("%d", uid)},
		{HeaderSHA256, shaHex},
	} {
		block.WriteString(eol)
		block.WriteString(header[0])
		block.WriteString(": ")
		block.WriteString(header[1])
	}

	result := make([]byte, 0, len(raw)+block.Len())
	result = append(result, raw[:idx]...)
	result = append(result, block.Bytes()...)
	result = append(result, raw[idx:]...)
	return result, nil
}

// ExtractMessageID returns the Message-Id header as its first angle-bracketed
// token, the trimmed value when no token exists, or nil when absent.
func ExtractMessageID(raw []byte) *string {
	value := headerValue(raw, "Message-Id")
	token := utils.FirstAngleToken(value)
	if token == "" {
		return nil
	}
	return &token
}

// ThreadCandidates returns the message ids to try for thread resolution:
// In-Reply-To first, then the References tokens from last to first.
func ThreadCandidates(raw []byte) []string {
	var candidates []string

	if inReplyTo := utils.FirstAngleToken(headerValue(raw, "In-Reply-To")); inReplyTo != "" {
		candidates = append(candidates, inReplyTo)
	}

	refs := utils.AngleTokens(headerValue(raw, "References"))
	for i := len(refs) - 1; i >= 0; i-- {
		candidates = append(candidates, refs[i])
	}

	return candidates
}

// BuildLabelIDs computes the destination labels: the custom label when
// configured, INBOX when delivery there is enabled, and UNREAD unless the
// captured flags carry the exact \Seen token.
func BuildLabelIDs(customLabelID string, deliverToInbox bool, flags []string, inboxLabelID, unreadLabelID string) []string {
	var labels []string
	if customLabelID != "" {
		labels = append(labels, customLabelID)
	}
	if deliverToInbox && inboxLabelID != "" {
		labels = append(labels, inboxLabelID)
	}

	seen := false
	for _, flag := range flags {
		if flag == `\Seen` {
			seen = true
			break
		}
	}
	if !seen && unreadLabelID != "" {
		labels = append(labels, unreadLabelID)
	}

	return labels
}

func headerValue(raw []byte, name string) string {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	return env.GetHeader(name)
}
