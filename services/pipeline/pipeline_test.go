package pipeline

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	y2g_errors "github.com/mailfwd/y2g/errors"
)

const crlfMessage = "From: a@example.com\r\n" +
	"To: b@example.com\r\n" +
	"Message-Id: <orig-123@yahoo.com>\r\n" +
	"Subject: hello\r\n" +
	"\r\n" +
	"body line one\r\nbody line two\r\n"

func TestAddTraceHeaders_PreservesBodyBytes(t *testing.T) {
	// Arrange
	raw := []byte(crlfMessage)
	sha := SHA256Hex(raw)

	// Act
	result, err := AddTraceHeaders(raw, "INBOX", 42, 7, sha)

	// Assert
	require.NoError(t, err)
	sep := bytes.Index(result, []byte("\r\n\r\n"))
	require.True(t, sep >= 0)
	assert.Equal(t, "body line one\r\nbody line two\r\n", string(result[sep+4:]))

	headers := string(result[:sep])
	assert.Contains(t, headers, "X-Y2G-Source: yahoo")
	assert.Contains(t, headers, "X-Y2G-Mailbox: INBOX")
	assert.Contains(t, headers, "X-Y2G-UIDValidity: 42")
	assert.Contains(t, headers, "X-Y2G-UID: 7")
	assert.Contains(t, headers, "X-Y2G-RFC822-SHA256: "+sha)
	// Original headers unchanged and still first
	assert.True(t, strings.HasPrefix(headers, "From: a@example.com"))
}

func TestAddTraceHeaders_UsesLFWhenMessageIsLFOnly(t *testing.T) {
	// Arrange
	raw := []byte("From: a@example.com\nSubject: hi\n\nbody\n")

	// Act
	result, err := AddTraceHeaders(raw, "Bulk", 1, 2, SHA256Hex(raw))

	// Assert
	require.NoError(t, err)
	assert.NotContains(t, string(result), "\r\n")
	sep := bytes.Index(result, []byte("\n\n"))
	require.True(t, sep >= 0)
	assert.Equal(t, "body\n", string(result[sep+2:]))
}

func TestAddTraceHeaders_MissingSeparatorFails(t *testing.T) {
	// Act
	_, err := AddTraceHeaders([]byte("From: a@example.com\r\nno body separator"), "INBOX", 1, 1, "abc")

	// Assert
	require.Error(t, err)
	assert.NotNil(t, y2g_errors.AsPipelineError(err))
}

func TestPrepareRawMessage_DetectsSHAMismatch(t *testing.T) {
	// Act
	_, err := PrepareRawMessage([]byte(crlfMessage), "INBOX", 42, 7, "deadbeef")

	// Assert
	require.Error(t, err)
	assert.NotNil(t, y2g_errors.AsPipelineError(err))
	assert.Contains(t, err.Error(), "SHA256 mismatch")
}

func TestExtractMessageID(t *testing.T) {
	// Act
	id := ExtractMessageID([]byte(crlfMessage))

	// Assert
	require.NotNil(t, id)
	assert.Equal(t, "<orig-123@yahoo.com>", *id)
}

func TestExtractMessageID_MissingHeader(t *testing.T) {
	// Act
	id := ExtractMessageID([]byte("From: a@example.com\r\n\r\nbody"))

	// Assert
	assert.Nil(t, id)
}

func TestThreadCandidates_InReplyToFirstThenReferencesReversed(t *testing.T) {
	// Arrange
	raw := []byte("From: a@example.com\r\n" +
		"In-Reply-To: <reply@x>\r\n" +
		"References: <first@x> <second@x> <third@x>\r\n" +
		"\r\n" +
		"body")

	// Act
	candidates := ThreadCandidates(raw)

	// Assert
	assert.Equal(t, []string{"<reply@x>", "<third@x>", "<second@x>", "<first@x>"}, candidates)
}

func TestThreadCandidates_NoThreadHeaders(t *testing.T) {
	// Act
	candidates := ThreadCandidates([]byte(crlfMessage))

	// Assert
	assert.Empty(t, candidates)
}

func TestBuildLabelIDs_UnseenMessageGetsUnread(t *testing.T) {
	// Act
	labels := BuildLabelIDs("Label_7", true, []string{`\Flagged`}, "INBOX", "UNREAD")

	// Assert
	assert.Equal(t, []string{"Label_7", "INBOX", "UNREAD"}, labels)
}

func TestBuildLabelIDs_SeenMessageSkipsUnread(t *testing.T) {
	// Act
	labels := BuildLabelIDs("Label_7", true, []string{`\Seen`}, "INBOX", "UNREAD")

	// Assert
	assert.Equal(t, []string{"Label_7", "INBOX"}, labels)
}

func TestBuildLabelIDs_InboxDeliveryDisabled(t *testing.T) {
	// Act
	labels := BuildLabelIDs("Label_7", false, nil, "INBOX", "UNREAD")

	// Assert
	assert.Equal(t, []string{"Label_7", "UNREAD"}, labels)
}
