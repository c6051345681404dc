package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/mailfwd/y2g/interfaces"
	"github.com/mailfwd/y2g/internal/logger"
	"github.com/mailfwd/y2g/internal/tracing"
	"github.com/mailfwd/y2g/internal/utils"
)

type deliveryClient struct {
	svc       *gmailapi.Service
	user      string
	accountID uint64
	labels    interfaces.GmailLabelRepository
	log       logger.Logger
}

// NewDeliveryClient wraps a ready API service for one destination account.
func NewDeliveryClient(svc *gmailapi.Service, user string, accountID uint64, labels interfaces.GmailLabelRepository, log logger.Logger) interfaces.GmailDelivery {
	return &deliveryClient{
		svc:       svc,
		user:      user,
		accountID: accountID,
		labels:    labels,
		log:       log,
	}
}

// ImportRawMessage imports the RFC822 bytes with the given labels and thread,
// taking the message date from the Date header rather than the import time.
// Returns the created message id and its thread id.
func (s *deliveryClient) ImportRawMessage(ctx context.Context, raw []byte, labelIDs []string, threadID string) (string, string, error) {
	span, ctx := tracing.StartTracerSpan(ctx, "GmailDelivery.ImportRawMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	msg := &gmailapi.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		LabelIds: labelIDs,
	}
	if threadID != "" {
		msg.ThreadId = threadID
	}

	imported, err := s.svc.Users.Messages.Import(s.user, msg).
		InternalDateSource("dateHeader").
		Context(ctx).
		Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return "", "", fmt.Errorf("failed to import message: %w", err)
	}

	return imported.Id, imported.ThreadId, nil
}

// FindThreadByMessageID resolves a Message-Id header value to an existing
// thread id, or "" when no thread matches. Metadata access can be denied with
// a restricted scope set; that also resolves to no thread.
func (s *deliveryClient) FindThreadByMessageID(ctx context.Context, messageID string) (string, error) {
	span, ctx := tracing.StartTracerSpan(ctx, "GmailDelivery.FindThreadByMessageID")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	list, err := s.svc.Users.Messages.List(s.user).
		Q("rfc822msgid:" + utils.NormalizeMessageID(messageID)).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		if isForbidden(err) {
			s.log.Debugf("thread lookup forbidden for %s, importing without thread", messageID)
			return "", nil
		}
		tracing.TraceErr(span, err)
		return "", fmt.Errorf("failed to search for message id %s: %w", messageID, err)
	}
	if len(list.Messages) == 0 {
		return "", nil
	}

	found, err := s.svc.Users.Messages.Get(s.user, list.Messages[0].Id).
		Format("metadata").
		Context(ctx).
		Do()
	if err != nil {
		if isForbidden(err) {
			return "", nil
		}
		tracing.TraceErr(span, err)
		return "", fmt.Errorf("failed to get message %s: %w", list.Messages[0].Id, err)
	}

	return found.ThreadId, nil
}

// EnsureLabel returns the label id for the given name, creating the label on
// first use. Resolved ids are cached in the database.
func (s *deliveryClient) EnsureLabel(ctx context.Context, name string) (string, error) {
	// An empty name means the custom label is disabled.
	if name == "" {
		return "", nil
	}

	span, ctx := tracing.StartTracerSpan(ctx, "GmailDelivery.EnsureLabel")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	cached, err := s.labels.Get(ctx, s.accountID, name)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if cached != nil {
		return cached.LabelID, nil
	}

	existing, err := s.svc.Users.Labels.List(s.user).Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return "", fmt.Errorf("failed to list labels: %w", err)
	}
	for _, label := range existing.Labels {
		if strings.EqualFold(label.Name, name) {
			if err := s.labels.Save(ctx, s.accountID, name, label.Id); err != nil {
				tracing.TraceErr(span, err)
				return "", err
			}
			return label.Id, nil
		}
	}

	created, err := s.svc.Users.Labels.Create(s.user, &gmailapi.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		tracing.TraceErr(span, err)
		return "", fmt.Errorf("failed to create label %s: %w", name, err)
	}

	s.log.Infof("Created label %s (%s)", name, created.Id)
	if err := s.labels.Save(ctx, s.accountID, name, created.Id); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	return created.Id, nil
}

// SystemLabelIDs resolves built-in labels. Their ids are their canonical
// names, so no API round trip is needed.
func (s *deliveryClient) SystemLabelIDs(ctx context.Context, names []string) (map[string]string, error) {
	ids := make(map[string]string, len(names))
	for _, name := range names {
		ids[name] = name
	}
	return ids, nil
}

func isForbidden(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == 403
}
