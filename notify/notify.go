// Package notify sends workflow mail and builds the links embedded in it.
package notify

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Message is the data rendered into workflow mail.
type Message struct {
	Email         string
	DisplayName   string
	DocumentTitle string
	Link          string
}

// Notifier delivers workflow mail.
type Notifier interface {
	SendInvitation(ctx context.Context, msg Message) error
	SendFinal(ctx context.Context, msg Message) error
}

// CodeSender delivers one-time codes.
type CodeSender interface {
	SendOneTimeCode(ctx context.Context, email, code string) error
}

// Links builds frontend URLs.
type Links struct {
	BaseURL string
}

// Completion is the link a recipient follows to fill their fields.
func (l Links) Completion(tok string, external bool) string {
	return fmt.Sprintf("%s/documents/complete/%s?isExternal=%s",
		l.base(), url.PathEscape(tok), strconv.FormatBool(external))
}

// Final is the link to the completed document.
func (l Links) Final(documentID string) string {
	return fmt.Sprintf("%s/documents/final/%s", l.base(), url.PathEscape(documentID))
}

func (l Links) base() string {
	return strings.TrimRight(l.BaseURL, "/")
}

type mail struct {
	subject string
	text    string
}

func invitationMail(msg Message) mail {
	return mail{
		subject: "Action Required: Complete Document",
		text: fmt.Sprintf("Hello %s,\n\nYou have been asked to complete the document '%s'.\n\nOpen it here:\n%s\n",
			displayName(msg.DisplayName), documentTitle(msg.DocumentTitle), msg.Link),
	}
}

func finalMail(msg Message) mail {
	title := documentTitle(msg.DocumentTitle)
	return mail{
		subject: "Document Completed: " + title,
		text: fmt.Sprintf("Hello %s,\n\nThe document '%s' has been completed by all parties.\n\nView the final document:\n%s\n",
			displayName(msg.DisplayName), title, msg.Link),
	}
}

func oneTimeCodeMail(code string) mail {
	return mail{
		subject: "Password Reset OTP",
		text:    fmt.Sprintf("Your one-time code is %s. It expires in 5 minutes.\n", code),
	}
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "User"
	}
	return name
}

func documentTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "Document"
	}
	return title
}
