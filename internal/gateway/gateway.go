package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/helpdesk_sim/backend/internal/models"
)

// Article is one message or note on a backend ticket.
type Article struct {
	ID       int64  `json:"id"`
	Body     string `json:"body"`
	Sender   string `json:"sender"`
	Internal bool   `json:"internal"`
}

func (a Article) IsAgent() bool {
	sender := strings.ToLower(a.Sender)
	return strings.Contains(sender, "agent") || strings.Contains(sender, "system")
}

// ShouldTriggerReply is true for public agent or system articles.
func (a Article) ShouldTriggerReply() bool {
	return a.IsAgent() && !a.Internal
}

// Gateway is the ticketing backend. Every call may fail with a transport or HTTP error.
type Gateway interface {
	CreateTicket(ctx context.Context, t models.GeneratedTicket) (int64, error)
	// FetchNewArticles returns articles with id > afterID in ascending id order.
	FetchNewArticles(ctx context.Context, backendID, afterID int64) ([]Article, error)
	PostCustomerReply(ctx context.Context, backendID int64, body, subject string) error
	IsTicketClosed(ctx context.Context, backendID int64) (bool, error)
	CloseTicket(ctx context.Context, backendID int64) (bool, error)
	DeleteTicket(ctx context.Context, backendID int64) (bool, error)
}

type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("ticketing backend %s %s failed with %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	return models.ErrUpstreamUnavailable
}

func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}
