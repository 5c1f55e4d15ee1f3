package gateway

import (
	"context"
	"sync"

	"github.com/helpdesk_sim/backend/internal/models"
)

type dryRunTicket struct {
	subject  string
	closed   bool
	articles []Article
}

// DryRunGateway is an in-memory ticketing backend for local runs and tests. Agent replies and
// closures are driven through AddAgentReply, AddInternalNote and MarkClosed.
type DryRunGateway struct {
	mu      sync.Mutex
	nextID  int64
	tickets map[int64]*dryRunTicket
}

var _ Gateway = (*DryRunGateway)(nil)

func NewDryRunGateway() *DryRunGateway {
	return &DryRunGateway{nextID: 1000, tickets: map[int64]*dryRunTicket{}}
}

func (g *DryRunGateway) CreateTicket(_ context.Context, t models.GeneratedTicket) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.tickets[id] = &dryRunTicket{
		subject:  t.Subject,
		articles: []Article{{ID: 1, Body: t.Body, Sender: "Customer"}},
	}
	return id, nil
}

func (g *DryRunGateway) FetchNewArticles(_ context.Context, backendID, afterID int64) ([]Article, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickets[backendID]
	if !ok {
		return nil, nil
	}
	var out []Article
	for _, a := range t.articles {
		if a.ID > afterID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (g *DryRunGateway) PostCustomerReply(_ context.Context, backendID int64, body, _ string) error {
	g.append(backendID, Article{Body: body, Sender: "Customer"})
	return nil
}

func (g *DryRunGateway) IsTicketClosed(_ context.Context, backendID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickets[backendID]
	return ok && t.closed, nil
}

func (g *DryRunGateway) CloseTicket(_ context.Context, backendID int64) (bool, error) {
	return g.MarkClosed(backendID), nil
}

func (g *DryRunGateway) DeleteTicket(_ context.Context, backendID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.tickets[backendID]
	delete(g.tickets, backendID)
	return ok, nil
}

func (g *DryRunGateway) AddAgentReply(backendID int64, body string) {
	g.append(backendID, Article{Body: body, Sender: "Agent"})
}

func (g *DryRunGateway) AddInternalNote(backendID int64, body string) {
	g.append(backendID, Article{Body: body, Sender: "Agent", Internal: true})
}

// MarkClosed simulates an analyst closing the ticket in the backend.
func (g *DryRunGateway) MarkClosed(backendID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickets[backendID]
	if !ok {
		return false
	}
	t.closed = true
	return true
}

// Articles returns every article on the ticket, including the opening message.
func (g *DryRunGateway) Articles(backendID int64) []Article {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickets[backendID]
	if !ok {
		return nil
	}
	return append([]Article(nil), t.articles...)
}

func (g *DryRunGateway) append(backendID int64, a Article) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tickets[backendID]
	if !ok {
		t = &dryRunTicket{}
		g.tickets[backendID] = t
	}
	a.ID = int64(len(t.articles) + 1)
	t.articles = append(t.articles, a)
}
