package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/helpdesk_sim/backend/internal/models"
)

type ZammadGateway struct {
	BaseURL               string
	Token                 string
	Groups                map[models.Tier]string
	CustomerFallbackEmail string
	MinInterval           time.Duration
	Client                *http.Client

	mu             sync.Mutex
	lastReqAt      time.Time
	knownCustomers map[string]struct{}
	stateIDs       map[string]*int64
}

var _ Gateway = (*ZammadGateway)(nil)

var priorityNames = map[models.Priority]string{
	models.PriorityLow:      "1 low",
	models.PriorityNormal:   "2 normal",
	models.PriorityHigh:     "3 high",
	models.PriorityCritical: "4 urgent",
}

var defaultGroups = map[models.Tier]string{
	models.TierTier1:    "Service Desk",
	models.TierTier2:    "Tier 2",
	models.TierSysadmin: "Systems",
}

type zammadArticle struct {
	ID       int64  `json:"id"`
	Body     string `json:"body"`
	Content  string `json:"content"`
	Sender   string `json:"sender"`
	From     string `json:"from"`
	Internal bool   `json:"internal"`
}

type zammadTicket struct {
	ID        int64  `json:"id"`
	State     string `json:"state"`
	StateName string `json:"state_name"`
	StateType string `json:"state_type"`
	StateID   *int64 `json:"state_id"`
}

func (g *ZammadGateway) CreateTicket(ctx context.Context, t models.GeneratedTicket) (int64, error) {
	customer, err := g.resolveCustomer(ctx, t)
	if err != nil {
		return 0, err
	}
	payload := map[string]any{
		"title":    t.Subject,
		"group":    g.group(t.Tier),
		"customer": customer,
		"owner_id": 1,
		"state":    "new",
		"priority": priorityNames[t.Priority],
		"article": map[string]any{
			"subject":  t.Subject,
			"body":     t.Body,
			"type":     "note",
			"internal": false,
			"sender":   "Customer",
		},
	}
	if id := g.stateID(ctx, "new"); id != nil {
		payload["state_id"] = *id
	}

	var created struct {
		ID *int64 `json:"id"`
	}
	if err := g.request(ctx, http.MethodPost, "/api/v1/tickets", payload, &created); err != nil {
		return 0, err
	}
	if created.ID == nil {
		return 0, errors.New("zammad ticket creation did not return an id")
	}
	return *created.ID, nil
}

func (g *ZammadGateway) FetchNewArticles(ctx context.Context, backendID, afterID int64) ([]Article, error) {
	var items []zammadArticle
	if err := g.request(ctx, http.MethodGet, fmt.Sprintf("/api/v1/ticket_articles/by_ticket/%d", backendID), nil, &items); err != nil {
		return nil, err
	}
	var out []Article
	for _, item := range items {
		if item.ID <= afterID {
			continue
		}
		body := item.Body
		if body == "" {
			body = item.Content
		}
		sender := item.Sender
		if sender == "" {
			sender = item.From
		}
		if sender == "" {
			sender = "unknown"
		}
		out = append(out, Article{ID: item.ID, Body: strings.TrimSpace(body), Sender: sender, Internal: item.Internal})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (g *ZammadGateway) PostCustomerReply(ctx context.Context, backendID int64, body, subject string) error {
	payload := map[string]any{
		"ticket_id": backendID,
		"subject":   subject,
		"body":      body,
		"type":      "note",
		"internal":  false,
		"sender":    "Customer",
	}
	return g.request(ctx, http.MethodPost, "/api/v1/ticket_articles", payload, nil)
}

func (g *ZammadGateway) IsTicketClosed(ctx context.Context, backendID int64) (bool, error) {
	var t zammadTicket
	if err := g.request(ctx, http.MethodGet, fmt.Sprintf("/api/v1/tickets/%d", backendID), nil, &t); err != nil {
		return false, err
	}
	state := firstNonEmpty(t.State, t.StateName, t.StateType)
	if state != "" {
		return strings.Contains(strings.ToLower(state), "closed"), nil
	}
	if t.StateID == nil {
		return false, nil
	}
	var meta struct {
		StateType     string `json:"state_type"`
		StateTypeName string `json:"state_type_name"`
		Name          string `json:"name"`
	}
	if err := g.request(ctx, http.MethodGet, fmt.Sprintf("/api/v1/ticket_states/%d", *t.StateID), nil, &meta); err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(firstNonEmpty(meta.StateType, meta.StateTypeName, meta.Name)), "closed"), nil
}

func (g *ZammadGateway) CloseTicket(ctx context.Context, backendID int64) (bool, error) {
	payload := map[string]any{"state": "closed"}
	if id := g.stateID(ctx, "closed"); id != nil {
		payload["state_id"] = *id
	}
	if err := g.request(ctx, http.MethodPut, fmt.Sprintf("/api/v1/tickets/%d", backendID), payload, nil); err != nil {
		return false, err
	}
	return g.IsTicketClosed(ctx, backendID)
}

// DeleteTicket tries the delete routes known across Zammad versions and confirms the ticket
// is gone afterwards.
func (g *ZammadGateway) DeleteTicket(ctx context.Context, backendID int64) (bool, error) {
	paths := []string{
		fmt.Sprintf("/api/v1/tickets/%d", backendID),
		fmt.Sprintf("/api/v1/tickets/%d?force=true", backendID),
		fmt.Sprintf("/api/v1/ticket/%d", backendID),
	}
	var lastErr error
	for _, path := range paths {
		if err := g.request(ctx, http.MethodDelete, path, nil, nil); err != nil {
			lastErr = err
			continue
		}
		missing, err := g.isMissing(ctx, backendID)
		if err != nil {
			return false, err
		}
		if missing {
			return true, nil
		}
		lastErr = fmt.Errorf("ticket %d still exists after DELETE %s", backendID, path)
	}
	missing, err := g.isMissing(ctx, backendID)
	if err != nil {
		return false, err
	}
	if missing {
		return true, nil
	}
	return false, fmt.Errorf("delete ticket %d: %w", backendID, lastErr)
}

func (g *ZammadGateway) isMissing(ctx context.Context, backendID int64) (bool, error) {
	err := g.request(ctx, http.MethodGet, fmt.Sprintf("/api/v1/tickets/%d", backendID), nil, nil)
	if err == nil {
		return false, nil
	}
	if IsNotFound(err) {
		return true, nil
	}
	return false, err
}

func (g *ZammadGateway) group(tier models.Tier) string {
	if name, ok := g.Groups[tier]; ok && name != "" {
		return name
	}
	return defaultGroups[tier]
}

// resolveCustomer makes sure the persona exists as a Zammad customer, falling back to the
// configured catch-all address when that fails.
func (g *ZammadGateway) resolveCustomer(ctx context.Context, t models.GeneratedTicket) (string, error) {
	email := strings.ToLower(strings.TrimSpace(t.CustomerEmail))
	fallback := strings.ToLower(strings.TrimSpace(g.CustomerFallbackEmail))
	if email == "" {
		if fallback != "" {
			return fallback, nil
		}
		return "", errors.New("ticket customer email is missing and no fallback email is configured")
	}
	if err := g.ensureCustomer(ctx, t.CustomerName, email, t.HiddenTruth.Persona.Role); err != nil {
		if fallback != "" {
			return fallback, nil
		}
		return "", fmt.Errorf("resolve customer %s: %w", email, err)
	}
	return email, nil
}

func (g *ZammadGateway) ensureCustomer(ctx context.Context, fullName, email, department string) error {
	g.mu.Lock()
	_, known := g.knownCustomers[email]
	g.mu.Unlock()
	if known {
		return nil
	}

	var found []map[string]any
	searchErr := g.search(ctx, "/api/v1/users/search", email, &found)
	if searchErr == nil {
		for _, row := range found {
			if strings.EqualFold(stringField(row, "email"), email) {
				g.remember(email)
				return nil
			}
		}
	}

	first, last := splitName(fullName)
	payload := map[string]any{
		"firstname": first,
		"lastname":  last,
		"email":     email,
		"active":    true,
	}
	if department != "" {
		payload["note"] = "Department: " + department
	}
	if roleID := g.customerRoleID(ctx); roleID != nil {
		payload["role_ids"] = []int64{*roleID}
	}
	err := g.request(ctx, http.MethodPost, "/api/v1/users", payload, nil)
	if err == nil {
		g.remember(email)
		return nil
	}
	// a failed search can hide an existing user; the create error then names the duplicate
	var httpErr *HTTPError
	if searchErr != nil && errors.As(err, &httpErr) {
		msg := strings.ToLower(httpErr.Body)
		if strings.Contains(msg, "already been taken") || strings.Contains(msg, "already exists") {
			g.remember(email)
			return nil
		}
	}
	return err
}

func (g *ZammadGateway) remember(email string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.knownCustomers == nil {
		g.knownCustomers = map[string]struct{}{}
	}
	g.knownCustomers[email] = struct{}{}
}

func (g *ZammadGateway) customerRoleID(ctx context.Context) *int64 {
	var raw json.RawMessage
	if err := g.request(ctx, http.MethodGet, "/api/v1/roles", nil, &raw); err != nil {
		return nil
	}
	for _, row := range extractRows(raw) {
		if strings.EqualFold(strings.TrimSpace(stringField(row, "name")), "customer") {
			return intField(row, "id")
		}
	}
	return nil
}

// stateID resolves and caches a ticket state id by name; "closed" matches any closed state type.
func (g *ZammadGateway) stateID(ctx context.Context, want string) *int64 {
	g.mu.Lock()
	if id, ok := g.stateIDs[want]; ok {
		g.mu.Unlock()
		return id
	}
	g.mu.Unlock()

	var found *int64
	var raw json.RawMessage
	if err := g.request(ctx, http.MethodGet, "/api/v1/ticket_states", nil, &raw); err == nil {
		for _, row := range extractRows(raw) {
			name := strings.ToLower(strings.TrimSpace(stringField(row, "name")))
			stateType := strings.ToLower(strings.TrimSpace(firstNonEmpty(stringField(row, "state_type"), stringField(row, "state_type_name"))))
			var match bool
			if want == "closed" {
				match = strings.Contains(name, "closed") || strings.Contains(stateType, "closed")
			} else {
				match = name == want || stateType == want
			}
			if match {
				found = intField(row, "id")
				if found != nil {
					break
				}
			}
		}
	}

	g.mu.Lock()
	if g.stateIDs == nil {
		g.stateIDs = map[string]*int64{}
	}
	g.stateIDs[want] = found
	g.mu.Unlock()
	return found
}

func (g *ZammadGateway) search(ctx context.Context, path, query string, out *[]map[string]any) error {
	var raw json.RawMessage
	if err := g.request(ctx, http.MethodGet, path+"?query="+url.QueryEscape(query), nil, &raw); err != nil {
		return err
	}
	*out = extractRows(raw)
	return nil
}

func (g *ZammadGateway) request(ctx context.Context, method, path string, body any, out any) error {
	if g.Client == nil {
		g.Client = &http.Client{Timeout: 20 * time.Second}
	}
	if err := g.pace(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.BaseURL, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token token="+g.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("zammad %s %s: %w: %v", method, path, models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// pace holds a request back until MinInterval has passed since the previous one.
func (g *ZammadGateway) pace(ctx context.Context) error {
	if g.MinInterval <= 0 {
		return nil
	}
	g.mu.Lock()
	wait := time.Until(g.lastReqAt.Add(g.MinInterval))
	if wait > 0 {
		g.mu.Unlock()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		g.mu.Lock()
	}
	g.lastReqAt = time.Now()
	g.mu.Unlock()
	return nil
}

// extractRows normalizes the list shapes Zammad returns: bare arrays, wrapped arrays or maps,
// and expanded asset payloads.
func extractRows(raw json.RawMessage) []map[string]any {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	for _, key := range []string{"data", "result", "roles", "users"} {
		value, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, &list); err == nil {
			return list
		}
		var byID map[string]map[string]any
		if err := json.Unmarshal(value, &byID); err == nil {
			return mapValues(byID)
		}
	}
	if assets, ok := obj["assets"]; ok {
		var grouped map[string]map[string]map[string]any
		if err := json.Unmarshal(assets, &grouped); err == nil {
			var out []map[string]any
			for _, group := range grouped {
				out = append(out, mapValues(group)...)
			}
			return out
		}
	}
	return nil
}

func mapValues(m map[string]map[string]any) []map[string]any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]any, 0, len(m))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

func stringField(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func intField(row map[string]any, key string) *int64 {
	if v, ok := row[key].(float64); ok {
		id := int64(v)
		return &id
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitName(fullName string) (string, string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "Sim", "User"
	case 1:
		return parts[0], "User"
	}
	return parts[0], strings.Join(parts[1:], " ")
}
