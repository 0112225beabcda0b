package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unclebandit/wacampaign-backend/internal/audit"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// memDB backs the campaign and message mocks so status checks that span
// both tables behave like the SQL statements.
type memDB struct {
	mu          sync.Mutex
	campaigns   map[int]*model.Campaign
	messages    []*model.CampaignMessage
	nextCampID  int
	nextMsgID   int
	updateCalls int
}

func newMemDB() *memDB {
	return &memDB{campaigns: map[int]*model.Campaign{}}
}

// seed inserts a campaign with n QUEUED messages.
func (db *memDB) seed(c model.Campaign, queued int) *model.Campaign {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextCampID++
	c.ID = db.nextCampID
	c.TotalContacts = queued
	for i := 0; i < queued; i++ {
		db.nextMsgID++
		db.messages = append(db.messages, &model.CampaignMessage{
			ID: db.nextMsgID, TenantID: c.TenantID, CampaignID: c.ID, ContactID: i + 1,
			Status: model.MessageQueued, Phone: fmt.Sprintf("+2547000000%02d", i),
		})
	}
	stored := c
	db.campaigns[c.ID] = &stored
	return &c
}

func (db *memDB) status(id int) model.CampaignStatus {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.campaigns[id].Status
}

func (db *memDB) campaign(id int) model.Campaign {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.campaigns[id]
}

// ====================== Campaigns ======================

type MockCampaignRepo struct {
	db *memDB
	// BeforeUpdateStatus runs inside UpdateStatus before the compare.
	BeforeUpdateStatus func(c *model.Campaign)
}

func (m *MockCampaignRepo) Create(ctx context.Context, c *model.Campaign, msgs []*model.CampaignMessage) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.nextCampID++
	c.ID = m.db.nextCampID
	c.TotalContacts = len(msgs)
	for _, msg := range msgs {
		m.db.nextMsgID++
		msg.ID = m.db.nextMsgID
		msg.TenantID = c.TenantID
		msg.CampaignID = c.ID
		msg.Status = model.MessageQueued
		m.db.messages = append(m.db.messages, msg)
	}
	stored := *c
	m.db.campaigns[c.ID] = &stored
	return nil
}

func (m *MockCampaignRepo) GetByID(ctx context.Context, tenantID string, id int) (*model.Campaign, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) ListCampaigns(ctx context.Context, tenantID string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var all []*model.Campaign
	for _, c := range m.db.campaigns {
		if c.TenantID == tenantID && (status == "" || string(c.Status) == status) {
			cp := *c
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}

func (m *MockCampaignRepo) Update(ctx context.Context, c *model.Campaign) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.db.updateCalls++
	stored, ok := m.db.campaigns[c.ID]
	if !ok || !stored.Status.CanEdit() {
		return appErrors.Guard(appErrors.CodeInvalidStatus, "campaign can only be edited in DRAFT or SCHEDULED state")
	}
	cp := *c
	m.db.campaigns[c.ID] = &cp
	return nil
}

func (m *MockCampaignRepo) Delete(ctx context.Context, tenantID string, id int) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.campaigns[id]
	if !ok || c.TenantID != tenantID || !c.Status.CanDelete() {
		return false, nil
	}
	delete(m.db.campaigns, id)
	kept := m.db.messages[:0]
	for _, msg := range m.db.messages {
		if msg.CampaignID != id {
			kept = append(kept, msg)
		}
	}
	m.db.messages = kept
	return true, nil
}

func (m *MockCampaignRepo) UpdateStatus(ctx context.Context, tenantID string, id int, from []model.CampaignStatus, to model.CampaignStatus, at time.Time) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return false, nil
	}
	if m.BeforeUpdateStatus != nil {
		m.BeforeUpdateStatus(c)
	}
	for _, f := range from {
		if c.Status == f {
			c.Status = to
			c.UpdatedAt = &at
			if to == model.CampaignRunning && c.StartedAt == nil {
				c.StartedAt = &at
			}
			if to.IsTerminal() {
				c.CompletedAt = &at
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *MockCampaignRepo) CompleteIfDrained(ctx context.Context, tenantID string, id int, at time.Time) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	c, ok := m.db.campaigns[id]
	if !ok || c.Status != model.CampaignRunning {
		return false, nil
	}
	for _, msg := range m.db.messages {
		if msg.CampaignID == id && msg.Status == model.MessageQueued {
			return false, nil
		}
	}
	c.Status = model.CampaignCompleted
	c.CompletedAt = &at
	return true, nil
}

func (m *MockCampaignRepo) ListRunning(ctx context.Context) ([]*model.Campaign, error) {
	return m.list(func(c *model.Campaign) bool { return c.Status == model.CampaignRunning }), nil
}

func (m *MockCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time) ([]*model.Campaign, error) {
	return m.list(func(c *model.Campaign) bool {
		return c.Status == model.CampaignScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now)
	}), nil
}

func (m *MockCampaignRepo) list(keep func(*model.Campaign) bool) []*model.Campaign {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var out []*model.Campaign
	for _, c := range m.db.campaigns {
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ====================== Messages ======================

type MockMessageRepo struct {
	db *memDB
}

func (m *MockMessageRepo) CountQueued(ctx context.Context, campaignID int) (int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n := 0
	for _, msg := range m.db.messages {
		if msg.CampaignID == campaignID && msg.Status == model.MessageQueued {
			n++
		}
	}
	return n, nil
}

func (m *MockMessageRepo) ClaimNext(ctx context.Context, campaignID int, _, _ time.Time) (*model.CampaignMessage, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, msg := range m.db.messages {
		if msg.CampaignID == campaignID && msg.Status == model.MessageQueued {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockMessageRepo) Unclaim(context.Context, int) error { return nil }

func (m *MockMessageRepo) find(match func(*model.CampaignMessage) bool) *model.CampaignMessage {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, msg := range m.db.messages {
		if match(msg) {
			cp := *msg
			return &cp
		}
	}
	return nil
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id int) (*model.CampaignMessage, error) {
	msg := m.find(func(x *model.CampaignMessage) bool { return x.ID == id })
	if msg == nil {
		return nil, fmt.Errorf("message %d not found", id)
	}
	return msg, nil
}

func (m *MockMessageRepo) GetByWAMessageID(ctx context.Context, waMessageID string) (*model.CampaignMessage, error) {
	return m.find(func(x *model.CampaignMessage) bool { return x.WAMessageID == waMessageID }), nil
}

func (m *MockMessageRepo) move(id int, from []model.MessageStatus, to model.MessageStatus, set func(*model.CampaignMessage)) bool {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, msg := range m.db.messages {
		if msg.ID != id {
			continue
		}
		for _, f := range from {
			if msg.Status == f {
				msg.Status = to
				if set != nil {
					set(msg)
				}
				c := m.db.campaigns[msg.CampaignID]
				switch to {
				case model.MessageSent:
					c.SentCount++
				case model.MessageDelivered:
					c.DeliveredCount++
				case model.MessageRead:
					c.ReadCount++
				case model.MessageFailed:
					c.FailedCount++
				}
				return true
			}
		}
	}
	return false
}

func (m *MockMessageRepo) MarkSent(ctx context.Context, id int, waMessageID string, at time.Time) (bool, error) {
	return m.move(id, []model.MessageStatus{model.MessageQueued}, model.MessageSent, func(msg *model.CampaignMessage) {
		msg.WAMessageID = waMessageID
	}), nil
}

func (m *MockMessageRepo) MarkFailed(ctx context.Context, id int, code int, lastError string, at time.Time) (bool, error) {
	return m.move(id, []model.MessageStatus{model.MessageQueued}, model.MessageFailed, func(msg *model.CampaignMessage) {
		msg.ErrorCode = code
		msg.LastError = lastError
		msg.RetryCount++
	}), nil
}

func (m *MockMessageRepo) ApplyReceipt(ctx context.Context, id int, from, to model.MessageStatus, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, nil
	}
	return m.move(id, []model.MessageStatus{from}, to, nil), nil
}

func (m *MockMessageRepo) Stats(ctx context.Context, campaignID int) (map[model.MessageStatus]int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	out := map[model.MessageStatus]int{}
	for _, msg := range m.db.messages {
		if msg.CampaignID == campaignID {
			out[msg.Status]++
		}
	}
	return out, nil
}

// ====================== Reference data ======================

type MockTemplateRepo struct {
	Templates map[string]*model.Template
}

func (m *MockTemplateRepo) GetByName(ctx context.Context, tenantID, name, language string) (*model.Template, error) {
	t, ok := m.Templates[name]
	if !ok || t.Language != language {
		return nil, appErrors.NotFound(appErrors.CodeTemplateNotFound, "template "+name+" not found")
	}
	cp := *t
	return &cp, nil
}

type MockAccountRepo struct {
	Accounts map[int]*model.WhatsAppAccount
}

func (m *MockAccountRepo) GetByID(ctx context.Context, tenantID string, id int) (*model.WhatsAppAccount, error) {
	a, ok := m.Accounts[id]
	if !ok || a.TenantID != tenantID {
		return nil, appErrors.NotFound(appErrors.CodeAccountNotFound, "account not found")
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepo) GetForTenant(ctx context.Context, tenantID string) (*model.WhatsAppAccount, error) {
	for _, a := range m.Accounts {
		if a.TenantID == tenantID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, appErrors.NotFound(appErrors.CodeAccountNotFound, "account not found")
}

type MockContactRepo struct {
	Contacts []model.Contact
}

func (m *MockContactRepo) GetByID(ctx context.Context, tenantID string, id int) (*model.Contact, error) {
	for _, c := range m.Contacts {
		if c.ID == id && c.TenantID == tenantID {
			cp := c
			return &cp, nil
		}
	}
	return nil, appErrors.NotFound(appErrors.CodeContactNotFound, "contact not found")
}

func (m *MockContactRepo) ListByIDs(ctx context.Context, tenantID string, ids []int) ([]model.Contact, error) {
	var out []model.Contact
	for _, id := range ids {
		for _, c := range m.Contacts {
			if c.ID == id && c.TenantID == tenantID {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (m *MockContactRepo) ListAll(ctx context.Context, tenantID string) ([]model.Contact, error) {
	var out []model.Contact
	for _, c := range m.Contacts {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}

type MockTenantRepo struct {
	mu      sync.Mutex
	Tenants map[string]*model.Tenant
}

func (m *MockTenantRepo) GetByID(ctx context.Context, id string) (*model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tenants[id]
	if !ok {
		return nil, appErrors.NotFound(appErrors.CodeTenantNotFound, "tenant "+id+" not found")
	}
	cp := *t
	return &cp, nil
}

func (m *MockTenantRepo) SetSendingEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tenants[id]
	if !ok {
		return appErrors.NotFound(appErrors.CodeTenantNotFound, "tenant "+id+" not found")
	}
	t.SendingEnabled = enabled
	return nil
}

// ====================== Collaborators ======================

type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.DispatchJob
	err  error
}

func (q *recordingQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, payload.(queue.DispatchJob))
	return nil
}

func (q *recordingQueue) Subscribe(topic string, handler func(payload any) error) error { return nil }

func (q *recordingQueue) published() []queue.DispatchJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.DispatchJob(nil), q.jobs...)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingSink) Record(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

var (
	_ repository.CampaignRepositoryInterface = (*MockCampaignRepo)(nil)
	_ repository.MessageRepositoryInterface  = (*MockMessageRepo)(nil)
	_ repository.TemplateRepositoryInterface = (*MockTemplateRepo)(nil)
	_ repository.AccountRepositoryInterface  = (*MockAccountRepo)(nil)
	_ repository.ContactRepositoryInterface  = (*MockContactRepo)(nil)
	_ repository.TenantRepositoryInterface   = (*MockTenantRepo)(nil)
)
