package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/killswitch"
	"github.com/unclebandit/wacampaign-backend/internal/lock"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/ratelimit"
	"github.com/unclebandit/wacampaign-backend/internal/safety"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

type store struct {
	mu        sync.Mutex
	tenants   map[string]*model.Tenant
	campaigns map[int]*model.Campaign
	accounts  map[int]*model.WhatsAppAccount
	messages  []*model.CampaignMessage
	claims    map[int]time.Time
	tenantErr error
}

func newStore() *store {
	return &store{
		tenants:   map[string]*model.Tenant{},
		campaigns: map[int]*model.Campaign{},
		accounts:  map[int]*model.WhatsAppAccount{},
		claims:    map[int]time.Time{},
	}
}

func (s *store) addTenant(id string, accountID int, env model.Environment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[id] = &model.Tenant{ID: id, Active: true, SendingEnabled: true}
	s.accounts[accountID] = &model.WhatsAppAccount{
		ID: accountID, TenantID: id, PhoneNumberID: "pn-" + id, AccessToken: "tok",
		Status: model.AccountConnected, Environment: env, QualityRating: model.QualityGreen,
	}
}

func (s *store) addCampaign(tenantID string, id, accountID, recipients int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id] = &model.Campaign{
		ID: id, TenantID: tenantID, AccountID: accountID, Status: model.CampaignRunning,
		TemplateName: "promo", TemplateLanguage: "en", TotalContacts: recipients,
	}
	for i := 0; i < recipients; i++ {
		s.messages = append(s.messages, &model.CampaignMessage{
			ID: len(s.messages) + 1, TenantID: tenantID, CampaignID: id,
			Phone: fmt.Sprintf("+2547%02d%04d", id, i), Status: model.MessageQueued,
			TemplateName: "promo", LanguageCode: "en", Variables: []string{"x"},
		})
	}
}

func (s *store) setStatus(id int, status model.CampaignStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id].Status = status
}

func (s *store) campaign(id int) model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *store) messagesOf(campaignID int) []model.CampaignMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CampaignMessage
	for _, m := range s.messages {
		if m.CampaignID == campaignID {
			out = append(out, *m)
		}
	}
	return out
}

func (s *store) claimCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

type fakeTenants struct{ *store }

func (f fakeTenants) GetByID(_ context.Context, id string) (*model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tenantErr != nil {
		return nil, f.tenantErr
	}
	t := *f.tenants[id]
	return &t, nil
}

type fakeCampaigns struct{ *store }

func (f fakeCampaigns) GetByID(_ context.Context, tenantID string, id int) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (f fakeCampaigns) ListRunning(context.Context) ([]*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Campaign
	for _, c := range f.campaigns {
		if c.Status == model.CampaignRunning {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f fakeCampaigns) CompleteIfDrained(_ context.Context, tenantID string, id int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	if c.Status != model.CampaignRunning {
		return false, nil
	}
	for _, m := range f.messages {
		if m.CampaignID == id && m.Status == model.MessageQueued {
			return false, nil
		}
	}
	c.Status = model.CampaignCompleted
	return true, nil
}

type fakeAccounts struct{ *store }

func (f fakeAccounts) GetByID(_ context.Context, tenantID string, id int) (*model.WhatsAppAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := *f.accounts[id]
	return &a, nil
}

func (f fakeAccounts) GetForTenant(ctx context.Context, tenantID string) (*model.WhatsAppAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.TenantID == tenantID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, appErrors.NotFound(appErrors.CodeAccountNotFound, "no account")
}

type fakeMessages struct{ *store }

func (f fakeMessages) ClaimNext(_ context.Context, campaignID int, now, until time.Time) (*model.CampaignMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.CampaignID != campaignID || m.Status != model.MessageQueued {
			continue
		}
		if exp, ok := f.claims[m.ID]; ok && exp.After(now) {
			continue
		}
		f.claims[m.ID] = until
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (f fakeMessages) Unclaim(_ context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, id)
	return nil
}

func (f fakeMessages) mark(id int, to model.MessageStatus, set func(*model.CampaignMessage)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id && m.Status == model.MessageQueued {
			delete(f.claims, id)
			m.Status = to
			set(m)
			c := f.campaigns[m.CampaignID]
			if to == model.MessageSent {
				c.SentCount++
			} else {
				c.FailedCount++
			}
			return true
		}
	}
	return false
}

func (f fakeMessages) MarkSent(_ context.Context, id int, waID string, _ time.Time) (bool, error) {
	return f.mark(id, model.MessageSent, func(m *model.CampaignMessage) { m.WAMessageID = waID }), nil
}

func (f fakeMessages) MarkFailed(_ context.Context, id int, code int, lastError string, _ time.Time) (bool, error) {
	return f.mark(id, model.MessageFailed, func(m *model.CampaignMessage) {
		m.ErrorCode = code
		m.LastError = lastError
		m.RetryCount++
	}), nil
}

// recordingPacer never sleeps; it remembers the spacing it was asked for.
type recordingPacer struct {
	mu      sync.Mutex
	spacing []time.Duration
	block   chan struct{}
}

func (p *recordingPacer) Wait(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.spacing = append(p.spacing, d)
	block := p.block
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *recordingPacer) waits() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.spacing...)
}

// hookTransport runs a callback before delegating to the mock.
type hookTransport struct {
	*transport.Mock
	before func(n int)
	n      int
}

func (h *hookTransport) Send(ctx context.Context, msg transport.Message) (*transport.Result, error) {
	h.n++
	if h.before != nil {
		h.before(h.n)
	}
	return h.Mock.Send(ctx, msg)
}

type harness struct {
	st      *store
	sw      *killswitch.AtomicSwitch
	limiter *ratelimit.Limiter
	mock    *transport.Mock
	pacers  []*recordingPacer
	d       *Dispatcher

	gate     *safety.Gate
	newPacer func() Pacer
}

func newHarness(t *testing.T, tr transport.Transport) *harness {
	t.Helper()
	h := &harness{
		st:      newStore(),
		sw:      killswitch.NewAtomicSwitch(),
		limiter: ratelimit.New(ratelimit.NewMemoryStore(), lock.NewKeyedMutex(), ratelimit.DefaultPolicy(), zap.NewNop()),
		mock:    &transport.Mock{SuccessRate: 1},
	}
	if tr == nil {
		tr = h.mock
	}
	var mu sync.Mutex
	gate := &safety.Gate{
		Switch:    h.sw,
		Tenants:   fakeTenants{h.st},
		Campaigns: fakeCampaigns{h.st},
		Accounts:  fakeAccounts{h.st},
		Logger:    zap.NewNop(),
	}
	h.gate = gate
	h.newPacer = func() Pacer {
		mu.Lock()
		defer mu.Unlock()
		p := &recordingPacer{}
		h.pacers = append(h.pacers, p)
		return p
	}
	h.d = h.dispatcher(t, tr, nil)
	return h
}

// dispatcher builds another dispatcher over the harness store, as a second
// process sharing the database would.
func (h *harness) dispatcher(t *testing.T, tr transport.Transport, leases lock.Leaser) *Dispatcher {
	t.Helper()
	d := New(Deps{
		Campaigns: fakeCampaigns{h.st},
		Messages:  fakeMessages{h.st},
		Accounts:  fakeAccounts{h.st},
		Gate:      h.gate,
		Limiter:   h.limiter,
		Transport: tr,
		Completer: fakeCampaigns{h.st},
		Logger:    zap.NewNop(),
		Leases:    leases,
		NewPacer:  h.newPacer,
	})
	t.Cleanup(d.Stop)
	return d
}

func (h *harness) waitStatus(t *testing.T, id int, status model.CampaignStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return h.st.campaign(id).Status == status }, 2*time.Second, 5*time.Millisecond)
}

func TestDispatcherDrainsCampaignInOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 3)

	require.NoError(t, h.d.Enqueue("t1", 10))
	h.waitStatus(t, 10, model.CampaignCompleted)

	sent := h.mock.Sent()
	require.Len(t, sent, 3)
	for i, m := range h.st.messagesOf(10) {
		assert.Equal(t, model.MessageSent, m.Status)
		assert.Equal(t, m.Phone, sent[i].To)
		assert.NotEmpty(t, m.WAMessageID)
	}
	assert.Equal(t, "pn-t1", sent[0].PhoneNumberID)
	assert.Equal(t, 3, h.st.campaign(10).SentCount)

	snap, err := h.limiter.GetState(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, snap.SuccessCount)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second}, h.pacers[0].waits())
}

func TestDispatcherThrottleHalvesRateAndFailsMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 2)
	h.mock.Script(&transport.SendError{Code: 130429, Message: "throughput reached"}, nil)

	require.NoError(t, h.d.Enqueue("t1", 10))
	h.waitStatus(t, 10, model.CampaignCompleted)

	msgs := h.st.messagesOf(10)
	assert.Equal(t, model.MessageFailed, msgs[0].Status)
	assert.Equal(t, 130429, msgs[0].ErrorCode)
	assert.Equal(t, 1, msgs[0].RetryCount)
	assert.Equal(t, model.MessageSent, msgs[1].Status)

	snap, err := h.limiter.GetState(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 10, snap.CurrentRate)
	assert.True(t, snap.InCooldown)
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, h.pacers[0].waits())
}

func TestDispatcherOrdinaryFailureKeepsRate(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 1)
	h.mock.Script(&transport.SendError{Code: 131026, Message: "undeliverable"})

	require.NoError(t, h.d.Enqueue("t1", 10))
	h.waitStatus(t, 10, model.CampaignCompleted)

	snap, err := h.limiter.GetState(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 20, snap.CurrentRate)
	assert.Equal(t, 1, snap.FailureCount)
	assert.Equal(t, 1, h.st.campaign(10).FailedCount)
}

func TestDispatcherGlobalKillSwitchStopsSends(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 2)
	require.NoError(t, h.sw.SetSendingDisabled(context.Background(), true))
	reg := metrics.New()
	h.d.metrics = reg

	require.NoError(t, h.d.Enqueue("t1", 10))
	require.Eventually(t, func() bool { return len(h.pacers) == 1 && len(h.pacers[0].waits()) == 1 }, time.Second, 5*time.Millisecond)
	h.d.Stop()

	assert.Empty(t, h.mock.Sent())
	assert.Equal(t, model.CampaignRunning, h.st.campaign(10).Status)
	for _, m := range h.st.messagesOf(10) {
		assert.Equal(t, model.MessageQueued, m.Status)
	}
	assert.Zero(t, h.st.claimCount(), "denied message must be unclaimed")

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `wacampaign_dispatch_passes_stopped_total{kind="SAFETY_DENIED"} 1`)
}

func TestDispatcherPauseTakesEffectAtNextMessage(t *testing.T) {
	tr := &hookTransport{Mock: &transport.Mock{SuccessRate: 1}}
	h := newHarness(t, tr)
	tr.before = func(n int) {
		if n == 1 {
			h.st.setStatus(10, model.CampaignPaused)
		}
	}
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 3)

	require.NoError(t, h.d.Enqueue("t1", 10))
	require.Eventually(t, func() bool { return len(h.pacers) == 1 && len(h.pacers[0].waits()) == 2 }, time.Second, 5*time.Millisecond)
	h.d.Stop()

	assert.Len(t, tr.Sent(), 1)
	msgs := h.st.messagesOf(10)
	assert.Equal(t, model.MessageSent, msgs[0].Status)
	assert.Equal(t, model.MessageQueued, msgs[1].Status)
	assert.Equal(t, model.MessageQueued, msgs[2].Status)
	assert.Equal(t, model.CampaignPaused, h.st.campaign(10).Status)
	assert.Zero(t, h.st.claimCount())
}

func TestDispatcherFailsClosedOnGateError(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 1)
	h.st.tenantErr = errors.New("connection refused")

	require.NoError(t, h.d.Enqueue("t1", 10))
	require.Eventually(t, func() bool { return len(h.pacers) == 1 && len(h.pacers[0].waits()) == 1 }, time.Second, 5*time.Millisecond)
	h.d.Stop()

	assert.Empty(t, h.mock.Sent())
	assert.Equal(t, model.MessageQueued, h.st.messagesOf(10)[0].Status)
}

func TestDispatcherSandboxRecipientCap(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentSandbox)
	h.st.addCampaign("t1", 10, 1, 6)

	require.NoError(t, h.d.Enqueue("t1", 10))
	require.Eventually(t, func() bool { return len(h.pacers) == 1 && len(h.pacers[0].waits()) == 1 }, time.Second, 5*time.Millisecond)
	h.d.Stop()

	assert.Empty(t, h.mock.Sent())
}

func TestEnqueueDeduplicates(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 1)
	h.st.addCampaign("t1", 11, 1, 1)

	block := make(chan struct{})
	h.d.deps.NewPacer = func() Pacer {
		p := &recordingPacer{block: block}
		h.pacers = append(h.pacers, p)
		return p
	}

	require.NoError(t, h.d.Enqueue("t1", 10))
	require.Eventually(t, func() bool { return len(h.pacers) == 1 && len(h.pacers[0].waits()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.d.Enqueue("t1", 11))
	require.NoError(t, h.d.Enqueue("t1", 11))
	require.NoError(t, h.d.Enqueue("t1", 10))

	h.d.mu.Lock()
	w := h.d.workers["t1"]
	assert.Len(t, w.jobs, 1)
	assert.Equal(t, 10, w.running)
	assert.True(t, w.rerun)
	h.d.mu.Unlock()

	close(block)
	h.waitStatus(t, 10, model.CampaignCompleted)
	h.waitStatus(t, 11, model.CampaignCompleted)
	assert.Len(t, h.mock.Sent(), 2)
}

func TestStreamsArePerTenant(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addTenant("t2", 2, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 2)
	h.st.addCampaign("t2", 20, 2, 2)

	n, err := h.d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	h.waitStatus(t, 10, model.CampaignCompleted)
	h.waitStatus(t, 20, model.CampaignCompleted)
	assert.Len(t, h.pacers, 2)
}

func TestEnqueueAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	h.d.Stop()
	assert.ErrorIs(t, h.d.Enqueue("t1", 1), ErrStopped)
}

func TestRatePacerSpacesSends(t *testing.T) {
	p := NewRatePacer()
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx, 20*time.Millisecond))
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, p.Wait(cctx, time.Hour))
}

func TestDeniedPassReportsSafetyDenied(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 1)
	require.NoError(t, h.sw.SetSendingDisabled(context.Background(), true))

	err := h.d.runCampaign(context.Background(), newWorker("t1", 1, &recordingPacer{}), 10)
	require.Error(t, err)
	assert.Equal(t, appErrors.KindSafetyDenied, appErrors.KindOf(err))
	assert.Equal(t, appErrors.CodeSafetyDenied, appErrors.CodeOf(err))
	assert.Contains(t, err.Error(), safety.ReasonGlobalDisabled)
	assert.Zero(t, h.st.claimCount())
}

func TestFailedSendIsTransportFailureAndPassContinues(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 2)
	h.mock.Script(&transport.SendError{Code: 131026, Message: "undeliverable"})

	ctx := context.Background()
	w := newWorker("t1", 1, &recordingPacer{})
	c := h.st.campaign(10)
	account, err := fakeAccounts{h.st}.GetByID(ctx, "t1", 1)
	require.NoError(t, err)

	more, err := h.d.sendNext(ctx, w, &c, account, zap.NewNop())
	assert.True(t, more)
	require.Error(t, err)
	assert.Equal(t, appErrors.KindTransportFailure, appErrors.KindOf(err))
	assert.Equal(t, appErrors.CodeTransportFailure, appErrors.CodeOf(err))
	assert.Equal(t, 131026, transport.ErrorCode(err))
	assert.Equal(t, model.MessageFailed, h.st.messagesOf(10)[0].Status)

	require.NoError(t, h.d.runCampaign(ctx, w, 10))
	assert.Equal(t, model.MessageSent, h.st.messagesOf(10)[1].Status)
	assert.Equal(t, model.CampaignCompleted, h.st.campaign(10).Status)
}

func TestDispatchersSharingStoreSendEachMessageOnce(t *testing.T) {
	cases := []struct {
		name   string
		leases lock.Leaser
	}{
		{"claims only", nil},
		{"claims and tenant lease", lock.NewKeyedMutex()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.st.addTenant("t1", 1, model.EnvironmentProduction)
			h.st.addCampaign("t1", 10, 1, 4)

			first := &transport.Mock{SuccessRate: 1}
			second := &transport.Mock{SuccessRate: 1}
			d1 := h.dispatcher(t, first, tc.leases)
			d2 := h.dispatcher(t, second, tc.leases)

			_, err := d1.Sweep(context.Background())
			require.NoError(t, err)
			_, err = d2.Sweep(context.Background())
			require.NoError(t, err)
			h.waitStatus(t, 10, model.CampaignCompleted)
			d1.Stop()
			d2.Stop()

			sent := append(first.Sent(), second.Sent()...)
			require.Len(t, sent, 4)
			seen := map[string]int{}
			for _, m := range sent {
				seen[m.To]++
			}
			for _, m := range h.st.messagesOf(10) {
				assert.Equal(t, model.MessageSent, m.Status)
				assert.Equal(t, 1, seen[m.Phone], "recipient %s", m.Phone)
			}
			assert.Equal(t, 4, h.st.campaign(10).SentCount)
		})
	}
}

func TestBusyTenantLeaseSkipsPass(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 2)

	leases := lock.NewKeyedMutex()
	held, err := leases.TryLease(context.Background(), "dispatch:t1")
	require.NoError(t, err)
	d := h.dispatcher(t, h.mock, leases)

	err = d.runCampaign(context.Background(), newWorker("t1", 1, &recordingPacer{}), 10)
	assert.ErrorIs(t, err, ErrTenantBusy)
	assert.Empty(t, h.mock.Sent())
	assert.Zero(t, h.st.claimCount())

	held.Release()
	require.NoError(t, d.runCampaign(context.Background(), newWorker("t1", 1, &recordingPacer{}), 10))
	assert.Len(t, h.mock.Sent(), 2)
}

func TestExpiredClaimIsTakenOver(t *testing.T) {
	h := newHarness(t, nil)
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 1)

	now := time.Now().UTC()
	m := fakeMessages{h.st}
	stale, err := m.ClaimNext(context.Background(), 10, now.Add(-time.Hour), now.Add(-time.Minute))
	require.NoError(t, err)
	require.NotNil(t, stale)

	require.NoError(t, h.d.Enqueue("t1", 10))
	h.waitStatus(t, 10, model.CampaignCompleted)
	assert.Len(t, h.mock.Sent(), 1)
}

func TestIdleStreamIsRetiredAndRestarted(t *testing.T) {
	h := newHarness(t, nil)
	h.d.deps.IdleTimeout = 20 * time.Millisecond
	h.st.addTenant("t1", 1, model.EnvironmentProduction)
	h.st.addCampaign("t1", 10, 1, 1)
	h.st.addCampaign("t1", 11, 1, 1)

	require.NoError(t, h.d.Enqueue("t1", 10))
	h.waitStatus(t, 10, model.CampaignCompleted)
	require.Eventually(t, func() bool {
		h.d.mu.Lock()
		defer h.d.mu.Unlock()
		return len(h.d.workers) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.d.Enqueue("t1", 11))
	h.waitStatus(t, 11, model.CampaignCompleted)
	assert.Len(t, h.pacers, 2)
	assert.Len(t, h.mock.Sent(), 2)
}
