// internal/service/campaign_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unclebandit/wacampaign-backend/internal/audit"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

var validate = validator.New()

// CampaignService owns the campaign lifecycle. Every status write is a
// compare-and-set against the status the guards were evaluated on.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	MessageRepo  repository.MessageRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	TemplateRepo repository.TemplateRepositoryInterface
	AccountRepo  repository.AccountRepositoryInterface
	Queue        queue.Queue
	Audit        audit.Sink
	Logger       *zap.Logger
	Metrics      *metrics.Metrics

	SandboxLimit  int
	DispatchTopic string
	Now           func() time.Time
}

type CreateCampaignInput struct {
	Name             string     `json:"name" validate:"required,max=200"`
	AccountID        int        `json:"account_id" validate:"required,gt=0"`
	TemplateName     string     `json:"template_name" validate:"required,max=512"`
	TemplateLanguage string     `json:"template_language" validate:"required,max=16"`
	VariableMapping  []string   `json:"variable_mapping" validate:"dive,oneof=phone first_name last_name location preferred_product"`
	ContactIDs       []int      `json:"contact_ids" validate:"omitempty,dive,gt=0"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
}

// UpdateCampaignInput edits a campaign that has not started. A nil field is
// left as is; ClearSchedule turns a SCHEDULED campaign back into a DRAFT.
type UpdateCampaignInput struct {
	Name          *string    `json:"name" validate:"omitempty,min=1,max=200"`
	ScheduledAt   *time.Time `json:"scheduled_at"`
	ClearSchedule bool       `json:"clear_schedule"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *CampaignService) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s *CampaignService) sandboxLimit() int {
	if s.SandboxLimit > 0 {
		return s.SandboxLimit
	}
	return 5
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
			details[fe.Field()] = fe.Tag()
		}
		ae := appErrors.Validation("invalid fields: " + strings.Join(fields, ", "))
		ae.Details = details
		return ae
	}
	return appErrors.Validation(err.Error())
}

func invalidStatus(op string, status model.CampaignStatus) error {
	return appErrors.Guard(appErrors.CodeInvalidStatus, fmt.Sprintf("cannot %s a campaign in %s state", op, status))
}

// ====================== CRUD ======================

// Create builds one QUEUED message per recipient. With no contact ids the
// campaign targets every contact of the tenant.
func (s *CampaignService) Create(ctx context.Context, tenantID string, in CreateCampaignInput) (*model.Campaign, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	tmpl, err := s.TemplateRepo.GetByName(ctx, tenantID, in.TemplateName, in.TemplateLanguage)
	if err != nil {
		return nil, err
	}
	if len(in.VariableMapping) != tmpl.VariableCount {
		return nil, appErrors.Validation(fmt.Sprintf(
			"template %s expects %d variables, mapping has %d", tmpl.Name, tmpl.VariableCount, len(in.VariableMapping)))
	}
	if _, err := s.AccountRepo.GetByID(ctx, tenantID, in.AccountID); err != nil {
		return nil, err
	}

	contacts, err := s.resolveContacts(ctx, tenantID, in.ContactIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &model.Campaign{
		TenantID:         tenantID,
		AccountID:        in.AccountID,
		Name:             strings.TrimSpace(in.Name),
		Status:           model.CampaignDraft,
		TemplateName:     tmpl.Name,
		TemplateLanguage: tmpl.Language,
		VariableMapping:  in.VariableMapping,
		CreatedAt:        now,
	}
	if in.ScheduledAt != nil {
		at := in.ScheduledAt.UTC()
		c.ScheduledAt = &at
		if at.After(now) {
			c.Status = model.CampaignScheduled
		}
	}

	msgs := make([]*model.CampaignMessage, 0, len(contacts))
	for i := range contacts {
		vars, err := ResolveVariables(&contacts[i], in.VariableMapping)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, &model.CampaignMessage{
			ContactID:    contacts[i].ID,
			Phone:        contacts[i].Phone,
			TemplateName: tmpl.Name,
			LanguageCode: tmpl.Language,
			Variables:    vars,
		})
	}
	c.TotalContacts = len(msgs)

	if err := s.CampaignRepo.Create(ctx, c, msgs); err != nil {
		return nil, appErrors.Storage(err, "create campaign")
	}
	s.logger().Info("campaign created",
		zap.String("tenant_id", tenantID),
		zap.Int("campaign_id", c.ID),
		zap.String("status", string(c.Status)),
		zap.Int("recipients", c.TotalContacts),
	)
	return c, nil
}

func (s *CampaignService) resolveContacts(ctx context.Context, tenantID string, ids []int) ([]model.Contact, error) {
	if len(ids) == 0 {
		contacts, err := s.ContactRepo.ListAll(ctx, tenantID)
		if err != nil {
			return nil, appErrors.Storage(err, "list contacts")
		}
		return contacts, nil
	}

	unique := make([]int, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	contacts, err := s.ContactRepo.ListByIDs(ctx, tenantID, unique)
	if err != nil {
		return nil, appErrors.Storage(err, "list contacts")
	}
	if len(contacts) != len(unique) {
		found := make(map[int]bool, len(contacts))
		for _, c := range contacts {
			found[c.ID] = true
		}
		var missing []string
		for _, id := range unique {
			if !found[id] {
				missing = append(missing, strconv.Itoa(id))
			}
		}
		return nil, appErrors.NotFound(appErrors.CodeContactNotFound, "contacts not found: "+strings.Join(missing, ", "))
	}
	return contacts, nil
}

func (s *CampaignService) Update(ctx context.Context, tenantID string, id int, in UpdateCampaignInput) (*model.Campaign, error) {
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanEdit() {
		return nil, invalidStatus("edit", c.Status)
	}

	if in.Name != nil {
		c.Name = strings.TrimSpace(*in.Name)
	}
	switch {
	case in.ClearSchedule:
		c.ScheduledAt = nil
		c.Status = model.CampaignDraft
	case in.ScheduledAt != nil:
		at := in.ScheduledAt.UTC()
		c.ScheduledAt = &at
		c.Status = model.CampaignDraft
		if at.After(s.now()) {
			c.Status = model.CampaignScheduled
		}
	}

	if err := s.CampaignRepo.Update(ctx, c); err != nil {
		if appErrors.KindOf(err) != "" {
			return nil, err
		}
		return nil, appErrors.Storage(err, "update campaign")
	}
	return c, nil
}

func (s *CampaignService) Delete(ctx context.Context, tenantID string, id int) error {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !c.Status.CanDelete() {
		return invalidStatus("delete", c.Status)
	}
	ok, err := s.CampaignRepo.Delete(ctx, tenantID, id)
	if err != nil {
		return appErrors.Storage(err, "delete campaign")
	}
	if !ok {
		return appErrors.Guard(appErrors.CodeInvalidStatus, "campaign changed state while being deleted")
	}
	s.logger().Info("campaign deleted", zap.String("tenant_id", tenantID), zap.Int("campaign_id", id))
	return nil
}

// Get returns the campaign with its message counts by status.
func (s *CampaignService) Get(ctx context.Context, tenantID string, id int) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.MessageRepo.Stats(ctx, id)
	if err != nil {
		return nil, appErrors.Storage(err, "campaign stats")
	}

	stats := map[string]int{
		"total":     0,
		"queued":    0,
		"sent":      0,
		"delivered": 0,
		"read":      0,
		"failed":    0,
	}
	for status, n := range counts {
		stats[strings.ToLower(string(status))] = n
		stats["total"] += n
	}
	return &CampaignDetails{Campaign: c, Stats: stats}, nil
}

// List fetches campaigns with pagination
func (s *CampaignService) List(ctx context.Context, tenantID string, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if status != "" && !model.CampaignStatus(status).Valid() {
		return nil, nil, appErrors.Validation(fmt.Sprintf("unknown campaign status %q", status))
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, tenantID, offset, pageSize, status)
	if err != nil {
		return nil, nil, appErrors.Storage(err, "list campaigns")
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// Preview renders the template body for one contact.
func (s *CampaignService) Preview(ctx context.Context, tenantID string, id, contactID int) (string, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	tmpl, err := s.TemplateRepo.GetByName(ctx, tenantID, c.TemplateName, c.TemplateLanguage)
	if err != nil {
		return "", err
	}
	contact, err := s.ContactRepo.GetByID(ctx, tenantID, contactID)
	if err != nil {
		return "", err
	}
	vars, err := ResolveVariables(contact, c.VariableMapping)
	if err != nil {
		return "", err
	}
	return RenderTemplate(tmpl.Body, vars), nil
}

// ====================== Lifecycle ======================

// sendable checks the template and account guards and counts what is left
// to send.
func (s *CampaignService) sendable(ctx context.Context, c *model.Campaign) (*model.WhatsAppAccount, int, error) {
	tmpl, err := s.TemplateRepo.GetByName(ctx, c.TenantID, c.TemplateName, c.TemplateLanguage)
	if err != nil {
		return nil, 0, err
	}
	if tmpl.Status != model.TemplateApproved {
		return nil, 0, appErrors.Guard(appErrors.CodeTemplateNotApproved,
			fmt.Sprintf("template %s is %s, not APPROVED", tmpl.Name, tmpl.Status))
	}

	account, err := s.AccountRepo.GetByID(ctx, c.TenantID, c.AccountID)
	if err != nil {
		return nil, 0, err
	}
	if account.Status != model.AccountConnected {
		return nil, 0, appErrors.Guard(appErrors.CodeWhatsAppNotConnected,
			fmt.Sprintf("WhatsApp account is %s", account.Status))
	}

	queued, err := s.MessageRepo.CountQueued(ctx, c.ID)
	if err != nil {
		return nil, 0, appErrors.Storage(err, "count queued messages")
	}
	return account, queued, nil
}

// Start moves a DRAFT or SCHEDULED campaign to RUNNING and hands it to the
// dispatcher.
func (s *CampaignService) Start(ctx context.Context, tenantID, actor string, id int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanStart() {
		return nil, invalidStatus("start", c.Status)
	}

	account, queued, err := s.sendable(ctx, c)
	if err != nil {
		return nil, err
	}
	if queued == 0 {
		return nil, appErrors.Guard(appErrors.CodeNoMessages, "campaign has no queued messages")
	}
	if account.Environment == model.EnvironmentSandbox && queued > s.sandboxLimit() {
		return nil, appErrors.Guard(appErrors.CodeSandboxLimit,
			fmt.Sprintf("Sandbox mode limits to %d recipients", s.sandboxLimit()))
	}

	from := c.Status
	if err := s.transition(ctx, c, model.CampaignRunning, from); err != nil {
		return nil, err
	}
	s.dispatch(c)
	s.record(ctx, actor, audit.ActionCampaignStart, c, map[string]any{"from": string(from), "queued": queued})
	return c, nil
}

func (s *CampaignService) Pause(ctx context.Context, tenantID, actor string, id int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignRunning {
		return nil, invalidStatus("pause", c.Status)
	}
	if err := s.transition(ctx, c, model.CampaignPaused, model.CampaignRunning); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionCampaignPause, c, nil)
	return c, nil
}

// Resume re-checks the template and account. A campaign with nothing left
// to send completes instead of running.
func (s *CampaignService) Resume(ctx context.Context, tenantID, actor string, id int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignPaused {
		return nil, invalidStatus("resume", c.Status)
	}

	_, queued, err := s.sendable(ctx, c)
	if err != nil {
		return nil, err
	}

	to := model.CampaignRunning
	if queued == 0 {
		to = model.CampaignCompleted
	}
	if err := s.transition(ctx, c, to, model.CampaignPaused); err != nil {
		return nil, err
	}
	if to == model.CampaignRunning {
		s.dispatch(c)
	}
	s.record(ctx, actor, audit.ActionCampaignResume, c, map[string]any{"to": string(to), "queued": queued})
	return c, nil
}

// Cancel stops a campaign for good. Its QUEUED messages stay QUEUED and are
// never sent.
func (s *CampaignService) Cancel(ctx context.Context, tenantID, actor string, id int) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanCancel() {
		return nil, invalidStatus("cancel", c.Status)
	}
	from := c.Status
	if err := s.transition(ctx, c, model.CampaignCancelled, from); err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.ActionCampaignCancel, c, map[string]any{"from": string(from)})
	return c, nil
}

// CompleteIfDrained closes a RUNNING campaign once no QUEUED message is left.
func (s *CampaignService) CompleteIfDrained(ctx context.Context, tenantID string, id int) (bool, error) {
	done, err := s.CampaignRepo.CompleteIfDrained(ctx, tenantID, id, s.now())
	if err != nil {
		return false, appErrors.Storage(err, "complete campaign")
	}
	if done {
		s.Metrics.CampaignTransition(string(model.CampaignCompleted))
		s.logger().Info("campaign completed", zap.String("tenant_id", tenantID), zap.Int("campaign_id", id))
	}
	return done, nil
}

// StartDue starts every SCHEDULED campaign whose time has come. A campaign
// that fails a start guard is marked FAILED; storage errors leave it
// SCHEDULED for the next tick.
func (s *CampaignService) StartDue(ctx context.Context) (int, error) {
	due, err := s.CampaignRepo.ListDueScheduled(ctx, s.now())
	if err != nil {
		return 0, appErrors.Storage(err, "list due campaigns")
	}

	started := 0
	var errs []error
	for _, c := range due {
		_, err := s.Start(ctx, c.TenantID, "scheduler", c.ID)
		switch {
		case err == nil:
			started++
		case appErrors.KindOf(err) == appErrors.KindInvalidStatus && !appErrors.Is(err, appErrors.CodeInvalidStatus),
			appErrors.KindOf(err) == appErrors.KindNotFound:
			s.logger().Warn("scheduled campaign failed to start",
				zap.String("tenant_id", c.TenantID),
				zap.Int("campaign_id", c.ID),
				zap.Error(err),
			)
			ferr := s.transition(ctx, c, model.CampaignFailed, model.CampaignScheduled)
			if ferr != nil && !appErrors.Is(ferr, appErrors.CodeInvalidStatus) {
				errs = append(errs, ferr)
			}
		case appErrors.Is(err, appErrors.CodeInvalidStatus):
			// another actor moved it first
		default:
			errs = append(errs, err)
		}
	}
	return started, errors.Join(errs...)
}

// transition writes `to` only if the campaign is still in one of `from`,
// then refreshes c from storage.
func (s *CampaignService) transition(ctx context.Context, c *model.Campaign, to model.CampaignStatus, from ...model.CampaignStatus) error {
	ok, err := s.CampaignRepo.UpdateStatus(ctx, c.TenantID, c.ID, from, to, s.now())
	if err != nil {
		return appErrors.Storage(err, fmt.Sprintf("set campaign status %s", to))
	}
	if !ok {
		return appErrors.Guard(appErrors.CodeInvalidStatus, "campaign status changed concurrently, retry")
	}
	s.Metrics.CampaignTransition(string(to))
	s.logger().Info("campaign status changed",
		zap.String("tenant_id", c.TenantID),
		zap.Int("campaign_id", c.ID),
		zap.String("from", string(c.Status)),
		zap.String("to", string(to)),
	)

	fresh, err := s.CampaignRepo.GetByID(ctx, c.TenantID, c.ID)
	if err != nil {
		c.Status = to
		return nil
	}
	*c = *fresh
	return nil
}

// dispatch publishes a job for the campaign. A lost publish is picked up by
// the dispatcher's sweep of RUNNING campaigns.
func (s *CampaignService) dispatch(c *model.Campaign) {
	if s.Queue == nil {
		return
	}
	topic := s.DispatchTopic
	if topic == "" {
		topic = queue.TopicCampaignDispatch
	}
	if err := s.Queue.Publish(topic, queue.DispatchJob{TenantID: c.TenantID, CampaignID: c.ID}); err != nil {
		s.logger().Warn("publish dispatch job",
			zap.String("tenant_id", c.TenantID),
			zap.Int("campaign_id", c.ID),
			zap.Error(err),
		)
	}
}

func (s *CampaignService) record(ctx context.Context, actor, action string, c *model.Campaign, details map[string]any) {
	if s.Audit == nil {
		return
	}
	entry := audit.NewEntry(actor, c.TenantID, action, "campaign:"+strconv.Itoa(c.ID), details)
	if err := s.Audit.Record(ctx, entry); err != nil {
		s.logger().Warn("audit record failed", zap.String("action", action), zap.Error(err))
	}
}
