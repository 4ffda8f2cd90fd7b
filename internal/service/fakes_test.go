package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/portal-dispatch/internal/errors"
	"github.com/unclebandit/portal-dispatch/internal/lock"
	"github.com/unclebandit/portal-dispatch/internal/model"
	"github.com/unclebandit/portal-dispatch/internal/queue"
	"github.com/unclebandit/portal-dispatch/internal/service"
)

// memDB is an in-memory stand-in for the Postgres schema, honouring the
// same unique keys and conditional updates.
type memDB struct {
	mu          sync.Mutex
	campaigns   map[int]*model.Campaign
	subscribers map[int]*model.Subscriber
	tags        map[int]*model.Tag
	tagMembers  map[int][]int
	exclusions  map[int]map[int]bool
	messages    map[msgKey]*model.Message
	events      map[evKey]*model.TrackingEvent
	nextID      int

	// afterCreate runs after every successful message insert, outside the lock.
	afterCreate func(count int)
	failCounts  error
	failCreate  error
}

type msgKey struct{ campaignID, subscriberID int }
type evKey struct {
	campaignID, subscriberID int
	task                     model.TaskType
}

func newMemDB() *memDB {
	return &memDB{
		campaigns:   map[int]*model.Campaign{},
		subscribers: map[int]*model.Subscriber{},
		tags:        map[int]*model.Tag{},
		tagMembers:  map[int][]int{},
		exclusions:  map[int]map[int]bool{},
		messages:    map[msgKey]*model.Message{},
		events:      map[evKey]*model.TrackingEvent{},
		nextID:      1000,
	}
}

func (db *memDB) addCampaign(c model.Campaign) *model.Campaign {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c.WorkspaceID == 0 {
		c.WorkspaceID = 1
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	db.campaigns[c.ID] = &c
	return &c
}

func (db *memDB) addSubscribers(workspaceID int, ids ...int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, id := range ids {
		db.subscribers[id] = &model.Subscriber{
			ID:          id,
			WorkspaceID: workspaceID,
			Email:       "s" + itoa(id) + "@example.com",
			Hash:        "hash-" + itoa(id),
		}
	}
}

func (db *memDB) unsubscribe(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	now := time.Now()
	db.subscribers[id].UnsubscribedAt = &now
}

func (db *memDB) addTag(workspaceID, tagID int, members ...int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tags[tagID] = &model.Tag{ID: tagID, WorkspaceID: workspaceID}
	db.tagMembers[tagID] = append(db.tagMembers[tagID], members...)
}

func (db *memDB) exclude(campaignID int, excluded ...int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.exclusions[campaignID] == nil {
		db.exclusions[campaignID] = map[int]bool{}
	}
	for _, id := range excluded {
		db.exclusions[campaignID][id] = true
	}
}

func (db *memDB) sentLedger(campaignID int, subscriberIDs ...int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, id := range subscriberIDs {
		db.events[evKey{campaignID, id, model.TaskEmailSent}] = &model.TrackingEvent{
			CampaignID: campaignID, SubscriberID: id, TaskType: model.TaskEmailSent, Status: model.TrackingOpened,
		}
	}
}

func (db *memDB) status(campaignID int) model.CampaignStatus {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.campaigns[campaignID].Status
}

func (db *memDB) setStatus(campaignID int, s model.CampaignStatus) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.campaigns[campaignID].Status = s
}

func (db *memDB) messageSubscribers(campaignID int) []int {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := []int{}
	for k := range db.messages {
		if k.campaignID == campaignID {
			out = append(out, k.subscriberID)
		}
	}
	sort.Ints(out)
	return out
}

func (db *memDB) eventCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.events)
}

func (db *memDB) event(campaignID, subscriberID int, task model.TaskType) *model.TrackingEvent {
	db.mu.Lock()
	defer db.mu.Unlock()
	ev, ok := db.events[evKey{campaignID, subscriberID, task}]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}

// --- campaigns ---

type campaignRepo struct{ *memDB }

func (r campaignRepo) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r campaignRepo) ListByStatus(_ context.Context, status model.CampaignStatus) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if c.Status == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r campaignRepo) UpdateStatusIf(_ context.Context, id int, from, to model.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return true, nil
}

func (r campaignRepo) IDsInWorkspace(_ context.Context, workspaceID int, ids []int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []int{}
	for _, id := range ids {
		if c, ok := r.campaigns[id]; ok && c.WorkspaceID == workspaceID {
			out = append(out, id)
		}
	}
	return out, nil
}

// --- subscribers ---

type subscriberRepo struct{ *memDB }

func (r subscriberRepo) ActiveIDs(_ context.Context, workspaceID int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []int{}
	for _, s := range r.subscribers {
		if s.WorkspaceID == workspaceID && s.Active() {
			out = append(out, s.ID)
		}
	}
	sort.Ints(out)
	return out, nil
}

// ActiveIDsForTags deliberately returns duplicates for subscribers in several
// tags, so the resolver's own dedup is exercised.
func (r subscriberRepo) ActiveIDsForTags(_ context.Context, workspaceID int, tagIDs []int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []int{}
	for _, tagID := range tagIDs {
		tag, ok := r.tags[tagID]
		if !ok || tag.WorkspaceID != workspaceID {
			continue
		}
		for _, id := range r.tagMembers[tagID] {
			if s, ok := r.subscribers[id]; ok && s.Active() {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func (r subscriberRepo) GetByHash(_ context.Context, workspaceID int, hash string) (*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subscribers {
		if s.Hash == hash && s.WorkspaceID == workspaceID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r subscriberRepo) GetByID(_ context.Context, id int) (*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subscribers[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r subscriberRepo) ListByIDs(_ context.Context, ids []int) ([]model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Subscriber{}
	for _, id := range ids {
		if s, ok := r.subscribers[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

// --- messages ---

type messageRepo struct{ *memDB }

func (r messageRepo) CreateForCampaign(_ context.Context, c *model.Campaign, subscriberID int) (bool, error) {
	r.mu.Lock()
	if r.failCreate != nil {
		r.mu.Unlock()
		return false, r.failCreate
	}
	key := msgKey{c.ID, subscriberID}
	if _, dup := r.messages[key]; dup {
		r.mu.Unlock()
		return false, nil
	}
	s, ok := r.subscribers[subscriberID]
	if !ok || !s.Active() || s.WorkspaceID != c.WorkspaceID {
		r.mu.Unlock()
		return false, nil
	}
	for excluded := range r.exclusions[c.ID] {
		if _, sent := r.events[evKey{excluded, subscriberID, model.TaskEmailSent}]; sent {
			r.mu.Unlock()
			return false, nil
		}
	}
	r.nextID++
	r.messages[key] = &model.Message{
		ID:           r.nextID,
		WorkspaceID:  c.WorkspaceID,
		SubscriberID: subscriberID,
		SourceType:   model.SourceCampaign,
		SourceID:     c.ID,
	}
	n := 0
	for k := range r.messages {
		if k.campaignID == c.ID {
			n++
		}
	}
	hook := r.afterCreate
	r.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return true, nil
}

func (r messageRepo) CountsForCampaign(_ context.Context, campaignID int) (model.MessageCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCounts != nil {
		return model.MessageCounts{}, r.failCounts
	}
	var c model.MessageCounts
	for k, m := range r.messages {
		if k.campaignID != campaignID {
			continue
		}
		c.Total++
		if m.SentAt != nil {
			c.Sent++
		}
	}
	return c, nil
}

func (r messageRepo) GetByID(_ context.Context, id int) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r messageRepo) MarkSent(_ context.Context, id int, transportID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			m.MessageID = transportID
			if m.SentAt == nil {
				now := time.Now()
				m.SentAt = &now
			}
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

// addMessage inserts a message directly, bypassing the send guard.
func (db *memDB) addMessage(m model.Message) *model.Message {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextID++
	if m.ID == 0 {
		m.ID = db.nextID
	}
	if m.SourceType == "" {
		m.SourceType = model.SourceCampaign
	}
	db.messages[msgKey{m.SourceID, m.SubscriberID}] = &m
	return &m
}

// addMessages creates total messages for the campaign, the first sent of them with sent_at.
func (db *memDB) addMessages(campaignID, total, sent int) {
	now := time.Now()
	for i := 1; i <= total; i++ {
		m := model.Message{SourceID: campaignID, SubscriberID: campaignID*1000 + i}
		if i <= sent {
			m.SentAt = &now
		}
		db.addMessage(m)
	}
}

// --- exclusions ---

type exclusionRepo struct{ *memDB }

func (r exclusionRepo) ExcludedCampaignIDs(_ context.Context, campaignID int) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []int{}
	for id := range r.exclusions[campaignID] {
		out = append(out, id)
	}
	sort.Ints(out)
	return out, nil
}

func (r exclusionRepo) List(ctx context.Context, campaignID int) ([]model.CampaignExclusion, error) {
	ids, _ := r.ExcludedCampaignIDs(ctx, campaignID)
	out := []model.CampaignExclusion{}
	for _, id := range ids {
		out = append(out, model.CampaignExclusion{CampaignID: campaignID, ExcludedCampaignID: id})
	}
	return out, nil
}

func (r exclusionRepo) Replace(_ context.Context, campaignID int, excludedIDs []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := map[int]bool{}
	for _, id := range excludedIDs {
		set[id] = true
	}
	r.exclusions[campaignID] = set
	return nil
}

func (r exclusionRepo) Remove(_ context.Context, campaignID, excludedID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.exclusions[campaignID][excludedID] {
		return false, nil
	}
	delete(r.exclusions[campaignID], excludedID)
	return true, nil
}

// --- ledger ---

type trackingRepo struct{ *memDB }

func (r trackingRepo) Upsert(_ context.Context, ev *model.TrackingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := evKey{ev.CampaignID, ev.SubscriberID, ev.TaskType}
	if existing, ok := r.events[key]; ok {
		existing.Status = ev.Status
		existing.Metadata = ev.Metadata
		existing.SubscriberHash = ev.SubscriberHash
		existing.TrackedAt = ev.TrackedAt
		ev.ID = existing.ID
		return nil
	}
	r.nextID++
	cp := *ev
	cp.ID = r.nextID
	r.events[key] = &cp
	ev.ID = cp.ID
	return nil
}

func (r trackingRepo) SubscriberIDsWithTask(_ context.Context, campaignIDs []int, task model.TaskType) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[int]bool{}
	for _, id := range campaignIDs {
		want[id] = true
	}
	seen := map[int]bool{}
	out := []int{}
	for k := range r.events {
		if want[k.campaignID] && k.task == task && !seen[k.subscriberID] {
			seen[k.subscriberID] = true
			out = append(out, k.subscriberID)
		}
	}
	sort.Ints(out)
	return out, nil
}

// --- locks ---

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocks() *memLocks { return &memLocks{held: map[string]bool{}} }

func (f *memLocks) New(key string, _ time.Duration) lock.Lock {
	return &memLock{f: f, key: key}
}

type memLock struct {
	f    *memLocks
	key  string
	mine bool
}

func (l *memLock) Acquire(context.Context) (bool, error) {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if l.f.held[l.key] {
		return false, nil
	}
	l.f.held[l.key] = true
	l.mine = true
	return true, nil
}

func (l *memLock) Release(context.Context) error {
	l.f.mu.Lock()
	defer l.f.mu.Unlock()
	if l.mine {
		delete(l.f.held, l.key)
		l.mine = false
	}
	return nil
}

// --- fixture ---

type fixture struct {
	db           *memDB
	exclusions   *service.ExclusionService
	resolver     *service.RecipientResolver
	ledger       *service.Ledger
	pipeline     *service.Pipeline
	orchestrator *service.Orchestrator
	hook         *service.SentHook
	tracking     *service.TrackingService
	auditor      *service.Auditor
	queue        *queue.InMemoryQueue
	dispatched   chan queue.DispatchJob
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	db := newMemDB()

	exclusions := &service.ExclusionService{
		CampaignRepo:  campaignRepo{db},
		ExclusionRepo: exclusionRepo{db},
		TrackingRepo:  trackingRepo{db},
		Log:           log,
	}
	resolver := &service.RecipientResolver{
		CampaignRepo:   campaignRepo{db},
		SubscriberRepo: subscriberRepo{db},
		Exclusions:     exclusions,
		Log:            log,
	}
	ledger := &service.Ledger{Repo: trackingRepo{db}, Log: log}

	q := queue.NewInMemoryQueue(log)
	dispatched := make(chan queue.DispatchJob, 16)
	q.Subscribe(queue.TopicCampaignDispatch, func(_ context.Context, body []byte) error {
		var j queue.DispatchJob
		if err := decode(body, &j); err != nil {
			return err
		}
		dispatched <- j
		return nil
	})

	return &fixture{
		db:         db,
		exclusions: exclusions,
		resolver:   resolver,
		ledger:     ledger,
		pipeline: &service.Pipeline{
			CampaignRepo: campaignRepo{db},
			MessageRepo:  messageRepo{db},
			Resolver:     resolver,
			ChunkSize:    2,
			Complete:     service.CompleteSending,
			Log:          log,
		},
		orchestrator: &service.Orchestrator{
			CampaignRepo: campaignRepo{db},
			Resolver:     resolver,
			Queue:        q,
			Log:          log,
		},
		hook: &service.SentHook{
			CampaignRepo:   campaignRepo{db},
			SubscriberRepo: subscriberRepo{db},
			MessageRepo:    messageRepo{db},
			Ledger:         ledger,
			Log:            log,
		},
		tracking: &service.TrackingService{
			CampaignRepo:   campaignRepo{db},
			SubscriberRepo: subscriberRepo{db},
			Ledger:         ledger,
			Log:            log,
		},
		auditor: &service.Auditor{
			CampaignRepo: campaignRepo{db},
			MessageRepo:  messageRepo{db},
			Threshold:    10 * time.Minute,
			AutoFix:      true,
			Log:          log,
		},
		queue:      q,
		dispatched: dispatched,
	}
}

var errStore = errors.New("store unavailable")
