package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/temporal"
	"github.com/tajiricircle/tajiri/service/trust"
)

// fakeStore is an in-memory implementation of Store and pipeline.Store.
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]*db.User
	txns      []*db.Transaction
	alerts    []*db.FraudAlert
	reports   []*db.FraudReport
	goals     []*db.SavingsGoal
	chamas    map[uuid.UUID]*db.Chama
	snapshots []*db.TrustScoreSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*db.User),
		chamas: make(map[uuid.UUID]*db.Chama),
	}
}

func (f *fakeStore) addUser(phone string) *db.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &db.User{ID: uuid.New(), Phone: phone, CreatedAt: time.Now()}
	f.users[phone] = u
	return u
}

func (f *fakeStore) GetOrCreateUser(ctx context.Context, phone string, name *string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[phone]; ok {
		return u, nil
	}
	u := &db.User{ID: uuid.New(), Phone: phone, Name: name, CreatedAt: time.Now()}
	f.users[phone] = u
	return u, nil
}

func (f *fakeStore) GetUserByPhone(ctx context.Context, phone string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[phone]; ok {
		return u, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) CreateTransaction(ctx context.Context, params db.CreateTransactionParams) (*db.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txns {
		if params.Reference != nil && t.Reference != nil && *t.Reference == *params.Reference && t.UserID == params.UserID {
			return nil, db.ErrDuplicate
		}
	}
	t := &db.Transaction{
		ID:           uuid.New(),
		UserID:       params.UserID,
		Amount:       params.Amount,
		Currency:     params.Currency,
		Direction:    params.Direction,
		Counterparty: params.Counterparty,
		Reference:    params.Reference,
		Source:       params.Source,
		Category:     params.Category,
		Description:  params.Description,
		RawText:      params.RawText,
		CreatedAt:    params.CreatedAt,
	}
	f.txns = append(f.txns, t)
	return t, nil
}

func (f *fakeStore) CreateFraudAlert(ctx context.Context, params db.CreateFraudAlertParams) (*db.FraudAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := &db.FraudAlert{
		ID:           uuid.New(),
		UserID:       params.UserID,
		Sender:       params.Sender,
		Message:      params.Message,
		Score:        params.Score,
		RiskLevel:    params.RiskLevel,
		MatchedRules: params.MatchedRules,
		Status:       "pending",
		CreatedAt:    params.CreatedAt,
	}
	f.alerts = append(f.alerts, a)
	return a, nil
}

func (f *fakeStore) LoadTrustInputs(ctx context.Context, userID uuid.UUID, asOf time.Time) (trust.Inputs, error) {
	return trust.Inputs{AsOf: asOf}, nil
}

func (f *fakeStore) SaveTrustScore(ctx context.Context, userID uuid.UUID, result trust.Result) (*db.TrustScoreSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := &db.TrustScoreSnapshot{
		ID:         uuid.New(),
		UserID:     userID,
		Score:      result.Score,
		Rating:     result.Rating,
		Components: result.Components,
		ComputedAt: time.Now(),
	}
	f.snapshots = append(f.snapshots, snap)
	return snap, nil
}

func (f *fakeStore) ListTransactionsByUser(ctx context.Context, params db.ListTransactionsByUserParams) ([]*db.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.Transaction
	for _, t := range f.txns {
		if t.UserID == params.UserID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, params.Limit, params.Offset), nil
}

func (f *fakeStore) CountTransactionsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.txns {
		if t.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListFraudAlertsByUser(ctx context.Context, params db.ListFraudAlertsParams) ([]*db.FraudAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.FraudAlert
	for _, a := range f.alerts {
		if a.UserID != params.UserID {
			continue
		}
		if params.Since != nil && a.CreatedAt.Before(*params.Since) {
			continue
		}
		out = append(out, a)
	}
	return page(out, params.Limit, params.Offset), nil
}

func (f *fakeStore) UpdateFraudAlertStatus(ctx context.Context, params db.UpdateFraudAlertStatusParams) (*db.FraudAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.ID == params.ID {
			now := time.Now()
			a.Status = params.Status
			a.UserAction = params.UserAction
			a.ReviewedAt = &now
			return a, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) CreateFraudReport(ctx context.Context, params db.CreateFraudReportParams) (*db.FraudReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rep := &db.FraudReport{
		ID:             uuid.New(),
		UserID:         params.UserID,
		ReportType:     params.ReportType,
		Details:        params.Details,
		ReportedNumber: params.ReportedNumber,
		ReportedURL:    params.ReportedURL,
		Status:         "pending",
		CreatedAt:      time.Now(),
	}
	f.reports = append(f.reports, rep)
	return rep, nil
}

func (f *fakeStore) ListFraudReportsByUser(ctx context.Context, params db.ListFraudReportsParams) ([]*db.FraudReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.FraudReport
	for i := len(f.reports) - 1; i >= 0; i-- {
		if f.reports[i].UserID == params.UserID {
			out = append(out, f.reports[i])
		}
	}
	return page(out, params.Limit, params.Offset), nil
}

func (f *fakeStore) CreateSavingsGoal(ctx context.Context, params db.CreateSavingsGoalParams) (*db.SavingsGoal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &db.SavingsGoal{
		ID:           uuid.New(),
		UserID:       params.UserID,
		Name:         params.Name,
		TargetAmount: params.TargetAmount,
		Deadline:     params.Deadline,
		CreatedAt:    time.Now(),
	}
	f.goals = append(f.goals, g)
	return g, nil
}

func (f *fakeStore) ListSavingsGoals(ctx context.Context, userID uuid.UUID) ([]*db.SavingsGoal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.SavingsGoal
	for _, g := range f.goals {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeStore) Contribute(ctx context.Context, params db.ContributeParams) (*db.ContributeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var goal *db.SavingsGoal
	for _, g := range f.goals {
		if g.UserID != params.UserID {
			continue
		}
		if params.GoalID == nil || g.ID == *params.GoalID {
			goal = g
			break
		}
	}
	if goal == nil {
		if params.GoalID != nil {
			return nil, db.ErrNotFound
		}
		goal = &db.SavingsGoal{
			ID:           uuid.New(),
			UserID:       params.UserID,
			Name:         db.DefaultGoalName,
			TargetAmount: db.DefaultGoalTarget,
			CreatedAt:    time.Now(),
		}
		f.goals = append(f.goals, goal)
	}

	goal.CurrentAmount = goal.CurrentAmount.Add(params.Amount)
	justAchieved := !goal.Achieved && goal.CurrentAmount.GreaterThanOrEqual(goal.TargetAmount)
	goal.Achieved = goal.Achieved || justAchieved
	return &db.ContributeResult{
		Goal: goal,
		Contribution: &db.SavingsContribution{
			ID:        uuid.New(),
			GoalID:    goal.ID,
			UserID:    params.UserID,
			Amount:    params.Amount,
			CreatedAt: time.Now(),
		},
		JustAchieved: justAchieved,
	}, nil
}

func (f *fakeStore) CreateChama(ctx context.Context, params db.CreateChamaParams) (*db.Chama, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &db.Chama{
		ID:            uuid.New(),
		Name:          params.Name,
		Description:   params.Description,
		MonthlyTarget: params.MonthlyTarget,
		CreatedBy:     params.CreatedBy,
		CreatedAt:     time.Now(),
	}
	c.Members = []*db.ChamaMember{{ChamaID: c.ID, UserID: params.CreatedBy, Phone: f.phoneOf(params.CreatedBy), IsAdmin: true, JoinedAt: c.CreatedAt}}
	f.chamas[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetChama(ctx context.Context, id uuid.UUID) (*db.Chama, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chamas[id]; ok {
		return c, nil
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) JoinChama(ctx context.Context, chamaID, userID uuid.UUID) (*db.ChamaMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chamas[chamaID]
	if !ok {
		return nil, db.ErrNotFound
	}
	for _, m := range c.Members {
		if m.UserID == userID {
			return nil, db.ErrDuplicate
		}
	}
	m := &db.ChamaMember{ChamaID: chamaID, UserID: userID, Phone: f.phoneOf(userID), JoinedAt: time.Now()}
	c.Members = append(c.Members, m)
	return m, nil
}

func (f *fakeStore) RecordChamaContribution(ctx context.Context, params db.RecordChamaContributionParams) (*db.ChamaContribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chamas[params.ChamaID]
	if !ok {
		return nil, db.ErrNotFound
	}
	member := false
	for _, m := range c.Members {
		member = member || m.UserID == params.UserID
	}
	if !member {
		return nil, db.ErrNotMember
	}
	c.TotalContributions = c.TotalContributions.Add(params.Amount)
	return &db.ChamaContribution{
		ID:        uuid.New(),
		ChamaID:   params.ChamaID,
		UserID:    params.UserID,
		Amount:    params.Amount,
		CreatedAt: time.Now(),
	}, nil
}

// phoneOf must be called with f.mu held.
func (f *fakeStore) phoneOf(id uuid.UUID) string {
	for _, u := range f.users {
		if u.ID == id {
			return u.Phone
		}
	}
	return ""
}

func page[T any](items []T, limit, offset int32) []T {
	if int(offset) >= len(items) {
		return nil
	}
	items = items[offset:]
	if int(limit) < len(items) {
		items = items[:limit]
	}
	return items
}

// MockWorkflowStarter is a testify mock of WorkflowStarter.
type MockWorkflowStarter struct {
	mock.Mock
}

func (m *MockWorkflowStarter) StartProcessSMS(ctx context.Context, input temporal.ProcessSMSInput) (string, error) {
	args := m.Called(ctx, input)
	return args.String(0), args.Error(1)
}

func (m *MockWorkflowStarter) GetProcessSMSResult(ctx context.Context, workflowID string) (*temporal.WorkflowStatus, error) {
	args := m.Called(ctx, workflowID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*temporal.WorkflowStatus), args.Error(1)
}
