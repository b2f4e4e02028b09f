package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tajiricircle/tajiri/service/db"
	"github.com/tajiricircle/tajiri/service/pipeline"
)

// handleCreateSavingsGoal returns a handler that creates a savings goal.
// POST /api/v1/savings/goals
func handleCreateSavingsGoal(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Phone        string          `json:"phone" validate:"required,ke_phone"`
			Name         string          `json:"name" validate:"required,max=100"`
			TargetAmount decimal.Decimal `json:"target_amount" validate:"gt=0"`
			Deadline     *time.Time      `json:"deadline,omitempty"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		user, err := lookupUser(r, store, req.Phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		goal, err := store.CreateSavingsGoal(r.Context(), db.CreateSavingsGoalParams{
			UserID:       user.ID,
			Name:         req.Name,
			TargetAmount: req.TargetAmount,
			Deadline:     req.Deadline,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		logger.Info("savings goal created", "phone", user.Phone, "goal_id", goal.ID, "target", goal.TargetAmount.StringFixed(2))
		writeJSON(w, goalToResponse(goal), http.StatusCreated)
	})
}

// handleListSavingsGoals returns a handler that lists a user's goals.
// GET /api/v1/users/{phone}/savings/goals
func handleListSavingsGoals(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		phone, err := pathPhone(r)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		user, err := store.GetUserByPhone(r.Context(), phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		goals, err := store.ListSavingsGoals(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]goalResponse, len(goals))
		for i := range goals {
			resp[i] = goalToResponse(goals[i])
		}
		writeJSON(w, map[string]interface{}{
			"phone": phone,
			"goals": resp,
		}, http.StatusOK)
	})
}

// handleContribute returns a handler that adds money to a goal. Without a
// goal_id the user's oldest goal is used, and a default goal is created
// for users who have none.
// POST /api/v1/savings/contribute
func handleContribute(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Phone  string          `json:"phone" validate:"required,ke_phone"`
			GoalID *uuid.UUID      `json:"goal_id,omitempty"`
			Amount decimal.Decimal `json:"amount" validate:"gt=0"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		user, err := lookupUser(r, store, req.Phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		result, err := store.Contribute(r.Context(), db.ContributeParams{
			UserID: user.ID,
			GoalID: req.GoalID,
			Amount: req.Amount,
		})
		if err != nil {
			writeServiceError(w, r, logger, err, "goal")
			return
		}

		logger.Info("savings contribution recorded",
			"phone", user.Phone,
			"goal_id", result.Goal.ID,
			"amount", req.Amount.StringFixed(2),
			"achieved", result.JustAchieved,
		)
		writeJSON(w, map[string]interface{}{
			"goal":          goalToResponse(result.Goal),
			"amount":        result.Contribution.Amount,
			"just_achieved": result.JustAchieved,
		}, http.StatusOK)
	})
}

// handleCreateChama returns a handler that creates a savings group whose
// creator is its first admin.
// POST /api/v1/chamas
func handleCreateChama(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Phone         string          `json:"phone" validate:"required,ke_phone"`
			Name          string          `json:"name" validate:"required,max=100"`
			Description   *string         `json:"description,omitempty"`
			MonthlyTarget decimal.Decimal `json:"monthly_target" validate:"gte=0"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		user, err := lookupUser(r, store, req.Phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		chama, err := store.CreateChama(r.Context(), db.CreateChamaParams{
			Name:          req.Name,
			Description:   req.Description,
			MonthlyTarget: req.MonthlyTarget,
			CreatedBy:     user.ID,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		logger.Info("chama created", "chama_id", chama.ID, "name", chama.Name, "created_by", user.Phone)
		writeJSON(w, chamaToResponse(chama), http.StatusCreated)
	})
}

// handleGetChama returns a handler that reads a chama with its members.
// GET /api/v1/chamas/{id}
func handleGetChama(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid chama id: must be a UUID", http.StatusBadRequest)
			return
		}

		chama, err := store.GetChama(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err, "chama")
			return
		}
		writeJSON(w, chamaToResponse(chama), http.StatusOK)
	})
}

// handleJoinChama returns a handler that adds a member to a chama.
// POST /api/v1/chamas/{id}/members
func handleJoinChama(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid chama id: must be a UUID", http.StatusBadRequest)
			return
		}

		var req struct {
			Phone string `json:"phone" validate:"required,ke_phone"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		user, err := lookupUser(r, store, req.Phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		if _, err := store.GetChama(r.Context(), id); err != nil {
			writeServiceError(w, r, logger, err, "chama")
			return
		}

		member, err := store.JoinChama(r.Context(), id, user.ID)
		if err != nil {
			writeServiceError(w, r, logger, err, "chama")
			return
		}

		logger.Info("chama member joined", "chama_id", id, "phone", user.Phone)
		writeJSON(w, memberToResponse(member), http.StatusCreated)
	})
}

// handleChamaContribution returns a handler that records a member's
// contribution to a chama.
// POST /api/v1/chamas/{id}/contributions
func handleChamaContribution(store Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid chama id: must be a UUID", http.StatusBadRequest)
			return
		}

		var req struct {
			Phone  string          `json:"phone" validate:"required,ke_phone"`
			Amount decimal.Decimal `json:"amount" validate:"gt=0"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		user, err := lookupUser(r, store, req.Phone)
		if err != nil {
			writeServiceError(w, r, logger, err, "user")
			return
		}

		contribution, err := store.RecordChamaContribution(r.Context(), db.RecordChamaContributionParams{
			ChamaID: id,
			UserID:  user.ID,
			Amount:  req.Amount,
		})
		if err != nil {
			writeServiceError(w, r, logger, err, "chama")
			return
		}

		logger.Info("chama contribution recorded", "chama_id", id, "phone", user.Phone, "amount", req.Amount.StringFixed(2))
		writeJSON(w, map[string]interface{}{
			"id":         contribution.ID,
			"chama_id":   contribution.ChamaID,
			"amount":     contribution.Amount,
			"created_at": contribution.CreatedAt,
		}, http.StatusCreated)
	})
}

// lookupUser resolves an already validated phone to its user.
func lookupUser(r *http.Request, store Store, phone string) (*db.User, error) {
	normalized, err := pipeline.NormalizePhone(phone)
	if err != nil {
		return nil, badRequest("invalid phone: %v", err)
	}
	return store.GetUserByPhone(r.Context(), normalized)
}

type goalResponse struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	Progress      float64         `json:"progress"`
	Achieved      bool            `json:"achieved"`
	Deadline      *time.Time      `json:"deadline,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// goalToResponse adds progress as a percentage capped at 100.
func goalToResponse(g *db.SavingsGoal) goalResponse {
	var progress float64
	if g.TargetAmount.IsPositive() {
		progress = g.CurrentAmount.Div(g.TargetAmount).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
		if progress > 100 {
			progress = 100
		}
	}
	return goalResponse{
		ID:            g.ID,
		Name:          g.Name,
		TargetAmount:  g.TargetAmount,
		CurrentAmount: g.CurrentAmount,
		Progress:      progress,
		Achieved:      g.Achieved,
		Deadline:      g.Deadline,
		CreatedAt:     g.CreatedAt,
	}
}

type memberResponse struct {
	Phone    string    `json:"phone"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}

func memberToResponse(m *db.ChamaMember) memberResponse {
	return memberResponse{Phone: m.Phone, IsAdmin: m.IsAdmin, JoinedAt: m.JoinedAt}
}

type chamaResponse struct {
	ID                 uuid.UUID        `json:"id"`
	Name               string           `json:"name"`
	Description        *string          `json:"description,omitempty"`
	MonthlyTarget      decimal.Decimal  `json:"monthly_target"`
	TotalContributions decimal.Decimal  `json:"total_contributions"`
	CreatedAt          time.Time        `json:"created_at"`
	Members            []memberResponse `json:"members"`
}

func chamaToResponse(c *db.Chama) chamaResponse {
	members := make([]memberResponse, len(c.Members))
	for i, m := range c.Members {
		members[i] = memberToResponse(m)
	}
	return chamaResponse{
		ID:                 c.ID,
		Name:               c.Name,
		Description:        c.Description,
		MonthlyTarget:      c.MonthlyTarget,
		TotalContributions: c.TotalContributions,
		CreatedAt:          c.CreatedAt,
		Members:            members,
	}
}
