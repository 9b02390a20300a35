package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/volleylive/scoreboard/live"
	"github.com/volleylive/scoreboard/models"
	"github.com/volleylive/scoreboard/repositories"
	"github.com/volleylive/scoreboard/scoring"
)

const maxTeamNameLength = 50

// Форматы даты запланированного матча: RFC 3339 и ISO 8601 без смещения.
var scheduleLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

// Broadcaster - то, что координатору нужно от реестра клиентов.
type Broadcaster interface {
	Broadcast(view live.View, msg live.Message)
}

type CreateMatchInput struct {
	TeamA string `json:"team_a"`
	TeamB string `json:"team_b"`
	Date  string `json:"date"`
}

// MatchService координирует "изменить хранилище, затем разослать новое
// состояние подписчикам". Методы переходов возвращают applied=false, когда
// предусловие не выполнено - это не ошибка, рассылки в этом случае нет.
type MatchService interface {
	ListMatches(ctx context.Context) ([]*models.Match, error)
	GetMatch(ctx context.Context, id int) (*models.Match, error)
	CreateMatch(ctx context.Context, input CreateMatchInput) (*models.Match, error)
	RemoveMatch(ctx context.Context, id int) error
	AddPoint(ctx context.Context, id int, side models.Side) (bool, error)
	RemovePoint(ctx context.Context, id int, side models.Side) (bool, error)
	SwapTeams(ctx context.Context, id int) (bool, error)
	EndSet(ctx context.Context, id int) (bool, error)
}

type matchService struct {
	repo   repositories.MatchRepository
	hub    Broadcaster
	logger *slog.Logger
}

func NewMatchService(repo repositories.MatchRepository, hub Broadcaster, logger *slog.Logger) MatchService {
	return &matchService{
		repo:   repo,
		hub:    hub,
		logger: logger,
	}
}

func (s *matchService) ListMatches(ctx context.Context) ([]*models.Match, error) {
	matches, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return matches, nil
}

func (s *matchService) GetMatch(ctx context.Context, id int) (*models.Match, error) {
	match, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return match, nil
}

func (s *matchService) CreateMatch(ctx context.Context, input CreateMatchInput) (*models.Match, error) {
	teamA := strings.TrimSpace(input.TeamA)
	teamB := strings.TrimSpace(input.TeamB)
	if teamA == "" || teamB == "" {
		return nil, ErrTeamNameEmpty
	}
	if utf8.RuneCountInString(teamA) > maxTeamNameLength || utf8.RuneCountInString(teamB) > maxTeamNameLength {
		return nil, ErrTeamNameTooLong
	}
	if teamA == teamB {
		return nil, ErrDuplicateTeamName
	}

	start, err := parseSchedule(input.Date)
	if err != nil {
		return nil, err
	}

	match, err := s.repo.Create(ctx, teamA, teamB, start)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	s.logger.Info("match created",
		slog.Int("match_id", match.ID),
		slog.String("team_a", match.TeamA),
		slog.String("team_b", match.TeamB))
	s.hub.Broadcast(live.GlobalView(), live.Message{Type: live.MsgMatchCreated, Payload: match})
	return match, nil
}

// parseSchedule разбирает опциональную дату начала. Пустая строка - матч без
// расписания. Дата в прошлом не принимается.
func parseSchedule(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			if !t.After(time.Now()) {
				return nil, ErrPastDate
			}
			return &t, nil
		}
	}
	return nil, ErrInvalidDateFormat
}

func (s *matchService) RemoveMatch(ctx context.Context, id int) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to remove match %d: %w", id, err)
	}
	if !deleted {
		return ErrMatchNotFound
	}

	s.logger.Info("match removed", slog.Int("match_id", id))
	removal := map[string]int{"id": id}
	s.hub.Broadcast(live.GlobalView(), live.Message{Type: live.MsgMatchRemoved, Payload: removal})
	s.hub.Broadcast(live.MatchView(id), live.Message{Type: live.MsgMatchRemoved, Payload: removal})
	return nil
}

func (s *matchService) AddPoint(ctx context.Context, id int, side models.Side) (bool, error) {
	return s.mutateMatch(ctx, id, func(exec repositories.SQLExecutor) (bool, error) {
		return s.repo.AddPoint(ctx, exec, id, side)
	})
}

func (s *matchService) RemovePoint(ctx context.Context, id int, side models.Side) (bool, error) {
	return s.mutateMatch(ctx, id, func(exec repositories.SQLExecutor) (bool, error) {
		return s.repo.RemovePoint(ctx, exec, id, side)
	})
}

func (s *matchService) SwapTeams(ctx context.Context, id int) (bool, error) {
	return s.mutateMatch(ctx, id, func(exec repositories.SQLExecutor) (bool, error) {
		return s.repo.SwapTeams(ctx, exec, id)
	})
}

// mutateMatch выполняет условный мутатор и чтение нового состояния в одной
// транзакции. Рассылка идёт только после фиксации и только если мутация
// действительно применилась.
func (s *matchService) mutateMatch(ctx context.Context, id int, op func(exec repositories.SQLExecutor) (bool, error)) (bool, error) {
	var match *models.Match
	applied := false
	err := s.repo.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		ok, err := op(exec)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		applied = true
		match, err = s.repo.GetByID(ctx, exec, id)
		return err
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	s.hub.Broadcast(live.MatchView(id), live.Message{Type: live.MsgMatchUpdated, Payload: match})
	return true, nil
}

// EndSet - действие "закончить сет / закончить матч". Для PLANNED-матча оно
// работает как старт, для IN_PROGRESS закрывает сет, если порог и разница в
// два очка достигнуты. Проверка и запись выполняются под блокировкой строки
// матча, чтобы конкурентное очко не вклинилось между ними.
func (s *matchService) EndSet(ctx context.Context, id int) (bool, error) {
	var match *models.Match
	applied := false
	err := s.repo.WithTx(ctx, func(exec repositories.SQLExecutor) error {
		state, err := s.repo.ScoreState(ctx, exec, id)
		if err != nil {
			return err
		}

		switch state.Status {
		case models.StatusFinished:
			return nil

		case models.StatusPlanned:
			ok, err := s.repo.StartMatch(ctx, exec, id)
			if err != nil {
				return err
			}
			applied = ok

		default:
			if !scoring.SetEndable(state.SetsWonA, state.SetsWonB, state.PointsA, state.PointsB) {
				return nil
			}
			winner := scoring.SetWinner(state.PointsA, state.PointsB)
			if scoring.MatchWon(state.SetsWon(winner) + 1) {
				err = s.repo.FinishMatch(ctx, exec, id, winner)
			} else {
				err = s.repo.OpenNextSet(ctx, exec, id, winner)
			}
			if err != nil {
				return err
			}
			applied = true
		}

		if applied {
			match, err = s.repo.GetByID(ctx, exec, id)
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return false, ErrMatchNotFound
		}
		return false, err
	}
	if !applied {
		return false, nil
	}

	if match.Status == models.StatusFinished {
		s.logger.Info("match finished", slog.Int("match_id", id))
	}
	s.hub.Broadcast(live.MatchView(id), live.Message{Type: live.MsgMatchUpdated, Payload: match})
	s.hub.Broadcast(live.GlobalView(), live.Message{Type: live.MsgMatchEntryUpdated, Payload: match})
	return true, nil
}
