package services

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volleylive/scoreboard/live"
	"github.com/volleylive/scoreboard/models"
	"github.com/volleylive/scoreboard/repositories"
)

// fakeMatchRepository - хранилище в памяти с теми же условными предикатами,
// что и у postgres-реализации: проверка и изменение выполняются под одной
// блокировкой, applied=false при невыполненном предусловии.
type fakeMatchRepository struct {
	mu      sync.Mutex
	nextID  int
	matches map[int]*models.Match
}

func newFakeMatchRepository() *fakeMatchRepository {
	return &fakeMatchRepository{nextID: 1, matches: make(map[int]*models.Match)}
}

func (r *fakeMatchRepository) WithTx(_ context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

func (r *fakeMatchRepository) Exists(_ context.Context, id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.matches[id]
	return ok, nil
}

func copyMatch(m *models.Match) *models.Match {
	cp := *m
	cp.SetsWon = append([]int32(nil), m.SetsWon...)
	cp.SetPointsA = append([]int32(nil), m.SetPointsA...)
	cp.SetPointsB = append([]int32(nil), m.SetPointsB...)
	return &cp
}

func (r *fakeMatchRepository) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	return copyMatch(m), nil
}

func (r *fakeMatchRepository) List(_ context.Context) ([]*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := make([]*models.Match, 0, len(r.matches))
	for id := 1; id < r.nextID; id++ {
		if m, ok := r.matches[id]; ok {
			matches = append(matches, copyMatch(m))
		}
	}
	return matches, nil
}

func (r *fakeMatchRepository) Create(_ context.Context, teamA, teamB string, start *time.Time) (*models.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if start != nil {
		now = *start
	}
	m := &models.Match{
		ID:         r.nextID,
		TeamA:      teamA,
		TeamB:      teamB,
		Status:     models.StatusPlanned,
		SetsWon:    []int32{0, 0},
		SetPointsA: []int32{},
		SetPointsB: []int32{},
		MatchStart: now,
		SetStart:   now,
	}
	r.nextID++
	r.matches[m.ID] = m
	return copyMatch(m), nil
}

func (r *fakeMatchRepository) Delete(_ context.Context, id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[id]; !ok {
		return false, nil
	}
	delete(r.matches, id)
	return true, nil
}

func (r *fakeMatchRepository) points(m *models.Match, side models.Side) *[]int32 {
	if side == models.SideA {
		return (*[]int32)(&m.SetPointsA)
	}
	return (*[]int32)(&m.SetPointsB)
}

func (r *fakeMatchRepository) AddPoint(_ context.Context, _ repositories.SQLExecutor, id int, side models.Side) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok || m.Status != models.StatusInProgress {
		return false, nil
	}
	pts := r.points(m, side)
	last := len(*pts) - 1
	if (*pts)[last] >= math.MaxInt32 {
		return false, nil
	}
	(*pts)[last]++
	return true, nil
}

func (r *fakeMatchRepository) RemovePoint(_ context.Context, _ repositories.SQLExecutor, id int, side models.Side) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok || m.Status != models.StatusInProgress {
		return false, nil
	}
	pts := r.points(m, side)
	last := len(*pts) - 1
	if (*pts)[last] <= 0 {
		return false, nil
	}
	(*pts)[last]--
	return true, nil
}

func (r *fakeMatchRepository) SwapTeams(_ context.Context, _ repositories.SQLExecutor, id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok || m.Status != models.StatusInProgress {
		return false, nil
	}
	m.Swapped = !m.Swapped
	return true, nil
}

func (r *fakeMatchRepository) ScoreState(_ context.Context, _ repositories.SQLExecutor, id int) (*repositories.ScoreState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	state := &repositories.ScoreState{
		Status:   m.Status,
		SetsWonA: m.SetsWon[0],
		SetsWonB: m.SetsWon[1],
	}
	if n := len(m.SetPointsA); n > 0 {
		state.PointsA = m.SetPointsA[n-1]
		state.PointsB = m.SetPointsB[n-1]
	}
	return state, nil
}

func (r *fakeMatchRepository) StartMatch(_ context.Context, _ repositories.SQLExecutor, id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok || m.Status != models.StatusPlanned {
		return false, nil
	}
	now := time.Now()
	m.Status = models.StatusInProgress
	m.MatchStart = now
	m.SetStart = now
	m.SetPointsA = append(m.SetPointsA, 0)
	m.SetPointsB = append(m.SetPointsB, 0)
	return true, nil
}

func setsWonIdx(side models.Side) int {
	if side == models.SideA {
		return 0
	}
	return 1
}

func (r *fakeMatchRepository) FinishMatch(_ context.Context, _ repositories.SQLExecutor, id int, winner models.Side) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.Status = models.StatusFinished
	m.Swapped = false
	m.SetsWon[setsWonIdx(winner)]++
	return nil
}

func (r *fakeMatchRepository) OpenNextSet(_ context.Context, _ repositories.SQLExecutor, id int, winner models.Side) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.SetsWon[setsWonIdx(winner)]++
	m.SetPointsA = append(m.SetPointsA, 0)
	m.SetPointsB = append(m.SetPointsB, 0)
	m.SetStart = time.Now()
	return nil
}

type broadcastRecord struct {
	view live.View
	msg  live.Message
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	records []broadcastRecord
}

func (b *fakeBroadcaster) Broadcast(view live.View, msg live.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, broadcastRecord{view: view, msg: msg})
}

func (b *fakeBroadcaster) recorded() []broadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broadcastRecord(nil), b.records...)
}

func (b *fakeBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
}

func newTestService(t *testing.T) (MatchService, *fakeMatchRepository, *fakeBroadcaster) {
	t.Helper()
	repo := newFakeMatchRepository()
	hub := &fakeBroadcaster{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMatchService(repo, hub, logger), repo, hub
}

func TestCreateMatchValidation(t *testing.T) {
	tests := []struct {
		name  string
		input CreateMatchInput
		want  error
	}{
		{"empty team a", CreateMatchInput{TeamA: "  ", TeamB: "Hawks"}, ErrTeamNameEmpty},
		{"empty team b", CreateMatchInput{TeamA: "Eagles", TeamB: ""}, ErrTeamNameEmpty},
		{"team a too long", CreateMatchInput{TeamA: strings.Repeat("ы", 51), TeamB: "Hawks"}, ErrTeamNameTooLong},
		{"duplicate names", CreateMatchInput{TeamA: "Eagles", TeamB: "Eagles"}, ErrDuplicateTeamName},
		{"duplicate after trim", CreateMatchInput{TeamA: " Eagles ", TeamB: "Eagles"}, ErrDuplicateTeamName},
		{"past date", CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks", Date: "2000-01-01T10:00:00Z"}, ErrPastDate},
		{"garbage date", CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks", Date: "next tuesday"}, ErrInvalidDateFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, hub := newTestService(t)
			_, err := svc.CreateMatch(context.Background(), tt.input)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, hub.recorded(), "rejected creation must not broadcast")
		})
	}
}

func TestCreateMatchFiftyRuneNameAllowed(t *testing.T) {
	svc, _, _ := newTestService(t)
	match, err := svc.CreateMatch(context.Background(), CreateMatchInput{
		TeamA: strings.Repeat("ы", 50),
		TeamB: "Hawks",
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ы", 50), match.TeamA)
}

func TestCreateMatchWithoutDate(t *testing.T) {
	svc, _, hub := newTestService(t)
	match, err := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: " Eagles ", TeamB: "Hawks"})
	require.NoError(t, err)

	assert.Equal(t, "Eagles", match.TeamA, "names are trimmed")
	assert.Equal(t, models.StatusPlanned, match.Status)
	assert.Empty(t, match.SetPointsA)
	assert.Empty(t, match.SetPointsB)
	assert.Equal(t, []int32{0, 0}, []int32(match.SetsWon))

	records := hub.recorded()
	require.Len(t, records, 1)
	assert.Equal(t, live.GlobalView(), records[0].view)
	assert.Equal(t, live.MsgMatchCreated, records[0].msg.Type)
}

func TestCreateMatchWithFutureDate(t *testing.T) {
	svc, _, _ := newTestService(t)
	future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	match, err := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks", Date: future})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlanned, match.Status)
	assert.True(t, match.MatchStart.After(time.Now()))
}

func TestEndSetStartsPlannedMatch(t *testing.T) {
	svc, _, hub := newTestService(t)
	match, err := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	require.NoError(t, err)
	hub.reset()

	applied, err := svc.EndSet(context.Background(), match.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	started, err := svc.GetMatch(context.Background(), match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, started.Status)
	assert.Equal(t, []int32{0}, []int32(started.SetPointsA))
	assert.Equal(t, []int32{0}, []int32(started.SetPointsB))

	records := hub.recorded()
	require.Len(t, records, 2)
	assert.Equal(t, live.MatchView(match.ID), records[0].view)
	assert.Equal(t, live.GlobalView(), records[1].view)
}

func TestEndSetOnFreshSetIsNoOp(t *testing.T) {
	svc, _, hub := newTestService(t)
	match, _ := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	_, err := svc.EndSet(context.Background(), match.ID) // старт
	require.NoError(t, err)
	hub.reset()

	// Второй вызов: матч уже идёт, но 0:0 закрыть нельзя.
	applied, err := svc.EndSet(context.Background(), match.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, hub.recorded(), "rejected transition must not broadcast")

	unchanged, err := svc.GetMatch(context.Background(), match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, unchanged.Status)
	assert.Equal(t, []int32{0}, []int32(unchanged.SetPointsA))
}

func TestEndSetMissingMatch(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.EndSet(context.Background(), 404)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

// Сценарий: старт, 25:23, закрытие первого сета.
func TestFirstSetScenario(t *testing.T) {
	svc, _, hub := newTestService(t)
	match, err := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	require.NoError(t, err)

	applied, err := svc.EndSet(context.Background(), match.ID)
	require.NoError(t, err)
	require.True(t, applied)

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		applied, err = svc.AddPoint(ctx, match.ID, models.SideA)
		require.NoError(t, err)
		require.True(t, applied)
	}
	for i := 0; i < 23; i++ {
		applied, err = svc.AddPoint(ctx, match.ID, models.SideB)
		require.NoError(t, err)
		require.True(t, applied)
	}
	hub.reset()

	applied, err = svc.EndSet(ctx, match.ID)
	require.NoError(t, err)
	assert.True(t, applied, "25:23 satisfies target and margin")

	after, err := svc.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, after.Status)
	assert.Equal(t, []int32{1, 0}, []int32(after.SetsWon))
	assert.Equal(t, []int32{25, 0}, []int32(after.SetPointsA))
	assert.Equal(t, []int32{23, 0}, []int32(after.SetPointsB))
	assert.Len(t, after.SetPointsA, len(after.SetPointsB))

	records := hub.recorded()
	require.Len(t, records, 2)
	assert.Equal(t, live.MsgMatchUpdated, records[0].msg.Type)
	assert.Equal(t, live.MsgMatchEntryUpdated, records[1].msg.Type)
}

func TestEndSetRejectedWithoutMargin(t *testing.T) {
	svc, repo, hub := newTestService(t)
	match, _ := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	_, err := svc.EndSet(context.Background(), match.ID)
	require.NoError(t, err)

	repo.mu.Lock()
	repo.matches[match.ID].SetPointsA = []int32{25}
	repo.matches[match.ID].SetPointsB = []int32{24}
	repo.mu.Unlock()
	hub.reset()

	applied, err := svc.EndSet(context.Background(), match.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, hub.recorded())
}

func TestDecidingSetEndsAtFifteen(t *testing.T) {
	svc, repo, _ := newTestService(t)
	match, _ := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	_, err := svc.EndSet(context.Background(), match.ID)
	require.NoError(t, err)

	repo.mu.Lock()
	repo.matches[match.ID].SetsWon = []int32{2, 2}
	repo.matches[match.ID].SetPointsA = []int32{25, 20, 25, 20, 15}
	repo.matches[match.ID].SetPointsB = []int32{20, 25, 20, 25, 13}
	repo.mu.Unlock()

	applied, err := svc.EndSet(context.Background(), match.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	after, err := svc.GetMatch(context.Background(), match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, after.Status)
	assert.Equal(t, []int32{3, 2}, []int32(after.SetsWon))
}

func TestMatchFinishesAfterThreeSetWins(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	match, _ := svc.CreateMatch(ctx, CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	_, err := svc.EndSet(ctx, match.ID)
	require.NoError(t, err)

	winSet := func() {
		for i := 0; i < 25; i++ {
			applied, err := svc.AddPoint(ctx, match.ID, models.SideA)
			require.NoError(t, err)
			require.True(t, applied)
		}
		applied, err := svc.EndSet(ctx, match.ID)
		require.NoError(t, err)
		require.True(t, applied)
	}

	winSet()
	winSet()

	// Перестановка сторон действует, пока матч идёт.
	applied, err := svc.SwapTeams(ctx, match.ID)
	require.NoError(t, err)
	require.True(t, applied)

	winSet() // третий выигранный сет заканчивает матч

	after, err := svc.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, after.Status)
	assert.Equal(t, []int32{3, 0}, []int32(after.SetsWon))
	assert.False(t, after.Swapped, "swap is forced off when the match finishes")
	assert.Len(t, after.SetPointsA, 3, "no new set opens after the match ends")

	// Завершённый матч больше не принимает изменений.
	applied, err = svc.AddPoint(ctx, match.ID, models.SideA)
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = svc.SwapTeams(ctx, match.ID)
	require.NoError(t, err)
	assert.False(t, applied)
	applied, err = svc.EndSet(ctx, match.ID)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPointMutationsOnPlannedMatch(t *testing.T) {
	svc, _, hub := newTestService(t)
	match, _ := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	hub.reset()

	applied, err := svc.AddPoint(context.Background(), match.ID, models.SideA)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = svc.SwapTeams(context.Background(), match.ID)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Empty(t, hub.recorded())
}

func TestRemovePointAtZeroIsNoOp(t *testing.T) {
	svc, _, hub := newTestService(t)
	ctx := context.Background()
	match, _ := svc.CreateMatch(ctx, CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	_, err := svc.EndSet(ctx, match.ID)
	require.NoError(t, err)
	hub.reset()

	applied, err := svc.RemovePoint(ctx, match.ID, models.SideB)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Empty(t, hub.recorded())

	// После набранного очка декремент работает.
	_, err = svc.AddPoint(ctx, match.ID, models.SideB)
	require.NoError(t, err)
	applied, err = svc.RemovePoint(ctx, match.ID, models.SideB)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestAddPointCeiling(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	match, _ := svc.CreateMatch(ctx, CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	_, err := svc.EndSet(ctx, match.ID)
	require.NoError(t, err)

	repo.mu.Lock()
	repo.matches[match.ID].SetPointsA = []int32{math.MaxInt32}
	repo.mu.Unlock()

	applied, err := svc.AddPoint(ctx, match.ID, models.SideA)
	require.NoError(t, err)
	assert.False(t, applied, "increment must not pass the int32 ceiling")
}

func TestSwapTeamsToggles(t *testing.T) {
	svc, _, hub := newTestService(t)
	ctx := context.Background()
	match, _ := svc.CreateMatch(ctx, CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	_, err := svc.EndSet(ctx, match.ID)
	require.NoError(t, err)
	hub.reset()

	applied, err := svc.SwapTeams(ctx, match.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	m, err := svc.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.True(t, m.Swapped)

	applied, err = svc.SwapTeams(ctx, match.ID)
	require.NoError(t, err)
	assert.True(t, applied)

	m, err = svc.GetMatch(ctx, match.ID)
	require.NoError(t, err)
	assert.False(t, m.Swapped)

	records := hub.recorded()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, live.MatchView(match.ID), rec.view)
		assert.Equal(t, live.MsgMatchUpdated, rec.msg.Type)
	}
}

func TestRemoveMatchBroadcastsToBothViews(t *testing.T) {
	svc, _, hub := newTestService(t)
	match, _ := svc.CreateMatch(context.Background(), CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})
	hub.reset()

	require.NoError(t, svc.RemoveMatch(context.Background(), match.ID))

	records := hub.recorded()
	require.Len(t, records, 2)
	assert.Equal(t, live.GlobalView(), records[0].view)
	assert.Equal(t, live.MatchView(match.ID), records[1].view)
	for _, rec := range records {
		assert.Equal(t, live.MsgMatchRemoved, rec.msg.Type)
	}

	err := svc.RemoveMatch(context.Background(), match.ID)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestPointArraysStayAligned(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	match, _ := svc.CreateMatch(ctx, CreateMatchInput{TeamA: "Eagles", TeamB: "Hawks"})

	check := func() {
		m, err := svc.GetMatch(ctx, match.ID)
		require.NoError(t, err)
		assert.Len(t, m.SetPointsA, len(m.SetPointsB))
	}

	check()
	_, err := svc.EndSet(ctx, match.ID)
	require.NoError(t, err)
	check()
	for i := 0; i < 25; i++ {
		_, err = svc.AddPoint(ctx, match.ID, models.SideA)
		require.NoError(t, err)
		check()
	}
	_, err = svc.EndSet(ctx, match.ID)
	require.NoError(t, err)
	check()
}
