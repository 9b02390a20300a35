package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/volleylive/scoreboard/models"
)

type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var ErrMatchNotFound = errors.New("match not found")

// Максимум очков в сете - потолок int32 в колонке integer[].
// Условные UPDATE не дают инкременту выйти за него.
const maxSetPoints = 2147483647

// ScoreState - срез состояния счёта, который читается под блокировкой строки
// перед закрытием сета. PointsA/PointsB - последние элементы массивов очков
// (ноль значим только при открытом сете).
type ScoreState struct {
	Status   models.MatchStatus
	SetsWonA int32
	SetsWonB int32
	PointsA  int32
	PointsB  int32
}

func (s *ScoreState) SetsWon(side models.Side) int32 {
	if side == models.SideA {
		return s.SetsWonA
	}
	return s.SetsWonB
}

// MatchRepository - контракт хранилища матчей. Условные мутаторы возвращают
// applied=false, когда предусловие в WHERE не выполнилось (неверный статус,
// потолок или пол счёта, отсутствующий матч) - проверка и запись выполняются
// одним атомарным оператором на стороне базы.
type MatchRepository interface {
	// WithTx выполняет fn в одной транзакции; методы, принимающие
	// SQLExecutor, внутри fn работают с той же транзакцией.
	WithTx(ctx context.Context, fn func(exec SQLExecutor) error) error

	Exists(ctx context.Context, id int) (bool, error)
	GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error)
	List(ctx context.Context) ([]*models.Match, error)
	Create(ctx context.Context, teamA, teamB string, start *time.Time) (*models.Match, error)
	Delete(ctx context.Context, id int) (bool, error)

	AddPoint(ctx context.Context, exec SQLExecutor, id int, side models.Side) (bool, error)
	RemovePoint(ctx context.Context, exec SQLExecutor, id int, side models.Side) (bool, error)
	SwapTeams(ctx context.Context, exec SQLExecutor, id int) (bool, error)

	// Примитивы закрытия сета. ScoreState блокирует строку матча до конца
	// транзакции, чтобы конкурентное очко не вклинилось между проверкой
	// порога и записью результата.
	ScoreState(ctx context.Context, exec SQLExecutor, id int) (*ScoreState, error)
	StartMatch(ctx context.Context, exec SQLExecutor, id int) (bool, error)
	FinishMatch(ctx context.Context, exec SQLExecutor, id int, winner models.Side) error
	OpenNextSet(ctx context.Context, exec SQLExecutor, id int, winner models.Side) error
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

// executor выбирает транзакцию, если она передана, иначе пул соединений.
func (r *postgresMatchRepository) executor(exec SQLExecutor) SQLExecutor {
	if exec == nil {
		return r.db
	}
	return exec
}

func (r *postgresMatchRepository) WithTx(ctx context.Context, fn func(exec SQLExecutor) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *postgresMatchRepository) Exists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM matches WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check match %d existence: %w", id, err)
	}
	return exists, nil
}

const matchColumns = `id, team_a, team_b, swapped, status, sets_won, set_points_a, set_points_b, match_start, set_start`

func scanMatch(row interface{ Scan(dest ...interface{}) error }, match *models.Match) error {
	return row.Scan(
		&match.ID,
		&match.TeamA,
		&match.TeamB,
		&match.Swapped,
		&match.Status,
		&match.SetsWon,
		&match.SetPointsA,
		&match.SetPointsB,
		&match.MatchStart,
		&match.SetStart,
	)
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, exec SQLExecutor, id int) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match := &models.Match{}
	err := scanMatch(r.executor(exec).QueryRowContext(ctx, query, id), match)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match by id %d: %w", id, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) List(ctx context.Context) ([]*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches: %w", err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		var match models.Match
		if scanErr := scanMatch(rows, &match); scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, &match)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) Create(ctx context.Context, teamA, teamB string, start *time.Time) (*models.Match, error) {
	match := &models.Match{}
	var err error
	if start == nil {
		// Без расписания: статус и время берутся из значений по умолчанию.
		query := `INSERT INTO matches (team_a, team_b) VALUES ($1, $2) RETURNING ` + matchColumns
		err = scanMatch(r.db.QueryRowContext(ctx, query, teamA, teamB), match)
	} else {
		query := `INSERT INTO matches (team_a, team_b, match_start, set_start) VALUES ($1, $2, $3, $3) RETURNING ` + matchColumns
		err = scanMatch(r.db.QueryRowContext(ctx, query, teamA, teamB, *start), match)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert match: %w", err)
	}
	return match, nil
}

func (r *postgresMatchRepository) Delete(ctx context.Context, id int) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM matches WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete match %d: %w", id, err)
	}
	return applied(result)
}

// AddPoint увеличивает последний элемент массива очков стороны на единицу.
// Предусловия (живой матч, потолок счёта) проверяются тем же оператором.
func (r *postgresMatchRepository) AddPoint(ctx context.Context, exec SQLExecutor, id int, side models.Side) (bool, error) {
	col := pointsColumn(side)
	query := fmt.Sprintf(`
		UPDATE matches
		SET %[1]s[array_length(%[1]s, 1)] = %[1]s[array_length(%[1]s, 1)] + 1
		WHERE id = $1 AND status = 'IN_PROGRESS' AND %[1]s[array_length(%[1]s, 1)] < $2`, col)

	result, err := r.executor(exec).ExecContext(ctx, query, id, maxSetPoints)
	if err != nil {
		return false, fmt.Errorf("failed to add point for match %d side %s: %w", id, side, err)
	}
	return applied(result)
}

// RemovePoint уменьшает последний элемент массива очков стороны на единицу,
// но не ниже нуля.
func (r *postgresMatchRepository) RemovePoint(ctx context.Context, exec SQLExecutor, id int, side models.Side) (bool, error) {
	col := pointsColumn(side)
	query := fmt.Sprintf(`
		UPDATE matches
		SET %[1]s[array_length(%[1]s, 1)] = %[1]s[array_length(%[1]s, 1)] - 1
		WHERE id = $1 AND status = 'IN_PROGRESS' AND %[1]s[array_length(%[1]s, 1)] > 0`, col)

	result, err := r.executor(exec).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove point for match %d side %s: %w", id, side, err)
	}
	return applied(result)
}

func (r *postgresMatchRepository) SwapTeams(ctx context.Context, exec SQLExecutor, id int) (bool, error) {
	query := `UPDATE matches SET swapped = NOT swapped WHERE id = $1 AND status = 'IN_PROGRESS'`

	result, err := r.executor(exec).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to swap teams for match %d: %w", id, err)
	}
	return applied(result)
}

func (r *postgresMatchRepository) ScoreState(ctx context.Context, exec SQLExecutor, id int) (*ScoreState, error) {
	query := `
		SELECT status, sets_won,
		       set_points_a[array_length(set_points_a, 1)],
		       set_points_b[array_length(set_points_b, 1)]
		FROM matches WHERE id = $1 FOR UPDATE`

	var state ScoreState
	var setsWon pq.Int32Array
	var pa, pb sql.NullInt32
	err := r.executor(exec).QueryRowContext(ctx, query, id).Scan(&state.Status, &setsWon, &pa, &pb)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to read score state for match %d: %w", id, err)
	}
	if len(setsWon) != 2 {
		return nil, fmt.Errorf("match %d has malformed sets_won of length %d", id, len(setsWon))
	}
	state.SetsWonA = setsWon[0]
	state.SetsWonB = setsWon[1]
	// NULL, пока матч PLANNED и массивы очков пустые.
	state.PointsA = pa.Int32
	state.PointsB = pb.Int32
	return &state, nil
}

// StartMatch переводит PLANNED-матч в IN_PROGRESS, фиксирует время и
// открывает первый сет. Для любого другого статуса - no-op.
func (r *postgresMatchRepository) StartMatch(ctx context.Context, exec SQLExecutor, id int) (bool, error) {
	query := `
		UPDATE matches
		SET status = 'IN_PROGRESS', match_start = now(), set_start = now(),
		    set_points_a = array_append(set_points_a, 0),
		    set_points_b = array_append(set_points_b, 0)
		WHERE id = $1 AND status = 'PLANNED'`

	result, err := r.executor(exec).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to start match %d: %w", id, err)
	}
	return applied(result)
}

// FinishMatch закрывает последний сет в пользу победителя и завершает матч.
// Перестановка сторон при завершении сбрасывается.
func (r *postgresMatchRepository) FinishMatch(ctx context.Context, exec SQLExecutor, id int, winner models.Side) error {
	query := `
		UPDATE matches
		SET status = 'FINISHED', swapped = FALSE, sets_won[$2] = sets_won[$2] + 1
		WHERE id = $1`

	result, err := r.executor(exec).ExecContext(ctx, query, id, setsWonIndex(winner))
	if err != nil {
		return fmt.Errorf("failed to finish match %d: %w", id, err)
	}
	return mustApply(result, id)
}

// OpenNextSet закрывает сет в пользу победителя и открывает следующий:
// к обоим массивам очков добавляется ноль, время сета сбрасывается.
func (r *postgresMatchRepository) OpenNextSet(ctx context.Context, exec SQLExecutor, id int, winner models.Side) error {
	query := `
		UPDATE matches
		SET sets_won[$2] = sets_won[$2] + 1,
		    set_points_a = array_append(set_points_a, 0),
		    set_points_b = array_append(set_points_b, 0),
		    set_start = now()
		WHERE id = $1`

	result, err := r.executor(exec).ExecContext(ctx, query, id, setsWonIndex(winner))
	if err != nil {
		return fmt.Errorf("failed to open next set for match %d: %w", id, err)
	}
	return mustApply(result, id)
}

func pointsColumn(side models.Side) string {
	if side == models.SideA {
		return "set_points_a"
	}
	return "set_points_b"
}

// setsWonIndex - индекс стороны в sets_won; массивы в postgres с единицы.
func setsWonIndex(side models.Side) int {
	if side == models.SideA {
		return 1
	}
	return 2
}

func applied(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return rowsAffected > 0, nil
}

func mustApply(result sql.Result, id int) error {
	ok, err := applied(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMatchNotFound
	}
	return nil
}
