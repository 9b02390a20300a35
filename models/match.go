package models

import (
	"time"

	"github.com/lib/pq"
)

type MatchStatus string

const (
	StatusPlanned    MatchStatus = "PLANNED"
	StatusInProgress MatchStatus = "IN_PROGRESS"
	StatusFinished   MatchStatus = "FINISHED"
)

// Side обозначает одну из двух команд матча.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideA:
		return SideA, true
	case SideB:
		return SideB, true
	}
	return "", false
}

// Match - агрегат матча. SetPointsA и SetPointsB растут на один элемент с
// каждым начатым сетом и всегда одинаковой длины. SetsWon всегда из двух
// элементов: [победы A, победы B]. Swapped влияет только на отображение.
type Match struct {
	ID         int           `json:"id"`
	TeamA      string        `json:"team_a"`
	TeamB      string        `json:"team_b"`
	Swapped    bool          `json:"swapped"`
	Status     MatchStatus   `json:"status"`
	SetsWon    pq.Int32Array `json:"sets_won"`
	SetPointsA pq.Int32Array `json:"set_points_a"`
	SetPointsB pq.Int32Array `json:"set_points_b"`
	MatchStart time.Time     `json:"match_start"`
	SetStart   time.Time     `json:"set_start"`
}
