// Package scoring содержит чистые правила волейбольного счёта: пороги сетов,
// правило разницы в два очка, решающий сет и предикат окончания матча.
// Никакого I/O - только решения над текущим состоянием счёта.
package scoring

import "github.com/volleylive/scoreboard/models"

const (
	// RegularSetTarget - обычный сет играется до 25 очков.
	RegularSetTarget int32 = 25
	// DecidingSetTarget - пятый (решающий) сет играется до 15 очков.
	DecidingSetTarget int32 = 15
	// SetsToWinMatch - матч выигрывает первая команда с тремя сетами (best-of-5).
	SetsToWinMatch int32 = 3
)

// IsDecidingSet сообщает, является ли текущий сет решающим (счёт по сетам 2:2).
func IsDecidingSet(setsA, setsB int32) bool {
	return setsA == 2 && setsB == 2
}

// SetTarget возвращает целевое число очков для текущего сета.
func SetTarget(setsA, setsB int32) int32 {
	if IsDecidingSet(setsA, setsB) {
		return DecidingSetTarget
	}
	return RegularSetTarget
}

// SetEndable проверяет, можно ли закрыть текущий сет: одна из сторон набрала
// целевое число очков и разница составляет не меньше двух.
func SetEndable(setsA, setsB, pointsA, pointsB int32) bool {
	target := SetTarget(setsA, setsB)
	if pointsA < target && pointsB < target {
		return false
	}
	return absDiff(pointsA, pointsB) >= 2
}

// SetWinner возвращает сторону, выигравшую сет. Вызывается только когда
// SetEndable вернул true, поэтому ничья сюда не попадает.
func SetWinner(pointsA, pointsB int32) models.Side {
	if pointsA > pointsB {
		return models.SideA
	}
	return models.SideB
}

// MatchWon сообщает, завершает ли матч указанное число выигранных сетов.
// Аргумент - счёт победителя уже после закрытия сета.
func MatchWon(setsWon int32) bool {
	return setsWon >= SetsToWinMatch
}

func absDiff(a, b int32) int32 {
	if a > b {
		return a - b
	}
	return b - a
}
