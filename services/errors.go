package services

import "errors"

// Ошибки валидации при создании матча и общие ошибки сервисного слоя.
// Отклонённые переходы счёта ошибками не являются - они возвращаются
// как applied=false.
var (
	ErrMatchNotFound = errors.New("match not found")

	ErrTeamNameEmpty     = errors.New("team names cannot be empty")
	ErrTeamNameTooLong   = errors.New("team name can't be longer than 50 characters")
	ErrDuplicateTeamName = errors.New("team names cannot be the same")
	ErrPastDate          = errors.New("past dates are not allowed")
	ErrInvalidDateFormat = errors.New("incorrect date format, date has to be a valid ISO8601 timestamp, leave empty to use current time")
)
