package models

import "time"

// User представляет учётную запись в системе идентификации.
type User struct {
	ID           string    // Уникальный идентификатор пользователя
	Email        string    // Электронная почта, она же логин во внешнем сервисе
	PasswordHash string    // Хэш пароля пользователя
	CreatedAt    time.Time // Дата регистрации
}

// SignupRequest используется для приёма данных регистрации из JSON-запроса.
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}
