package models

// CleanupResult — итог обработки одного кандидата на удаление.
type CleanupResult struct {
	Identifier string `json:"identifier"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// CleanupReport — отчёт одного запуска задачи очистки.
type CleanupReport struct {
	Success   bool            `json:"success"`
	Processed int             `json:"processed"`
	Skipped   int             `json:"skipped"`
	Results   []CleanupResult `json:"results"`
}
