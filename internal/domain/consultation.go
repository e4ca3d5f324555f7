package domain

import "time"

// DoctorSummary es el resumen clinico que el doctor deja sobre una consulta.
type DoctorSummary struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation"`
	Diagnosis      string    `json:"diagnosis"`
	Recommendation string    `json:"recommendation,omitempty"`
	Author         User      `json:"author"`
	CreatedAt      time.Time `json:"created_at"`
}

// Prescription es una receta emitida dentro de una consulta.
type Prescription struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation"`
	Medication     string    `json:"medication"`
	Dosage         string    `json:"dosage,omitempty"`
	Instructions   string    `json:"instructions,omitempty"`
	IssuedBy       User      `json:"issued_by"`
	IssuedAt       time.Time `json:"issued_at"`
}
