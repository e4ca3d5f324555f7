package domain

// Roles posibles de un participante en una consulta.
const (
	RolePatient  = "patient"
	RoleDoctor   = "doctor"
	RoleOperator = "operator"
)

// User es la referencia de identidad que viaja con cada mensaje.
// Pertenece al servicio de identidad externo; el cliente nunca la muta.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}
