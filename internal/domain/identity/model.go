package identity

import "time"

type Role string

const (
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
	RoleAdmin   Role = "ADMIN"
)

// Identity is what the directory knows about an authenticated caller. A
// user holds at most one role-scoped id: DoctorID for doctors, PatientID
// for patients.
type Identity struct {
	UserID    int64     `json:"userId"`
	Subject   string    `json:"-"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	Role      Role      `json:"role"`
	DoctorID  *int64    `json:"doctorId,omitempty"`
	PatientID *int64    `json:"patientId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsParticipant reports whether this identity is the doctor or the patient
// named by the pair.
func (i *Identity) IsParticipant(doctorID, patientID int64) bool {
	if i.DoctorID != nil && *i.DoctorID == doctorID {
		return true
	}
	return i.PatientID != nil && *i.PatientID == patientID
}
