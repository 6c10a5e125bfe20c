package account

// Event names a role-lifecycle action. The transition table below is the only
// way a role may change, apart from the privileged admin promotion.
type Event string

const (
	EventSubmitDoctorRequest Event = "doctor.request"
	EventAdminApprove        Event = "admin.approve"
	EventAdminReject         Event = "admin.reject"
	EventAdminPromote        Event = "admin.promote"
)

// NextRole evaluates the role transition table. It is a pure predicate over
// (current, event, creds) and holds no state of its own.
//
//	Patient        --doctor.request--> PendingDoctor  (creds complete)
//	PendingDoctor  --admin.approve---> Doctor
//	PendingDoctor  --admin.reject----> Patient
//	any            --admin.promote---> Admin
//
// Every other combination fails with ErrIllegalTransition.
func NextRole(current Role, event Event, creds *DoctorCredentials) (Role, error) {
	if !current.Valid() {
		return "", ErrInvalidRole
	}
	switch event {
	case EventSubmitDoctorRequest:
		if current != RolePatient {
			return "", ErrIllegalTransition
		}
		if creds == nil || !creds.Complete() {
			return "", ErrInvalidInput
		}
		return RolePendingDoctor, nil
	case EventAdminApprove:
		if current != RolePendingDoctor {
			return "", ErrIllegalTransition
		}
		return RoleDoctor, nil
	case EventAdminReject:
		if current != RolePendingDoctor {
			return "", ErrIllegalTransition
		}
		return RolePatient, nil
	case EventAdminPromote:
		return RoleAdmin, nil
	default:
		return "", ErrIllegalTransition
	}
}
