package core

type Services struct {
	Owner      *OwnerService
	Auth       *AuthService
	Key        *KeyService
	Validation *ValidationService
}

func NewServices(db DB, jwtSecret, jwtIssuer string) *Services {
	return &Services{
		Owner:      NewOwnerService(db),
		Auth:       NewAuthService(jwtSecret, jwtIssuer),
		Key:        NewKeyService(db),
		Validation: NewValidationService(db),
	}
}
