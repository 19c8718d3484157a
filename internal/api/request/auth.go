package request

// Login holds the request body for owner login.
type Login struct {
	Username string `json:"username" validate:"required,min=1,max=255"`
	Password string `json:"password" validate:"required,min=1"`
}
