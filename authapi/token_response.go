package authapi

// TokenResponse is the body returned by the login, signup and refresh endpoints.
type TokenResponse struct {
	// AccessToken is the short-lived bearer credential. A response without it is a failure.
	AccessToken *string `json:"accessToken,omitempty"`

	// RefreshToken is used solely to obtain a new access token.
	// When omitted on refresh the previous refresh token stays valid.
	RefreshToken *string `json:"refreshToken,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn *int `json:"expiresIn,omitempty"`
}

// LoginRequest is the body of the login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SignupRequest is the body of the signup endpoint.
type SignupRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}
