package auth

// Pair is the access/refresh credential pair for one signed-in session.
// A stored pair always has both members; readers never observe one half.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Valid reports whether both members are present.
func (p Pair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// grantResponse mirrors the backend's token grant body. The refresh token is
// optional: the backend may rotate it or let the old one live on.
type grantResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}
