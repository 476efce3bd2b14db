// Package jwt signs and validates the RS256 session tokens an engine hands
// out on signin and signup and accepts on authenticate.
//
// # Token Generation
//
// A service built from a PEM private key signs tokens:
//
//	service, err := jwt.NewService(jwt.Config{
//	    PrivateKeyPath: "keys/private.pem",
//	    Issuer:         "surrealembed",
//	    Expiration:     time.Hour,
//	})
//
//	token, err := service.Sign(jwt.Claims{Subject: "root", Roles: []string{"Owner"}})
//
// Without a key file, NewEphemeralService signs with a key generated once
// per process, so tokens do not survive a restart.
//
// # Token Validation
//
//	claims, err := service.Validate(tokenString)
//	if errors.Is(err, jwt.ErrTokenExpired) {
//	    // sign in again
//	}
//
// # Claims
//
// Besides the registered claims, tokens carry the SurrealDB session claims
// NS, DB, AC, ID and RL. Level reports which of root, namespace, database or
// record access they grant.
package jwt
