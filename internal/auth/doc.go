// Package auth issues and verifies API access tokens.
//
// Tokens are HS256 JWTs signed with api.auth.jwt_secret and carry one of
// two roles:
//   - viewer: read gateway state, history and the debug trace
//   - operator: everything a viewer can do plus connect, disconnect,
//     commands and control-status reports
//
// There is no user store. Operators mint tokens with `petnestd token`.
package auth
