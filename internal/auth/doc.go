// Package auth issues and verifies the bearer tokens that guard the
// gateway API.
//
// Tokens are HS256 JWTs minted offline with the `token` CLI command for a
// named client (a dashboard, an installer app). Each carries one of three
// roles (viewer → operator → admin) and the API checks a static
// role-permission map on every request. There is no user database: revoking
// access means rotating security.jwt.secret.
package auth
