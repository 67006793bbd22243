// Package middleware adapts an authguard Coordinator to net/http.
//
// # Guards
//
//   - [RequireAccess] verifies a bearer access token and stores its claims
//     in the request context.
//   - [PreCheck] runs the coordinator's pre-authentication gate for every
//     request and rejects denied attempts before the handler runs.
//
// [WriteError] maps coordinator errors onto HTTP status codes and is shared
// by both guards. This package makes no security decisions of its own.
package middleware
