// Package auth guards the admin HTTP API.
//
// Two credentials are understood: a static API key sent in the X-API-Key
// header and an HS256-signed JWT sent as a bearer token. [New] builds an
// [Authenticator] from a [Config]; with neither keys nor a secret configured
// it returns nil and [Middleware] lets every request through.
//
// The authenticated [Identity] travels in the request context and is read
// back with [FromContext]. API keys are checked before bearer tokens.
package auth
