// Package core contains the domain model of the CSRF token lifecycle: the
// Token entity, the TokenStore persistence contract, and the issuer and
// validator that operate on it.
package core
