// Package auth provides the capability model for the grow engine.
//
// Every lifecycle and tracker operation receives an explicit ActorContext
// and asks an Authorizer whether the actor may act on a zone or cycle.
// The default CapabilityAuthorizer combines a static role to capability
// mapping with an optional per-actor zone restriction. Bearer tokens are
// HS256 JWTs carrying the role and zone list.
package auth
