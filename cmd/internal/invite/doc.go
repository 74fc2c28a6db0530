// Package invite issues single- or multi-use registration invites. An invite
// carries the role its holder may register with, so supervising accounts
// that cannot sign up on their own (specialists, admins) are created from an
// invite an admin handed out.
package invite
